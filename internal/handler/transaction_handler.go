package handler

import (
	"net/http"

	"prima/internal/model"
	"prima/internal/service"
	"prima/pkg/pagination"
	"prima/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type TransactionHandler struct {
	txService service.TransactionService
}

func NewTransactionHandler(txService service.TransactionService) *TransactionHandler {
	return &TransactionHandler{txService: txService}
}

func (h *TransactionHandler) RegisterRoutes(router *gin.RouterGroup, auth gin.HandlerFunc) {
	txs := router.Group("/api/transactions", auth)
	{
		txs.GET("", h.ListTransactions)
		txs.GET("/pending", h.ListPending)
		txs.GET("/:id", h.GetTransaction)
	}
}

// ListTransactions pages the caller's journal of submitted intents
// @Summary      List transactions
// @Tags         transactions
// @Security     BearerAuth
// @Produce      json
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Number of items per page (default 20)"
// @Success      200    {object}  response.Response{data=response.Page{items=[]service.TransactionResponse}}
// @Router       /api/transactions [get]
func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	page := pagination.Parse(c)

	items, total, err := h.txService.List(c.Request.Context(), sess.Actor, page.Page, page.Limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Paged(items, total, page.Page, page.Limit))
}

// ListPending returns the caller's transactions still waiting for a receipt
// @Summary      Pending transactions
// @Tags         transactions
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.TransactionResponse}
// @Router       /api/transactions/pending [get]
func (h *TransactionHandler) ListPending(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}

	items, err := h.txService.Pending(c.Request.Context(), sess.Actor)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, items))
}

// GetTransaction returns one journaled transaction of the caller
// @Summary      Get transaction
// @Tags         transactions
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Transaction ID"
// @Success      200  {object}  response.Response{data=service.TransactionResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/transactions/{id} [get]
func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, model.NewValidationError("id", c.Param("id"), "must be a UUID"))
		return
	}

	tx, err := h.txService.Get(c.Request.Context(), sess.Actor, id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, tx))
}
