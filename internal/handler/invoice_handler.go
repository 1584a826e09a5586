package handler

import (
	"net/http"
	"strconv"

	"prima/internal/model"
	"prima/internal/service"
	"prima/pkg/pagination"
	"prima/pkg/response"

	"github.com/gin-gonic/gin"
)

type InvoiceHandler struct {
	invoiceService service.InvoiceService
}

func NewInvoiceHandler(invoiceService service.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{invoiceService: invoiceService}
}

// RegisterRoutes binds the invoice endpoints; every route needs a session.
func (h *InvoiceHandler) RegisterRoutes(router *gin.RouterGroup, auth gin.HandlerFunc) {
	invoices := router.Group("/api/invoices", auth)
	{
		invoices.GET("", h.ListInvoices)
		invoices.POST("", h.GenerateInvoice)
		invoices.GET("/:tokenId", h.GetInvoice)
		invoices.GET("/:tokenId/actions", h.GetActions)
		invoices.POST("/:tokenId/accept", h.AcceptInvoice)
		invoices.POST("/:tokenId/invest", h.InvestInvoice)
		invoices.POST("/:tokenId/pay", h.PayInvoice)
	}

	router.POST("/api/bounds/verify", auth, h.VerifyBounds)
}

// ListInvoices returns the displayed invoice list of a role for the caller
// @Summary      List invoices by role
// @Description  Returns the latest applied view of the role (creditor, debtor, investor, marketplace) with the caller's pending transactions
// @Tags         invoices
// @Security     BearerAuth
// @Produce      json
// @Param        role     query     string  true   "creditor, debtor, investor or marketplace"
// @Param        refresh  query     bool    false  "Wait for a fresh fetch"
// @Param        page     query     int     false  "Page number (default 1)"
// @Param        limit    query     int     false  "Number of items per page (default 20)"
// @Success      200      {object}  response.Response{data=object}
// @Failure      400      {object}  response.Response
// @Failure      502      {object}  response.Response
// @Router       /api/invoices [get]
func (h *InvoiceHandler) ListInvoices(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	role, err := model.ParseRole(c.Query("role"))
	if err != nil {
		writeError(c, err)
		return
	}
	refresh, _ := strconv.ParseBool(c.DefaultQuery("refresh", "false"))
	page := pagination.Parse(c)

	view, err := h.invoiceService.View(c.Request.Context(), sess, role, refresh)
	if err != nil {
		writeError(c, err)
		return
	}

	start, end := page.Window(len(view.Invoices))
	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"role":       view.Role,
		"generation": view.Generation,
		"invoices":   view.Invoices[start:end],
		"pending":    view.Pending,
		"error":      view.Error,
		"updated_at": view.UpdatedAt,
		"total":      view.Total,
		"page":       page.Page,
		"limit":      page.Limit,
	}))
}

// GetInvoice reads one invoice from the ledger
// @Summary      Get invoice
// @Tags         invoices
// @Security     BearerAuth
// @Produce      json
// @Param        tokenId  path      string  true  "Invoice token id"
// @Success      200      {object}  response.Response{data=service.InvoiceResponse}
// @Failure      404      {object}  response.Response
// @Router       /api/invoices/{tokenId} [get]
func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	tokenID, ok := tokenIDParam(c)
	if !ok {
		return
	}

	inv, err := h.invoiceService.Get(c.Request.Context(), sess, tokenID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, inv))
}

// GetActions lists what the caller may do with an invoice
// @Summary      Available actions
// @Tags         invoices
// @Security     BearerAuth
// @Produce      json
// @Param        tokenId  path      string  true  "Invoice token id"
// @Success      200      {object}  response.Response{data=[]string}
// @Router       /api/invoices/{tokenId}/actions [get]
func (h *InvoiceHandler) GetActions(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	tokenID, ok := tokenIDParam(c)
	if !ok {
		return
	}

	actions, err := h.invoiceService.Actions(c.Request.Context(), sess, tokenID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, actions))
}

// GenerateInvoice mints a new invoice with the caller as creditor
// @Summary      Generate invoice
// @Description  Validates the form, checks amount_to_pay against the ledger's bounds and submits generateInvoice
// @Tags         invoices
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.GenerateInvoiceRequest  true  "Invoice"
// @Success      202      {object}  response.Response{data=service.TransactionResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/invoices [post]
func (h *InvoiceHandler) GenerateInvoice(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	var req service.GenerateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	tx, err := h.invoiceService.Generate(c.Request.Context(), sess, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, response.Success(http.StatusAccepted, tx))
}

// AcceptInvoice accepts an invoice as its debtor, pledging collateral
// @Summary      Accept invoice
// @Tags         invoices
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        tokenId  path      string                        true  "Invoice token id"
// @Param        payload  body      service.AcceptInvoiceRequest  true  "Collateral"
// @Success      202      {object}  response.Response{data=service.TransactionResponse}
// @Failure      403      {object}  response.Response
// @Router       /api/invoices/{tokenId}/accept [post]
func (h *InvoiceHandler) AcceptInvoice(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	tokenID, ok := tokenIDParam(c)
	if !ok {
		return
	}
	var req service.AcceptInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	tx, err := h.invoiceService.Accept(c.Request.Context(), sess, tokenID, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, response.Success(http.StatusAccepted, tx))
}

// InvestInvoice finances an accepted invoice
// @Summary      Invest in invoice
// @Description  Grants the allowance for amount_to_pay when needed, then submits investInvoice
// @Tags         invoices
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        tokenId  path      string                        true  "Invoice token id"
// @Param        payload  body      service.InvestInvoiceRequest  true  "Investor credit score"
// @Success      202      {object}  response.Response{data=service.TransactionResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Router       /api/invoices/{tokenId}/invest [post]
func (h *InvoiceHandler) InvestInvoice(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	tokenID, ok := tokenIDParam(c)
	if !ok {
		return
	}
	var req service.InvestInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	tx, err := h.invoiceService.Invest(c.Request.Context(), sess, tokenID, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, response.Success(http.StatusAccepted, tx))
}

// PayInvoice settles a financed invoice as its debtor
// @Summary      Pay invoice
// @Tags         invoices
// @Security     BearerAuth
// @Produce      json
// @Param        tokenId  path      string  true  "Invoice token id"
// @Success      202      {object}  response.Response{data=service.TransactionResponse}
// @Failure      403      {object}  response.Response
// @Router       /api/invoices/{tokenId}/pay [post]
func (h *InvoiceHandler) PayInvoice(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	tokenID, ok := tokenIDParam(c)
	if !ok {
		return
	}

	tx, err := h.invoiceService.Pay(c.Request.Context(), sess, tokenID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, response.Success(http.StatusAccepted, tx))
}

// VerifyBounds computes the amount_to_pay range for a principal and debtor tier
// @Summary      Verify amount bounds
// @Tags         invoices
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.VerifyBoundsRequest  true  "Amount and credit score"
// @Success      200      {object}  response.Response{data=service.BoundsResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/bounds/verify [post]
func (h *InvoiceHandler) VerifyBounds(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	var req service.VerifyBoundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.invoiceService.VerifyBounds(c.Request.Context(), sess, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}
