package handler

import (
	"net/http"

	"prima/internal/service"
	"prima/pkg/response"

	"github.com/gin-gonic/gin"
)

type AccountHandler struct {
	accountService service.AccountService
}

func NewAccountHandler(accountService service.AccountService) *AccountHandler {
	return &AccountHandler{accountService: accountService}
}

func (h *AccountHandler) RegisterRoutes(router *gin.RouterGroup, auth gin.HandlerFunc) {
	account := router.Group("/api/account", auth)
	{
		account.GET("", h.GetAccount)
		account.POST("/collateral", h.AddCollateral)
	}
}

// GetAccount returns the caller's PGT balance and the allowance granted to Prima
// @Summary      Account overview
// @Tags         account
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=service.AccountResponse}
// @Failure      502  {object}  response.Response
// @Router       /api/account [get]
func (h *AccountHandler) GetAccount(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}

	res, err := h.accountService.Overview(c.Request.Context(), sess)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// AddCollateral deposits PGT as collateral
// @Summary      Add collateral
// @Tags         account
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CollateralRequest  true  "Amount in PGT"
// @Success      202      {object}  response.Response{data=service.TransactionResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/account/collateral [post]
func (h *AccountHandler) AddCollateral(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	var req service.CollateralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	tx, err := h.accountService.AddCollateral(c.Request.Context(), sess, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, response.Success(http.StatusAccepted, tx))
}
