package handler

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"prima/internal/middleware"
	"prima/internal/model"
	"prima/internal/repository"
	"prima/internal/service"
	"prima/pkg/response"

	"github.com/gin-gonic/gin"
)

// statusOf maps service and ledger errors onto HTTP status codes.
func statusOf(err error) int {
	var (
		validation *model.ValidationError
		rejected   *model.TransactionRejectedError
		reverted   *model.TransactionRevertedError
		hydration  *model.HydrationError
		ledgerCall *model.LedgerCallError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrActionNotAllowed), errors.As(err, &rejected):
		return http.StatusForbidden
	case errors.Is(err, model.ErrOrchestratorBusy), errors.As(err, &reverted):
		return http.StatusConflict
	case errors.Is(err, repository.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidSignature),
		errors.Is(err, service.ErrUnknownNonce),
		errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &hydration), errors.As(err, &ledgerCall):
		if strings.Contains(err.Error(), "Prima_InvalidInvoiceId") {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	code := statusOf(err)
	c.JSON(code, response.Error(code, err.Error()))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
}

// session returns the caller's session; RequireSession must run first.
func session(c *gin.Context) (model.Session, bool) {
	sess, ok := middleware.SessionFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "session is missing"))
	}
	return sess, ok
}

func tokenIDParam(c *gin.Context) (*big.Int, bool) {
	raw := c.Param("tokenId")
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok || id.Sign() <= 0 {
		writeError(c, model.NewValidationError("token_id", raw, "must be a positive integer"))
		return nil, false
	}
	return id, true
}
