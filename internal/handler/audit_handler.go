package handler

import (
	"net/http"
	"strings"

	"prima/internal/service"
	"prima/pkg/pagination"
	"prima/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
}

func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup, auth gin.HandlerFunc) {
	group := router.Group("/api/audit-logs", auth)
	{
		group.GET("", h.GetAuditLogs)
	}
}

// GetAuditLogs pages the caller's own trail of intents and sessions
// @Summary      Get audit logs
// @Description  Lists the submit, confirm and fail records of the caller's transactions plus session openings
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        action     query     string  false  "SUBMIT_INTENT, CONFIRM_INTENT, FAIL_INTENT or OPEN_SESSION"
// @Param        entity_id  query     string  false  "Journal id or address"
// @Param        page       query     int     false  "Page number (default 1)"
// @Param        limit      query     int     false  "Number of items per page (default 20)"
// @Success      200        {object}  response.Response{data=response.Page{items=[]service.AuditLogResponse}}
// @Failure      400        {object}  response.Response
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	page := pagination.Parse(c)

	query := service.AuditQuery{
		Action:   strings.ToUpper(c.Query("action")),
		EntityID: c.Query("entity_id"),
	}

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), sess.Actor, query, page.Page, page.Limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Paged(logs, total, page.Page, page.Limit))
}
