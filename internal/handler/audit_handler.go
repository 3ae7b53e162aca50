package handler

import (
	"net/http"

	"naranja/internal/middleware"
	"naranja/internal/service"
	"naranja/pkg/pagination"
	"naranja/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
}

func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/audit-logs", middleware.RequireAccess("admin", "manager"), h.ListAuditLogs)
}

// ListAuditLogs returns the audit trail, newest first
func (h *AuditHandler) ListAuditLogs(c *gin.Context) {
	params := pagination.Parse(c)

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), params.Page, params.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.SuccessWithMeta(http.StatusOK, logs, response.Meta{
		Page:  params.Page,
		Limit: params.Limit,
		Total: total,
	}))
}
