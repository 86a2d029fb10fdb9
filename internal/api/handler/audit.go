package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/audit"
)

// AuditReader returns the most recent audit records of a namespace.
type AuditReader interface {
	Recent(ctx context.Context, ns int, n int64) ([]audit.Record, error)
}

// AuditHandler serves recent audit records.
type AuditHandler struct {
	reader AuditReader
	logger *zap.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(reader AuditReader, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{reader: reader, logger: logger}
}

// Register mounts GET /namespaces/:id/audit.
func (h *AuditHandler) Register(rg *gin.RouterGroup, admin ...gin.HandlerFunc) {
	rg.GET("/namespaces/:id/audit", append(admin, h.Recent)...)
}

// Recent handles GET /namespaces/:id/audit?limit=n.
func (h *AuditHandler) Recent(c *gin.Context) {
	id, ok := nsParam(c)
	if !ok {
		return
	}
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)
	if err != nil || limit <= 0 || limit > 10000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 10000"})
		return
	}

	recs, err := h.reader.Recent(c.Request.Context(), id, limit)
	if err != nil {
		h.logger.Error("audit Recent", zap.Int("ns", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read audit records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs, "count": len(recs)})
}
