package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/crm-session-security/internal/core/domain"
	"github.com/arklim/crm-session-security/internal/transport/http/middleware"
	"github.com/arklim/crm-session-security/internal/usecase"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
)

// AuditHandler exposes the admin audit-trail endpoints.
type AuditHandler struct {
	audit *usecase.AuditLogService
}

// NewAuditHandler builds a new audit handler instance.
func NewAuditHandler(audit *usecase.AuditLogService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// RegisterRoutes attaches the audit endpoints to the (admin) group.
func (h *AuditHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("", h.Query)
	group.GET("/stats", h.Stats)
	group.GET("/export", h.Export)
	group.GET("/verify", h.Verify)
}

// Query returns a filtered, paged slice of the audit log.
func (h *AuditHandler) Query(c *gin.Context) {
	filter, err := parseAuditFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}

	result, err := h.audit.Query(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "audit query failed"))
		return
	}

	entries := make([]AuditEntryView, 0, len(result.Entries))
	for _, entry := range result.Entries {
		entries = append(entries, NewAuditEntryView(entry))
	}

	c.JSON(http.StatusOK, AuditQueryResponse{
		Entries: entries,
		Total:   result.Total,
		Offset:  filter.Offset,
		Limit:   filter.Limit,
	})
}

// Stats returns aggregate audit statistics for an optional time window.
func (h *AuditHandler) Stats(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}

	stats, err := h.audit.Stats(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "audit stats failed"))
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Export streams the filtered audit log as a CSV attachment. The export
// itself is an auditable action.
func (h *AuditHandler) Export(c *gin.Context) {
	filter, err := parseAuditFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}
	// Exports are unpaged unless the caller asks otherwise.
	if c.Query("limit") == "" {
		filter.Limit = 0
	}

	payload, err := h.audit.ExportCSV(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "audit export failed"))
		return
	}

	c.Set(middleware.AuditEventKey, domain.EventDataExport)

	filename := fmt.Sprintf("audit-export-%s.csv", time.Now().UTC().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", payload)
}

// Verify runs a full hash-chain verification and returns the report.
func (h *AuditHandler) Verify(c *gin.Context) {
	report, err := h.audit.VerifyHashChain(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "audit verification failed"))
		return
	}

	c.JSON(http.StatusOK, report)
}

func parseAuditFilter(c *gin.Context) (usecase.AuditQueryFilter, error) {
	filter := usecase.AuditQueryFilter{
		EventType:     c.Query("event_type"),
		UserID:        c.Query("user_id"),
		Email:         c.Query("email"),
		CorrelationID: c.Query("correlation_id"),
		IP:            c.Query("ip"),
		Limit:         defaultAuditPageSize,
	}

	from, to, err := parseTimeRange(c)
	if err != nil {
		return filter, err
	}
	filter.From = from
	filter.To = to

	if raw := c.Query("status"); raw != "" {
		status, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return filter, fmt.Errorf("invalid status %q", raw)
		}
		filter.StatusCode = status
	}

	if raw := c.Query("offset"); raw != "" {
		offset, convErr := strconv.Atoi(raw)
		if convErr != nil || offset < 0 {
			return filter, fmt.Errorf("invalid offset %q", raw)
		}
		filter.Offset = offset
	}

	if raw := c.Query("limit"); raw != "" {
		limit, convErr := strconv.Atoi(raw)
		if convErr != nil || limit < 0 {
			return filter, fmt.Errorf("invalid limit %q", raw)
		}
		if limit > maxAuditPageSize {
			limit = maxAuditPageSize
		}
		filter.Limit = limit
	}

	return filter, nil
}

func parseTimeRange(c *gin.Context) (*time.Time, *time.Time, error) {
	var from, to *time.Time

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid from timestamp %q, expected RFC3339", raw)
		}
		from = &parsed
	}

	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid to timestamp %q, expected RFC3339", raw)
		}
		to = &parsed
	}

	return from, to, nil
}
