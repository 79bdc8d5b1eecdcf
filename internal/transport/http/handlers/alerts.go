package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arklim/crm-session-security/internal/core/domain"
	"github.com/arklim/crm-session-security/internal/core/port"
	"github.com/arklim/crm-session-security/internal/transport/http/middleware"
	"github.com/arklim/crm-session-security/internal/usecase"
)

const (
	defaultAlertPageSize = 50
	maxAlertPageSize     = 200
)

// AlertsHandler exposes the admin security-alert endpoints.
type AlertsHandler struct {
	alerts *usecase.SecurityAlertService
}

// NewAlertsHandler builds a new alerts handler instance.
func NewAlertsHandler(alerts *usecase.SecurityAlertService) *AlertsHandler {
	return &AlertsHandler{alerts: alerts}
}

// RegisterRoutes attaches the alert endpoints to the (admin) group.
func (h *AlertsHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.POST("/:id/resolve", h.Resolve)
}

// List returns a filtered, paged slice of alerts.
func (h *AlertsHandler) List(c *gin.Context) {
	filter, err := parseAlertFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}

	alerts, total, err := h.alerts.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "alert listing failed"))
		return
	}

	views := make([]AlertView, 0, len(alerts))
	for _, alert := range alerts {
		views = append(views, NewAlertView(alert))
	}

	c.JSON(http.StatusOK, AlertListResponse{
		Alerts: views,
		Total:  total,
		Offset: filter.Offset,
		Limit:  filter.Limit,
	})
}

// Get returns a single alert.
func (h *AlertsHandler) Get(c *gin.Context) {
	alert, err := h.alerts.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrAlertNotFound, Status: http.StatusNotFound, Message: "alert not found"},
		}, http.StatusInternalServerError, "alert lookup failed")
		return
	}

	c.JSON(http.StatusOK, NewAlertView(*alert))
}

// Resolve marks an alert as handled by the calling admin.
func (h *AlertsHandler) Resolve(c *gin.Context) {
	var req ResolveAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request body"))
		return
	}

	adminID := c.GetString(middleware.UserIDKey)
	alertID := c.Param("id")

	if err := h.alerts.ResolveAlert(c.Request.Context(), alertID, adminID, req.Notes); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrAlertNotFound, Status: http.StatusNotFound, Message: "alert not found"},
		}, http.StatusInternalServerError, "alert resolution failed")
		return
	}

	c.Set(middleware.AuditEventKey, domain.EventAlertResolved)

	alert, err := h.alerts.GetAlert(c.Request.Context(), alertID)
	if err != nil {
		c.JSON(http.StatusOK, MessageResponse{Message: "alert resolved"})
		return
	}
	c.JSON(http.StatusOK, NewAlertView(*alert))
}

func parseAlertFilter(c *gin.Context) (port.AlertFilter, error) {
	filter := port.AlertFilter{
		UserID: c.Query("user_id"),
		Limit:  defaultAlertPageSize,
	}

	if raw := c.Query("alert_type"); raw != "" {
		alertType := domain.AlertType(raw)
		switch alertType {
		case domain.AlertTypeBruteForce, domain.AlertTypeMultipleIPs, domain.AlertTypeRateLimitAbuse,
			domain.AlertTypeTokenReuse, domain.AlertTypeAdminUnusualIP:
			filter.AlertType = &alertType
		default:
			return filter, fmt.Errorf("unknown alert_type %q", raw)
		}
	}

	if raw := c.Query("severity"); raw != "" {
		severity := domain.AlertSeverity(raw)
		switch severity {
		case domain.SeverityCritical, domain.SeverityWarning, domain.SeverityInfo:
			filter.Severity = &severity
		default:
			return filter, fmt.Errorf("unknown severity %q", raw)
		}
	}

	if raw := c.Query("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid resolved flag %q", raw)
		}
		filter.Resolved = &resolved
	}

	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("invalid offset %q", raw)
		}
		filter.Offset = offset
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("invalid limit %q", raw)
		}
		if limit > maxAlertPageSize {
			limit = maxAlertPageSize
		}
		filter.Limit = limit
	}

	return filter, nil
}
