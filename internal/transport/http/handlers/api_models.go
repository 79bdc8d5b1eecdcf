package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/crm-session-security/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context.
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// TokenRefreshRequest represents the payload to rotate a refresh token.
type TokenRefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenRefreshResponse contains the rotated token pair.
type TokenRefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// LogoutRequest carries the refresh token to retire.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// LogoutAllResponse reports how many tokens a session-wide logout revoked.
type LogoutAllResponse struct {
	Message       string `json:"message"`
	TokensRevoked int    `json:"tokens_revoked"`
}

// TokenVerifyResponse echoes the verified identity of an access token.
type TokenVerifyResponse struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionRevokeResponse reports the result of an admin session revocation.
type SessionRevokeResponse struct {
	SessionID     string `json:"session_id"`
	TokensRevoked int    `json:"tokens_revoked"`
}

// AlertView is the API representation of a security alert.
type AlertView struct {
	ID                string         `json:"id"`
	AlertType         string         `json:"alert_type"`
	Severity          string         `json:"severity"`
	UserID            *string        `json:"user_id,omitempty"`
	Email             *string        `json:"email,omitempty"`
	IP                *string        `json:"ip,omitempty"`
	Message           string         `json:"message"`
	Details           map[string]any `json:"details,omitempty"`
	RecommendedAction string         `json:"recommended_action,omitempty"`
	Resolved          bool           `json:"resolved"`
	ResolvedBy        *string        `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	ResolutionNotes   *string        `json:"resolution_notes,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// NewAlertView maps a domain alert onto its API shape.
func NewAlertView(alert domain.SecurityAlert) AlertView {
	return AlertView{
		ID:                alert.ID,
		AlertType:         string(alert.AlertType),
		Severity:          string(alert.Severity),
		UserID:            alert.UserID,
		Email:             alert.Email,
		IP:                alert.IP,
		Message:           alert.Message,
		Details:           alert.Details,
		RecommendedAction: alert.RecommendedAction,
		Resolved:          alert.Resolved,
		ResolvedBy:        alert.ResolvedBy,
		ResolvedAt:        alert.ResolvedAt,
		ResolutionNotes:   alert.ResolutionNotes,
		CreatedAt:         alert.CreatedAt,
	}
}

// AlertListResponse is one page of alerts.
type AlertListResponse struct {
	Alerts []AlertView `json:"alerts"`
	Total  int         `json:"total"`
	Offset int         `json:"offset"`
	Limit  int         `json:"limit"`
}

// ResolveAlertRequest carries the admin's resolution notes.
type ResolveAlertRequest struct {
	Notes string `json:"notes"`
}

// AuditEntryView is the API representation of one audit log entry.
type AuditEntryView struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId,omitempty"`
	EventType     string    `json:"eventType"`
	UserID        string    `json:"userId,omitempty"`
	UserEmail     string    `json:"userEmail,omitempty"`
	UserRole      string    `json:"userRole,omitempty"`
	IP            string    `json:"ip,omitempty"`
	Method        string    `json:"method,omitempty"`
	Path          string    `json:"path,omitempty"`
	StatusCode    int       `json:"statusCode,omitempty"`
	Duration      int64     `json:"duration,omitempty"`
}

// NewAuditEntryView flattens a domain entry for API consumption.
func NewAuditEntryView(entry domain.AuditLogEntry) AuditEntryView {
	return AuditEntryView{
		Timestamp:     entry.Timestamp,
		CorrelationID: entry.CorrelationID,
		EventType:     entry.EventType,
		UserID:        entry.User.ID,
		UserEmail:     entry.User.Email,
		UserRole:      entry.User.Role,
		IP:            entry.Request.IP,
		Method:        entry.Request.Method,
		Path:          entry.Request.Path,
		StatusCode:    entry.Response.StatusCode,
		Duration:      entry.Response.Duration,
	}
}

// AuditQueryResponse is one page of audit entries.
type AuditQueryResponse struct {
	Entries []AuditEntryView `json:"entries"`
	Total   int              `json:"total"`
	Offset  int              `json:"offset"`
	Limit   int              `json:"limit"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports per-dependency readiness.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
