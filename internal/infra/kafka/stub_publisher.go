package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/crm-session-security/internal/core/domain"
	"github.com/arklim/crm-session-security/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for
// development environments without a broker.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishAlertCreated logs security.alert.created events.
func (p *StubPublisher) PublishAlertCreated(_ context.Context, alert domain.SecurityAlert) error {
	userID := ""
	if alert.UserID != nil {
		userID = *alert.UserID
	}

	payload := map[string]any{
		"alert_id":   alert.ID,
		"alert_type": alert.AlertType,
		"severity":   alert.Severity,
		"message":    alert.Message,
		"details":    alert.Details,
	}
	p.logEvent(topicAlertCreated, userID, alert.CreatedAt, payload)
	return nil
}

// PublishTokenReuse logs security.token.reuse_detected events.
func (p *StubPublisher) PublishTokenReuse(_ context.Context, userID, sessionID, ip string, at time.Time) error {
	payload := map[string]any{
		"session_id": sessionID,
		"ip":         ip,
	}
	p.logEvent(topicTokenReuse, userID, at, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
