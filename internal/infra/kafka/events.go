package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/crm-session-security/internal/core/domain"
	"github.com/arklim/crm-session-security/internal/core/port"
	"github.com/arklim/crm-session-security/internal/infra/config"
)

const schemaVersion = "1.0"

// Topics carrying security events downstream (SIEM pipeline, notification
// workers). The producer's topic prefix is applied on top.
const (
	topicAlertCreated = "security.alert.created"
	topicTokenReuse   = "security.token.reuse_detected"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishAlertCreated publishes security.alert.created events.
func (p *EventPublisher) PublishAlertCreated(ctx context.Context, alert domain.SecurityAlert) error {
	payload := struct {
		AlertID           string         `json:"alert_id"`
		AlertType         string         `json:"alert_type"`
		Severity          string         `json:"severity"`
		UserID            *string        `json:"user_id,omitempty"`
		Email             *string        `json:"email,omitempty"`
		IP                *string        `json:"ip,omitempty"`
		Message           string         `json:"message"`
		Details           map[string]any `json:"details,omitempty"`
		RecommendedAction string         `json:"recommended_action,omitempty"`
		CreatedAt         time.Time      `json:"created_at"`
	}{
		AlertID:           alert.ID,
		AlertType:         string(alert.AlertType),
		Severity:          string(alert.Severity),
		UserID:            alert.UserID,
		Email:             alert.Email,
		IP:                alert.IP,
		Message:           alert.Message,
		Details:           alert.Details,
		RecommendedAction: alert.RecommendedAction,
		CreatedAt:         alert.CreatedAt.UTC(),
	}

	userID := ""
	if alert.UserID != nil {
		userID = *alert.UserID
	}

	return p.publish(ctx, topicAlertCreated, userID, alert.CreatedAt, payload)
}

// PublishTokenReuse publishes security.token.reuse_detected events.
func (p *EventPublisher) PublishTokenReuse(ctx context.Context, userID, sessionID, ip string, at time.Time) error {
	payload := struct {
		UserID     string    `json:"user_id"`
		SessionID  string    `json:"session_id"`
		IP         string    `json:"ip,omitempty"`
		DetectedAt time.Time `json:"detected_at"`
	}{
		UserID:     userID,
		SessionID:  sessionID,
		IP:         ip,
		DetectedAt: at.UTC(),
	}

	return p.publish(ctx, topicTokenReuse, userID, at, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
