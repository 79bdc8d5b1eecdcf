package port

import (
	"context"
	"time"

	"github.com/arklim/crm-session-security/internal/core/domain"
)

// AlertFilter narrows alert listings for admin tooling.
type AlertFilter struct {
	AlertType *domain.AlertType
	Severity  *domain.AlertSeverity
	Resolved  *bool
	UserID    string
	Offset    int
	Limit     int
}

// AlertRepository persists security alerts. Alerts are never deleted; the
// only mutation is resolution.
type AlertRepository interface {
	Create(ctx context.Context, alert domain.SecurityAlert) error
	GetByID(ctx context.Context, id string) (*domain.SecurityAlert, error)
	Resolve(ctx context.Context, id, adminID, notes string, at time.Time) error
	List(ctx context.Context, filter AlertFilter) ([]domain.SecurityAlert, error)
	Count(ctx context.Context, filter AlertFilter) (int, error)
}
