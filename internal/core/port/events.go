package port

import (
	"context"
	"time"

	"github.com/arklim/crm-session-security/internal/core/domain"
)

// EventPublisher fans security incidents out to downstream consumers
// (SIEM pipeline, notification workers). Publishing is best-effort and must
// never block or fail the detecting request path.
type EventPublisher interface {
	PublishAlertCreated(ctx context.Context, alert domain.SecurityAlert) error
	PublishTokenReuse(ctx context.Context, userID, sessionID, ip string, at time.Time) error
}
