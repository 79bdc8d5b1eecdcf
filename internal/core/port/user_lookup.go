package port

import (
	"context"

	"github.com/arklim/crm-session-security/internal/core/domain"
)

// UserLookup resolves CRM users for token issuance and rotation. The host
// application owns user storage; this capability is injected at startup.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}
