package port

import (
	"context"

	"github.com/arklim/crm-session-security/internal/core/domain"
)

// AuditReader yields audit entries as a finite, restartable sequence. The
// scan visits every retained log file oldest-first; the callback returns
// false to stop early. Verification and querying are built on this single
// primitive so an indexed store can replace the file scan later.
type AuditReader interface {
	ScanAll(ctx context.Context, fn func(domain.AuditLogEntry) bool) error
}

// AuditWriter appends entries to the current log file, computing the chain
// hash. There is deliberately no update or delete operation.
type AuditWriter interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) (domain.AuditLogEntry, error)
}
