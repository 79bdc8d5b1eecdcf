package domain

import "time"

// AlertType enumerates the detector families.
type AlertType string

const (
	AlertTypeBruteForce     AlertType = "BRUTE_FORCE_ATTACK"
	AlertTypeMultipleIPs    AlertType = "MULTIPLE_IP_ACCESS"
	AlertTypeRateLimitAbuse AlertType = "RATE_LIMIT_ABUSE"
	AlertTypeTokenReuse     AlertType = "TOKEN_REUSE"
	AlertTypeAdminUnusualIP AlertType = "ADMIN_UNUSUAL_IP"
)

// AlertSeverity grades the operator response expected for an alert.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "CRITICAL"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityInfo     AlertSeverity = "INFO"
)

// SecurityAlert is the durable record a detector persists. Alerts are a
// forensic trail: the only permitted mutation is unresolved to resolved.
type SecurityAlert struct {
	ID                string
	AlertType         AlertType
	Severity          AlertSeverity
	UserID            *string
	Email             *string
	IP                *string
	Message           string
	Details           map[string]any
	RecommendedAction string
	Resolved          bool
	ResolvedBy        *string
	ResolvedAt        *time.Time
	ResolutionNotes   *string
	CreatedAt         time.Time
}

// Resolve transitions the alert to resolved. Returns true when the alert
// changed state.
func (a *SecurityAlert) Resolve(at time.Time, adminID, notes string) bool {
	if a.Resolved {
		return false
	}
	a.Resolved = true
	a.ResolvedBy = &adminID
	a.ResolvedAt = &at
	if notes != "" {
		a.ResolutionNotes = &notes
	}
	return true
}
