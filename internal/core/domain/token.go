package domain

import "time"

// RefreshTokenRecord is the store-resident state for a live refresh token.
// It is keyed by the SHA-256 hash of the jti; the raw jti is never persisted.
type RefreshTokenRecord struct {
	HashedJTI string    `json:"hashed_jti"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the record has elapsed its validity window.
func (r RefreshTokenRecord) IsExpired(at time.Time) bool {
	return !r.ExpiresAt.After(at)
}

// BlacklistEntry marks a hashed jti that must never be honored again.
// Its presence in the store is what makes replay detectable.
type BlacklistEntry struct {
	SessionID     string    `json:"session_id"`
	BlacklistedAt time.Time `json:"blacklisted_at"`
	Reason        string    `json:"reason,omitempty"`
}

// TokenPair bundles the artifacts returned on issue and rotation.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	JTI          string
	SessionID    string
}

// RotationOutcome tags the successful results of a refresh rotation so callers
// can distinguish a normal rotation from the legacy-token migration path
// without matching on error strings.
type RotationOutcome string

const (
	// RotationOutcomeRotated indicates the token was exchanged for a new jti
	// under the same session family.
	RotationOutcomeRotated RotationOutcome = "rotated"
	// RotationOutcomeReissuedLegacy indicates a pre-rotation token was
	// honored once and replaced with a brand-new session family.
	RotationOutcomeReissuedLegacy RotationOutcome = "reissued_legacy"
)

// RotationResult is the tagged result of a successful rotation.
type RotationResult struct {
	Outcome RotationOutcome
	Pair    TokenPair
}
