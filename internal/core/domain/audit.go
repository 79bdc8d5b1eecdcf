package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// AuditUser identifies the acting user on an audit entry.
type AuditUser struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// AuditRequest captures the inbound request context.
type AuditRequest struct {
	IP     string `json:"ip,omitempty"`
	Method string `json:"method,omitempty"`
	Path   string `json:"path,omitempty"`
}

// AuditResponse captures the outcome of the request.
type AuditResponse struct {
	StatusCode int   `json:"statusCode,omitempty"`
	Duration   int64 `json:"duration,omitempty"`
}

// AuditLogEntry is one line of the append-only audit log. Field names and
// ordering are part of the on-disk format: the chain hash is computed over
// the canonical JSON of the entry with the hash field blanked, concatenated
// with the previous entry's hash.
type AuditLogEntry struct {
	Timestamp     time.Time     `json:"timestamp"`
	CorrelationID string        `json:"correlationId,omitempty"`
	EventType     string        `json:"eventType"`
	User          AuditUser     `json:"user"`
	Request       AuditRequest  `json:"request"`
	Response      AuditResponse `json:"response"`
	PreviousHash  string        `json:"previousHash,omitempty"`
	Hash          string        `json:"hash,omitempty"`
}

// ComputeChainHash returns the hex SHA-256 of the entry serialized without
// its hash field, concatenated with the entry's previous hash. The stored
// PreviousHash field participates in both the JSON payload and the suffix.
func (e AuditLogEntry) ComputeChainHash() (string, error) {
	clone := e
	clone.Hash = ""

	payload, err := json.Marshal(clone)
	if err != nil {
		return "", fmt.Errorf("marshal audit entry: %w", err)
	}

	sum := sha256.Sum256(append(payload, []byte(e.PreviousHash)...))
	return hex.EncodeToString(sum[:]), nil
}

// Event types recorded by the security core. The host CRM contributes more;
// these are the ones this module writes or treats specially.
const (
	EventLoginSuccess       = "LOGIN_SUCCESS"
	EventLoginFailure       = "LOGIN_FAILURE"
	EventTokenRefresh       = "TOKEN_REFRESH"
	EventTokenReuseDetected = "TOKEN_REUSE_DETECTED"
	EventSessionRevoked     = "SESSION_REVOKED"
	EventAdminAction        = "ADMIN_ACTION"
	EventRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	EventAlertResolved      = "ALERT_RESOLVED"
	EventDataExport         = "DATA_EXPORT"
)

// SecuritySensitiveEvent reports whether the event type counts toward the
// security-sensitive aggregate in audit statistics.
func SecuritySensitiveEvent(eventType string) bool {
	switch eventType {
	case EventLoginFailure, EventTokenReuseDetected, EventSessionRevoked, EventRateLimitExceeded:
		return true
	}
	return false
}
