package usecase

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/crm-session-security/internal/core/domain"
	"github.com/arklim/crm-session-security/internal/core/port"
	"github.com/arklim/crm-session-security/internal/infra/config"
	"github.com/arklim/crm-session-security/internal/infra/security"
)

// AuditQueryFilter narrows audit log queries. All set fields combine with
// AND; string fields other than EventType and UserID match as
// case-insensitive substrings.
type AuditQueryFilter struct {
	From          *time.Time
	To            *time.Time
	EventType     string
	UserID        string
	Email         string
	StatusCode    int
	CorrelationID string
	IP            string
	Offset        int
	Limit         int
}

// AuditQueryResult carries one page of matches plus the unpaged total.
type AuditQueryResult struct {
	Entries []domain.AuditLogEntry
	Total   int
}

// ChainIssue points at a single entry that failed verification.
type ChainIssue struct {
	Index         int       `json:"index"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Detail        string    `json:"detail"`
}

// VerificationReport summarizes a full hash-chain verification pass.
// TamperedEntries are entries whose own hash does not match their content;
// BrokenChains are entries whose previousHash disagrees with the predecessor.
type VerificationReport struct {
	TotalEntries    int          `json:"totalEntries"`
	VerifiedEntries int          `json:"verifiedEntries"`
	UnhashedEntries int          `json:"unhashedEntries"`
	TamperedEntries []ChainIssue `json:"tamperedEntries"`
	BrokenChains    []ChainIssue `json:"brokenChains"`
	Valid           bool         `json:"valid"`
}

// UserActivity is one row of the most-active-users ranking.
type UserActivity struct {
	Email string `json:"email"`
	Count int    `json:"count"`
}

// AuditStats aggregates audit activity for the admin dashboard.
type AuditStats struct {
	TotalEvents       int            `json:"totalEvents"`
	EventsByType      map[string]int `json:"eventsByType"`
	EventsByStatus    map[int]int    `json:"eventsByStatus"`
	SuccessfulLogins  int            `json:"successfulLogins"`
	FailedLogins      int            `json:"failedLogins"`
	AdminActions      int            `json:"adminActions"`
	SecuritySensitive int            `json:"securitySensitiveEvents"`
	TopUsers          []UserActivity `json:"topUsers"`
}

// csvHeader is the fixed export column set, stable for downstream tooling.
var csvHeader = []string{
	"Timestamp", "Correlation ID", "Event Type", "User Email", "User Role",
	"IP Address", "Method", "Path", "Status Code", "Duration",
}

const topUsersLimit = 10

// AuditLogService records and inspects the append-only audit trail.
type AuditLogService struct {
	reader port.AuditReader
	writer port.AuditWriter
	cfg    config.AuditSettings
	logger *zap.Logger
}

// NewAuditLogService constructs an AuditLogService instance.
func NewAuditLogService(reader port.AuditReader, writer port.AuditWriter, cfg config.AuditSettings, log *zap.Logger) *AuditLogService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditLogService{reader: reader, writer: writer, cfg: cfg, logger: log}
}

// Record appends one entry to the audit log and returns it with its chain
// hash populated.
func (s *AuditLogService) Record(ctx context.Context, entry domain.AuditLogEntry) (domain.AuditLogEntry, error) {
	written, err := s.writer.Append(ctx, entry)
	if err != nil {
		return domain.AuditLogEntry{}, fmt.Errorf("append audit entry: %w", err)
	}
	return written, nil
}

// VerifyHashChain recomputes every entry hash and checks chain continuity
// across the full retained log, oldest entry first. Entries written before
// chaining was introduced carry no hash and are reported but not failed.
func (s *AuditLogService) VerifyHashChain(ctx context.Context) (*VerificationReport, error) {
	entries, err := s.collect(ctx)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	report := &VerificationReport{
		TotalEntries:    len(entries),
		TamperedEntries: []ChainIssue{},
		BrokenChains:    []ChainIssue{},
	}

	previousHash := ""
	for i, entry := range entries {
		if entry.Hash == "" {
			report.UnhashedEntries++
			continue
		}

		expected, err := entry.ComputeChainHash()
		if err != nil {
			return nil, fmt.Errorf("recompute hash for entry %d: %w", i, err)
		}

		if expected != entry.Hash {
			report.TamperedEntries = append(report.TamperedEntries, ChainIssue{
				Index:         i,
				Timestamp:     entry.Timestamp,
				CorrelationID: entry.CorrelationID,
				Detail:        "entry content does not match its hash",
			})
		} else {
			report.VerifiedEntries++
		}

		if previousHash != "" && entry.PreviousHash != previousHash {
			report.BrokenChains = append(report.BrokenChains, ChainIssue{
				Index:         i,
				Timestamp:     entry.Timestamp,
				CorrelationID: entry.CorrelationID,
				Detail:        "previousHash does not match preceding entry",
			})
		}
		previousHash = entry.Hash
	}

	report.Valid = len(report.TamperedEntries) == 0 && len(report.BrokenChains) == 0

	if !report.Valid {
		s.logger.Error("audit hash chain verification failed",
			zap.Int("tampered", len(report.TamperedEntries)),
			zap.Int("broken_links", len(report.BrokenChains)),
		)
	}

	return report, nil
}

// Query returns matching entries, newest first, with offset/limit paging.
func (s *AuditLogService) Query(ctx context.Context, filter AuditQueryFilter) (*AuditQueryResult, error) {
	entries, err := s.collect(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]domain.AuditLogEntry, 0, len(entries))
	for _, entry := range entries {
		if !matches(entry, filter) {
			continue
		}
		if s.cfg.VerifyOnRead && entry.Hash != "" {
			if expected, hashErr := entry.ComputeChainHash(); hashErr == nil && expected != entry.Hash {
				s.logger.Warn("audit entry failed integrity check during query",
					zap.Time("timestamp", entry.Timestamp),
					zap.String("correlation_id", entry.CorrelationID),
				)
			}
		}
		matched = append(matched, entry)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := len(matched)
	matched = page(matched, filter.Offset, filter.Limit)

	return &AuditQueryResult{Entries: matched, Total: total}, nil
}

// Stats aggregates activity over the given window (either bound optional).
func (s *AuditLogService) Stats(ctx context.Context, from, to *time.Time) (*AuditStats, error) {
	entries, err := s.collect(ctx)
	if err != nil {
		return nil, err
	}

	stats := &AuditStats{
		EventsByType:   map[string]int{},
		EventsByStatus: map[int]int{},
		TopUsers:       []UserActivity{},
	}
	byUser := map[string]int{}

	for _, entry := range entries {
		if from != nil && entry.Timestamp.Before(*from) {
			continue
		}
		if to != nil && entry.Timestamp.After(*to) {
			continue
		}

		stats.TotalEvents++
		stats.EventsByType[entry.EventType]++
		if entry.Response.StatusCode != 0 {
			stats.EventsByStatus[entry.Response.StatusCode]++
		}
		if entry.User.Email != "" {
			byUser[entry.User.Email]++
		}

		switch entry.EventType {
		case domain.EventLoginSuccess:
			stats.SuccessfulLogins++
		case domain.EventLoginFailure:
			stats.FailedLogins++
		case domain.EventAdminAction:
			stats.AdminActions++
		}
		if domain.SecuritySensitiveEvent(entry.EventType) {
			stats.SecuritySensitive++
		}
	}

	for email, count := range byUser {
		stats.TopUsers = append(stats.TopUsers, UserActivity{Email: email, Count: count})
	}
	sort.Slice(stats.TopUsers, func(i, j int) bool {
		if stats.TopUsers[i].Count != stats.TopUsers[j].Count {
			return stats.TopUsers[i].Count > stats.TopUsers[j].Count
		}
		return stats.TopUsers[i].Email < stats.TopUsers[j].Email
	})
	if len(stats.TopUsers) > topUsersLimit {
		stats.TopUsers = stats.TopUsers[:topUsersLimit]
	}

	return stats, nil
}

// ExportCSV renders matching entries as CSV. Every cell passes through the
// formula-injection sanitizer before it reaches the file.
func (s *AuditLogService) ExportCSV(ctx context.Context, filter AuditQueryFilter) ([]byte, error) {
	result, err := s.Query(ctx, filter)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, entry := range result.Entries {
		row := []string{
			entry.Timestamp.UTC().Format(time.RFC3339),
			entry.CorrelationID,
			entry.EventType,
			entry.User.Email,
			entry.User.Role,
			entry.Request.IP,
			entry.Request.Method,
			entry.Request.Path,
			strconv.Itoa(entry.Response.StatusCode),
			strconv.FormatInt(entry.Response.Duration, 10),
		}
		for i, cell := range row {
			row[i] = security.SanitizeCSVCell(cell)
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return buf.Bytes(), nil
}

func (s *AuditLogService) collect(ctx context.Context) ([]domain.AuditLogEntry, error) {
	var entries []domain.AuditLogEntry
	err := s.reader.ScanAll(ctx, func(entry domain.AuditLogEntry) bool {
		entries = append(entries, entry)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	return entries, nil
}

func matches(entry domain.AuditLogEntry, filter AuditQueryFilter) bool {
	if filter.From != nil && entry.Timestamp.Before(*filter.From) {
		return false
	}
	if filter.To != nil && entry.Timestamp.After(*filter.To) {
		return false
	}
	if filter.EventType != "" && entry.EventType != filter.EventType {
		return false
	}
	if filter.UserID != "" && entry.User.ID != filter.UserID {
		return false
	}
	if filter.Email != "" && !containsFold(entry.User.Email, filter.Email) {
		return false
	}
	if filter.StatusCode != 0 && entry.Response.StatusCode != filter.StatusCode {
		return false
	}
	if filter.CorrelationID != "" && !containsFold(entry.CorrelationID, filter.CorrelationID) {
		return false
	}
	if filter.IP != "" && !containsFold(entry.Request.IP, filter.IP) {
		return false
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func page(entries []domain.AuditLogEntry, offset, limit int) []domain.AuditLogEntry {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []domain.AuditLogEntry{}
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}
