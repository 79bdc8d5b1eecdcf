package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/arklim/crm-session-security/internal/core/domain"
	"github.com/arklim/crm-session-security/internal/infra/config"
)

// buildChain stamps timestamps and valid chain hashes onto the entries,
// oldest first.
func buildChain(t *testing.T, entries []domain.AuditLogEntry) []domain.AuditLogEntry {
	t.Helper()

	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	previousHash := ""
	for i := range entries {
		if entries[i].Timestamp.IsZero() {
			entries[i].Timestamp = base.Add(time.Duration(i) * time.Minute)
		}
		entries[i].PreviousHash = previousHash

		hash, err := entries[i].ComputeChainHash()
		if err != nil {
			t.Fatalf("compute chain hash: %v", err)
		}
		entries[i].Hash = hash
		previousHash = hash
	}
	return entries
}

func newAuditService(entries []domain.AuditLogEntry) *AuditLogService {
	return NewAuditLogService(&staticAuditReader{entries: entries}, nil, config.AuditSettings{}, nil)
}

func sampleEntries(t *testing.T) []domain.AuditLogEntry {
	t.Helper()

	return buildChain(t, []domain.AuditLogEntry{
		{
			CorrelationID: "req-001",
			EventType:     domain.EventLoginSuccess,
			User:          domain.AuditUser{ID: "user-1", Email: "jane.agent@example.com", Role: domain.RoleAgent},
			Request:       domain.AuditRequest{IP: "203.0.113.7", Method: "POST", Path: "/api/auth/login"},
			Response:      domain.AuditResponse{StatusCode: 200, Duration: 42},
		},
		{
			CorrelationID: "req-002",
			EventType:     domain.EventLoginFailure,
			User:          domain.AuditUser{Email: "jane.agent@example.com"},
			Request:       domain.AuditRequest{IP: "198.51.100.9", Method: "POST", Path: "/api/auth/login"},
			Response:      domain.AuditResponse{StatusCode: 401, Duration: 12},
		},
		{
			CorrelationID: "req-003",
			EventType:     domain.EventAdminAction,
			User:          domain.AuditUser{ID: "admin-1", Email: "root@example.com", Role: domain.RoleAdmin},
			Request:       domain.AuditRequest{IP: "203.0.113.7", Method: "DELETE", Path: "/api/admin/listings/7"},
			Response:      domain.AuditResponse{StatusCode: 204, Duration: 88},
		},
		{
			CorrelationID: "req-004",
			EventType:     domain.EventTokenRefresh,
			User:          domain.AuditUser{ID: "user-1", Email: "jane.agent@example.com", Role: domain.RoleAgent},
			Request:       domain.AuditRequest{IP: "203.0.113.7", Method: "POST", Path: "/api/auth/refresh"},
			Response:      domain.AuditResponse{StatusCode: 200, Duration: 9},
		},
	})
}

func TestVerifyHashChainAcceptsIntactLog(t *testing.T) {
	service := newAuditService(sampleEntries(t))

	report, err := service.VerifyHashChain(context.Background())
	if err != nil {
		t.Fatalf("VerifyHashChain returned error: %v", err)
	}
	if !report.Valid {
		t.Fatalf("report.Valid = false, tampered=%v broken=%v", report.TamperedEntries, report.BrokenChains)
	}
	if report.TotalEntries != 4 || report.VerifiedEntries != 4 {
		t.Fatalf("total=%d verified=%d, want 4/4", report.TotalEntries, report.VerifiedEntries)
	}
}

func TestVerifyHashChainLocalizesTampering(t *testing.T) {
	entries := sampleEntries(t)
	// Rewriting history after the fact invalidates the entry's own hash.
	entries[1].Response.StatusCode = 200

	service := newAuditService(entries)
	report, err := service.VerifyHashChain(context.Background())
	if err != nil {
		t.Fatalf("VerifyHashChain returned error: %v", err)
	}

	if report.Valid {
		t.Fatal("expected tampered log to fail verification")
	}
	if len(report.TamperedEntries) != 1 {
		t.Fatalf("tampered entries = %d, want 1", len(report.TamperedEntries))
	}
	if report.TamperedEntries[0].Index != 1 || report.TamperedEntries[0].CorrelationID != "req-002" {
		t.Fatalf("tampered entry = %+v, want index 1 / req-002", report.TamperedEntries[0])
	}
	if report.VerifiedEntries != 3 {
		t.Fatalf("verified entries = %d, want 3", report.VerifiedEntries)
	}
}

func TestVerifyHashChainDetectsRemovedEntry(t *testing.T) {
	entries := sampleEntries(t)
	// Deleting a line breaks the successor's previousHash link.
	entries = append(entries[:1], entries[2:]...)

	service := newAuditService(entries)
	report, err := service.VerifyHashChain(context.Background())
	if err != nil {
		t.Fatalf("VerifyHashChain returned error: %v", err)
	}

	if report.Valid {
		t.Fatal("expected truncated log to fail verification")
	}
	if len(report.BrokenChains) != 1 {
		t.Fatalf("broken links = %d, want 1", len(report.BrokenChains))
	}
	if report.BrokenChains[0].CorrelationID != "req-003" {
		t.Fatalf("broken link at %q, want req-003", report.BrokenChains[0].CorrelationID)
	}
}

func TestVerifyHashChainSkipsUnhashedEntries(t *testing.T) {
	entries := sampleEntries(t)
	pre := domain.AuditLogEntry{
		Timestamp: entries[0].Timestamp.Add(-time.Hour),
		EventType: domain.EventLoginSuccess,
		User:      domain.AuditUser{Email: "old@example.com"},
	}
	service := newAuditService(append([]domain.AuditLogEntry{pre}, entries...))

	report, err := service.VerifyHashChain(context.Background())
	if err != nil {
		t.Fatalf("VerifyHashChain returned error: %v", err)
	}
	if !report.Valid {
		t.Fatal("pre-chaining entries must not fail verification")
	}
	if report.UnhashedEntries != 1 {
		t.Fatalf("unhashed entries = %d, want 1", report.UnhashedEntries)
	}
}

func TestQueryFiltersCombineWithAND(t *testing.T) {
	service := newAuditService(sampleEntries(t))

	result, err := service.Query(context.Background(), AuditQueryFilter{
		EventType: domain.EventLoginFailure,
		Email:     "JANE",
	})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("total = %d, want 1", result.Total)
	}
	if result.Entries[0].CorrelationID != "req-002" {
		t.Fatalf("matched %q, want req-002", result.Entries[0].CorrelationID)
	}

	result, err = service.Query(context.Background(), AuditQueryFilter{
		EventType: domain.EventLoginFailure,
		Email:     "root",
	})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if result.Total != 0 {
		t.Fatalf("total = %d, want 0 for contradictory filters", result.Total)
	}
}

func TestQueryOrdersNewestFirstAndPages(t *testing.T) {
	service := newAuditService(sampleEntries(t))

	result, err := service.Query(context.Background(), AuditQueryFilter{Limit: 2})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if result.Total != 4 {
		t.Fatalf("total = %d, want 4", result.Total)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("page size = %d, want 2", len(result.Entries))
	}
	if result.Entries[0].CorrelationID != "req-004" || result.Entries[1].CorrelationID != "req-003" {
		t.Fatalf("page order = %q, %q, want req-004, req-003",
			result.Entries[0].CorrelationID, result.Entries[1].CorrelationID)
	}

	result, err = service.Query(context.Background(), AuditQueryFilter{Offset: 3, Limit: 2})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(result.Entries) != 1 || result.Entries[0].CorrelationID != "req-001" {
		t.Fatalf("last page = %+v, want only req-001", result.Entries)
	}
}

func TestQueryFiltersByStatusAndIP(t *testing.T) {
	service := newAuditService(sampleEntries(t))

	result, err := service.Query(context.Background(), AuditQueryFilter{StatusCode: 401})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if result.Total != 1 || result.Entries[0].EventType != domain.EventLoginFailure {
		t.Fatalf("status filter matched %+v, want the login failure", result.Entries)
	}

	result, err = service.Query(context.Background(), AuditQueryFilter{IP: "203.0.113"})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if result.Total != 3 {
		t.Fatalf("ip substring total = %d, want 3", result.Total)
	}
}

func TestStatsAggregates(t *testing.T) {
	service := newAuditService(sampleEntries(t))

	stats, err := service.Stats(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}

	if stats.TotalEvents != 4 {
		t.Fatalf("total events = %d, want 4", stats.TotalEvents)
	}
	if stats.SuccessfulLogins != 1 || stats.FailedLogins != 1 || stats.AdminActions != 1 {
		t.Fatalf("logins ok=%d fail=%d admin=%d, want 1/1/1",
			stats.SuccessfulLogins, stats.FailedLogins, stats.AdminActions)
	}
	if stats.SecuritySensitive != 1 {
		t.Fatalf("security sensitive = %d, want 1", stats.SecuritySensitive)
	}
	if stats.EventsByStatus[200] != 2 {
		t.Fatalf("status 200 count = %d, want 2", stats.EventsByStatus[200])
	}
	if len(stats.TopUsers) == 0 || stats.TopUsers[0].Email != "jane.agent@example.com" || stats.TopUsers[0].Count != 3 {
		t.Fatalf("top users = %+v, want jane.agent first with 3", stats.TopUsers)
	}
}

func TestExportCSVSanitizesCells(t *testing.T) {
	entries := sampleEntries(t)
	entries = append(entries, buildChain(t, []domain.AuditLogEntry{{
		Timestamp:     entries[len(entries)-1].Timestamp.Add(time.Minute),
		CorrelationID: "req-005",
		EventType:     domain.EventDataExport,
		User:          domain.AuditUser{Email: "=cmd|' /C calc'!A0", Role: domain.RoleAgent},
		Request:       domain.AuditRequest{IP: "203.0.113.7", Method: "GET", Path: "/api/admin/audit/export"},
		Response:      domain.AuditResponse{StatusCode: 200, Duration: 5},
	}})...)

	service := newAuditService(entries)
	out, err := service.ExportCSV(context.Background(), AuditQueryFilter{})
	if err != nil {
		t.Fatalf("ExportCSV returned error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if lines[0] != "Timestamp,Correlation ID,Event Type,User Email,User Role,IP Address,Method,Path,Status Code,Duration" {
		t.Fatalf("header = %q", lines[0])
	}
	if len(lines) != 6 {
		t.Fatalf("line count = %d, want header plus 5 rows", len(lines))
	}
	if !strings.Contains(string(out), "'=cmd") {
		t.Fatal("expected formula payload to be neutralized with a leading apostrophe")
	}
}
