package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/arklim/crm-session-security/internal/core/domain"
	"github.com/arklim/crm-session-security/internal/core/port"
	"github.com/arklim/crm-session-security/internal/infra/config"
)

var testAlertSettings = config.AlertSettings{
	BruteForceThreshold: 5,
	BruteForceWindow:    5 * time.Minute,
	MultiIPThreshold:    3,
	IPTrackTTL:          time.Hour,
	RateLimitThreshold:  10,
	RateLimitWindow:     time.Hour,
	DedupTTL:            5 * time.Minute,
	AdminIPLookback:     7 * 24 * time.Hour,
}

type alertHarness struct {
	service   *SecurityAlertService
	repo      *memoryAlertRepo
	store     *memorySessionStore
	publisher *recordingPublisher
	audit     *staticAuditReader
	clock     time.Time
}

func newAlertHarness(t *testing.T) *alertHarness {
	t.Helper()

	h := &alertHarness{
		repo:      newMemoryAlertRepo(),
		store:     newMemorySessionStore(),
		publisher: &recordingPublisher{},
		audit:     &staticAuditReader{},
		clock:     time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}

	h.service = NewSecurityAlertService(
		testAlertSettings,
		h.repo,
		h.store,
		newMemoryEventWindow(),
		newMemoryEventWindow(),
		h.audit,
		h.publisher,
		nil,
		nil,
	)
	h.service.WithClock(func() time.Time { return h.clock })
	return h
}

func TestLogFailedLoginRaisesBruteForceAtThreshold(t *testing.T) {
	h := newAlertHarness(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := h.service.LogFailedLogin(ctx, "jane.agent@example.com", "198.51.100.9"); err != nil {
			t.Fatalf("LogFailedLogin returned error: %v", err)
		}
	}
	if alerts := h.repo.byType(domain.AlertTypeBruteForce); len(alerts) != 0 {
		t.Fatalf("alerts below threshold = %d, want 0", len(alerts))
	}

	if err := h.service.LogFailedLogin(ctx, "jane.agent@example.com", "198.51.100.9"); err != nil {
		t.Fatalf("LogFailedLogin returned error: %v", err)
	}

	alerts := h.repo.byType(domain.AlertTypeBruteForce)
	if len(alerts) != 1 {
		t.Fatalf("alerts at threshold = %d, want 1", len(alerts))
	}
	if alerts[0].Severity != domain.SeverityCritical {
		t.Fatalf("severity = %q, want CRITICAL", alerts[0].Severity)
	}
	if alerts[0].Email == nil || *alerts[0].Email != "jane.agent@example.com" {
		t.Fatalf("alert email = %v, want the attacked account", alerts[0].Email)
	}
	if len(h.publisher.alerts) != 1 {
		t.Fatalf("published alerts = %d, want 1", len(h.publisher.alerts))
	}
}

func TestLogFailedLoginSuppressesDuplicateAlerts(t *testing.T) {
	h := newAlertHarness(t)
	ctx := context.Background()

	// A sustained attack keeps crossing the threshold on every attempt.
	for i := 0; i < 20; i++ {
		if err := h.service.LogFailedLogin(ctx, "jane.agent@example.com", "198.51.100.9"); err != nil {
			t.Fatalf("LogFailedLogin returned error: %v", err)
		}
	}

	if alerts := h.repo.byType(domain.AlertTypeBruteForce); len(alerts) != 1 {
		t.Fatalf("alerts after 20 attempts = %d, want 1 (deduplicated)", len(alerts))
	}
}

func TestLogFailedLoginTracksSourcesIndependently(t *testing.T) {
	h := newAlertHarness(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := h.service.LogFailedLogin(ctx, "jane.agent@example.com", "198.51.100.9"); err != nil {
			t.Fatalf("LogFailedLogin returned error: %v", err)
		}
	}
	for i := 0; i < 4; i++ {
		if err := h.service.LogFailedLogin(ctx, "jane.agent@example.com", "203.0.113.44"); err != nil {
			t.Fatalf("LogFailedLogin returned error: %v", err)
		}
	}

	if alerts := h.repo.byType(domain.AlertTypeBruteForce); len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1 (second source is below threshold)", len(alerts))
	}
}

func TestTrackUserIPRaisesMultiIPAlert(t *testing.T) {
	h := newAlertHarness(t)
	ctx := context.Background()

	if err := h.service.TrackUserIP(ctx, "user-1", "jane.agent@example.com", "203.0.113.7"); err != nil {
		t.Fatalf("TrackUserIP returned error: %v", err)
	}
	if err := h.service.TrackUserIP(ctx, "user-1", "jane.agent@example.com", "198.51.100.9"); err != nil {
		t.Fatalf("TrackUserIP returned error: %v", err)
	}
	if alerts := h.repo.byType(domain.AlertTypeMultipleIPs); len(alerts) != 0 {
		t.Fatalf("alerts with 2 IPs = %d, want 0", len(alerts))
	}

	if err := h.service.TrackUserIP(ctx, "user-1", "jane.agent@example.com", "192.0.2.33"); err != nil {
		t.Fatalf("TrackUserIP returned error: %v", err)
	}

	alerts := h.repo.byType(domain.AlertTypeMultipleIPs)
	if len(alerts) != 1 {
		t.Fatalf("alerts with 3 IPs = %d, want 1", len(alerts))
	}
	if alerts[0].Severity != domain.SeverityWarning {
		t.Fatalf("severity = %q, want WARNING", alerts[0].Severity)
	}

	// Re-reporting a known IP keeps the cardinality stable; dedup holds.
	if err := h.service.TrackUserIP(ctx, "user-1", "jane.agent@example.com", "192.0.2.33"); err != nil {
		t.Fatalf("TrackUserIP returned error: %v", err)
	}
	if alerts := h.repo.byType(domain.AlertTypeMultipleIPs); len(alerts) != 1 {
		t.Fatalf("alerts after repeat = %d, want 1", len(alerts))
	}
}

func TestLogRateLimitViolationRaisesAbuseAlert(t *testing.T) {
	h := newAlertHarness(t)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		if err := h.service.LogRateLimitViolation(ctx, "client-9", "198.51.100.9", "/api/listings"); err != nil {
			t.Fatalf("LogRateLimitViolation returned error: %v", err)
		}
	}
	if alerts := h.repo.byType(domain.AlertTypeRateLimitAbuse); len(alerts) != 0 {
		t.Fatalf("alerts below threshold = %d, want 0", len(alerts))
	}

	if err := h.service.LogRateLimitViolation(ctx, "client-9", "198.51.100.9", "/api/listings"); err != nil {
		t.Fatalf("LogRateLimitViolation returned error: %v", err)
	}
	if alerts := h.repo.byType(domain.AlertTypeRateLimitAbuse); len(alerts) != 1 {
		t.Fatalf("alerts at threshold = %d, want 1", len(alerts))
	}
}

func TestLogTokenReuseAlertsUnconditionally(t *testing.T) {
	h := newAlertHarness(t)
	ctx := context.Background()

	if err := h.service.LogTokenReuse(ctx, "user-1", "session-a", "198.51.100.9"); err != nil {
		t.Fatalf("LogTokenReuse returned error: %v", err)
	}

	alerts := h.repo.byType(domain.AlertTypeTokenReuse)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1 on first reuse", len(alerts))
	}
	if alerts[0].Severity != domain.SeverityCritical {
		t.Fatalf("severity = %q, want CRITICAL", alerts[0].Severity)
	}

	// Same burned session keeps alerting once; a different session alerts anew.
	if err := h.service.LogTokenReuse(ctx, "user-1", "session-a", "198.51.100.9"); err != nil {
		t.Fatalf("LogTokenReuse returned error: %v", err)
	}
	if err := h.service.LogTokenReuse(ctx, "user-1", "session-b", "198.51.100.9"); err != nil {
		t.Fatalf("LogTokenReuse returned error: %v", err)
	}

	if alerts := h.repo.byType(domain.AlertTypeTokenReuse); len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2 (one per session)", len(alerts))
	}
}

func TestAlertsFireAgainAfterDedupWindow(t *testing.T) {
	h := newAlertHarness(t)
	ctx := context.Background()

	if err := h.service.LogTokenReuse(ctx, "user-1", "session-a", ""); err != nil {
		t.Fatalf("LogTokenReuse returned error: %v", err)
	}
	if err := h.service.LogTokenReuse(ctx, "user-1", "session-a", ""); err != nil {
		t.Fatalf("LogTokenReuse returned error: %v", err)
	}
	if alerts := h.repo.byType(domain.AlertTypeTokenReuse); len(alerts) != 1 {
		t.Fatalf("alerts inside dedup window = %d, want 1", len(alerts))
	}

	// The in-memory store ignores TTLs, so expire the sentinel by hand the
	// way Redis would after DedupTTL.
	dedupKey := fmt.Sprintf("%s%s:%s", dedupKeyPrefix, domain.AlertTypeTokenReuse, "session-a")
	if err := h.store.Delete(ctx, dedupKey); err != nil {
		t.Fatalf("expire dedup sentinel: %v", err)
	}

	if err := h.service.LogTokenReuse(ctx, "user-1", "session-a", ""); err != nil {
		t.Fatalf("LogTokenReuse returned error: %v", err)
	}
	if alerts := h.repo.byType(domain.AlertTypeTokenReuse); len(alerts) != 2 {
		t.Fatalf("alerts after dedup expiry = %d, want 2", len(alerts))
	}
}

func TestCheckAdminIPComparesAgainstLoginHistory(t *testing.T) {
	h := newAlertHarness(t)
	ctx := context.Background()
	admin := domain.User{ID: "admin-1", Email: "root@example.com", Role: domain.RoleAdmin, IsActive: true}

	h.audit.entries = []domain.AuditLogEntry{
		{
			Timestamp: h.clock.Add(-24 * time.Hour),
			EventType: domain.EventLoginSuccess,
			User:      domain.AuditUser{ID: "admin-1", Email: "root@example.com"},
			Request:   domain.AuditRequest{IP: "203.0.113.7"},
		},
		{
			Timestamp: h.clock.Add(-48 * time.Hour),
			EventType: domain.EventLoginSuccess,
			User:      domain.AuditUser{ID: "admin-1", Email: "root@example.com"},
			Request:   domain.AuditRequest{IP: "203.0.113.8"},
		},
		// Outside the lookback window; must not count as baseline.
		{
			Timestamp: h.clock.Add(-30 * 24 * time.Hour),
			EventType: domain.EventLoginSuccess,
			User:      domain.AuditUser{ID: "admin-1", Email: "root@example.com"},
			Request:   domain.AuditRequest{IP: "192.0.2.99"},
		},
	}

	if err := h.service.CheckAdminIP(ctx, admin, "203.0.113.7"); err != nil {
		t.Fatalf("CheckAdminIP returned error: %v", err)
	}
	if alerts := h.repo.byType(domain.AlertTypeAdminUnusualIP); len(alerts) != 0 {
		t.Fatalf("alerts for known IP = %d, want 0", len(alerts))
	}

	if err := h.service.CheckAdminIP(ctx, admin, "192.0.2.99"); err != nil {
		t.Fatalf("CheckAdminIP returned error: %v", err)
	}
	alerts := h.repo.byType(domain.AlertTypeAdminUnusualIP)
	if len(alerts) != 1 {
		t.Fatalf("alerts for stale IP = %d, want 1", len(alerts))
	}
	if alerts[0].Severity != domain.SeverityWarning {
		t.Fatalf("severity = %q, want WARNING", alerts[0].Severity)
	}
}

func TestCheckAdminIPSkipsFirstLoginAndNonAdmins(t *testing.T) {
	h := newAlertHarness(t)
	ctx := context.Background()

	// No history at all: nothing to deviate from.
	admin := domain.User{ID: "admin-1", Role: domain.RoleAdmin, IsActive: true}
	if err := h.service.CheckAdminIP(ctx, admin, "203.0.113.7"); err != nil {
		t.Fatalf("CheckAdminIP returned error: %v", err)
	}

	agent := domain.User{ID: "user-1", Role: domain.RoleAgent, IsActive: true}
	if err := h.service.CheckAdminIP(ctx, agent, "203.0.113.7"); err != nil {
		t.Fatalf("CheckAdminIP returned error: %v", err)
	}

	if alerts := h.repo.byType(domain.AlertTypeAdminUnusualIP); len(alerts) != 0 {
		t.Fatalf("alerts = %d, want 0", len(alerts))
	}
}

func TestResolveAlertTransitionsOnce(t *testing.T) {
	h := newAlertHarness(t)
	ctx := context.Background()

	if err := h.service.LogTokenReuse(ctx, "user-1", "session-a", ""); err != nil {
		t.Fatalf("LogTokenReuse returned error: %v", err)
	}
	created := h.repo.byType(domain.AlertTypeTokenReuse)[0]

	if err := h.service.ResolveAlert(ctx, created.ID, "admin-1", "stolen laptop, sessions revoked"); err != nil {
		t.Fatalf("ResolveAlert returned error: %v", err)
	}

	resolved, err := h.service.GetAlert(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetAlert returned error: %v", err)
	}
	if !resolved.Resolved || resolved.ResolvedBy == nil || *resolved.ResolvedBy != "admin-1" {
		t.Fatalf("alert not resolved as expected: %+v", resolved)
	}

	if err := h.service.ResolveAlert(ctx, "missing-id", "admin-1", ""); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("missing alert error = %v, want ErrAlertNotFound", err)
	}
}

func TestListAlertsFilters(t *testing.T) {
	h := newAlertHarness(t)
	ctx := context.Background()

	if err := h.service.LogTokenReuse(ctx, "user-1", "session-a", ""); err != nil {
		t.Fatalf("LogTokenReuse returned error: %v", err)
	}
	if err := h.service.LogTokenReuse(ctx, "user-2", "session-b", ""); err != nil {
		t.Fatalf("LogTokenReuse returned error: %v", err)
	}

	unresolved := false
	alertType := domain.AlertTypeTokenReuse
	alerts, total, err := h.service.ListAlerts(ctx, port.AlertFilter{
		AlertType: &alertType,
		Resolved:  &unresolved,
		UserID:    "user-2",
	})
	if err != nil {
		t.Fatalf("ListAlerts returned error: %v", err)
	}
	if total != 1 || len(alerts) != 1 {
		t.Fatalf("total = %d len = %d, want 1/1", total, len(alerts))
	}
	if alerts[0].UserID == nil || *alerts[0].UserID != "user-2" {
		t.Fatalf("listed alert = %+v, want user-2's", alerts[0])
	}
}
