package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arklim/crm-session-security/internal/core/domain"
	"github.com/arklim/crm-session-security/internal/core/port"
	"github.com/arklim/crm-session-security/internal/repository"
)

var errStoreOffline = errors.New("store offline")

// memorySessionStore is an in-memory port.SessionStore. TTLs are recorded
// but not enforced; tests drive expiry through the service clock instead.
type memorySessionStore struct {
	mu      sync.Mutex
	values  map[string]string
	sets    map[string]map[string]struct{}
	offline bool
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{
		values: make(map[string]string),
		sets:   make(map[string]map[string]struct{}),
	}
}

func (m *memorySessionStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return "", errStoreOffline
	}
	value, ok := m.values[key]
	if !ok {
		return "", repository.ErrNotFound
	}
	return value, nil
}

func (m *memorySessionStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return errStoreOffline
	}
	m.values[key] = value
	return nil
}

func (m *memorySessionStore) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return false, errStoreOffline
	}
	if _, exists := m.values[key]; exists {
		return false, nil
	}
	m.values[key] = value
	return true, nil
}

func (m *memorySessionStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return errStoreOffline
	}
	for _, key := range keys {
		delete(m.values, key)
		delete(m.sets, key)
	}
	return nil
}

func (m *memorySessionStore) Expire(_ context.Context, _ string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return errStoreOffline
	}
	return nil
}

func (m *memorySessionStore) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return errStoreOffline
	}
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

func (m *memorySessionStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return nil, errStoreOffline
	}
	members := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		members = append(members, member)
	}
	return members, nil
}

func (m *memorySessionStore) SCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return 0, errStoreOffline
	}
	return int64(len(m.sets[key])), nil
}

func (m *memorySessionStore) setOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

func (m *memorySessionStore) hasKey(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok
}

var _ port.SessionStore = (*memorySessionStore)(nil)

// memoryEventWindow is an in-memory port.EventWindowStore.
type memoryEventWindow struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

func newMemoryEventWindow() *memoryEventWindow {
	return &memoryEventWindow{events: make(map[string][]time.Time)}
}

func (m *memoryEventWindow) RecordEvent(_ context.Context, identifier string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[identifier] = append(m.events[identifier], at)
	return nil
}

func (m *memoryEventWindow) CountEvents(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := reference.Add(-window)
	count := 0
	for _, at := range m.events[identifier] {
		if !at.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (m *memoryEventWindow) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := reference.Add(-window)
	kept := m.events[identifier][:0]
	for _, at := range m.events[identifier] {
		if !at.Before(cutoff) {
			kept = append(kept, at)
		}
	}
	m.events[identifier] = kept
	return nil
}

var _ port.EventWindowStore = (*memoryEventWindow)(nil)

// memoryAlertRepo is an in-memory port.AlertRepository.
type memoryAlertRepo struct {
	mu     sync.Mutex
	alerts []domain.SecurityAlert
}

func newMemoryAlertRepo() *memoryAlertRepo {
	return &memoryAlertRepo{}
}

func (m *memoryAlertRepo) Create(_ context.Context, alert domain.SecurityAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *memoryAlertRepo) GetByID(_ context.Context, id string) (*domain.SecurityAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			alert := m.alerts[i]
			return &alert, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryAlertRepo) Resolve(_ context.Context, id, adminID, notes string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Resolve(at, adminID, notes)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memoryAlertRepo) List(_ context.Context, filter port.AlertFilter) ([]domain.SecurityAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]domain.SecurityAlert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		if filter.AlertType != nil && alert.AlertType != *filter.AlertType {
			continue
		}
		if filter.Severity != nil && alert.Severity != *filter.Severity {
			continue
		}
		if filter.Resolved != nil && alert.Resolved != *filter.Resolved {
			continue
		}
		if filter.UserID != "" && (alert.UserID == nil || *alert.UserID != filter.UserID) {
			continue
		}
		matched = append(matched, alert)
	}
	return matched, nil
}

func (m *memoryAlertRepo) Count(ctx context.Context, filter port.AlertFilter) (int, error) {
	matched, err := m.List(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (m *memoryAlertRepo) byType(alertType domain.AlertType) []domain.SecurityAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []domain.SecurityAlert
	for _, alert := range m.alerts {
		if alert.AlertType == alertType {
			matched = append(matched, alert)
		}
	}
	return matched
}

var _ port.AlertRepository = (*memoryAlertRepo)(nil)

// staticAuditReader replays a fixed entry slice.
type staticAuditReader struct {
	entries []domain.AuditLogEntry
}

func (r *staticAuditReader) ScanAll(_ context.Context, fn func(domain.AuditLogEntry) bool) error {
	for _, entry := range r.entries {
		if !fn(entry) {
			return nil
		}
	}
	return nil
}

var _ port.AuditReader = (*staticAuditReader)(nil)

// stubUserLookup resolves users from a fixed map.
type stubUserLookup struct {
	users map[string]domain.User
}

func (s *stubUserLookup) GetByID(_ context.Context, id string) (*domain.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

var _ port.UserLookup = (*stubUserLookup)(nil)

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu          sync.Mutex
	alerts      []domain.SecurityAlert
	reuseEvents int
}

func (p *recordingPublisher) PublishAlertCreated(_ context.Context, alert domain.SecurityAlert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, alert)
	return nil
}

func (p *recordingPublisher) PublishTokenReuse(_ context.Context, _, _, _ string, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reuseEvents++
	return nil
}

var _ port.EventPublisher = (*recordingPublisher)(nil)

// recordingAlerter captures token-reuse alert calls.
type recordingAlerter struct {
	mu    sync.Mutex
	calls []string
}

func (a *recordingAlerter) LogTokenReuse(_ context.Context, _, sessionID, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, sessionID)
	return nil
}
