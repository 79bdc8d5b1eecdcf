package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/crm-session-security/internal/core/domain"
	"github.com/arklim/crm-session-security/internal/core/port"
	"github.com/arklim/crm-session-security/internal/infra/config"
	"github.com/arklim/crm-session-security/internal/infra/logger"
	"github.com/arklim/crm-session-security/internal/infra/telemetry"
	"github.com/arklim/crm-session-security/internal/repository"
)

// ErrAlertNotFound indicates the alert does not exist.
var ErrAlertNotFound = errors.New("alert not found")

// Store key prefixes for detector state.
const (
	dedupKeyPrefix   = "alertratelimit:"
	userIPsKeyPrefix = "security:ips:"
)

// SecurityAlertService runs the sliding-window threshold detectors and owns
// the alert lifecycle. Alerts of the same type for the same identifier are
// suppressed inside a short de-duplication window so a sustained attack
// produces one alert, not hundreds.
type SecurityAlertService struct {
	cfg         config.AlertSettings
	repo        port.AlertRepository
	store       port.SessionStore
	loginWindow port.EventWindowStore
	rateWindow  port.EventWindowStore
	audit       port.AuditReader
	events      port.EventPublisher
	metrics     *telemetry.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewSecurityAlertService constructs a SecurityAlertService instance.
func NewSecurityAlertService(
	cfg config.AlertSettings,
	repo port.AlertRepository,
	store port.SessionStore,
	loginWindow port.EventWindowStore,
	rateWindow port.EventWindowStore,
	audit port.AuditReader,
	events port.EventPublisher,
	metrics *telemetry.Metrics,
	log *zap.Logger,
) *SecurityAlertService {
	if log == nil {
		log = zap.NewNop()
	}

	service := &SecurityAlertService{
		cfg:         cfg,
		repo:        repo,
		store:       store,
		loginWindow: loginWindow,
		rateWindow:  rateWindow,
		audit:       audit,
		events:      events,
		metrics:     metrics,
		logger:      log,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *SecurityAlertService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// LogFailedLogin records one failed login attempt and raises a brute-force
// alert when attempts from the same source inside the window reach the
// threshold. The window is keyed by source IP; attempts without one fall
// back to the targeted email.
func (s *SecurityAlertService) LogFailedLogin(ctx context.Context, email, ip string) error {
	at := s.now()

	source := ip
	if source == "" {
		source = email
	}

	if err := s.loginWindow.RecordEvent(ctx, source, at); err != nil {
		s.logger.Warn("failed login not recorded, brute force detection degraded",
			zap.String("email", logger.MaskEmail(email)),
			zap.Error(err),
		)
		return nil
	}

	count, err := s.loginWindow.CountEvents(ctx, source, s.cfg.BruteForceWindow, at)
	if err != nil {
		s.logger.Warn("failed login count unavailable", zap.Error(err))
		return nil
	}

	if count < s.cfg.BruteForceThreshold {
		return nil
	}

	return s.createAlert(ctx, domain.SecurityAlert{
		AlertType: domain.AlertTypeBruteForce,
		Severity:  domain.SeverityCritical,
		Email:     optional(email),
		IP:        optional(ip),
		Message:   fmt.Sprintf("%d failed login attempts from %s within %s", count, source, s.cfg.BruteForceWindow),
		Details: map[string]any{
			"failed_attempts": count,
			"window_seconds":  int(s.cfg.BruteForceWindow.Seconds()),
			"last_email":      logger.MaskEmail(email),
		},
		RecommendedAction: "Block the source and force a password reset for targeted accounts.",
	}, source)
}

// TrackUserIP registers an authenticated request IP for the user and raises
// a multi-IP alert when distinct IPs inside the tracking window reach the
// threshold.
func (s *SecurityAlertService) TrackUserIP(ctx context.Context, userID, email, ip string) error {
	if userID == "" || ip == "" {
		return nil
	}

	key := userIPsKeyPrefix + userID
	if err := s.store.SAdd(ctx, key, ip); err != nil {
		s.logger.Warn("user ip not recorded, multi-ip detection degraded",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil
	}
	if err := s.store.Expire(ctx, key, s.cfg.IPTrackTTL); err != nil {
		s.logger.Warn("user ip set expiry not refreshed", zap.Error(err))
	}

	distinct, err := s.store.SCard(ctx, key)
	if err != nil {
		s.logger.Warn("user ip count unavailable", zap.Error(err))
		return nil
	}

	if int(distinct) < s.cfg.MultiIPThreshold {
		return nil
	}

	return s.createAlert(ctx, domain.SecurityAlert{
		AlertType: domain.AlertTypeMultipleIPs,
		Severity:  domain.SeverityWarning,
		UserID:    &userID,
		Email:     optional(email),
		IP:        &ip,
		Message:   fmt.Sprintf("account accessed from %d distinct IPs within %s", distinct, s.cfg.IPTrackTTL),
		Details: map[string]any{
			"distinct_ips":   distinct,
			"window_seconds": int(s.cfg.IPTrackTTL.Seconds()),
		},
		RecommendedAction: "Verify the sessions with the user and revoke unrecognized ones.",
	}, userID)
}

// LogRateLimitViolation records one rate-limit rejection for the identifier
// (user id or client IP) and raises an abuse alert at the threshold.
func (s *SecurityAlertService) LogRateLimitViolation(ctx context.Context, identifier, ip, path string) error {
	at := s.now()

	if err := s.rateWindow.RecordEvent(ctx, identifier, at); err != nil {
		s.logger.Warn("rate limit violation not recorded", zap.Error(err))
		return nil
	}

	count, err := s.rateWindow.CountEvents(ctx, identifier, s.cfg.RateLimitWindow, at)
	if err != nil {
		s.logger.Warn("rate limit violation count unavailable", zap.Error(err))
		return nil
	}

	if count < s.cfg.RateLimitThreshold {
		return nil
	}

	return s.createAlert(ctx, domain.SecurityAlert{
		AlertType: domain.AlertTypeRateLimitAbuse,
		Severity:  domain.SeverityWarning,
		UserID:    optional(identifier),
		IP:        optional(ip),
		Message:   fmt.Sprintf("%d rate limit violations for %s within %s", count, identifier, s.cfg.RateLimitWindow),
		Details: map[string]any{
			"violations":     count,
			"window_seconds": int(s.cfg.RateLimitWindow.Seconds()),
			"last_path":      path,
		},
		RecommendedAction: "Throttle or block the client if the pattern continues.",
	}, identifier)
}

// LogTokenReuse raises a critical alert for a replayed refresh token. There
// is no threshold: a single replay is already an incident. De-duplication is
// keyed on the session family so the burned session alerts once.
func (s *SecurityAlertService) LogTokenReuse(ctx context.Context, userID, sessionID, ip string) error {
	return s.createAlert(ctx, domain.SecurityAlert{
		AlertType: domain.AlertTypeTokenReuse,
		Severity:  domain.SeverityCritical,
		UserID:    &userID,
		IP:        optional(ip),
		Message:   "refresh token replay detected, session family revoked",
		Details: map[string]any{
			"session_id": sessionID,
		},
		RecommendedAction: "Treat the refresh token as stolen; review recent activity for the account.",
	}, sessionID)
}

// CheckAdminIP compares an admin login IP against the IPs seen in that
// admin's successful logins over the lookback window. A login from an IP
// with no prior history raises a warning. Admins with no history at all are
// skipped: a first login has no baseline to deviate from.
func (s *SecurityAlertService) CheckAdminIP(ctx context.Context, admin domain.User, ip string) error {
	if !admin.IsAdmin() || ip == "" {
		return nil
	}

	since := s.now().Add(-s.cfg.AdminIPLookback)
	known := map[string]struct{}{}

	err := s.audit.ScanAll(ctx, func(entry domain.AuditLogEntry) bool {
		if entry.EventType != domain.EventLoginSuccess {
			return true
		}
		if entry.User.ID != admin.ID || entry.Timestamp.Before(since) {
			return true
		}
		if entry.Request.IP != "" {
			known[entry.Request.IP] = struct{}{}
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("scan login history: %w", err)
	}

	if len(known) == 0 {
		return nil
	}
	if _, seen := known[ip]; seen {
		return nil
	}

	return s.createAlert(ctx, domain.SecurityAlert{
		AlertType: domain.AlertTypeAdminUnusualIP,
		Severity:  domain.SeverityWarning,
		UserID:    &admin.ID,
		Email:     optional(admin.Email),
		IP:        &ip,
		Message:   fmt.Sprintf("admin login from IP with no history in the last %s", s.cfg.AdminIPLookback),
		Details: map[string]any{
			"known_ip_count":   len(known),
			"lookback_seconds": int(s.cfg.AdminIPLookback.Seconds()),
		},
		RecommendedAction: "Confirm the login with the administrator before trusting the session.",
	}, admin.ID)
}

// ResolveAlert marks an alert resolved. Resolution is the only mutation the
// alert trail permits; resolving an already-resolved alert is a no-op.
func (s *SecurityAlertService) ResolveAlert(ctx context.Context, alertID, adminID, notes string) error {
	err := s.repo.Resolve(ctx, alertID, adminID, notes, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAlertNotFound
		}
		return fmt.Errorf("resolve alert: %w", err)
	}

	logger.WithContext(ctx).Info("security alert resolved",
		zap.String("alert_id", alertID),
		zap.String("resolved_by", adminID),
	)
	return nil
}

// GetAlert fetches a single alert by id.
func (s *SecurityAlertService) GetAlert(ctx context.Context, alertID string) (*domain.SecurityAlert, error) {
	alert, err := s.repo.GetByID(ctx, alertID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("load alert: %w", err)
	}
	return alert, nil
}

// ListAlerts returns one page of alerts plus the unpaged total.
func (s *SecurityAlertService) ListAlerts(ctx context.Context, filter port.AlertFilter) ([]domain.SecurityAlert, int, error) {
	alerts, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list alerts: %w", err)
	}

	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}

	return alerts, total, nil
}

// createAlert persists and publishes an alert unless an identical one fired
// inside the de-duplication window.
func (s *SecurityAlertService) createAlert(ctx context.Context, alert domain.SecurityAlert, identifier string) error {
	if s.suppressed(ctx, alert.AlertType, identifier) {
		if s.metrics != nil {
			s.metrics.AlertsSuppressed.WithLabelValues(string(alert.AlertType)).Inc()
		}
		return nil
	}

	alert.ID = uuid.NewString()
	alert.CreatedAt = s.now()
	alert.Resolved = false

	if err := s.repo.Create(ctx, alert); err != nil {
		s.logger.Error("security alert not persisted",
			zap.String("alert_type", string(alert.AlertType)),
			zap.Error(err),
		)
		return fmt.Errorf("persist alert: %w", err)
	}

	logger.WithContext(ctx).Warn("security alert created",
		zap.String("alert_id", alert.ID),
		zap.String("alert_type", string(alert.AlertType)),
		zap.String("severity", string(alert.Severity)),
	)

	if s.metrics != nil {
		s.metrics.AlertsCreated.WithLabelValues(string(alert.AlertType)).Inc()
	}

	if s.events != nil {
		if err := s.events.PublishAlertCreated(ctx, alert); err != nil {
			s.logger.Warn("alert event publish failed", zap.Error(err))
		}
	}

	return nil
}

// suppressed reports whether an alert of this type already fired for the
// identifier inside the dedup window. A store failure means suppression
// state is unknown; alerting errs on the side of firing.
func (s *SecurityAlertService) suppressed(ctx context.Context, alertType domain.AlertType, identifier string) bool {
	key := fmt.Sprintf("%s%s:%s", dedupKeyPrefix, alertType, identifier)
	created, err := s.store.SetNX(ctx, key, "1", s.cfg.DedupTTL)
	if err != nil {
		s.logger.Warn("alert dedup state unavailable", zap.Error(err))
		return false
	}
	return !created
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
