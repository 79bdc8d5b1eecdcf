package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/crm-session-security/internal/core/domain"
	"github.com/arklim/crm-session-security/internal/core/port"
	"github.com/arklim/crm-session-security/internal/infra/config"
	"github.com/arklim/crm-session-security/internal/infra/logger"
	"github.com/arklim/crm-session-security/internal/infra/security"
	"github.com/arklim/crm-session-security/internal/infra/telemetry"
	"github.com/arklim/crm-session-security/internal/repository"
)

var (
	// ErrReuseDetected indicates a refresh token was presented more than once.
	// The whole session family has already been revoked when this is returned.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrInvalidRefreshToken indicates the refresh token is malformed, has a
	// bad signature, or does not belong to its claimed user.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrExpiredRefreshToken indicates the refresh token elapsed its lifetime.
	ErrExpiredRefreshToken = errors.New("refresh token expired")
	// ErrInvalidAccessToken indicates the access token failed verification.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrExpiredAccessToken indicates the access token elapsed its lifetime.
	ErrExpiredAccessToken = errors.New("access token expired")
	// ErrInactiveAccount indicates the owning account is deactivated.
	ErrInactiveAccount = errors.New("account is inactive")
	// ErrUserNotFound indicates the user does not exist in the CRM.
	ErrUserNotFound = errors.New("user not found")
)

// Store key prefixes. Refresh state is keyed by the SHA-256 hash of the jti
// so a store compromise does not leak replayable identifiers.
const (
	refreshRecordPrefix = "authrt:"
	sessionIndexPrefix  = "authidx:sid:"
	blacklistPrefix     = "authbl:"
)

// Blacklist reasons recorded alongside revoked jtis.
const (
	ReasonRotated       = "rotated"
	ReasonReuseDetected = "reuse_detected"
	ReasonLogout        = "logout"
	ReasonFamilyRevoked = "family_revoked"
)

// ReuseAlerter raises the unconditional token-reuse alert. Implemented by
// SecurityAlertService; kept narrow so the token path does not depend on the
// full alerting surface.
type ReuseAlerter interface {
	LogTokenReuse(ctx context.Context, userID, sessionID, ip string) error
}

// TokenService issues JWT access/refresh pairs and enforces single-use
// refresh rotation. Every live refresh token belongs to a session family;
// presenting a consumed token burns the whole family.
type TokenService struct {
	cfg     config.JWTSettings
	codec   *security.TokenCodec
	store   port.SessionStore
	users   port.UserLookup
	alerts  ReuseAlerter
	events  port.EventPublisher
	metrics *telemetry.Metrics
	logger  *zap.Logger
	now     func() time.Time

	degraded atomic.Bool
}

// NewTokenService constructs a TokenService instance. The alerter, publisher,
// and metrics are optional; the store and user lookup are not.
func NewTokenService(
	cfg config.JWTSettings,
	codec *security.TokenCodec,
	store port.SessionStore,
	users port.UserLookup,
	alerts ReuseAlerter,
	events port.EventPublisher,
	metrics *telemetry.Metrics,
	log *zap.Logger,
) *TokenService {
	if log == nil {
		log = zap.NewNop()
	}

	service := &TokenService{
		cfg:     cfg,
		codec:   codec,
		store:   store,
		users:   users,
		alerts:  alerts,
		events:  events,
		metrics: metrics,
		logger:  log,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *TokenService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// StoreHealthy reports whether the session store answered the most recent
// operation. While false, rotation proceeds but reuse cannot be detected.
func (s *TokenService) StoreHealthy() bool {
	return !s.degraded.Load()
}

// IssueTokens mints a fresh access/refresh pair under a brand-new session
// family for the given user.
func (s *TokenService) IssueTokens(ctx context.Context, userID string) (*domain.TokenPair, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	pair, err := s.mintPair(*user, uuid.NewString())
	if err != nil {
		return nil, err
	}

	s.persistRecord(ctx, pair.JTI, user.ID, pair.SessionID)

	if s.metrics != nil {
		s.metrics.TokensIssued.Inc()
	}

	return &pair, nil
}

// RotateRefreshToken exchanges a refresh token for a new pair. The presented
// jti is atomically blacklisted first; losing that race means the token was
// already consumed, which revokes the session family and raises an alert.
// Legacy tokens without rotation claims are honored once and migrated to a
// new family. The ip is only used for alerting on reuse.
func (s *TokenService) RotateRefreshToken(ctx context.Context, refreshToken, ip string) (*domain.RotationResult, error) {
	claims, err := s.codec.ParseRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, ErrExpiredRefreshToken
		}
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.activeUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	if claims.IsLegacy() {
		return s.reissueLegacy(ctx, *user)
	}

	hashed := security.HashToken(claims.RegisteredClaims.ID)

	consumed, err := s.consumeJTI(ctx, hashed, claims.SessionID)
	if err != nil {
		// The store is down; without it replay cannot be distinguished from
		// first use. Availability wins: rotate anyway and keep the gap visible.
		s.storeFailure("blacklist refresh token", err)
	} else if !consumed {
		return nil, s.handleReuse(ctx, user.ID, claims.SessionID, ip)
	}

	sessionID := claims.SessionID
	if record, recErr := s.fetchRecord(ctx, hashed); recErr == nil {
		if record.UserID != user.ID {
			return nil, ErrInvalidRefreshToken
		}
		sessionID = record.SessionID
	} else if !errors.Is(recErr, repository.ErrNotFound) {
		s.storeFailure("load refresh record", recErr)
	}

	if delErr := s.store.Delete(ctx, refreshRecordPrefix+hashed); delErr != nil {
		s.storeFailure("delete refresh record", delErr)
	}

	pair, err := s.mintPair(*user, sessionID)
	if err != nil {
		return nil, err
	}

	s.persistRecord(ctx, pair.JTI, user.ID, pair.SessionID)

	if s.metrics != nil {
		s.metrics.TokensRotated.Inc()
	}

	return &domain.RotationResult{Outcome: domain.RotationOutcomeRotated, Pair: pair}, nil
}

// VerifyAccessToken validates an access token offline and returns its claims.
func (s *TokenService) VerifyAccessToken(_ context.Context, token string) (*security.AccessTokenClaims, error) {
	claims, err := s.codec.ParseAccessToken(token)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, ErrExpiredAccessToken
		}
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

// BlacklistToken voluntarily retires a refresh token (logout). Expired and
// legacy tokens have nothing to retire; store failures are swallowed because
// the token will stop working at expiry regardless.
func (s *TokenService) BlacklistToken(ctx context.Context, refreshToken, reason string) error {
	claims, err := s.codec.ParseRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil
		}
		return ErrInvalidRefreshToken
	}
	if claims.IsLegacy() {
		return nil
	}
	if reason == "" {
		reason = ReasonLogout
	}

	hashed := security.HashToken(claims.RegisteredClaims.ID)
	if err := s.blacklist(ctx, hashed, claims.SessionID, reason); err != nil {
		s.storeFailure("blacklist refresh token", err)
		return nil
	}
	if err := s.store.Delete(ctx, refreshRecordPrefix+hashed); err != nil {
		s.storeFailure("delete refresh record", err)
	}
	return nil
}

// RevokeTokenFamily blacklists every live refresh token in the session
// family and drops the family index. Returns the number of tokens revoked.
func (s *TokenService) RevokeTokenFamily(ctx context.Context, sessionID, reason string) (int, error) {
	if reason == "" {
		reason = ReasonFamilyRevoked
	}

	indexKey := sessionIndexPrefix + sessionID
	members, err := s.store.SMembers(ctx, indexKey)
	if err != nil {
		s.storeFailure("load session family", err)
		return 0, fmt.Errorf("load session family: %w", err)
	}

	revoked := 0
	for _, hashed := range members {
		if err := s.blacklist(ctx, hashed, sessionID, reason); err != nil {
			s.storeFailure("blacklist family member", err)
			continue
		}
		if err := s.store.Delete(ctx, refreshRecordPrefix+hashed); err != nil {
			s.storeFailure("delete family record", err)
		}
		revoked++
	}

	if err := s.store.Delete(ctx, indexKey); err != nil {
		s.storeFailure("delete session index", err)
	}

	logger.WithContext(ctx).Info("session family revoked",
		zap.String("session_id", sessionID),
		zap.String("reason", reason),
		zap.Int("tokens_revoked", revoked),
	)

	return revoked, nil
}

// RevokeSessionByToken revokes the whole session family the presented
// refresh token belongs to (logout everywhere). Legacy tokens carry no
// family, so there is nothing to revoke beyond their natural expiry.
func (s *TokenService) RevokeSessionByToken(ctx context.Context, refreshToken, reason string) (int, error) {
	claims, err := s.codec.ParseRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return 0, ErrExpiredRefreshToken
		}
		return 0, ErrInvalidRefreshToken
	}
	if claims.IsLegacy() {
		return 0, nil
	}
	return s.RevokeTokenFamily(ctx, claims.SessionID, reason)
}

// reissueLegacy migrates a pre-rotation refresh token onto a new session
// family. The old token cannot be blacklisted because it has no jti, so it
// is honored exactly as far as its own expiry.
func (s *TokenService) reissueLegacy(ctx context.Context, user domain.User) (*domain.RotationResult, error) {
	pair, err := s.mintPair(user, uuid.NewString())
	if err != nil {
		return nil, err
	}

	s.persistRecord(ctx, pair.JTI, user.ID, pair.SessionID)

	logger.WithContext(ctx).Info("legacy refresh token migrated to rotation",
		zap.String("user_id", user.ID),
		zap.String("session_id", pair.SessionID),
	)

	if s.metrics != nil {
		s.metrics.TokensRotated.Inc()
	}

	return &domain.RotationResult{Outcome: domain.RotationOutcomeReissuedLegacy, Pair: pair}, nil
}

// handleReuse runs the containment path for a replayed refresh token.
func (s *TokenService) handleReuse(ctx context.Context, userID, sessionID, ip string) error {
	at := s.now()

	logger.WithContext(ctx).Error("refresh token reuse detected",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.String("ip", logger.MaskIP(ip)),
	)

	if _, err := s.RevokeTokenFamily(ctx, sessionID, ReasonReuseDetected); err != nil {
		logger.WithContext(ctx).Warn("family revocation incomplete after reuse", zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.TokenReuseDetected.Inc()
	}

	if s.alerts != nil {
		if err := s.alerts.LogTokenReuse(ctx, userID, sessionID, ip); err != nil {
			logger.WithContext(ctx).Warn("token reuse alert failed", zap.Error(err))
		}
	}

	if s.events != nil {
		if err := s.events.PublishTokenReuse(ctx, userID, sessionID, ip, at); err != nil {
			logger.WithContext(ctx).Warn("token reuse event publish failed", zap.Error(err))
		}
	}

	return ErrReuseDetected
}

// consumeJTI atomically marks the hashed jti as spent. A false result means
// another request already consumed it.
func (s *TokenService) consumeJTI(ctx context.Context, hashed, sessionID string) (bool, error) {
	entry := domain.BlacklistEntry{
		SessionID:     sessionID,
		BlacklistedAt: s.now(),
		Reason:        ReasonRotated,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("encode blacklist entry: %w", err)
	}

	ok, err := s.store.SetNX(ctx, blacklistPrefix+hashed, string(payload), s.cfg.RefreshTokenTTL)
	if err != nil {
		return false, err
	}

	s.storeRecovered()
	return ok, nil
}

func (s *TokenService) blacklist(ctx context.Context, hashed, sessionID, reason string) error {
	entry := domain.BlacklistEntry{
		SessionID:     sessionID,
		BlacklistedAt: s.now(),
		Reason:        reason,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode blacklist entry: %w", err)
	}
	return s.store.Set(ctx, blacklistPrefix+hashed, string(payload), s.cfg.RefreshTokenTTL)
}

func (s *TokenService) fetchRecord(ctx context.Context, hashed string) (*domain.RefreshTokenRecord, error) {
	raw, err := s.store.Get(ctx, refreshRecordPrefix+hashed)
	if err != nil {
		return nil, err
	}

	record := &domain.RefreshTokenRecord{}
	if err := json.Unmarshal([]byte(raw), record); err != nil {
		return nil, fmt.Errorf("decode refresh record: %w", err)
	}
	return record, nil
}

// persistRecord writes the refresh record and session-family membership.
// Failures degrade to stateless operation instead of blocking issuance.
func (s *TokenService) persistRecord(ctx context.Context, jti, userID, sessionID string) {
	hashed := security.HashToken(jti)
	record := domain.RefreshTokenRecord{
		HashedJTI: hashed,
		UserID:    userID,
		SessionID: sessionID,
		ExpiresAt: s.now().Add(s.cfg.RefreshTokenTTL),
	}

	payload, err := json.Marshal(record)
	if err != nil {
		s.logger.Warn("encode refresh record", zap.Error(err))
		return
	}

	if err := s.store.Set(ctx, refreshRecordPrefix+hashed, string(payload), s.cfg.RefreshTokenTTL); err != nil {
		s.storeFailure("store refresh record", err)
		return
	}

	indexKey := sessionIndexPrefix + sessionID
	if err := s.store.SAdd(ctx, indexKey, hashed); err != nil {
		s.storeFailure("index refresh record", err)
		return
	}
	if err := s.store.Expire(ctx, indexKey, s.cfg.RefreshTokenTTL); err != nil {
		s.storeFailure("expire session index", err)
		return
	}

	s.storeRecovered()
}

func (s *TokenService) mintPair(user domain.User, sessionID string) (domain.TokenPair, error) {
	jti := uuid.NewString()

	access, err := s.codec.SignAccessToken(user, s.cfg.AccessTokenTTL)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := s.codec.SignRefreshToken(user.ID, jti, sessionID, s.cfg.RefreshTokenTTL)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		JTI:          jti,
		SessionID:    sessionID,
	}, nil
}

func (s *TokenService) activeUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if !user.IsActive {
		return nil, ErrInactiveAccount
	}
	return user, nil
}

func (s *TokenService) storeFailure(op string, err error) {
	if s.degraded.CompareAndSwap(false, true) && s.metrics != nil {
		s.metrics.SessionStoreDegraded.Set(1)
	}
	s.logger.Warn("session store unavailable, continuing without revocation state",
		zap.String("operation", op),
		zap.Error(err),
	)
}

func (s *TokenService) storeRecovered() {
	if s.degraded.CompareAndSwap(true, false) && s.metrics != nil {
		s.metrics.SessionStoreDegraded.Set(0)
	}
}
