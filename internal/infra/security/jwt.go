package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arklim/crm-session-security/internal/core/domain"
)

var (
	// ErrTokenExpired indicates the token elapsed its validity window.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid indicates the token is malformed or its signature failed.
	ErrTokenInvalid = errors.New("token invalid")
)

// RefreshTokenType is the required value of the refresh token "type" claim.
const RefreshTokenType = "refresh"

// AccessTokenClaims carries the identity slice embedded in access tokens.
type AccessTokenClaims struct {
	UserID string `json:"id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// RefreshTokenClaims carries rotation state. JTI rides in RegisteredClaims.ID.
// Legacy tokens issued before rotation was introduced lack jti and sid.
type RefreshTokenClaims struct {
	UserID    string `json:"id"`
	TokenType string `json:"type"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// IsLegacy reports whether the token predates rotation support.
func (c RefreshTokenClaims) IsLegacy() bool {
	return strings.TrimSpace(c.RegisteredClaims.ID) == "" || strings.TrimSpace(c.SessionID) == ""
}

// TokenCodec signs and parses the HS256 token pair. The signing secret comes
// from an injected SecretProvider so the codec itself never touches the
// environment.
type TokenCodec struct {
	secrets SecretProvider
	issuer  string
	now     func() time.Time
}

// NewTokenCodec constructs a codec bound to the given secret provider.
func NewTokenCodec(secrets SecretProvider, issuer string) *TokenCodec {
	return &TokenCodec{
		secrets: secrets,
		issuer:  strings.TrimSpace(issuer),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the codec clock for deterministic tests.
func (c *TokenCodec) WithClock(clock func() time.Time) *TokenCodec {
	if clock != nil {
		c.now = clock
	}
	return c
}

// SignAccessToken mints a short-lived access token for the user.
func (c *TokenCodec) SignAccessToken(user domain.User, ttl time.Duration) (string, error) {
	if user.ID == "" {
		return "", fmt.Errorf("user id is required")
	}

	now := c.now()
	claims := AccessTokenClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return c.sign(claims)
}

// SignRefreshToken mints a refresh token carrying the jti and session id.
func (c *TokenCodec) SignRefreshToken(userID, jti, sessionID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	if jti == "" {
		return "", fmt.Errorf("jti is required")
	}
	if sessionID == "" {
		return "", fmt.Errorf("session id is required")
	}

	now := c.now()
	claims := RefreshTokenClaims{
		UserID:    userID,
		TokenType: RefreshTokenType,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return c.sign(claims)
}

// ParseAccessToken validates signature and expiry and returns the claims.
// No store lookup happens here: access tokens trade revocation latency for
// verification throughput.
func (c *TokenCodec) ParseAccessToken(token string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	if err := c.parse(token, claims); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ParseRefreshToken validates signature, expiry, and the refresh type claim.
func (c *TokenCodec) ParseRefreshToken(token string) (*RefreshTokenClaims, error) {
	claims := &RefreshTokenClaims{}
	if err := c.parse(token, claims); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != RefreshTokenType {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (c *TokenCodec) sign(claims jwt.Claims) (string, error) {
	secret, err := c.secrets.Secret()
	if err != nil {
		return "", fmt.Errorf("resolve signing secret: %w", err)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

func (c *TokenCodec) parse(token string, claims jwt.Claims) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrTokenInvalid
	}

	secret, err := c.secrets.Secret()
	if err != nil {
		return fmt.Errorf("resolve signing secret: %w", err)
	}

	parserOptions := []jwt.ParserOption{jwt.WithTimeFunc(c.now)}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, parserOptions...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}

	if parsed == nil || !parsed.Valid {
		return ErrTokenInvalid
	}

	return nil
}
