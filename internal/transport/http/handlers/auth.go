package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/crm-session-security/internal/core/domain"
	"github.com/arklim/crm-session-security/internal/infra/security"
	"github.com/arklim/crm-session-security/internal/transport/http/middleware"
	"github.com/arklim/crm-session-security/internal/usecase"
)

// AuthHandler exposes the token lifecycle endpoints.
type AuthHandler struct {
	tokens    *usecase.TokenService
	alerts    *usecase.SecurityAlertService
	accessTTL time.Duration
	logger    *zap.Logger
}

// NewAuthHandler builds the handler. The alert service is optional; when
// present, refreshes feed the multi-IP detector.
func NewAuthHandler(tokens *usecase.TokenService, alerts *usecase.SecurityAlertService, accessTTL time.Duration, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{tokens: tokens, alerts: alerts, accessTTL: accessTTL, logger: log}
}

// RegisterRoutes attaches the auth endpoints to the group.
func (h *AuthHandler) RegisterRoutes(group *gin.RouterGroup, extra ...gin.HandlerFunc) {
	refreshHandlers := append([]gin.HandlerFunc{}, extra...)
	refreshHandlers = append(refreshHandlers, h.Refresh)
	group.POST("/refresh", refreshHandlers...)

	group.POST("/logout", h.Logout)
	group.POST("/logout-all", h.LogoutAll)
}

// Refresh rotates a refresh token and returns the new pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req TokenRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh_token is required"))
		return
	}

	ctx := c.Request.Context()
	ip := c.ClientIP()

	result, err := h.tokens.RotateRefreshToken(ctx, req.RefreshToken, ip)
	if err != nil {
		if err == usecase.ErrReuseDetected {
			c.Set(middleware.AuditEventKey, domain.EventTokenReuseDetected)
		}
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrReuseDetected, Status: http.StatusUnauthorized, Message: "refresh token reuse detected; session revoked"},
			{Err: usecase.ErrExpiredRefreshToken, Status: http.StatusUnauthorized, Message: "refresh token expired"},
			{Err: usecase.ErrInvalidRefreshToken, Status: http.StatusUnauthorized, Message: "invalid refresh token"},
			{Err: usecase.ErrInactiveAccount, Status: http.StatusForbidden, Message: "account is inactive"},
		}, http.StatusInternalServerError, "token refresh failed")
		return
	}

	c.Set(middleware.AuditEventKey, domain.EventTokenRefresh)

	if h.alerts != nil {
		claims, verifyErr := h.tokens.VerifyAccessToken(ctx, result.Pair.AccessToken)
		if verifyErr == nil {
			if trackErr := h.alerts.TrackUserIP(ctx, claims.UserID, claims.Email, ip); trackErr != nil {
				h.logger.Warn("ip tracking failed on refresh", zap.Error(trackErr))
			}
		}
	}

	c.JSON(http.StatusOK, TokenRefreshResponse{
		AccessToken:  result.Pair.AccessToken,
		RefreshToken: result.Pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.accessTTL.Seconds()),
	})
}

// Logout retires a single refresh token.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh_token is required"))
		return
	}

	if err := h.tokens.BlacklistToken(c.Request.Context(), req.RefreshToken, usecase.ReasonLogout); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidRefreshToken, Status: http.StatusUnauthorized, Message: "invalid refresh token"},
		}, http.StatusInternalServerError, "logout failed")
		return
	}

	c.Set(middleware.AuditEventKey, domain.EventSessionRevoked)
	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

// LogoutAll revokes every refresh token in the presented token's session
// family.
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh_token is required"))
		return
	}

	revoked, err := h.tokens.RevokeSessionByToken(c.Request.Context(), req.RefreshToken, usecase.ReasonLogout)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrExpiredRefreshToken, Status: http.StatusUnauthorized, Message: "refresh token expired"},
			{Err: usecase.ErrInvalidRefreshToken, Status: http.StatusUnauthorized, Message: "invalid refresh token"},
		}, http.StatusInternalServerError, "logout failed")
		return
	}

	c.Set(middleware.AuditEventKey, domain.EventSessionRevoked)
	c.JSON(http.StatusOK, LogoutAllResponse{
		Message:       "all sessions for this device family revoked",
		TokensRevoked: revoked,
	})
}

// Verify reports the identity carried by the caller's access token. Runs
// behind RequireAuth, so reaching it means the token already validated.
func (h *AuthHandler) Verify(c *gin.Context) {
	claimsVal, exists := c.Get(middleware.ClaimsKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	claims, ok := claimsVal.(*security.AccessTokenClaims)
	if !ok {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "invalid claims state"))
		return
	}

	resp := TokenVerifyResponse{
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   claims.Role,
	}
	if claims.RegisteredClaims.ExpiresAt != nil {
		resp.ExpiresAt = claims.RegisteredClaims.ExpiresAt.Time
	}

	c.JSON(http.StatusOK, resp)
}
