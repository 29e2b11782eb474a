package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/genstudio-auth/internal/core/domain"
	"github.com/arklim/genstudio-auth/internal/infra/security"
	"github.com/arklim/genstudio-auth/internal/usecase"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error                string `json:"error"`
	RequiresVerification bool   `json:"requires_verification,omitempty"`
	TraceID              string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// Authenticator resolves bearer tokens to principals.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string, requireVerified bool) (domain.PrincipalView, error)
	AuthenticateOptional(ctx context.Context, accessToken string) (*domain.PrincipalView, error)
}

// RequireAuth rejects requests without a valid access token.
func RequireAuth(auth Authenticator, log *zap.Logger) gin.HandlerFunc {
	return authenticate(auth, false, log)
}

// RequireVerifiedEmail behaves like RequireAuth and additionally demands a verified email.
func RequireVerifiedEmail(auth Authenticator, log *zap.Logger) gin.HandlerFunc {
	return authenticate(auth, true, log)
}

func authenticate(auth Authenticator, requireVerified bool, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		token, _ := security.ExtractBearerToken(c.Request)

		principal, err := auth.Authenticate(c.Request.Context(), token, requireVerified)
		if err != nil {
			abortWithAuthError(c, err, log)
			return
		}

		SetPrincipal(c, principal)
		c.Next()
	}
}

// OptionalAuth attaches the caller when a valid token is presented and lets
// anonymous requests through.
func OptionalAuth(auth Authenticator, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		token, ok := security.ExtractBearerToken(c.Request)
		if !ok {
			c.Next()
			return
		}

		principal, err := auth.AuthenticateOptional(c.Request.Context(), token)
		if err != nil {
			log.Error("optional authentication failed", zap.String("trace_id", GetTraceID(c)), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, "authentication failed"))
			return
		}
		if principal != nil {
			SetPrincipal(c, *principal)
		}

		c.Next()
	}
}

func abortWithAuthError(c *gin.Context, err error, log *zap.Logger) {
	switch {
	case errors.Is(err, usecase.ErrUnauthenticated):
		c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "authentication required"))
	case errors.Is(err, usecase.ErrExpiredAccessToken):
		c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "access token expired"))
	case errors.Is(err, usecase.ErrInvalidAccessToken):
		c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "invalid access token"))
	case errors.Is(err, usecase.ErrUserNotFound):
		c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "user not found"))
	case errors.Is(err, usecase.ErrEmailNotVerified):
		resp := newErrorResponse(c, "email verification required")
		resp.RequiresVerification = true
		c.AbortWithStatusJSON(http.StatusForbidden, resp)
	default:
		log.Error("authentication failed", zap.String("trace_id", GetTraceID(c)), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, "authentication failed"))
	}
}
