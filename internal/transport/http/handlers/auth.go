package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/genstudio-auth/internal/infra/logger"
	"github.com/arklim/genstudio-auth/internal/transport/http/middleware"
	"github.com/arklim/genstudio-auth/internal/usecase"
)

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth   *usecase.AuthService
	cookie RefreshCookie
	logger *zap.Logger
	now    func() time.Time
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth *usecase.AuthService, cookie RefreshCookie, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{auth: auth, cookie: cookie, logger: log, now: time.Now}
}

// AuthRoutes groups the middleware chains the auth routes are mounted behind.
type AuthRoutes struct {
	Register []gin.HandlerFunc
	Login    []gin.HandlerFunc
	OTP      []gin.HandlerFunc
	Auth     gin.HandlerFunc
}

// RegisterRoutes binds authentication routes, applying optional middleware ahead of handlers.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, mw AuthRoutes) {
	r.POST("/register", chain(mw.Register, h.register)...)
	r.POST("/login", chain(mw.Login, h.login)...)
	r.POST("/google", chain(mw.Login, h.google)...)
	r.POST("/verify-email", chain(mw.OTP, h.verifyEmail)...)
	r.POST("/resend-otp", chain(mw.OTP, h.resendOTP)...)
	r.POST("/refresh", h.refresh)
	r.POST("/logout", h.logout)
	r.POST("/logout-all", mw.Auth, h.logoutAll)
	r.GET("/me", mw.Auth, h.me)
}

func chain(mws []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(mws)+1)
	for _, mw := range mws {
		if mw != nil {
			out = append(out, mw)
		}
	}
	return append(out, handler)
}

// Register godoc
// @Summary Register a new account
// @Description Creates an unverified account and e-mails a verification code. No tokens are issued.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration payload"
// @Success 201 {object} RegisterResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} RateLimitedResponse
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) register(c *gin.Context) {
	var req RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.auth.Register(c.Request.Context(), usecase.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrEmailAlreadyRegistered, Status: http.StatusConflict, Message: "email already registered"},
		}, http.StatusInternalServerError, "failed to register user")
		return
	}

	c.JSON(http.StatusCreated, RegisterResponse{
		User:                 newUserSummary(res.Principal),
		RequiresVerification: true,
		OTPExpiresAt:         res.OTPExpiresAt,
		Message:              "verification code sent",
	})
}

// Login godoc
// @Summary Sign in with email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} AuthResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} VerificationRequiredResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, usecase.ErrEmailNotVerified) {
			c.JSON(http.StatusForbidden, VerificationRequiredResponse{
				Error:                "email verification required",
				RequiresVerification: true,
				Email:                strings.ToLower(strings.TrimSpace(req.Email)),
				TraceID:              middleware.GetTraceID(c),
			})
			return
		}
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid email or password"},
		}, http.StatusInternalServerError, "failed to sign in")
		return
	}

	h.signedIn(c, res)
}

// Google godoc
// @Summary Sign in with a Google identity token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body GoogleLoginRequest true "Google credential"
// @Success 200 {object} AuthResponse
// @Failure 401 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/auth/google [post]
func (h *AuthHandler) google(c *gin.Context) {
	var req GoogleLoginRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.auth.GoogleLogin(c.Request.Context(), req.Credential)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidGoogleCredential, Status: http.StatusUnauthorized, Message: "invalid google credential"},
			{Err: usecase.ErrGoogleLoginUnavailable, Status: http.StatusServiceUnavailable, Message: "google sign-in is not available"},
		}, http.StatusInternalServerError, "failed to sign in with google")
		return
	}

	h.signedIn(c, res)
}

// VerifyEmail godoc
// @Summary Confirm an e-mail address with the emailed code
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body VerifyEmailRequest true "Email and code"
// @Success 200 {object} AuthResponse
// @Failure 400 {object} OTPMismatchResponse
// @Failure 404 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /api/v1/auth/verify-email [post]
func (h *AuthHandler) verifyEmail(c *gin.Context) {
	var req VerifyEmailRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.auth.VerifyEmail(c.Request.Context(), req.Email, strings.TrimSpace(req.OTP))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "account not found"},
			{Err: usecase.ErrEmailAlreadyVerified, Status: http.StatusBadRequest, Message: "email already verified"},
			{Err: usecase.ErrOTPNotFound, Status: http.StatusNotFound, Message: "verification code expired or not found"},
			{Err: usecase.ErrOTPTooManyAttempts, Status: http.StatusTooManyRequests, Message: "too many attempts, request a new code"},
		}, http.StatusInternalServerError, "failed to verify email")
		return
	}

	h.signedIn(c, res)
}

// ResendOTP godoc
// @Summary Send a fresh verification code
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body ResendOTPRequest true "Email"
// @Success 200 {object} ResendOTPResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} RateLimitedResponse
// @Router /api/v1/auth/resend-otp [post]
func (h *AuthHandler) resendOTP(c *gin.Context) {
	var req ResendOTPRequest
	if !bindJSON(c, &req) {
		return
	}

	expiresAt, err := h.auth.ResendOTP(c.Request.Context(), req.Email)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "account not found"},
			{Err: usecase.ErrEmailAlreadyVerified, Status: http.StatusBadRequest, Message: "email already verified"},
		}, http.StatusInternalServerError, "failed to resend verification code")
		return
	}

	c.JSON(http.StatusOK, ResendOTPResponse{Message: "verification code sent", ExpiresAt: expiresAt})
}

// Refresh godoc
// @Summary Rotate the refresh cookie and issue a new access token
// @Tags Authentication
// @Produce json
// @Success 200 {object} AuthResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) refresh(c *gin.Context) {
	token, ok := h.cookie.read(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "refresh token missing"))
		return
	}

	res, err := h.auth.Refresh(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidRefreshToken) || errors.Is(err, usecase.ErrExpiredRefreshToken) {
			h.cookie.clear(c)
		}
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrExpiredRefreshToken, Status: http.StatusUnauthorized, Message: "refresh token expired"},
			{Err: usecase.ErrInvalidRefreshToken, Status: http.StatusUnauthorized, Message: "invalid refresh token"},
		}, http.StatusInternalServerError, "failed to refresh session")
		return
	}

	h.signedIn(c, res)
}

// Logout godoc
// @Summary End the current session
// @Description Always clears the refresh cookie; the stored token is revoked when it matches.
// @Tags Authentication
// @Produce json
// @Success 200 {object} MessageResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	if token, ok := h.cookie.read(c); ok {
		if err := h.auth.Logout(c.Request.Context(), token); err != nil {
			logger.WithContext(c.Request.Context(), h.logger).Warn("logout failed to revoke refresh token",
				zap.String("trace_id", middleware.GetTraceID(c)), zap.Error(err))
		}
	}

	h.cookie.clear(c)
	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

// LogoutAll godoc
// @Summary Revoke every session of the caller
// @Tags Authentication
// @Security BearerAuth
// @Produce json
// @Success 200 {object} MessageResponse
// @Router /api/v1/auth/logout-all [post]
func (h *AuthHandler) logoutAll(c *gin.Context) {
	userID, ok := principal(c)
	if !ok {
		return
	}

	if err := h.auth.LogoutAll(c.Request.Context(), userID); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}, http.StatusInternalServerError, "failed to revoke sessions")
		return
	}

	h.cookie.clear(c)
	c.JSON(http.StatusOK, MessageResponse{Message: "all sessions revoked"})
}

// Me godoc
// @Summary Current user's profile
// @Tags Authentication
// @Security BearerAuth
// @Produce json
// @Success 200 {object} ProfileResponse
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) me(c *gin.Context) {
	userID, ok := principal(c)
	if !ok {
		return
	}

	profile, err := h.auth.Profile(c.Request.Context(), userID)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}, http.StatusInternalServerError, "failed to load profile")
		return
	}

	c.JSON(http.StatusOK, newProfileResponse(profile))
}

func (h *AuthHandler) signedIn(c *gin.Context, res *usecase.AuthResult) {
	h.cookie.set(c, res.Tokens.RefreshToken)
	c.JSON(http.StatusOK, newAuthResponse(res, h.now()))
}
