package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arklim/genstudio-auth/internal/transport/http/middleware"
	"github.com/arklim/genstudio-auth/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// RespondWithMappedError resolves the provided error against known cases or
// falls back to a generic response. Typed use-case errors that carry data for
// the client are rendered before the sentinel table is consulted. Unmapped
// errors are attached to the gin context so the access log records them.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	var (
		validation *usecase.ValidationError
		limited    *usecase.RateLimitExceededError
		mismatch   *usecase.OTPMismatchError
		quota      *usecase.QuotaExceededError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   validation.Message,
			Field:   validation.Field,
			TraceID: middleware.GetTraceID(c),
		})
		return
	case errors.As(err, &limited):
		seconds := int(math.Ceil(limited.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.JSON(http.StatusTooManyRequests, RateLimitedResponse{
			Error:      "too many requests",
			RetryAfter: seconds,
			TraceID:    middleware.GetTraceID(c),
		})
		return
	case errors.As(err, &mismatch):
		c.JSON(http.StatusBadRequest, OTPMismatchResponse{
			Error:             "invalid verification code",
			RemainingAttempts: mismatch.RemainingAttempts,
			TraceID:           middleware.GetTraceID(c),
		})
		return
	case errors.As(err, &quota):
		c.JSON(http.StatusPaymentRequired, QuotaExceededResponse{
			Error:           "quota exceeded",
			UpgradeRequired: true,
			Resource:        quota.Resource,
			Used:            quota.Used,
			Limit:           quota.Limit,
			TraceID:         middleware.GetTraceID(c),
		})
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	_ = c.Error(err)
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

// bindJSON decodes the request body and answers 400 on malformed input.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return false
	}
	return true
}

// principal returns the caller attached by the auth middleware. Handlers
// mounted behind RequireAuth always have one.
func principal(c *gin.Context) (string, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return "", false
	}
	return p.UserID, true
}
