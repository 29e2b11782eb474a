package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arklim/genstudio-auth/internal/core/domain"
)

const (
	// TraceIDHeader carries the correlation id echoed on every response and error body.
	TraceIDHeader = "X-Trace-ID"
	TraceIDKey    = "trace_id"
	UserIDKey     = "user_id"
	PrincipalKey  = "principal"

	maxTraceIDLength = 128
)

// EnrichContext assigns the request its trace id. A caller supplied id is
// reused only when it is short and made of URL-safe characters, so it can be
// written to headers and logs verbatim.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if !validTraceID(traceID) {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)
		c.Next()
	}
}

func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		switch ch := id[i]; {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-', ch == '_', ch == '.':
		default:
			return false
		}
	}
	return true
}

func GetTraceID(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}

// SetPrincipal stores the authenticated caller on the gin context.
func SetPrincipal(c *gin.Context, principal domain.PrincipalView) {
	c.Set(PrincipalKey, principal)
	c.Set(UserIDKey, principal.UserID)
}

// GetPrincipal returns the caller stored by one of the auth middlewares.
func GetPrincipal(c *gin.Context) (domain.PrincipalView, bool) {
	value, exists := c.Get(PrincipalKey)
	if !exists {
		return domain.PrincipalView{}, false
	}
	principal, ok := value.(domain.PrincipalView)
	return principal, ok
}

func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	id := c.GetString(UserIDKey)
	return id, id != ""
}
