package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/genstudio-auth/internal/infra/security"
)

const defaultRefreshCookieTTL = 7 * 24 * time.Hour

// RefreshCookie describes the HttpOnly cookie that carries the refresh token.
type RefreshCookie struct {
	Name   string
	Domain string
	Path   string
	Secure bool
	TTL    time.Duration
}

func (rc RefreshCookie) name() string {
	if rc.Name == "" {
		return "refreshToken"
	}
	return rc.Name
}

func (rc RefreshCookie) path() string {
	if rc.Path == "" {
		return "/"
	}
	return rc.Path
}

func (rc RefreshCookie) set(c *gin.Context, token string) {
	ttl := rc.TTL
	if ttl <= 0 {
		ttl = defaultRefreshCookieTTL
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     rc.name(),
		Value:    token,
		Path:     rc.path(),
		Domain:   rc.Domain,
		MaxAge:   int(ttl.Seconds()),
		Secure:   rc.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (rc RefreshCookie) clear(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     rc.name(),
		Value:    "",
		Path:     rc.path(),
		Domain:   rc.Domain,
		MaxAge:   -1,
		Secure:   rc.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (rc RefreshCookie) read(c *gin.Context) (string, bool) {
	return security.ExtractRefreshToken(c.Request, rc.name())
}
