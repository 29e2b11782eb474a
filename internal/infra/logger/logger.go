package logger

import (
	"context"
	"net/netip"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arklim/genstudio-auth/internal/infra/config"
)

// New builds the process logger. Production writes sampled JSON at info
// level; other environments get a colored console encoder at debug level.
// Every entry carries the service name and environment.
func New(app config.AppSettings) (*zap.Logger, error) {
	var cfg zap.Config
	if app.IsProduction() {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	service := app.Name
	if service == "" {
		service = "genstudio-auth"
	}
	cfg.InitialFields = map[string]any{"service": service, "env": app.Env}
	return cfg.Build()
}

// RequestIDKey carries the request id on a context.Context.
type RequestIDKey struct{}

// WithContext returns base annotated with the request id found on ctx.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	if ctx == nil {
		return base
	}
	if id, ok := ctx.Value(RequestIDKey{}).(string); ok && id != "" {
		return base.With(zap.String("request_id", id))
	}
	return base
}

// MaskEmail keeps at most the first three characters of the local part and
// the domain: ann.lee@x.com -> ann***@x.com.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	switch {
	case email == "":
		return ""
	case !ok || domain == "":
		return "***"
	}
	runes := []rune(local)
	return string(runes[:min(len(runes), 3)]) + "***@" + domain
}

// MaskIP keeps the network part of an address: /16 for IPv4 and /48 for IPv6.
// 203.0.113.7 -> 203.0.0.0/16.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "***"
	}
	addr = addr.Unmap()
	bits := 48
	if addr.Is4() {
		bits = 16
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "***"
	}
	return prefix.String()
}
