package mail

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/genstudio-auth/internal/core/port"
	"github.com/arklim/genstudio-auth/internal/infra/logger"
)

// LogMailer writes mail to the log instead of sending it. The verification
// code is only logged outside production.
type LogMailer struct {
	logger     *zap.Logger
	revealCode bool
}

func NewLogMailer(log *zap.Logger, revealCode bool) *LogMailer {
	return &LogMailer{logger: log, revealCode: revealCode}
}

func (m *LogMailer) SendVerificationCode(_ context.Context, to, _ string, code string, expiresAt time.Time) error {
	fields := []zap.Field{
		zap.String("to", logger.MaskEmail(to)),
		zap.Time("expires_at", expiresAt),
	}
	if m.revealCode {
		fields = append(fields, zap.String("code", code))
	}
	m.logger.Info("verification code mail suppressed", fields...)
	return nil
}

func (m *LogMailer) SendWelcome(_ context.Context, to, _ string) error {
	m.logger.Info("welcome mail suppressed", zap.String("to", logger.MaskEmail(to)))
	return nil
}

var _ port.Mailer = (*LogMailer)(nil)
