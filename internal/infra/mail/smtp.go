package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	gosmtp "net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/genstudio-auth/internal/core/port"
	"github.com/arklim/genstudio-auth/internal/infra/config"
	"github.com/arklim/genstudio-auth/internal/infra/logger"
)

const dialTimeout = 10 * time.Second

// SMTPMailer delivers transactional mail through an SMTP relay.
type SMTPMailer struct {
	cfg    config.SMTPSettings
	from   mail.Address
	logger *zap.Logger
	now    func() time.Time
}

// NewSMTPMailer returns a mailer for cfg. Encryption is one of starttls (default), ssl or none.
func NewSMTPMailer(cfg config.SMTPSettings, log *zap.Logger) *SMTPMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &SMTPMailer{
		cfg:    cfg,
		from:   mail.Address{Name: cfg.FromName, Address: cfg.FromAddress},
		logger: log,
		now:    time.Now,
	}
}

func (m *SMTPMailer) SendVerificationCode(ctx context.Context, to, name, code string, expiresAt time.Time) error {
	minutes := int(expiresAt.Sub(m.now()).Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	body := verificationBody(name, code, minutes)
	return m.send(ctx, to, "Your GenStudio verification code", body)
}

func (m *SMTPMailer) SendWelcome(ctx context.Context, to, name string) error {
	return m.send(ctx, to, "Welcome to GenStudio", welcomeBody(name))
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, body string) error {
	msg := m.compose(to, subject, body)
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	var err error
	switch strings.ToLower(m.cfg.Encryption) {
	case "ssl":
		err = m.sendSSL(ctx, addr, to, msg)
	case "none":
		err = m.sendPlain(ctx, addr, to, msg, false)
	default:
		err = m.sendPlain(ctx, addr, to, msg, true)
	}
	if err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	m.logger.Debug("mail sent", zap.String("to", logger.MaskEmail(to)), zap.String("subject", subject))
	return nil
}

func (m *SMTPMailer) compose(to, subject, body string) []byte {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.from.String())
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", m.now().UTC().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(msg.String())
}

// sendPlain dials in the clear, upgrading with STARTTLS when startTLS is set.
func (m *SMTPMailer) sendPlain(ctx context.Context, addr, to string, msg []byte, startTLS bool) error {
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	client, err := gosmtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	if startTLS {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starting tls: %w", err)
		}
	}
	return m.deliver(client, to, msg)
}

func (m *SMTPMailer) sendSSL(ctx context.Context, addr, to string, msg []byte) error {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: dialTimeout},
		Config:    &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to %s (ssl): %w", addr, err)
	}
	defer conn.Close()

	client, err := gosmtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	return m.deliver(client, to, msg)
}

func (m *SMTPMailer) deliver(client *gosmtp.Client, to string, msg []byte) error {
	if m.cfg.Username != "" {
		if err := client.Auth(gosmtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}
	}
	if err := client.Mail(m.from.Address); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}

func verificationBody(name, code string, minutes int) string {
	return fmt.Sprintf(`Hi %s,

Your GenStudio verification code is %s.

It expires in %d minutes. If you did not create an account you can ignore this email.
`, displayName(name), code, minutes)
}

func welcomeBody(name string) string {
	return fmt.Sprintf(`Hi %s,

Your email is verified and your GenStudio account is ready.
Your free tier includes a handful of image generations and edits to get started.
`, displayName(name))
}

func displayName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return "there"
	}
	return name
}

var _ port.Mailer = (*SMTPMailer)(nil)
