package mail

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/genstudio-auth/internal/infra/config"
)

type capturedMail struct {
	from string
	rcpt string
	data string
}

// startFakeSMTP accepts a single plaintext session and reports what it received.
func startFakeSMTP(t *testing.T) (string, int, <-chan capturedMail) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan capturedMail, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

		r := bufio.NewReader(conn)
		reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }
		reply("220 fake.smtp ESMTP")

		var got capturedMail
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.TrimRight(line, "\r\n")
			upper := strings.ToUpper(cmd)
			switch {
			case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
				reply("250 fake.smtp")
			case strings.HasPrefix(upper, "MAIL FROM:"):
				got.from = cmd[len("MAIL FROM:"):]
				reply("250 OK")
			case strings.HasPrefix(upper, "RCPT TO:"):
				got.rcpt = cmd[len("RCPT TO:"):]
				reply("250 OK")
			case upper == "DATA":
				reply("354 go ahead")
				var data strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					data.WriteString(l)
				}
				got.data = data.String()
				reply("250 queued")
			case upper == "QUIT":
				reply("221 bye")
				out <- got
				return
			default:
				reply("502 not implemented")
			}
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port, out
}

func TestSMTPMailerSendsVerificationCode(t *testing.T) {
	host, port, received := startFakeSMTP(t)

	mailer := NewSMTPMailer(config.SMTPSettings{
		Host:        host,
		Port:        port,
		FromName:    "GenStudio",
		FromAddress: "no-reply@genstudio.test",
		Encryption:  "none",
	}, zaptest.NewLogger(t))
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	mailer.now = func() time.Time { return now }

	err := mailer.SendVerificationCode(context.Background(), "ann@x.com", "Ann", "482913", now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("SendVerificationCode returned error: %v", err)
	}

	select {
	case got := <-received:
		if got.from != "<no-reply@genstudio.test>" {
			t.Fatalf("unexpected MAIL FROM: %q", got.from)
		}
		if got.rcpt != "<ann@x.com>" {
			t.Fatalf("unexpected RCPT TO: %q", got.rcpt)
		}
		for _, want := range []string{
			"Subject: Your GenStudio verification code",
			"From: \"GenStudio\" <no-reply@genstudio.test>",
			"Hi Ann,",
			"482913",
			"expires in 10 minutes",
		} {
			if !strings.Contains(got.data, want) {
				t.Fatalf("message missing %q:\n%s", want, got.data)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for fake smtp server")
	}
}

func TestSMTPMailerReportsDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	_ = ln.Close()

	mailer := NewSMTPMailer(config.SMTPSettings{
		Host:        "127.0.0.1",
		Port:        addr.Port,
		FromAddress: "no-reply@genstudio.test",
		Encryption:  "none",
	}, zaptest.NewLogger(t))

	if err := mailer.SendWelcome(context.Background(), "ann@x.com", "Ann"); err == nil {
		t.Fatal("expected error for closed port")
	}
}

func TestDisplayNameFallback(t *testing.T) {
	if got := displayName("  "); got != "there" {
		t.Fatalf("unexpected fallback: %q", got)
	}
	if got := displayName("Ann"); got != "Ann" {
		t.Fatalf("unexpected name: %q", got)
	}
}
