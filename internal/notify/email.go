package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"time"

	"github.com/nugget/herald-news-agent/internal/config"
)

// smtpDialTimeout bounds connection establishment to the SMTP server.
const smtpDialTimeout = 30 * time.Second

// EmailNotifier delivers digests over SMTP as multipart/alternative
// mail.
type EmailNotifier struct {
	logger *slog.Logger
	cfg    config.EmailConfig
}

// NewEmailNotifier creates the email channel.
func NewEmailNotifier(logger *slog.Logger, cfg config.EmailConfig) *EmailNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailNotifier{
		logger: logger.With("component", "notify.email"),
		cfg:    cfg,
	}
}

func (n *EmailNotifier) Name() string { return "email" }

// Send composes the digest as an RFC 5322 message and delivers it in
// one ephemeral SMTP session.
func (n *EmailNotifier) Send(ctx context.Context, d Digest) error {
	if n.cfg.Host == "" || n.cfg.From == "" || len(n.cfg.To) == 0 {
		return fmt.Errorf("email channel not fully configured (host, from, to required)")
	}

	msg, err := composeMessage(n.cfg.From, n.cfg.To, d.Title, d.Content)
	if err != nil {
		return fmt.Errorf("compose digest mail: %w", err)
	}

	recipients := make([]string, 0, len(n.cfg.To))
	for _, to := range n.cfg.To {
		recipients = append(recipients, extractAddress(to))
	}

	n.logger.Debug("sending digest mail",
		"host", n.cfg.Host, "recipients", len(recipients), "bytes", len(msg))

	if err := sendMail(ctx, n.cfg, extractAddress(n.cfg.From), recipients, msg); err != nil {
		return err
	}
	return nil
}

// sendMail connects to the SMTP server, authenticates, and delivers
// msg. Each call opens and closes its own connection. StartTLS selects
// plain-then-upgrade (port 587); otherwise the connection is implicit
// TLS from the start (port 465).
func sendMail(ctx context.Context, cfg config.EmailConfig, from string, recipients []string, msg []byte) error {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	dialTimeout := smtpDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < dialTimeout {
			dialTimeout = remaining
		}
	}
	dialer := &net.Dialer{Timeout: dialTimeout}

	var client *smtp.Client
	var err error

	if !cfg.StartTLS {
		tlsCfg := &tls.Config{ServerName: cfg.Host}
		conn, dialErr := tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
		if dialErr != nil {
			return fmt.Errorf("dial SMTPS %s: %w", addr, dialErr)
		}
		client, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("create SMTP client on %s: %w", addr, err)
		}
	} else {
		conn, dialErr := dialer.DialContext(ctx, "tcp", addr)
		if dialErr != nil {
			return fmt.Errorf("dial SMTP %s: %w", addr, dialErr)
		}
		client, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("create SMTP client on %s: %w", addr, err)
		}
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}

	if cfg.StartTLS {
		tlsCfg := &tls.Config{ServerName: cfg.Host}
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}

	if cfg.Username != "" && cfg.Password != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close DATA: %w", err)
	}

	return client.Quit()
}

// extractAddress extracts the bare email address from a string that
// may be in "Name <addr>" or just "addr" format.
func extractAddress(s string) string {
	if idx := len(s) - 1; idx > 0 && s[idx] == '>' {
		for start := idx - 1; start >= 0; start-- {
			if s[start] == '<' {
				return s[start+1 : idx]
			}
		}
	}
	return s
}
