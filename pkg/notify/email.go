package notify

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"os"
	"strings"

	"github.com/codeready-toolchain/remedy/pkg/pack"
)

// BuildEmailMessage renders the RFC 5322 message body.
func BuildEmailMessage(from string, to []string, n Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	subject := n.Subject
	if n.Severity != "" {
		subject = fmt.Sprintf("[%s] %s", n.Severity, n.Subject)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(n.Message)
	if n.DetailsURL != "" {
		fmt.Fprintf(&b, "\r\n\r\nDetails: %s\r\n", n.DetailsURL)
	}
	return []byte(b.String())
}

func (s *Service) sendEmail(ch pack.ChannelSpec, n Notification) error {
	cfg := ch.SMTP
	if cfg == nil {
		return fmt.Errorf("email channel has no smtp configuration")
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	c, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to dial smtp server %s: %w", addr, err)
	}
	defer c.Close()

	if cfg.StartTLS {
		if err := c.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
			return fmt.Errorf("failed to start tls with %s: %w", cfg.Host, err)
		}
	}
	if cfg.UsernameEnv != "" {
		auth := smtp.PlainAuth("", os.Getenv(cfg.UsernameEnv), os.Getenv(cfg.PasswordEnv), cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed for %s: %w", cfg.Host, err)
		}
	}

	if err := c.Mail(cfg.From); err != nil {
		return fmt.Errorf("smtp MAIL failed: %w", err)
	}
	for _, rcpt := range ch.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT %s failed: %w", rcpt, err)
		}
	}
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := wc.Write(BuildEmailMessage(cfg.From, ch.To, n)); err != nil {
		wc.Close()
		return fmt.Errorf("failed to write mail body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to finish mail body: %w", err)
	}
	return c.Quit()
}
