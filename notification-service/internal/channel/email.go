package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/fjod/go_fulfillment/notification-service/internal/domain"
	"go.uber.org/zap"
)

type SMTPConfig struct {
	Addr     string
	From     string
	Username string
	Password string
}

// SMTPSender relays email through a plain SMTP server.
type SMTPSender struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, sendMail: smtp.SendMail}
}

func (s *SMTPSender) Send(ctx context.Context, n *domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.Recipient == "" {
		return errors.New("email has no recipient")
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		host, _, err := net.SplitHostPort(s.cfg.Addr)
		if err != nil {
			return fmt.Errorf("invalid smtp address: %w", err)
		}
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, host)
	}

	if err := s.sendMail(s.cfg.Addr, auth, s.cfg.From, []string{n.Recipient}, buildMessage(s.cfg.From, n)); err != nil {
		return fmt.Errorf("smtp delivery failed: %w", err)
	}
	return nil
}

func buildMessage(from string, n *domain.Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", n.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", n.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(n.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// LogSender only writes the message to the log. It is the email sender when
// no SMTP server is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(l *zap.Logger) *LogSender {
	return &LogSender{logger: l}
}

func (s *LogSender) Send(_ context.Context, n *domain.Notification) error {
	s.logger.Info("notification delivered to log",
		zap.String("channel", string(n.Channel)),
		zap.String("recipient", n.Recipient),
		zap.String("subject", n.Subject))
	return nil
}
