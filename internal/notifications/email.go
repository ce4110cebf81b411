package notifications

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/netwatch-io/netwatch/internal/alerts"
)

// EmailConfig holds SMTP settings for the email channel.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailChannel sends plain-text alert mail over SMTP.
type EmailChannel struct {
	cfg EmailConfig
	// sendMail is swappable for tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailChannel(cfg EmailConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg, sendMail: smtp.SendMail}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, alert *alerts.Alert) error {
	if len(c.cfg.To) == 0 {
		return fmt.Errorf("email channel has no recipients")
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Message)
	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(c.cfg.To, ", "))
	fmt.Fprintf(&body, "Subject: %s\r\n", subject)
	fmt.Fprintf(&body, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	body.WriteString("\r\n")
	fmt.Fprintf(&body, "Device:   %s\r\n", alert.DeviceName)
	fmt.Fprintf(&body, "Metric:   %s\r\n", alert.Metric)
	fmt.Fprintf(&body, "Value:    %s\r\n", alert.CurrentValue)
	fmt.Fprintf(&body, "Severity: %s\r\n", alert.Severity)
	fmt.Fprintf(&body, "Time:     %s\r\n", alert.TriggeredAt.Format(time.RFC3339))

	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.sendMail(addr, auth, c.cfg.From, c.cfg.To, []byte(body.String()))
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
