package notification

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/smukkama/aqi-alerts/internal/protocol"
	"github.com/smukkama/aqi-alerts/pkg/config"
)

const emailTemplate = `
{{.Push.Title}}
=====================

{{.Push.Body}}
{{if .Location}}
Location: {{.Location}}
AQI: {{.AQI}} ({{.Band}})
{{end}}{{if not .EmittedAt.IsZero}}Emitted At: {{.EmittedAt.Format "2006-01-02 15:04:05 MST"}}
{{end}}
---
AQI Alert Notification System
`

// sendMailFunc matches smtp.SendMail so tests can capture outgoing mail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier delivers push payloads by email.
type EmailNotifier struct {
	config   *config.SMTPConfig
	tmpl     *template.Template
	sendMail sendMailFunc
	logger   *slog.Logger
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig, logger *slog.Logger) *EmailNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailNotifier{
		config:   cfg,
		tmpl:     template.Must(template.New("alert-email").Parse(emailTemplate)),
		sendMail: smtp.SendMail,
		logger:   logger,
	}
}

// Deliver implements NotificationSink. An unconfigured SMTP account is a
// capability failure, not a silent success.
func (e *EmailNotifier) Deliver(ctx context.Context, payload protocol.PushPayload) error {
	msg := AlertMessageFromContext(ctx)
	if msg == nil {
		msg = &protocol.AlertMessage{}
	}
	out := *msg
	out.Push = payload
	return e.SendAlert(&out)
}

// SendAlert sends the email for one relayed alert message.
func (e *EmailNotifier) SendAlert(msg *protocol.AlertMessage) error {
	if e.config.Username == "" || e.config.Password == "" {
		return fmt.Errorf("%w: SMTP is not configured", ErrUnavailable)
	}

	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, msg); err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	return e.sendEmail(msg.Push.Title, buf.String())
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	message := fmt.Sprintf("From: %s\r\n", headerValue(e.config.From))
	message += fmt.Sprintf("To: %s\r\n", headerValue(e.config.To))
	message += fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerValue(subject)))
	message += fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	message += "MIME-Version: 1.0\r\n"
	message += "Content-Type: text/plain; charset=UTF-8\r\n"
	message += "\r\n"
	message += body

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.sendMail(addr, auth, e.config.From, []string{e.config.To}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.logger.Info("email sent", "subject", subject, "to", e.config.To)
	return nil
}

// headerValue folds line breaks into spaces so location names taken from
// the backend cannot start new header lines.
func headerValue(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == '\r' || r == '\n' }), " ")
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("%w: SMTP not configured", ErrUnavailable)
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	return nil
}
