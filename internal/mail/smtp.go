package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/smtp"

	"github.com/skycast/skycast/internal/observability"
)

// ErrNotConfigured means SMTP credentials are missing. Fatal and
// non-retryable: a send is never attempted without credentials.
var ErrNotConfigured = errors.New("mail: SMTP credentials not configured")

// Dispatcher submits a rendered email. The sweep consumes this interface;
// tests supply fakes.
type Dispatcher interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPDispatcher submits over SMTP with PLAIN auth; servers on the
// standard submission port negotiate STARTTLS through smtp.SendMail.
type SMTPDispatcher struct {
	host     string
	port     int
	username string
	password string
	from     string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPDispatcher validates credentials eagerly and returns a dispatcher.
func NewSMTPDispatcher(host string, port int, username, password, from string) (*SMTPDispatcher, error) {
	if username == "" || password == "" {
		return nil, ErrNotConfigured
	}
	if from == "" {
		from = username
	}
	return &SMTPDispatcher{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		send:     smtp.SendMail,
	}, nil
}

// Send submits one HTML email. The returned error names the recipient so
// sweep error entries are attributable.
func (d *SMTPDispatcher) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	auth := smtp.PlainAuth("", d.username, d.password, d.host)
	addr := fmt.Sprintf("%s:%d", d.host, d.port)
	msg := formatMessage(d.from, to, subject, htmlBody)

	if err := d.send(addr, auth, d.from, []string{to}, msg); err != nil {
		observability.EmailSendTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("send to %s: %w", to, err)
	}
	observability.EmailSendTotal.WithLabelValues("sent").Inc()
	return nil
}

// DisabledDispatcher refuses every send with ErrNotConfigured. Used when
// the service starts without SMTP credentials so the sweep still runs and
// surfaces per-recipient errors instead of crashing.
type DisabledDispatcher struct{}

func (DisabledDispatcher) Send(ctx context.Context, to, subject, htmlBody string) error {
	return fmt.Errorf("send to %s: %w", to, ErrNotConfigured)
}

// formatMessage builds the complete MIME message.
func formatMessage(from, to, subject, htmlBody string) []byte {
	var buf bytes.Buffer
	buf.WriteString("From: " + from + "\r\n")
	buf.WriteString("To: " + to + "\r\n")
	buf.WriteString("Subject: " + subject + "\r\n")
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(htmlBody)
	return buf.Bytes()
}
