// Package mailer sends transactional email (password reset links).
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// Message is one HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers a message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

var resetTemplate = template.Must(template.New("reset").Parse(`<h2>Password Reset Request</h2>
<p>You requested a password reset for your EcoLoop account.</p>
<p>Click the link below to reset your password:</p>
<a href="{{.URL}}" style="background-color: #16a34a; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px;">Reset Password</a>
<p>This link will expire in {{.Expiry}}.</p>
<p>If you didn't request this, please ignore this email.</p>
<p>Best,<br>The EcoLoop Team</p>
`))

// ResetURL is the frontend page that accepts a reset token.
func ResetURL(frontendURL, token string) string {
	return strings.TrimRight(frontendURL, "/") + "/reset-password/" + token
}

// PasswordReset builds the reset email for token.
func PasswordReset(frontendURL, to, token string, expiry time.Duration) (Message, error) {
	var buf bytes.Buffer
	err := resetTemplate.Execute(&buf, struct {
		URL    string
		Expiry string
	}{
		URL:    ResetURL(frontendURL, token),
		Expiry: humanDuration(expiry),
	})
	if err != nil {
		return Message{}, fmt.Errorf("mailer: rendering reset email: %w", err)
	}
	return Message{To: to, Subject: "EcoLoop Password Reset", HTML: buf.String()}, nil
}

func humanDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return strconv.Itoa(h) + " hours"
	}
	return strconv.Itoa(int(d/time.Minute)) + " minutes"
}

// LogMailer writes messages to the log instead of sending them. It is used
// when SMTP is not configured, so reset links are still reachable in
// development.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("mail not sent (SMTP disabled)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.HTML),
	)
	return nil
}

// SMTPMailer sends through an SMTP relay with PLAIN auth over STARTTLS.
type SMTPMailer struct {
	addr string
	host string
	auth smtp.Auth
	from string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	var a smtp.Auth
	if username != "" {
		a = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPMailer{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		host: host,
		auth: a,
		from: from,
		send: smtp.SendMail,
	}
}

// Send blocks until the relay accepts the message or ctx ends. smtp.SendMail
// takes no context, so on cancellation the send is abandoned, not aborted.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	body := m.compose(msg)
	envelopeFrom := m.from
	if i := strings.LastIndex(m.from, "<"); i >= 0 {
		envelopeFrom = strings.Trim(m.from[i:], "<>")
	}

	errc := make(chan error, 1)
	go func() {
		errc <- m.send(m.addr, m.auth, envelopeFrom, []string{msg.To}, body)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("mailer: sending to %s: %w", msg.To, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mailer: sending to %s: %w", msg.To, ctx.Err())
	}
}

func (m *SMTPMailer) compose(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}
