package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	gomail "github.com/wneessen/go-mail"
)

var (
	// ErrQueueFull is returned by Dispatcher.Send when the queue is at capacity.
	ErrQueueFull = errors.New("mail queue full")
	// ErrClosed is returned after the Dispatcher has been closed.
	ErrClosed = errors.New("mail dispatcher closed")
)

// Message is one plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
	// Template names the message kind for logs and metrics.
	Template string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// VerificationEmail builds the email-verification message.
func VerificationEmail(to, code, token string) Message {
	return Message{
		To:       to,
		Subject:  "Email verification",
		Template: "verification",
		Body: fmt.Sprintf(
			"Your email verification code is %s\n\nVerification token: %s\n\nThe code expires in 24 hours.\n",
			code, token,
		),
	}
}

// PasswordResetEmail builds the password-reset message.
func PasswordResetEmail(to, code, token string) Message {
	return Message{
		To:       to,
		Subject:  "Password reset code",
		Template: "password_reset",
		Body: fmt.Sprintf(
			"Your password reset code is %s\n\nReset token: %s\n\nIf you did not request a reset you can ignore this email.\n",
			code, token,
		),
	}
}

// LogMailer writes messages to the log instead of delivering them.
// Bodies are logged at debug level only.
type LogMailer struct {
	log *slog.Logger
}

// NewLogMailer returns a LogMailer.
func NewLogMailer(log *slog.Logger) LogMailer {
	if log == nil {
		log = slog.Default()
	}
	return LogMailer{log: log}
}

func (m LogMailer) Send(ctx context.Context, msg Message) error {
	m.log.InfoContext(ctx, "mail.sent", "to", msg.To, "subject", msg.Subject, "template", msg.Template)
	m.log.DebugContext(ctx, "mail.body", "to", msg.To, "body", msg.Body)
	return nil
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
}

// SMTPMailer delivers through an SMTP relay. STARTTLS is used when the relay
// offers it; PLAIN auth is used when a username is set.
type SMTPMailer struct {
	from   string
	client *gomail.Client
	send   func(ctx context.Context, msg *gomail.Msg) error
}

// NewSMTPMailer validates cfg and returns an SMTPMailer. No connection is
// opened until the first Send.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	host, rawPort, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("mail: smtp addr %q: %w", cfg.Addr, err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return nil, fmt.Errorf("mail: smtp port %q: %w", rawPort, err)
	}
	if err := gomail.NewMsg().From(cfg.From); err != nil {
		return nil, fmt.Errorf("mail: smtp from: %w", err)
	}

	opts := []gomail.Option{
		gomail.WithPort(port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mail: smtp client: %w", err)
	}

	m := &SMTPMailer{from: cfg.From, client: client}
	m.send = func(ctx context.Context, msg *gomail.Msg) error {
		return m.client.DialAndSendWithContext(ctx, msg)
	}
	return m, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := m.build(msg)
	if err != nil {
		return err
	}
	if err := m.send(ctx, out); err != nil {
		return fmt.Errorf("mail: smtp: %w", err)
	}
	return nil
}

// build renders msg as an RFC 5322 message with Date and Message-ID set.
func (m *SMTPMailer) build(msg Message) (*gomail.Msg, error) {
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return nil, fmt.Errorf("mail: header injection in subject")
	}

	out := gomail.NewMsg()
	if err := out.From(m.from); err != nil {
		return nil, fmt.Errorf("mail: from: %w", err)
	}
	if err := out.To(msg.To); err != nil {
		return nil, fmt.Errorf("mail: to: %w", err)
	}
	out.Subject(msg.Subject)
	out.SetDate()
	out.SetMessageID()
	out.SetBodyString(gomail.TypeTextPlain, msg.Body)
	return out, nil
}
