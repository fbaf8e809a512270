package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/airdrop-bot/internal/config"
	"github.com/airdrop-bot/internal/domain"
)

const (
	receiptSubject = "Your airdrop key"
	// sendTimeout bounds one whole SMTP conversation, dial included.
	sendTimeout = 20 * time.Second
)

// Mailer sends emails.
type Mailer interface {
	SendEmail(to, subject, body string) error
}

type mailer struct {
	host     string
	port     string
	from     string
	username string
	password string
	timeout  time.Duration
}

func NewMailer(cfg *config.Config) Mailer {
	return &mailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		from:     cfg.SMTPFrom,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		timeout:  sendTimeout,
	}
}

var errHeaderInjection = errors.New("address or subject contains a line break")

func (m *mailer) SendEmail(to, subject, body string) error {
	// The recipient is raw chat input and lands in a header.
	if strings.ContainsAny(to+subject, "\r\n") {
		return errHeaderInjection
	}
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		m.from, to, subject, time.Now().UTC().Format(time.RFC1123Z), body,
	)
	addr := net.JoinHostPort(m.host, m.port)

	conn, err := net.DialTimeout("tcp", addr, m.timeout)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	// smtp.SendMail has no deadline of its own; this one covers every command.
	if err := conn.SetDeadline(time.Now().Add(m.timeout)); err != nil {
		conn.Close()
		return err
	}
	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if m.username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.username, m.password, m.host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(m.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// ReceiptMailer e-mails a registrant a copy of the key they were assigned.
type ReceiptMailer struct {
	mailer Mailer
}

func NewReceiptMailer(m Mailer) *ReceiptMailer {
	return &ReceiptMailer{mailer: m}
}

func (r *ReceiptMailer) SendReceipt(ctx context.Context, reg *domain.Registrant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.mailer.SendEmail(reg.Email, receiptSubject, receiptBody(reg))
}

func receiptBody(reg *domain.Registrant) string {
	return fmt.Sprintf(
		"Hi %s %s,\r\n\r\nYour registration is complete.\r\nYour unique key: %s\r\n\r\nSave this key securely!\r\n",
		reg.FirstName, reg.LastName, reg.AssignedKey,
	)
}
