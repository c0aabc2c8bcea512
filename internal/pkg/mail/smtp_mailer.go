package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/acastrillo/spotbuddy/app/models"
	"github.com/acastrillo/spotbuddy/internal/pkg/env"
)

var ErrNotConfigured = errors.New("mail: SMTP not configured")

type Config struct {
	Host        string
	Port        string
	Username    string
	Password    string
	Sender      string
	AdminNotify string
}

func LoadConfig() Config {
	sender := env.GetEnv("SMTP_SENDER", "")
	if sender == "" {
		sender = "no-reply@localhost"
	}
	return Config{
		Host:        env.GetEnv("SMTP_HOST", ""),
		Port:        env.GetEnv("SMTP_PORT", "587"),
		Username:    env.GetEnv("SMTP_USERNAME", ""),
		Password:    env.GetEnv("SMTP_PASSWORD", ""),
		Sender:      sender,
		AdminNotify: env.GetEnv("ADMIN_NOTIFY_EMAIL", ""),
	}
}

// Enabled reports whether both a relay and a recipient are configured.
func (c Config) Enabled() bool {
	return c.Host != "" && c.AdminNotify != ""
}

type sendFunc func(ctx context.Context, cfg Config, to string, msg []byte) error

// Mailer tells the operators about new sign-ups.
type Mailer struct {
	cfg  Config
	send sendFunc
}

func NewMailer(cfg Config) *Mailer {
	return &Mailer{cfg: cfg, send: sendSMTP}
}

// NotifyNewAccount mails ADMIN_NOTIFY_EMAIL. Without SMTP settings it only logs.
func (m *Mailer) NotifyNewAccount(ctx context.Context, account *models.Account) error {
	if !m.cfg.Enabled() {
		log.Infof("[Mail] New account %s (%s), SMTP disabled", account.ID, account.Email)
		return nil
	}
	subject := "New SpotBuddy sign-up: " + account.Email
	body := fmt.Sprintf(
		"<p>A new account was created.</p><ul><li>ID: %s</li><li>Email: %s</li><li>Name: %s</li><li>Provider: %s</li><li>Created: %s</li></ul>",
		html.EscapeString(account.ID),
		html.EscapeString(account.Email),
		html.EscapeString(strings.TrimSpace(account.FirstName+" "+account.LastName)),
		html.EscapeString(account.LastLoginProvider),
		account.CreatedAt.UTC().Format(time.RFC3339),
	)
	msg := buildMessage(m.cfg.Sender, m.cfg.AdminNotify, subject, body)
	if err := m.send(ctx, m.cfg, m.cfg.AdminNotify, msg); err != nil {
		log.Errorf("[Mail] SMTP send error: %v", err)
		return err
	}
	log.Infof("[Mail] New-account notice for %s sent to %s", account.ID, m.cfg.AdminNotify)
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	return []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", from, to, headerSafe(subject)) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)
}

func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// sendSMTP is smtp.SendMail bound to ctx: the dial and the whole exchange
// are cut off at the context deadline.
func sendSMTP(ctx context.Context, cfg Config, to string, msg []byte) error {
	if cfg.Host == "" {
		return ErrNotConfigured
	}
	addr := net.JoinHostPort(cfg.Host, cfg.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}
	if cfg.Username != "" && cfg.Password != "" {
		if err := c.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return err
		}
	}
	if err := c.Mail(cfg.Sender); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
