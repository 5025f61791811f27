// Package email delivers compliance digest emails over SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"
)

// Attachment is one file carried by a message
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is one outgoing email. The message is composed in full
// before sending; a send either delivers everything or fails whole.
type Message struct {
	To          []string
	Subject     string
	HTML        string
	Attachments []Attachment
	// Inline images are embedded and referenced by cid:<Name>
	Inline []Attachment
}

// Sender delivers one email
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds SMTP sender configuration
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	SenderName  string
	SendTimeout time.Duration
}

// SMTPSender implements Sender over SMTP
type SMTPSender struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
	logger *zap.Logger
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(cfg SMTPConfig, logger *zap.Logger) *SMTPSender {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &SMTPSender{
		cfg:    cfg,
		dialer: dialer,
		logger: logger,
	}
}

// Send delivers one message, honoring ctx and the configured timeout
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("message has no recipients")
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.cfg.From, s.cfg.SenderName)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	for _, att := range msg.Attachments {
		att := att
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := io.Copy(w, bytes.NewReader(att.Data))
				return err
			}),
		}
		if att.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{
				"Content-Type": {att.ContentType},
			}))
		}
		m.Attach(att.Name, settings...)
	}

	for _, inline := range msg.Inline {
		inline := inline
		m.Embed(inline.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := io.Copy(w, bytes.NewReader(inline.Data))
			return err
		}))
	}

	timeout := s.cfg.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-sendCtx.Done():
		return fmt.Errorf("send timed out: %w", sendCtx.Err())
	case err := <-done:
		if err != nil {
			s.logger.Error("Failed to send email",
				zap.Strings("to", msg.To),
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return fmt.Errorf("failed to send email: %w", err)
		}
	}

	s.logger.Info("Email sent",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("attachments", len(msg.Attachments)))
	return nil
}
