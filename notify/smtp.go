package notify

import (
	"context"
	"crypto/tls"

	mail "github.com/go-mail/mail"
	"github.com/jrsteele09/go-guest-auth/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

type SMTPSender struct {
	Host     string
	Port     int
	From     string
	User     string
	Pass     string
	SSL      bool
	Insecure bool // dev only
}

func NewSMTPSender(cfg config.SmtpConfig) *SMTPSender {
	return &SMTPSender{
		Host: cfg.GetSmtpHost(),
		Port: cfg.GetSmtpPort(),
		From: cfg.GetSmtpFrom(),
		User: cfg.GetSmtpAccount(),
		Pass: cfg.GetSmtpPassword(),
		SSL:  cfg.GetSmtpPort() == 465,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	if textBody != "" {
		m.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			m.SetBody("text/html", htmlBody)
		} else {
			m.AddAlternative("text/html", htmlBody)
		}
	}

	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.SSL = s.SSL
	d.TLSConfig = &tls.Config{ServerName: s.Host, InsecureSkipVerify: s.Insecure}

	if err := d.DialAndSend(m); err != nil {
		log.Error().Err(err).Str("host", s.Host).Msg("smtp send failed")
		return errors.Wrap(err, "[SMTPSender.Send] DialAndSend")
	}
	log.Debug().Str("host", s.Host).Str("subject", subject).Msg("smtp send ok")
	return nil
}

// LogSender writes messages to the log instead of sending them. Used in DEV
// when no SMTP host is configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	log.Info().Str("to", to).Str("subject", subject).Msg(textBody)
	return nil
}
