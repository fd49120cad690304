// Package notify sends the guest facing sign-in emails.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltpl "html/template"
	texttpl "text/template"
	"time"

	"github.com/pkg/errors"
)

//go:embed templates/*
var templateFS embed.FS

type templatePair struct {
	html *htmltpl.Template
	text *texttpl.Template
}

type messageVars struct {
	AppName string
	Code    string
	Link    string
	TTL     string
}

type Mailer struct {
	sender  Sender
	appName string
	nowFunc func() time.Time

	code templatePair
	link templatePair
}

type MailerOption func(*Mailer)

func WithNowFunc(now func() time.Time) MailerOption {
	return func(m *Mailer) {
		m.nowFunc = now
	}
}

func NewMailer(sender Sender, appName string, options ...MailerOption) (*Mailer, error) {
	if sender == nil {
		return nil, errors.New("[notify.NewMailer] sender is required")
	}
	m := &Mailer{sender: sender, appName: appName, nowFunc: time.Now}
	for _, opt := range options {
		opt(m)
	}

	var err error
	if m.code, err = loadPair("sign_in_code"); err != nil {
		return nil, err
	}
	if m.link, err = loadPair("sign_in_link"); err != nil {
		return nil, err
	}
	return m, nil
}

func loadPair(name string) (templatePair, error) {
	html, err := htmltpl.ParseFS(templateFS, "templates/"+name+".html")
	if err != nil {
		return templatePair{}, errors.Wrapf(err, "[notify] parse %s.html", name)
	}
	text, err := texttpl.ParseFS(templateFS, "templates/"+name+".txt")
	if err != nil {
		return templatePair{}, errors.Wrapf(err, "[notify] parse %s.txt", name)
	}
	return templatePair{html: html, text: text}, nil
}

// SendCode mails a one-time passcode.
func (m *Mailer) SendCode(ctx context.Context, to, code string, expiresAt time.Time) error {
	vars := messageVars{AppName: m.appName, Code: code, TTL: m.ttl(expiresAt)}
	return m.send(ctx, to, "Your "+m.appName+" sign-in code", m.code, vars)
}

// SendSignInLink mails the provider authorization URL for the redirect flow.
func (m *Mailer) SendSignInLink(ctx context.Context, to, link string, expiresAt time.Time) error {
	vars := messageVars{AppName: m.appName, Link: link, TTL: m.ttl(expiresAt)}
	return m.send(ctx, to, "Finish signing in to "+m.appName, m.link, vars)
}

func (m *Mailer) send(ctx context.Context, to, subject string, tpl templatePair, vars messageVars) error {
	var html, text bytes.Buffer
	if err := tpl.html.Execute(&html, vars); err != nil {
		return errors.Wrap(err, "[Mailer.send] render html")
	}
	if err := tpl.text.Execute(&text, vars); err != nil {
		return errors.Wrap(err, "[Mailer.send] render text")
	}
	return m.sender.Send(ctx, to, subject, html.String(), text.String())
}

func (m *Mailer) ttl(expiresAt time.Time) string {
	if expiresAt.IsZero() {
		return "a few minutes"
	}
	minutes := int(expiresAt.Sub(m.nowFunc()).Round(time.Minute) / time.Minute)
	if minutes <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
