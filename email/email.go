// Package email sends the registry's outbound notification mail: crate
// owner invitations (implementing ownership.Mailer) and the small set of
// other transactional messages SPEC_FULL.md §4.9/§8 call for. It is a thin
// wrapper over an SMTP transport, grounded on the original's lettre-based
// SmtpTransport/FileTransport pair in
// original_source/src/cargo-registry/src/email.rs: one real transport for
// production, one that writes to disk for local development and tests.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"

	"github.com/zeebo/errs"
	"gopkg.in/gomail.v2"

	"storj.io/cratesregistry/cratename"
)

// Error is this package's class-tagged error, consistent with the rest of
// the registry's zeebo/errs usage.
var Error = errs.Class("email")

// Sender delivers one rendered message. Implemented by *SMTPSender
// (production) and *FileSender (local development and tests), mirroring
// the original's SmtpTransport/FileTransport split.
type Sender interface {
	Send(ctx context.Context, toEmail, subject, body string) error
}

// SMTPConfig carries the credentials for the registry's outbound mail
// relay, following the original's MailgunConfigVars shape.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends mail through gomail's dialer-per-message pattern (no
// held-open connection to go stale between the infrequent emails this
// service sends).
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender builds a Sender backed by a real SMTP relay.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, toEmail, subject, body string) error {
	m := gomail.NewMessage()
	from := s.cfg.From
	if from == "" {
		from = "noreply@crates.example"
	}
	m.SetHeader("From", from)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	done := make(chan error, 1)
	go func() { done <- d.DialAndSend(m) }()
	select {
	case err := <-done:
		if err != nil {
			return Error.Wrap(fmt.Errorf("send mail to %s: %w", toEmail, err))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FileSender writes each message as its own file under Dir instead of
// sending it (named after the recipient plus a random suffix),
// for local development and integration tests, mirroring the original's
// FileTransport fallback when no Mailgun credentials are configured.
type FileSender struct {
	Dir string
}

// Send implements Sender.
func (s *FileSender) Send(ctx context.Context, toEmail, subject, body string) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return Error.Wrap(fmt.Errorf("create mail output dir: %w", err))
	}
	f, err := os.CreateTemp(s.Dir, cratename.Normalize(toEmail)+"-*.eml")
	if err != nil {
		return Error.Wrap(fmt.Errorf("create mail file: %w", err))
	}
	contents := fmt.Sprintf("To: %s\nSubject: %s\n\n%s", toEmail, subject, body)
	if _, err := f.WriteString(contents); err != nil {
		_ = f.Close()
		return Error.Wrap(fmt.Errorf("write mail file: %w", err))
	}
	if err := f.Close(); err != nil {
		return Error.Wrap(fmt.Errorf("close mail file: %w", err))
	}
	return nil
}

// Notifier renders and sends the registry's notification emails. It
// implements ownership.Mailer without importing package ownership, to keep
// the dependency direction the same as every other narrow-interface
// collaborator in this codebase.
type Notifier struct {
	Sender Sender
	// BaseURL is the public site origin used to build links in emails, e.g.
	// "https://crates.example".
	BaseURL string
}

var invitationTemplate = template.Must(template.New("invitation").Parse(
	`Hello!

{{.InvitedBy}} has invited you to be an owner of the crate "{{.CrateName}}".

Visit the link below to accept or decline this invitation:
{{.BaseURL}}/accept-invite/{{.Token}}

If you did not expect this invitation, you can safely ignore this email.
`))

// SendOwnerInvitation implements ownership.Mailer.
func (n *Notifier) SendOwnerInvitation(ctx context.Context, toEmail, crateName, invitationToken string) error {
	var buf bytes.Buffer
	if err := invitationTemplate.Execute(&buf, struct {
		InvitedBy string
		CrateName string
		BaseURL   string
		Token     string
	}{InvitedBy: "A crate owner", CrateName: crateName, BaseURL: n.BaseURL, Token: invitationToken}); err != nil {
		return Error.Wrap(fmt.Errorf("render owner invitation email: %w", err))
	}
	subject := fmt.Sprintf("crate ownership invitation for %s", crateName)
	return n.Sender.Send(ctx, toEmail, subject, buf.String())
}

var confirmTemplate = template.Must(template.New("confirm").Parse(
	`Hello {{.UserName}}! Welcome to the registry. Please confirm your email
address by visiting the link below. Thank you!

{{.BaseURL}}/confirm/{{.Token}}
`))

// SendConfirmEmail sends the account-email-verification message, grounded
// on try_send_user_confirm_email in the original.
func (n *Notifier) SendConfirmEmail(ctx context.Context, toEmail, userName, token string) error {
	var buf bytes.Buffer
	if err := confirmTemplate.Execute(&buf, struct {
		UserName string
		BaseURL  string
		Token    string
	}{UserName: userName, BaseURL: n.BaseURL, Token: token}); err != nil {
		return Error.Wrap(fmt.Errorf("render confirm email: %w", err))
	}
	return n.Sender.Send(ctx, toEmail, "Please confirm your email address", buf.String())
}

var publishTemplate = template.Must(template.New("publish").Parse(
	`A new version of {{.CrateName}} was just published:

{{.CrateName}} v{{.VersionNum}}
{{.BaseURL}}/crates/{{.CrateName}}/{{.VersionNum}}

You are receiving this because you are an owner of this crate and have
publish notifications enabled.
`))

// SendPublishNotification sends the post-publish notification to one crate
// owner, the async side of package publish's publish transaction.
func (n *Notifier) SendPublishNotification(ctx context.Context, toEmail, crateName, versionNum string) error {
	var buf bytes.Buffer
	if err := publishTemplate.Execute(&buf, struct {
		CrateName  string
		VersionNum string
		BaseURL    string
	}{CrateName: crateName, VersionNum: versionNum, BaseURL: n.BaseURL}); err != nil {
		return Error.Wrap(fmt.Errorf("render publish notification email: %w", err))
	}
	subject := fmt.Sprintf("%s v%s published", crateName, versionNum)
	return n.Sender.Send(ctx, toEmail, subject, buf.String())
}
