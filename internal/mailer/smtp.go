package mailer

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/wneessen/go-mail"
)

// SMTPSender delivers over SMTP with mandatory STARTTLS.
type SMTPSender struct {
	cfg    Config
	host   string
	port   int
	dialer func(ctx context.Context, m *mail.Msg) error
}

func newSMTPSender(cfg Config, host string, port int) (*SMTPSender, error) {
	if cfg.User == "" || cfg.Password == "" {
		return nil, errors.New("EMAIL_USER and EMAIL_PASS are required for smtp delivery")
	}
	s := &SMTPSender{cfg: cfg, host: host, port: port}
	s.dialer = s.dialAndSend
	return s, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	m, err := s.build(msg)
	if err != nil {
		return err
	}
	return s.dialer(ctx, m)
}

func (s *SMTPSender) build(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.cfg.User); err != nil {
		return nil, err
	}
	if err := m.To(msg.To); err != nil {
		return nil, err
	}
	m.Subject(Subject(msg.Period, s.cfg.CompanyName))
	m.SetBodyString(mail.TypeTextPlain, Body(msg.Name, msg.Period, s.cfg.CompanyName))
	m.AttachFile(msg.AttachmentPath, mail.WithFileName(filepath.Base(msg.AttachmentPath)), mail.WithFileContentType(mail.ContentType("application/pdf")))
	return m, nil
}

func (s *SMTPSender) dialAndSend(ctx context.Context, m *mail.Msg) error {
	client, err := mail.NewClient(s.host,
		mail.WithPort(s.port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.User),
		mail.WithPassword(s.cfg.Password),
	)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, m)
}
