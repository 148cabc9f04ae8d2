// Package mailer delivers generated slips to employees.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/phillip-england/payslip/internal/payroll"
)

const (
	ProviderGmail   = "gmail"
	ProviderOutlook = "outlook"
	ProviderSMTP    = "smtp"
	ProviderGraph   = "graph"
	ProviderLog     = "log"
)

var (
	ErrNoRecipient     = errors.New("recipient email is empty")
	ErrUnknownProvider = errors.New("unknown email provider")
)

// Message is one slip delivery.
type Message struct {
	To             string
	Name           string
	Period         payroll.Period
	AttachmentPath string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type Config struct {
	Provider     string
	User         string
	Password     string
	SMTPHost     string
	SMTPPort     int
	TenantID     string
	ClientID     string
	ClientSecret string
	CompanyName  string
}

func DefaultConfigFromEnv() Config {
	port, err := strconv.Atoi(envOrDefault("SMTP_PORT", "587"))
	if err != nil || port <= 0 {
		port = 587
	}
	return Config{
		Provider:     strings.ToLower(envOrDefault("EMAIL_PROVIDER", ProviderGmail)),
		User:         strings.TrimSpace(os.Getenv("EMAIL_USER")),
		Password:     os.Getenv("EMAIL_PASS"),
		SMTPHost:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
		SMTPPort:     port,
		TenantID:     strings.TrimSpace(os.Getenv("GRAPH_TENANT_ID")),
		ClientID:     strings.TrimSpace(os.Getenv("GRAPH_CLIENT_ID")),
		ClientSecret: os.Getenv("GRAPH_CLIENT_SECRET"),
		CompanyName:  envOrDefault("COMPANY_NAME", "PT BKI"),
	}
}

// New builds the sender for cfg.Provider.
func New(cfg Config, logger *log.Logger) (Sender, error) {
	if logger == nil {
		logger = log.Default()
	}
	var (
		sender Sender
		err    error
	)
	switch cfg.Provider {
	case ProviderGmail:
		sender, err = newSMTPSender(cfg, "smtp.gmail.com", 587)
	case ProviderOutlook:
		sender, err = newSMTPSender(cfg, "smtp.office365.com", 587)
	case ProviderSMTP:
		if cfg.SMTPHost == "" {
			return nil, errors.New("SMTP_HOST is required for the smtp provider")
		}
		sender, err = newSMTPSender(cfg, cfg.SMTPHost, cfg.SMTPPort)
	case ProviderGraph:
		sender, err = NewGraphSender(cfg)
	case ProviderLog:
		sender = &LogSender{Logger: logger, CompanyName: cfg.CompanyName}
	default:
		return nil, fmt.Errorf("%w: %q (use gmail, outlook, smtp, graph or log)", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return sender, nil
}

func Subject(period payroll.Period, company string) string {
	return fmt.Sprintf("Slip Gaji %s %d - %s", period.MonthName(), period.Year, company)
}

func Body(name string, period payroll.Period, company string) string {
	return fmt.Sprintf(`Yth. Bapak/Ibu %s,

Dengan hormat,

Bersama email ini kami sampaikan slip gaji Bapak/Ibu untuk periode %s.
Mohon untuk dapat memeriksa dokumen terlampir dengan seksama.

Slip gaji ini dilindungi dengan sandi (password) berupa tanggal lahir Bapak/Ibu
dengan format ddmmyyyy (contoh: 25051980).

Apabila terdapat pertanyaan, koreksi, atau ketidaksesuaian dalam dokumen tersebut,
silakan menghubungi Layanan Human Capital.

Atas perhatian dan kerja sama Bapak/Ibu, kami ucapkan terima kasih.

Hormat kami,
Layanan Human Capital
%s
`, name, period.Label(), company)
}

func validate(msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return ErrNoRecipient
	}
	if _, err := os.Stat(msg.AttachmentPath); err != nil {
		return fmt.Errorf("attachment: %w", err)
	}
	return nil
}

// LogSender only logs deliveries. Used for dry runs.
type LogSender struct {
	Logger      *log.Logger
	CompanyName string
}

func (l *LogSender) Send(_ context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	l.Logger.Printf("mail (dry run) to=%s subject=%q attachment=%s", msg.To, Subject(msg.Period, l.CompanyName), msg.AttachmentPath)
	return nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
