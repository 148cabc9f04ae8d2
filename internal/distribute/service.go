// Package distribute generates and mails slips for a whole payroll period.
package distribute

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phillip-england/payslip/internal/dataset"
	"github.com/phillip-england/payslip/internal/mailer"
	"github.com/phillip-england/payslip/internal/payroll"
	"github.com/phillip-england/payslip/internal/slip"
)

var ErrMissingEmail = errors.New("employee has no email address")

type Generator interface {
	Generate(ctx context.Context, rec payroll.Record, period payroll.Period) (slip.Artifact, error)
}

type Service struct {
	Resolver  *dataset.Resolver
	Generator Generator
	Sender    mailer.Sender
	SlipRoot  string
	Logger    *log.Logger
}

func NewService(resolver *dataset.Resolver, gen Generator, sender mailer.Sender, slipRoot string, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{Resolver: resolver, Generator: gen, Sender: sender, SlipRoot: slipRoot, Logger: logger}
}

// Failure is one employee the batch could not deliver to.
type Failure struct {
	NUP   string `json:"nup"`
	Name  string `json:"nama"`
	Error string `json:"error"`
}

type Report struct {
	RunID      string         `json:"run_id"`
	Period     payroll.Period `json:"-"`
	PeriodText string         `json:"period"`
	Total      int            `json:"total"`
	Succeeded  int            `json:"berhasil"`
	Failed     []Failure      `json:"gagal"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// SendAll generates and mails a slip for every record of the period's dataset.
// A failing employee is recorded and the batch moves on; only a dataset that
// cannot be located or read fails the whole call.
func (s *Service) SendAll(ctx context.Context, q dataset.Query) (Report, error) {
	d, err := s.Resolver.Open(q)
	if err != nil {
		return Report{}, err
	}
	report := Report{
		RunID:      uuid.NewString(),
		Period:     d.Period,
		PeriodText: d.Period.String(),
		Total:      len(d.Records),
		Failed:     []Failure{},
		StartedAt:  time.Now(),
	}
	s.Logger.Printf("send-all %s: %d records for %s from %s", report.RunID, report.Total, d.Period, d.Path)

	for i, rec := range d.Records {
		if ctxErr := ctx.Err(); ctxErr != nil {
			for _, rest := range d.Records[i:] {
				report.Failed = append(report.Failed, failure(rest, ctxErr))
			}
			break
		}
		if err := s.deliver(ctx, rec, d.Period); err != nil {
			s.Logger.Printf("WARN: send-all %s: nup %s: %v", report.RunID, rec.NUP(), err)
			report.Failed = append(report.Failed, failure(rec, err))
			continue
		}
		report.Succeeded++
	}
	report.FinishedAt = time.Now()
	s.Logger.Printf("send-all %s: %d sent, %d failed", report.RunID, report.Succeeded, len(report.Failed))
	return report, nil
}

// Resend regenerates and mails the slip of a single employee.
func (s *Service) Resend(ctx context.Context, q dataset.Query, nup string) (slip.Artifact, error) {
	res, err := s.Resolver.Resolve(q, nup)
	if err != nil {
		return slip.Artifact{}, err
	}
	art, err := s.generate(ctx, res.Record, res.Period)
	if err != nil {
		return slip.Artifact{}, err
	}
	if err := s.send(ctx, res.Record, art); err != nil {
		return slip.Artifact{}, err
	}
	return art, nil
}

func (s *Service) deliver(ctx context.Context, rec payroll.Record, period payroll.Period) error {
	if strings.TrimSpace(rec.Email()) == "" {
		return ErrMissingEmail
	}
	art, err := s.generate(ctx, rec, period)
	if err != nil {
		return err
	}
	return s.send(ctx, rec, art)
}

func (s *Service) generate(ctx context.Context, rec payroll.Record, period payroll.Period) (slip.Artifact, error) {
	art, err := s.Generator.Generate(ctx, rec, period)
	if err != nil {
		return slip.Artifact{}, fmt.Errorf("generate: %w", err)
	}
	return art, nil
}

func (s *Service) send(ctx context.Context, rec payroll.Record, art slip.Artifact) error {
	if strings.TrimSpace(rec.Email()) == "" {
		return ErrMissingEmail
	}
	err := s.Sender.Send(ctx, mailer.Message{
		To:             rec.Email(),
		Name:           rec.Name(),
		Period:         art.Period,
		AttachmentPath: art.Path,
	})
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", rec.Email(), err)
	}
	return nil
}

func failure(rec payroll.Record, err error) Failure {
	return Failure{NUP: rec.NUP(), Name: rec.Name(), Error: err.Error()}
}

// Status is one row of the admin dashboard.
type Status struct {
	NUP       string `json:"nup"`
	Name      string `json:"nama"`
	Email     string `json:"email"`
	FilePath  string `json:"file_path"`
	Generated bool   `json:"generated"`
	Month     string `json:"bulan"`
	Year      int    `json:"tahun"`
}

// Dashboard lists every employee of the period and whether a slip has been
// generated for them.
func (s *Service) Dashboard(q dataset.Query) ([]Status, error) {
	d, err := s.Resolver.Open(q)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(d.Records))
	for _, rec := range d.Records {
		st := Status{
			NUP:   rec.NUP(),
			Name:  rec.Name(),
			Email: rec.Email(),
			Month: d.Period.MonthName(),
			Year:  d.Period.Year,
		}
		path := slip.Path(s.SlipRoot, d.Period, rec.NUP(), rec.Name())
		if _, err := os.Stat(path); err == nil {
			st.FilePath = path
			st.Generated = true
		}
		out = append(out, st)
	}
	return out, nil
}
