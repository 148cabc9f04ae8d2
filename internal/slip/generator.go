// Package slip renders payroll statements and writes them as protected PDFs.
package slip

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/phillip-england/payslip/internal/payroll"
	"github.com/phillip-england/payslip/internal/protect"
)

var ErrUnusableCredential = fmt.Errorf("%w: birth date is not a usable date", protect.ErrProtectionFailed)

// Artifact is a generated, protected slip on disk.
type Artifact struct {
	Path       string
	NUP        string
	Name       string
	Period     payroll.Period
	Credential string
	Buckets    payroll.Buckets
}

type Generator struct {
	Root     string
	Renderer Renderer
	Branding Branding
	Now      func() time.Time
}

func NewGenerator(root string, renderer Renderer, brand Branding) *Generator {
	return &Generator{Root: root, Renderer: renderer, Branding: brand, Now: time.Now}
}

// Generate classifies, derives the credential, renders, writes and protects a
// slip, in that order. The rendered document only exists under a temp name;
// the final path is replaced by the encrypted file in a single rename.
func (g *Generator) Generate(ctx context.Context, rec payroll.Record, period payroll.Period) (Artifact, error) {
	nup := rec.NUP()
	if nup == "" {
		return Artifact{}, errors.New("record has no NUP")
	}

	view, err := NewView(rec, period, g.Branding, g.now())
	if err != nil {
		return Artifact{}, err
	}

	if _, ok := payroll.ParseBirthDate(rec.Get(payroll.FieldTTL)); !ok {
		return Artifact{}, fmt.Errorf("%w (nup %s)", ErrUnusableCredential, nup)
	}
	credential := payroll.DeriveCredential(rec.Get(payroll.FieldTTL))

	html, err := view.HTML()
	if err != nil {
		return Artifact{}, fmt.Errorf("slip template: %w", err)
	}
	doc, err := g.Renderer.RenderPDF(ctx, html)
	if err != nil {
		return Artifact{}, fmt.Errorf("render slip %s: %w", nup, err)
	}

	path := Path(g.Root, period, nup, rec.Name())
	plain, err := writeTemp(filepath.Dir(path), doc)
	if err != nil {
		return Artifact{}, fmt.Errorf("write slip %s: %w", nup, err)
	}
	defer func() { _ = os.Remove(plain) }()
	if err := protect.ProtectTo(plain, path, credential); err != nil {
		return Artifact{}, err
	}

	return Artifact{
		Path:       path,
		NUP:        nup,
		Name:       rec.Name(),
		Period:     period,
		Credential: credential,
		Buckets:    view.Buckets,
	}, nil
}

func (g *Generator) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

// Dir is the folder holding every slip of a period.
func Dir(root string, period payroll.Period) string {
	return filepath.Join(root, fmt.Sprintf("%04d-%s", period.Year, period.MonthName()))
}

// Path is the location of an employee's slip for a period.
func Path(root string, period payroll.Period, nup, name string) string {
	file := fmt.Sprintf("slip_%s_%s_%s_%04d.pdf", fileFragment(nup), fileFragment(name), period.MonthName(), period.Year)
	return filepath.Join(Dir(root, period), file)
}

func fileFragment(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

func writeTemp(dir string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".slip-*.pdf")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	return tmpPath, nil
}
