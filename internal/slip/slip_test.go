package slip

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phillip-england/payslip/internal/payroll"
	"github.com/phillip-england/payslip/internal/protect"
	"github.com/phillip-england/payslip/internal/testutil"
)

type fakeRenderer struct {
	mu    sync.Mutex
	calls []string
	err   error
	doc   []byte
}

func (f *fakeRenderer) RenderPDF(_ context.Context, html string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, html)
	if f.err != nil {
		return nil, f.err
	}
	if f.doc != nil {
		return f.doc, nil
	}
	return testutil.MinimalPDF("rendered slip"), nil
}

var april = payroll.Period{Month: 4, Year: 2025}

func record(nup, name string, ttl payroll.Cell) payroll.Record {
	return payroll.NewRecord(2, map[string]payroll.Cell{
		payroll.FieldNUP:    payroll.TextCell(nup),
		payroll.FieldName:   payroll.TextCell(name),
		payroll.FieldTTL:    ttl,
		payroll.FieldStatus: payroll.TextCell("PKWTT"),
		"GAJI_DASAR_1":      payroll.NumberCell(5000000),
		"SP":                payroll.NumberCell(125000),
	})
}

func testGenerator(t *testing.T, r Renderer) *Generator {
	g := NewGenerator(t.TempDir(), r, Branding{CompanyName: "PT Contoh", SignerName: "Dewi", SignerTitle: "HR Manager"})
	g.Now = func() time.Time { return time.Date(2025, time.May, 1, 8, 0, 0, 0, time.UTC) }
	return g
}

func TestGenerateWritesProtectedSlip(t *testing.T) {
	fr := &fakeRenderer{}
	g := testGenerator(t, fr)

	art, err := g.Generate(context.Background(), record("1001", "Budi Santoso", payroll.TextCell("15/08/1985")), april)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	wantPath := filepath.Join(g.Root, "2025-April", "slip_1001_Budi_Santoso_April_2025.pdf")
	if art.Path != wantPath {
		t.Fatalf("path = %s, want %s", art.Path, wantPath)
	}
	if art.Credential != "15081985" {
		t.Fatalf("credential = %q", art.Credential)
	}
	if len(fr.calls) != 1 || !strings.Contains(fr.calls[0], "Budi Santoso") || !strings.Contains(fr.calls[0], "5.000.000") {
		t.Fatalf("renderer did not receive populated slip")
	}
	if _, err := protect.Unlock(art.Path, "01011990"); !errors.Is(err, protect.ErrWrongPassword) {
		t.Fatalf("expected wrong password to be rejected, got %v", err)
	}
	plain, err := protect.Unlock(art.Path, "15081985")
	if err != nil || !bytes.Contains(plain, []byte("rendered slip")) {
		t.Fatalf("unlock with derived credential: %v", err)
	}
}

func TestGenerateRefusesUnusableBirthDate(t *testing.T) {
	fr := &fakeRenderer{}
	g := testGenerator(t, fr)

	for _, ttl := range []payroll.Cell{payroll.TextCell("not a date"), {}} {
		_, err := g.Generate(context.Background(), record("1002", "Sari", ttl), april)
		if !errors.Is(err, ErrUnusableCredential) || !errors.Is(err, protect.ErrProtectionFailed) {
			t.Fatalf("ttl %v: expected ErrUnusableCredential, got %v", ttl, err)
		}
	}
	if len(fr.calls) != 0 {
		t.Fatalf("renderer should not run for an unusable credential")
	}
	if _, err := os.Stat(Dir(g.Root, april)); !os.IsNotExist(err) {
		t.Fatalf("no slip directory should be created, stat err = %v", err)
	}
}

func TestGenerateRenderFailureLeavesNothing(t *testing.T) {
	g := testGenerator(t, &fakeRenderer{err: errors.New("chrome crashed")})
	_, err := g.Generate(context.Background(), record("1003", "Andi", payroll.NumberCell(32874)), april)
	if err == nil || !strings.Contains(err.Error(), "chrome crashed") {
		t.Fatalf("expected render error, got %v", err)
	}
	if _, statErr := os.Stat(Path(g.Root, april, "1003", "Andi")); !os.IsNotExist(statErr) {
		t.Fatalf("slip should not exist after render failure")
	}
}

func TestGenerateNeverExposesUnprotectedSlip(t *testing.T) {
	g := testGenerator(t, &fakeRenderer{})
	rec := record("1001", "Budi", payroll.TextCell("15/08/1985"))
	path := Path(g.Root, april, "1001", "Budi")

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 50; i++ {
			if _, err := g.Generate(context.Background(), rec, april); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	var reads, plain int
	for finished := false; !finished; {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			finished = true
		default:
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		reads++
		if !bytes.Contains(raw, []byte("/Encrypt")) || bytes.Contains(raw, []byte("rendered slip")) {
			plain++
		}
	}
	if plain != 0 {
		t.Fatalf("%d of %d reads saw an unencrypted slip at %s", plain, reads, path)
	}

	entries, err := os.ReadDir(Dir(g.Root, april))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != filepath.Base(path) {
		t.Fatalf("expected only the final slip in the period dir, got %v", entries)
	}
}

func TestGenerateProtectionFailureKeepsPreviousSlip(t *testing.T) {
	fr := &fakeRenderer{}
	g := testGenerator(t, fr)
	rec := record("1001", "Budi", payroll.TextCell("15/08/1985"))

	art, err := g.Generate(context.Background(), rec, april)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	before, _ := os.ReadFile(art.Path)

	fr.doc = []byte("not a pdf")
	if _, err := g.Generate(context.Background(), rec, april); !errors.Is(err, protect.ErrProtectionFailed) {
		t.Fatalf("expected ErrProtectionFailed, got %v", err)
	}
	after, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatalf("previous slip was removed: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("previous slip was replaced by a failed run")
	}
	entries, _ := os.ReadDir(Dir(g.Root, april))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestPathSanitizesNames(t *testing.T) {
	got := Path("/slips", payroll.Period{Month: 3, Year: 2024}, "00/7", " Siti: Nur*Aini ")
	want := filepath.Join("/slips", "2024-Maret", "slip_00_7_Siti__Nur_Aini_Maret_2024.pdf")
	if got != want {
		t.Fatalf("Path = %s, want %s", got, want)
	}
	if got := fileFragment("///"); got != "unknown" {
		t.Fatalf("empty fragment = %q", got)
	}
}

func TestQRPayload(t *testing.T) {
	got := QRPayload("1001", april, "Dewi", "HR Manager")
	want := "Slip Gaji : 1001|April 2025|\nSigned by : Dewi|HR Manager"
	if got != want {
		t.Fatalf("QRPayload = %q, want %q", got, want)
	}
	uri, err := QRCodeDataURI(got)
	if err != nil || !strings.HasPrefix(string(uri), "data:image/png;base64,") {
		t.Fatalf("QRCodeDataURI: %q %v", uri, err)
	}
}

func TestLoadImageDownscales(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 100))
	for x := 0; x < 400; x++ {
		src.Set(x, 50, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "logo.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	uri, err := LoadImage(path, 200)
	if err != nil {
		t.Fatalf("load image: %v", err)
	}
	if !strings.HasPrefix(string(uri), "data:image/png;base64,") {
		t.Fatalf("unexpected uri prefix %q", string(uri)[:20])
	}

	if uri, err := LoadImage(filepath.Join(t.TempDir(), "missing.png"), 200); err != nil || uri != "" {
		t.Fatalf("missing image should be skipped, got %q %v", uri, err)
	}
	bad := filepath.Join(t.TempDir(), "bad.png")
	if err := os.WriteFile(bad, []byte("plain text"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadImage(bad, 200); err == nil {
		t.Fatalf("expected non-image to be rejected")
	}
}

func TestFitWidthKeepsAspect(t *testing.T) {
	img := fitWidth(image.NewRGBA(image.Rect(0, 0, 400, 100)), 200)
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 50 {
		t.Fatalf("resized to %v", b)
	}
	small := image.NewRGBA(image.Rect(0, 0, 50, 50))
	if fitWidth(small, 200) != image.Image(small) {
		t.Fatalf("small images should be returned untouched")
	}
}
