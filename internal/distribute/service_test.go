package distribute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/phillip-england/payslip/internal/dataset"
	"github.com/phillip-england/payslip/internal/mailer"
	"github.com/phillip-england/payslip/internal/payroll"
	"github.com/phillip-england/payslip/internal/protect"
	"github.com/phillip-england/payslip/internal/slip"
	"github.com/phillip-england/payslip/internal/testutil"
)

var headers = []string{"NUP", "NAMA", "EMAIL", "TTL", "STATUS_PEGAWAI", "GAJI_DASAR_1", "BULAN", "TAHUN"}

type pdfRenderer struct{}

func (pdfRenderer) RenderPDF(context.Context, string) ([]byte, error) {
	return testutil.MinimalPDF("slip"), nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []mailer.Message
	fail map[string]error
	hook func(n int)
}

func (r *recordingSender) Send(_ context.Context, msg mailer.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[msg.To]; err != nil {
		return err
	}
	r.sent = append(r.sent, msg)
	if r.hook != nil {
		r.hook(len(r.sent))
	}
	return nil
}

func newService(t *testing.T, rows [][]any, sender mailer.Sender) *Service {
	t.Helper()
	dataDir := t.TempDir()
	testutil.WriteWorkbook(t, filepath.Join(dataDir, "gaji_2025_04.xlsx"), headers, rows)
	quiet := log.New(io.Discard, "", 0)
	resolver := dataset.NewResolver(dataset.NewLocator(dataDir, quiet))
	slipRoot := t.TempDir()
	gen := slip.NewGenerator(slipRoot, pdfRenderer{}, slip.Branding{CompanyName: "PT Contoh"})
	return NewService(resolver, gen, sender, slipRoot, quiet)
}

func employees(n int) [][]any {
	rows := make([][]any, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, []any{
			fmt.Sprintf("%d", 1000+i),
			fmt.Sprintf("Pegawai %d", i),
			fmt.Sprintf("pegawai%d@example.com", i),
			fmt.Sprintf("%02d/06/1988", (i%28)+1),
			"PKWTT",
			4000000 + i,
			4,
			2025,
		})
	}
	return rows
}

func TestSendAllContinuesPastBadBirthDate(t *testing.T) {
	rows := employees(50)
	rows[22][3] = "bukan tanggal"
	sender := &recordingSender{}
	svc := newService(t, rows, sender)

	report, err := svc.SendAll(context.Background(), dataset.Query{})
	if err != nil {
		t.Fatalf("send all: %v", err)
	}
	if report.Total != 50 || report.Succeeded != 49 || len(report.Failed) != 1 {
		t.Fatalf("unexpected report total=%d ok=%d failed=%d", report.Total, report.Succeeded, len(report.Failed))
	}
	if report.Failed[0].NUP != "1023" {
		t.Fatalf("unexpected failure %+v", report.Failed[0])
	}
	if !strings.Contains(report.Failed[0].Error, protect.ErrProtectionFailed.Error()) {
		t.Fatalf("failure should explain protection, got %q", report.Failed[0].Error)
	}
	if report.RunID == "" || report.Period != (payroll.Period{Month: 4, Year: 2025}) {
		t.Fatalf("unexpected report metadata %+v", report)
	}
	if len(sender.sent) != 49 {
		t.Fatalf("expected 49 mails, got %d", len(sender.sent))
	}
	for _, m := range sender.sent {
		if m.To == "pegawai23@example.com" {
			t.Fatalf("failed employee must not be mailed")
		}
	}

	board, err := svc.Dashboard(dataset.Query{})
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	generated := 0
	for _, st := range board {
		if st.Generated {
			generated++
		}
		if st.NUP == "1023" && st.Generated {
			t.Fatalf("no slip should exist for the failed employee")
		}
	}
	if len(board) != 50 || generated != 49 {
		t.Fatalf("dashboard rows=%d generated=%d", len(board), generated)
	}
}

func TestSendAllRecordsDeliveryAndEmailFailures(t *testing.T) {
	rows := employees(3)
	rows[0][2] = ""
	sender := &recordingSender{fail: map[string]error{"pegawai2@example.com": errors.New("mailbox full")}}
	svc := newService(t, rows, sender)

	report, err := svc.SendAll(context.Background(), dataset.Query{})
	if err != nil {
		t.Fatalf("send all: %v", err)
	}
	if report.Succeeded != 1 || len(report.Failed) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Failed[0].Error != ErrMissingEmail.Error() || !strings.Contains(report.Failed[1].Error, "mailbox full") {
		t.Fatalf("unexpected failures %+v", report.Failed)
	}
}

func TestSendAllStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sender := &recordingSender{hook: func(n int) {
		if n == 2 {
			cancel()
		}
	}}
	svc := newService(t, employees(5), sender)

	report, err := svc.SendAll(ctx, dataset.Query{})
	if err != nil {
		t.Fatalf("send all: %v", err)
	}
	if report.Succeeded != 2 || len(report.Failed) != 3 {
		t.Fatalf("expected 2 sent and 3 cancelled, got %+v", report)
	}
	for _, f := range report.Failed {
		if f.Error != context.Canceled.Error() {
			t.Fatalf("unexpected failure %+v", f)
		}
	}
}

func TestSendAllMissingDataset(t *testing.T) {
	svc := newService(t, employees(1), &recordingSender{})
	june := payroll.Period{Month: 6, Year: 2025}
	if _, err := svc.SendAll(context.Background(), dataset.QueryFor(june)); !errors.Is(err, dataset.ErrDatasetNotFound) {
		t.Fatalf("expected ErrDatasetNotFound, got %v", err)
	}
}

func TestResend(t *testing.T) {
	sender := &recordingSender{}
	svc := newService(t, employees(3), sender)
	april := payroll.Period{Month: 4, Year: 2025}

	art, err := svc.Resend(context.Background(), dataset.QueryFor(april), "1002")
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].AttachmentPath != art.Path || sender.sent[0].To != "pegawai2@example.com" {
		t.Fatalf("unexpected delivery %+v", sender.sent)
	}
	if _, err := svc.Resend(context.Background(), dataset.QueryFor(april), "9999"); !errors.Is(err, dataset.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}
