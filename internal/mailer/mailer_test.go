package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wneessen/go-mail"

	"github.com/phillip-england/payslip/internal/payroll"
)

var april = payroll.Period{Month: 4, Year: 2025}

func attachment(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slip_1001_Budi_April_2025.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 protected"), 0o600); err != nil {
		t.Fatalf("write attachment: %v", err)
	}
	return path
}

func TestSubjectAndBody(t *testing.T) {
	if got := Subject(april, "PT BKI"); got != "Slip Gaji April 2025 - PT BKI" {
		t.Fatalf("subject = %q", got)
	}
	body := Body("Budi", april, "PT BKI")
	for _, want := range []string{"Yth. Bapak/Ibu Budi", "periode April 2025", "ddmmyyyy"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q", want)
		}
	}
}

func TestNewSelectsProvider(t *testing.T) {
	base := Config{User: "hr@example.com", Password: "secret", CompanyName: "PT BKI"}

	cfg := base
	cfg.Provider = ProviderOutlook
	s, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("outlook: %v", err)
	}
	if smtp, ok := s.(*SMTPSender); !ok || smtp.host != "smtp.office365.com" || smtp.port != 587 {
		t.Fatalf("unexpected outlook sender %#v", s)
	}

	cfg.Provider = ProviderSMTP
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("smtp provider without host should fail")
	}
	cfg.Provider = ProviderGraph
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("graph provider without app credentials should fail")
	}
	cfg.Provider = "pigeon"
	if _, err := New(cfg, nil); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	cfg = Config{Provider: ProviderGmail}
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("gmail without credentials should fail")
	}
}

func TestSMTPSenderBuildsMessage(t *testing.T) {
	s, err := newSMTPSender(Config{User: "hr@example.com", Password: "secret", CompanyName: "PT BKI"}, "smtp.example.com", 587)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	var sent *mail.Msg
	s.dialer = func(_ context.Context, m *mail.Msg) error {
		sent = m
		return nil
	}

	if err := s.Send(context.Background(), Message{To: "budi@example.com", Name: "Budi", Period: april, AttachmentPath: attachment(t)}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent == nil {
		t.Fatalf("message was not dialed")
	}
	if got := sent.GetGenHeader(mail.HeaderSubject); len(got) != 1 || got[0] != "Slip Gaji April 2025 - PT BKI" {
		t.Fatalf("subject header = %v", got)
	}
	var raw bytes.Buffer
	if _, err := sent.WriteTo(&raw); err != nil {
		t.Fatalf("write message: %v", err)
	}
	if !strings.Contains(raw.String(), "slip_1001_Budi_April_2025.pdf") {
		t.Fatalf("attachment missing from message")
	}
}

func TestSMTPSenderPropagatesErrors(t *testing.T) {
	s, err := newSMTPSender(Config{User: "hr@example.com", Password: "secret"}, "smtp.example.com", 587)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	s.dialer = func(context.Context, *mail.Msg) error { return errors.New("535 authentication failed") }

	err = s.Send(context.Background(), Message{To: "budi@example.com", Period: april, AttachmentPath: attachment(t)})
	if err == nil || !strings.Contains(err.Error(), "535") {
		t.Fatalf("expected delivery error to surface, got %v", err)
	}
	if err := s.Send(context.Background(), Message{To: " ", AttachmentPath: attachment(t)}); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
	if err := s.Send(context.Background(), Message{To: "a@example.com", AttachmentPath: "/missing.pdf"}); err == nil {
		t.Fatalf("expected missing attachment to fail")
	}
}

func TestGraphSender(t *testing.T) {
	var got graphSendMail
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"access_token":"graph-token","token_type":"Bearer","expires_in":3600}`)
		case "/v1.0/users/hr@example.com/sendMail":
			auth = r.Header.Get("Authorization")
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g, err := NewGraphSender(Config{User: "hr@example.com", TenantID: "tenant", ClientID: "id", ClientSecret: "secret", CompanyName: "PT BKI"})
	if err != nil {
		t.Fatalf("new graph sender: %v", err)
	}
	g.BaseURL = srv.URL + "/v1.0"
	g.TokenURL = srv.URL + "/token"

	path := attachment(t)
	if err := g.Send(context.Background(), Message{To: "budi@example.com", Name: "Budi", Period: april, AttachmentPath: path}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if auth != "Bearer graph-token" {
		t.Fatalf("authorization header = %q", auth)
	}
	if got.Message.Subject != "Slip Gaji April 2025 - PT BKI" || got.Message.ToRecipients[0].EmailAddress.Address != "budi@example.com" {
		t.Fatalf("unexpected payload %+v", got.Message)
	}
	decoded, err := base64.StdEncoding.DecodeString(got.Message.Attachments[0].ContentBytes)
	if err != nil || string(decoded) != "%PDF-1.4 protected" {
		t.Fatalf("attachment bytes not base64 encoded: %v", err)
	}

	g.BaseURL = srv.URL + "/nowhere"
	if err := g.Send(context.Background(), Message{To: "budi@example.com", Period: april, AttachmentPath: path}); err == nil {
		t.Fatalf("expected non-2xx response to fail")
	}
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s, err := New(Config{Provider: ProviderLog, CompanyName: "PT BKI"}, log.New(&buf, "", 0))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Send(context.Background(), Message{To: "budi@example.com", Period: april, AttachmentPath: attachment(t)}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(buf.String(), "budi@example.com") {
		t.Fatalf("dry run was not logged: %q", buf.String())
	}
}
