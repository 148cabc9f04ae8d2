package userstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/phillip-england/payslip/internal/payroll"
	"github.com/phillip-england/payslip/internal/security"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func employee(row int, nup string, ttl payroll.Cell) payroll.Record {
	return payroll.NewRecord(row, map[string]payroll.Cell{
		payroll.FieldNUP: payroll.TextCell(nup),
		payroll.FieldTTL: ttl,
	})
}

func TestEnsureAdminAndCheckPassword(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	if err := s.EnsureAdmin(ctx, "admin", "short"); !errors.Is(err, security.ErrPasswordTooShort) {
		t.Fatalf("expected short admin password to fail, got %v", err)
	}
	if err := s.EnsureAdmin(ctx, "admin", "correct-horse-battery"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	u, err := s.CheckPassword(ctx, "admin", "correct-horse-battery")
	if err != nil || !u.IsAdmin() {
		t.Fatalf("check admin password: %+v %v", u, err)
	}
	if _, err := s.CheckPassword(ctx, "admin", "wrong-password-value"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong password, got %v", err)
	}
	if _, err := s.CheckPassword(ctx, "nobody", "whatever"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestSeedFromRecords(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	if err := s.EnsureAdmin(ctx, "9000", "correct-horse-battery"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}

	report, err := s.SeedFromRecords(ctx, []payroll.Record{
		employee(2, "1001", payroll.TextCell("15/08/1985")),
		employee(3, "007", payroll.NumberCell(32874)),
		employee(4, "1003", payroll.TextCell("unknown")),
		employee(5, "", payroll.TextCell("01/01/1990")),
		employee(6, "9000", payroll.TextCell("01/01/1990")),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if report.Seeded != 2 || len(report.Skipped) != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Skipped[0].Row != 4 || report.Skipped[0].NUP != "1003" {
		t.Fatalf("unexpected first skip %+v", report.Skipped[0])
	}

	if _, err := s.CheckPassword(ctx, "1001", "15081985"); err != nil {
		t.Fatalf("seeded credential should log in: %v", err)
	}
	if _, err := s.CheckPassword(ctx, "007", "01011990"); err != nil {
		t.Fatalf("leading-zero NUP should be kept as text: %v", err)
	}
	if _, err := s.Get(ctx, "7"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("NUP must not be normalized to a number, got %v", err)
	}
	admin, err := s.CheckPassword(ctx, "9000", "correct-horse-battery")
	if err != nil || !admin.IsAdmin() {
		t.Fatalf("admin account should be untouched: %+v %v", admin, err)
	}
}

func TestUpdatePassword(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	if err := s.Upsert(ctx, "1001", "15081985", RoleEmployee); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpdatePassword(ctx, "1001", "short"); !errors.Is(err, security.ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := s.UpdatePassword(ctx, "1001", "a-much-longer-secret"); err != nil {
		t.Fatalf("update password: %v", err)
	}
	if _, err := s.CheckPassword(ctx, "1001", "15081985"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old credential should no longer work, got %v", err)
	}
	if _, err := s.CheckPassword(ctx, "1001", "a-much-longer-secret"); err != nil {
		t.Fatalf("new password should work: %v", err)
	}
	if err := s.UpdatePassword(ctx, "4040", "a-much-longer-secret"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing user, got %v", err)
	}
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	if err := s.Upsert(ctx, "1001", "15081985", RoleEmployee); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := s.CreateSession(ctx, "live", "1001", "csrf-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("create session: %v", err)
	}
	sess, user, err := s.LookupSession(ctx, "live")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if sess.NUP != "1001" || sess.CSRFToken != "csrf-1" || sess.Role != RoleEmployee || user.NUP != "1001" {
		t.Fatalf("unexpected session %+v user %+v", sess, user)
	}

	if err := s.CreateSession(ctx, "stale", "1001", "csrf-2", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("create stale session: %v", err)
	}
	if _, _, err := s.LookupSession(ctx, "stale"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired session to be rejected, got %v", err)
	}

	if err := s.DeleteSession(ctx, "live"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := s.LookupSession(ctx, "live"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted session to be gone, got %v", err)
	}
}

func TestListUsers(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	for _, nup := range []string{"1002", "1001"} {
		if err := s.Upsert(ctx, nup, "01011990", RoleEmployee); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := s.EnsureAdmin(ctx, "admin", "correct-horse-battery"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	users, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 3 || users[0].NUP != "admin" || users[1].NUP != "1001" {
		t.Fatalf("unexpected order %+v", users)
	}
}
