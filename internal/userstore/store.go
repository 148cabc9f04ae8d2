// Package userstore keeps portal accounts and login sessions in SQLite.
package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/phillip-england/payslip/internal/payroll"
	"github.com/phillip-england/payslip/internal/security"
)

const (
	RoleAdmin    = "admin"
	RoleEmployee = "pegawai"
)

var ErrNotFound = errors.New("not found")

type User struct {
	NUP          string `db:"nup" json:"nup"`
	PasswordHash string `db:"password_hash" json:"-"`
	Role         string `db:"role" json:"role"`
	CreatedAt    int64  `db:"created_at" json:"created_at"`
	UpdatedAt    int64  `db:"updated_at" json:"updated_at"`
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

type Session struct {
	ID         string `db:"id"`
	NUP        string `db:"nup"`
	Role       string `db:"role"`
	CSRFToken  string `db:"csrf_token"`
	ExpiresAt  int64  `db:"expires_at"`
	CreatedAt  int64  `db:"created_at"`
	LastSeenAt int64  `db:"last_seen_at"`
}

func (s Session) Expires() time.Time { return time.Unix(s.ExpiresAt, 0).UTC() }

type Store struct {
	db *sqlx.DB
}

// Open connects to the SQLite file at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open user store: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			nup TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'pegawai',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			nup TEXT NOT NULL,
			csrf_token TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			last_seen_at INTEGER NOT NULL,
			FOREIGN KEY(nup) REFERENCES users(nup) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return s.PurgeExpiredSessions(ctx)
}

// EnsureAdmin creates the admin account or resets its password.
func (s *Store) EnsureAdmin(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("admin username is required")
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		return err
	}
	return s.upsertHash(ctx, username, hash, RoleAdmin)
}

// Upsert stores an account with a plaintext password. Employees may use their
// 8 digit credential, admins need a full password.
func (s *Store) Upsert(ctx context.Context, nup, plain, role string) error {
	nup = strings.TrimSpace(nup)
	if nup == "" {
		return errors.New("nup is required")
	}
	if role == "" {
		role = RoleEmployee
	}
	hash, err := hashFor(plain, role)
	if err != nil {
		return err
	}
	return s.upsertHash(ctx, nup, hash, role)
}

func hashFor(plain, role string) (string, error) {
	if role != RoleAdmin && security.IsCredential(plain) {
		return security.HashCredential(plain)
	}
	return security.HashPassword(plain)
}

func (s *Store) upsertHash(ctx context.Context, nup, hash, role string) error {
	now := time.Now().UTC().Unix()
	const q = `
		INSERT INTO users (nup, password_hash, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(nup) DO UPDATE SET
			password_hash = excluded.password_hash,
			role = excluded.role,
			updated_at = excluded.updated_at
	`
	return withSQLiteRetry(func() error {
		_, err := s.db.ExecContext(ctx, q, nup, hash, role, now, now)
		if err != nil {
			return fmt.Errorf("upsert user %s: %w", nup, err)
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, nup string) (User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT nup, password_hash, role, created_at, updated_at FROM users WHERE nup = ?`, strings.TrimSpace(nup))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %s: %w", nup, err)
	}
	return u, nil
}

func (s *Store) List(ctx context.Context) ([]User, error) {
	users := []User{}
	err := s.db.SelectContext(ctx, &users, `SELECT nup, password_hash, role, created_at, updated_at FROM users ORDER BY role, nup`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// CheckPassword returns the user when password matches. Unknown users and
// wrong passwords both yield ErrNotFound.
func (s *Store) CheckPassword(ctx context.Context, nup, password string) (User, error) {
	u, err := s.Get(ctx, nup)
	if err != nil {
		return User{}, err
	}
	if !security.VerifyPassword(password, u.PasswordHash) {
		return User{}, ErrNotFound
	}
	return u, nil
}

// UpdatePassword replaces a password chosen by the user.
func (s *Store) UpdatePassword(ctx context.Context, nup, password string) error {
	hash, err := security.HashPassword(password)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE nup = ?`, hash, time.Now().UTC().Unix(), nup)
	if err != nil {
		return fmt.Errorf("update password for %s: %w", nup, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedSkip is a spreadsheet row that did not produce an account.
type SeedSkip struct {
	Row    int    `json:"row"`
	NUP    string `json:"nup"`
	Reason string `json:"reason"`
}

type SeedReport struct {
	Seeded  int        `json:"seeded"`
	Skipped []SeedSkip `json:"skipped"`
}

// SeedFromRecords creates an employee account per record with the birth date
// credential as initial password. Rows without a NUP or a real birth date are
// skipped, and existing admin accounts are left untouched.
func (s *Store) SeedFromRecords(ctx context.Context, records []payroll.Record) (SeedReport, error) {
	report := SeedReport{Skipped: []SeedSkip{}}
	for _, rec := range records {
		nup := rec.NUP()
		skip := func(reason string) {
			report.Skipped = append(report.Skipped, SeedSkip{Row: rec.Row, NUP: nup, Reason: reason})
		}
		if nup == "" {
			skip("missing NUP")
			continue
		}
		if _, ok := payroll.ParseBirthDate(rec.Get(payroll.FieldTTL)); !ok {
			skip("birth date is not a usable date")
			continue
		}
		existing, err := s.Get(ctx, nup)
		if err == nil && existing.IsAdmin() {
			skip("admin account")
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return report, err
		}
		if err := s.Upsert(ctx, nup, rec.Credential, RoleEmployee); err != nil {
			return report, err
		}
		report.Seeded++
	}
	return report, nil
}

func (s *Store) CreateSession(ctx context.Context, id, nup, csrfToken string, expiresAt time.Time) error {
	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, nup, csrf_token, expires_at, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, nup, csrfToken, expiresAt.UTC().Unix(), now, now)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// LookupSession returns a live session and its user. Expired sessions are
// deleted and reported as ErrNotFound.
func (s *Store) LookupSession(ctx context.Context, id string) (Session, User, error) {
	var sess Session
	err := s.db.GetContext(ctx, &sess, `
		SELECT s.id, s.nup, u.role, s.csrf_token, s.expires_at, s.created_at, s.last_seen_at
		FROM sessions s
		INNER JOIN users u ON u.nup = s.nup
		WHERE s.id = ?
		LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, User{}, ErrNotFound
	}
	if err != nil {
		return Session{}, User{}, fmt.Errorf("lookup session: %w", err)
	}
	now := time.Now().UTC()
	if now.After(sess.Expires()) {
		_ = s.DeleteSession(ctx, id)
		return Session{}, User{}, ErrNotFound
	}
	user, err := s.Get(ctx, sess.NUP)
	if err != nil {
		return Session{}, User{}, err
	}
	_, _ = s.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at = ? WHERE id = ?`, now.Unix(), id)
	return sess, user, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *Store) PurgeExpiredSessions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, time.Now().UTC().Unix())
	return err
}

func withSQLiteRetry(fn func() error) error {
	const maxAttempts = 3
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		lower := strings.ToLower(err.Error())
		if !strings.Contains(lower, "database is locked") && !strings.Contains(lower, "database is busy") {
			return err
		}
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt) * 125 * time.Millisecond)
		}
	}
	return err
}
