package apiapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/phillip-england/payslip/internal/dataset"
	"github.com/phillip-england/payslip/internal/distribute"
	"github.com/phillip-england/payslip/internal/mailer"
	"github.com/phillip-england/payslip/internal/middleware"
	"github.com/phillip-england/payslip/internal/slip"
	"github.com/phillip-england/payslip/internal/userstore"
)

const (
	sessionCookieName = "payslip_session"
	csrfHeaderName    = "X-CSRF-Token"
	maxUploadBytes    = 20 << 20
)

type contextKey string

const (
	userContextKey    contextKey = "user"
	sessionContextKey contextKey = "session"
)

type Config struct {
	Addr          string
	DBPath        string
	AdminUsername string
	AdminPassword string
	SessionTTL    time.Duration
	DataDir       string
	SlipDir       string
	AssetDir      string
	CompanyName   string
	SignerName    string
	SignerTitle   string
	ChromeBin     string
	Mail          mailer.Config
}

type server struct {
	store       *userstore.Store
	locator     *dataset.Locator
	resolver    *dataset.Resolver
	generator   distribute.Generator
	distributor *distribute.Service
	sessionTTL  time.Duration
	logger      *log.Logger
}

func DefaultConfigFromEnv() Config {
	return Config{
		Addr:          envOrDefault("API_ADDR", ":8080"),
		DBPath:        envOrDefault("AUTH_DB_PATH", "data/users.db"),
		AdminUsername: strings.TrimSpace(os.Getenv("ADMIN_USERNAME")),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		SessionTTL:    12 * time.Hour,
		DataDir:       envOrDefault("DATA_DIR", "data/payroll"),
		SlipDir:       envOrDefault("SLIP_DIR", "static/slips"),
		AssetDir:      envOrDefault("ASSET_DIR", "assets"),
		CompanyName:   envOrDefault("COMPANY_NAME", "PT BKI"),
		SignerName:    envOrDefault("SIGNER_NAME", ""),
		SignerTitle:   envOrDefault("SIGNER_TITLE", ""),
		ChromeBin:     strings.TrimSpace(os.Getenv("CHROME_BIN")),
		Mail:          mailer.DefaultConfigFromEnv(),
	}
}

// LoadBranding reads the company text and the optional logo.png and
// signature.png from the asset directory.
func (cfg Config) LoadBranding() (slip.Branding, error) {
	brand := slip.Branding{
		CompanyName: cfg.CompanyName,
		SignerName:  cfg.SignerName,
		SignerTitle: cfg.SignerTitle,
	}
	logo, err := slip.LoadImage(filepath.Join(cfg.AssetDir, "logo.png"), 320)
	if err != nil {
		return brand, fmt.Errorf("load logo: %w", err)
	}
	signature, err := slip.LoadImage(filepath.Join(cfg.AssetDir, "signature.png"), 240)
	if err != nil {
		return brand, fmt.Errorf("load signature: %w", err)
	}
	brand.Logo = logo
	brand.Signature = signature
	return brand, nil
}

func Run(ctx context.Context, cfg Config) error {
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		return errors.New("ADMIN_USERNAME and ADMIN_PASSWORD are required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}

	store, err := userstore.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return fmt.Errorf("ensure admin user: %w", err)
	}

	brand, err := cfg.LoadBranding()
	if err != nil {
		return err
	}
	sender, err := mailer.New(cfg.Mail, log.Default())
	if err != nil {
		return fmt.Errorf("configure mail: %w", err)
	}
	renderer := slip.NewChromeRenderer(cfg.ChromeBin)
	defer renderer.Close()

	locator := dataset.NewLocator(cfg.DataDir, log.Default())
	resolver := dataset.NewResolver(locator)
	generator := slip.NewGenerator(cfg.SlipDir, renderer, brand)
	s := &server{
		store:       store,
		locator:     locator,
		resolver:    resolver,
		generator:   generator,
		distributor: distribute.NewService(resolver, generator, sender, cfg.SlipDir, log.Default()),
		sessionTTL:  cfg.SessionTTL,
		logger:      log.Default(),
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("api listening on http://localhost%s", cfg.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/health", http.HandlerFunc(s.health))
	mux.Handle("/api/auth/login", http.HandlerFunc(s.login))
	mux.Handle("/api/auth/me", middleware.Chain(http.HandlerFunc(s.me), s.requireAuth))
	mux.Handle("/api/auth/csrf", middleware.Chain(http.HandlerFunc(s.csrfToken), s.requireAuth))
	mux.Handle("/api/auth/logout", middleware.Chain(http.HandlerFunc(s.logout), s.requireAuth, s.csrfProtect))
	mux.Handle("/api/auth/password", middleware.Chain(http.HandlerFunc(s.changePassword), s.requireAuth, s.csrfProtect))
	mux.Handle("/api/periods", middleware.Chain(http.HandlerFunc(s.periods), s.requireAuth))
	mux.Handle("/api/slip", middleware.Chain(http.HandlerFunc(s.slipView), s.requireAuth))
	mux.Handle("/api/slip/download", middleware.Chain(http.HandlerFunc(s.slipDownload), s.requireAuth))
	mux.Handle("/api/admin/slips", middleware.Chain(http.HandlerFunc(s.dashboard), s.requireAdmin))
	mux.Handle("/api/admin/upload", middleware.Chain(http.HandlerFunc(s.upload), s.requireAdmin, s.csrfProtect))
	mux.Handle("/api/admin/send-all", middleware.Chain(http.HandlerFunc(s.sendAll), s.requireAdmin, s.csrfProtect))
	mux.Handle("/api/admin/resend/", middleware.Chain(http.HandlerFunc(s.resend), s.requireAdmin, s.csrfProtect))
	mux.Handle("/api/admin/users", middleware.Chain(http.HandlerFunc(s.users), s.requireAdmin))
	mux.Handle("/api/admin/users/seed", middleware.Chain(http.HandlerFunc(s.seedUsers), s.requireAdmin, s.csrfProtect))

	csp := strings.Join([]string{
		"default-src 'none'",
		"img-src 'self' data:",
		"frame-ancestors 'none'",
	}, "; ")

	return middleware.Chain(
		mux,
		middleware.RequestLogger(s.logger),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: csp}),
	)
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
