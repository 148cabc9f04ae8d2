package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/phillip-england/payslip/internal/apiapp"
	"github.com/phillip-england/payslip/internal/dataset"
	"github.com/phillip-england/payslip/internal/distribute"
	"github.com/phillip-england/payslip/internal/envutil"
	"github.com/phillip-england/payslip/internal/mailer"
	"github.com/phillip-england/payslip/internal/protect"
	"github.com/phillip-england/payslip/internal/security"
	"github.com/phillip-england/payslip/internal/slip"
	"github.com/phillip-england/payslip/internal/userstore"
)

var ErrUsage = errors.New("usage")

var stdout io.Writer = os.Stdout

func Execute(args []string) error {
	if len(args) < 1 {
		return usageError()
	}

	switch args[0] {
	case "setup":
		return runSetup(args[1:])
	case "run":
		return runCommand(args[1:])
	case "send-all":
		return runSendAll(args[1:])
	case "seed-users":
		return runSeedUsers(args[1:])
	case "periods":
		return runPeriods(args[1:])
	case "verify":
		return runVerify(args[1:])
	default:
		return usageError()
	}
}

func usageError() error {
	return fmt.Errorf("%w: payslip <setup|run|send-all|seed-users|periods|verify> [...]", ErrUsage)
}

func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: payslip setup --admin-password <password> [--admin-username admin] [--env-file .env] [--force]")
	fmt.Fprintln(w, "       payslip run")
	fmt.Fprintln(w, "       payslip send-all [--month <m> --year <yyyy>]")
	fmt.Fprintln(w, "       payslip seed-users [--month <m> --year <yyyy>]")
	fmt.Fprintln(w, "       payslip periods")
	fmt.Fprintln(w, "       payslip verify --file <slip.pdf> --password <ddmmyyyy>")
}

func runSetup(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	adminUser := fs.String("admin-username", "admin", "initial admin username")
	adminPass := fs.String("admin-password", "", "initial admin password (min 12 chars)")
	company := fs.String("company", "PT BKI", "company name printed on slips and emails")
	provider := fs.String("email-provider", mailer.ProviderLog, "gmail | outlook | smtp | graph | log")
	envPath := fs.String("env-file", ".env", "path to .env file")
	force := fs.Bool("force", false, "overwrite existing env file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *adminPass == "" {
		return errors.New("--admin-password is required")
	}
	if _, err := security.HashPassword(*adminPass); err != nil {
		return fmt.Errorf("invalid admin password: %w", err)
	}

	values := map[string]string{
		"ADMIN_USERNAME": *adminUser,
		"ADMIN_PASSWORD": *adminPass,
		"AUTH_DB_PATH":   "data/users.db",
		"API_ADDR":       ":8080",
		"DATA_DIR":       "data/payroll",
		"SLIP_DIR":       "static/slips",
		"ASSET_DIR":      "assets",
		"COMPANY_NAME":   *company,
		"EMAIL_PROVIDER": *provider,
	}

	if err := envutil.WriteDotEnv(*envPath, values, *force); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", *envPath)
	return nil
}

func runCommand(args []string) error {
	if err := loadEnv(); err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := apiapp.DefaultConfigFromEnv()
	if err := ensureParentDirs(cfg.DBPath); err != nil {
		return err
	}
	if err := ensureDirs(cfg.DataDir, cfg.SlipDir); err != nil {
		return err
	}
	if err := apiapp.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runSendAll(args []string) error {
	fs := flag.NewFlagSet("send-all", flag.ContinueOnError)
	month := fs.String("month", "", "month as number or name (default: most recent)")
	year := fs.String("year", "", "four digit year")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q, err := queryFlags(*month, *year)
	if err != nil {
		return err
	}
	if err := loadEnv(); err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := apiapp.DefaultConfigFromEnv()
	brand, err := cfg.LoadBranding()
	if err != nil {
		return err
	}
	sender, err := mailer.New(cfg.Mail, log.Default())
	if err != nil {
		return err
	}
	renderer := slip.NewChromeRenderer(cfg.ChromeBin)
	defer renderer.Close()

	resolver := dataset.NewResolver(dataset.NewLocator(cfg.DataDir, log.Default()))
	svc := distribute.NewService(resolver, slip.NewGenerator(cfg.SlipDir, renderer, brand), sender, cfg.SlipDir, log.Default())
	report, err := svc.SendAll(ctx, q)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runSeedUsers(args []string) error {
	fs := flag.NewFlagSet("seed-users", flag.ContinueOnError)
	month := fs.String("month", "", "month as number or name (default: most recent)")
	year := fs.String("year", "", "four digit year")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q, err := queryFlags(*month, *year)
	if err != nil {
		return err
	}
	if err := loadEnv(); err != nil {
		return err
	}
	ctx := context.Background()
	cfg := apiapp.DefaultConfigFromEnv()

	d, err := dataset.NewResolver(dataset.NewLocator(cfg.DataDir, log.Default())).Open(q)
	if err != nil {
		return err
	}
	if err := ensureParentDirs(cfg.DBPath); err != nil {
		return err
	}
	store, err := userstore.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := store.SeedFromRecords(ctx, d.Records)
	if err != nil {
		return err
	}
	for _, skipped := range report.Skipped {
		log.Printf("WARN: row %d nup %q skipped: %s", skipped.Row, skipped.NUP, skipped.Reason)
	}
	fmt.Fprintf(stdout, "seeded %d users from %s (%d skipped)\n", report.Seeded, filepath.Base(d.Path), len(report.Skipped))
	return nil
}

func runPeriods(args []string) error {
	fs := flag.NewFlagSet("periods", flag.ContinueOnError)
	dir := fs.String("data-dir", "", "payroll directory (default: DATA_DIR)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := loadEnv(); err != nil {
		return err
	}
	if *dir == "" {
		*dir = apiapp.DefaultConfigFromEnv().DataDir
	}
	entries, err := dataset.NewLocator(*dir, log.Default()).Discover()
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", e.Period, e.Period.Label(), e.Source, e.Path)
	}
	return nil
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	file := fs.String("file", "", "protected slip pdf")
	password := fs.String("password", "", "ddmmyyyy credential")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" || *password == "" {
		return fmt.Errorf("%w: payslip verify --file <slip.pdf> --password <ddmmyyyy>", ErrUsage)
	}
	plain, err := protect.Unlock(*file, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "ok: %s opens with the given password (%d bytes)\n", filepath.Base(*file), len(plain))
	return nil
}

func queryFlags(month, year string) (dataset.Query, error) {
	q := dataset.Query{Month: strings.TrimSpace(month), Year: strings.TrimSpace(year)}
	if (q.Month == "") != (q.Year == "") {
		return dataset.Query{}, fmt.Errorf("%w: --month and --year must be given together", ErrUsage)
	}
	return q, nil
}

func loadEnv() error {
	if err := envutil.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ensureParentDirs(paths ...string) error {
	for _, p := range paths {
		dir := filepath.Dir(p)
		if dir == "." || dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func ensureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
