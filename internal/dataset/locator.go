package dataset

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/phillip-england/payslip/internal/payroll"
)

var (
	ErrDatasetNotFound      = errors.New("payroll dataset not found")
	ErrRecordNotFound       = errors.New("payroll record not found")
	ErrUnrecognizedFileName = errors.New("unrecognized payroll file name")
)

// Where a discovered period came from.
const (
	SourceTag      = "tag"
	SourceFileName = "filename"
)

var (
	conventionName = regexp.MustCompile(`(?i)gaji[ _-]?(\d{4})[ _-](\d{1,2})(?:\D|$)`)
	yearInName     = regexp.MustCompile(`(?:^|\D)((?:19|20)\d{2})(?:\D|$)`)
)

// Entry is one discovered dataset.
type Entry struct {
	Period payroll.Period
	Path   string
	Source string
}

// Locator finds payroll files in one storage directory.
type Locator struct {
	Dir    string
	Logger *log.Logger
}

func NewLocator(dir string, logger *log.Logger) *Locator {
	if logger == nil {
		logger = log.Default()
	}
	return &Locator{Dir: dir, Logger: logger}
}

// ConventionPath is where uploads for a period are stored: gaji_<yyyy>_<mm>.xlsx.
func (l *Locator) ConventionPath(p payroll.Period) string {
	return filepath.Join(l.Dir, conventionFileName(p, ".xlsx"))
}

func conventionFileName(p payroll.Period, ext string) string {
	return fmt.Sprintf("gaji_%04d_%02d%s", p.Year, p.Month, ext)
}

// Locate finds the file for period, or the most recent dataset when period is nil.
func (l *Locator) Locate(period *payroll.Period) (Entry, error) {
	if period == nil {
		entries, err := l.Discover()
		if err != nil {
			return Entry{}, err
		}
		if len(entries) == 0 {
			return Entry{}, fmt.Errorf("%w: no payroll files in %s", ErrDatasetNotFound, l.Dir)
		}
		return entries[0], nil
	}

	p := *period
	if !p.Valid() {
		return Entry{}, fmt.Errorf("%w: invalid period %s", ErrDatasetNotFound, p)
	}
	for _, ext := range []string{".xlsx", ".xls"} {
		path := filepath.Join(l.Dir, conventionFileName(p, ext))
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return Entry{Period: p, Path: path, Source: SourceFileName}, nil
		}
	}

	entries, err := l.Discover()
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.Period == p {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: period %s", ErrDatasetNotFound, p)
}

// LocateByName scans for a file whose name holds the year and the month text,
// case-insensitively. Used for requests keyed by month name.
func (l *Locator) LocateByName(month, year string) (Entry, error) {
	month = strings.ToLower(strings.TrimSpace(month))
	year = strings.TrimSpace(year)
	if month == "" || year == "" {
		return Entry{}, fmt.Errorf("%w: month and year are required", ErrDatasetNotFound)
	}
	names, err := l.spreadsheetFiles()
	if err != nil {
		return Entry{}, err
	}
	for _, name := range names {
		lower := strings.ToLower(name)
		if !strings.Contains(lower, year) || !strings.Contains(lower, month) {
			continue
		}
		e := Entry{Path: filepath.Join(l.Dir, name), Source: SourceFileName}
		if p, ok := PeriodFromFileName(name); ok {
			e.Period = p
		} else if p, err := payroll.ParsePeriod(month, year); err == nil {
			e.Period = p
		}
		return e, nil
	}
	return Entry{}, fmt.Errorf("%w: %s %s", ErrDatasetNotFound, month, year)
}

// Discover lists one entry per distinct period, newest first. Files that cannot be
// opened or whose period cannot be determined are logged and skipped.
func (l *Locator) Discover() ([]Entry, error) {
	names, err := l.spreadsheetFiles()
	if err != nil {
		return nil, err
	}

	byPeriod := map[payroll.Period]Entry{}
	for _, name := range names {
		path := filepath.Join(l.Dir, name)
		entry, err := l.inspect(path)
		if err != nil {
			l.Logger.Printf("WARN: skipping payroll file %s: %v", name, err)
			continue
		}
		current, exists := byPeriod[entry.Period]
		if exists && !preferEntry(entry, current) {
			continue
		}
		byPeriod[entry.Period] = entry
	}

	out := make([]Entry, 0, len(byPeriod))
	for _, e := range byPeriod {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[j].Period.Before(out[i].Period)
	})
	return out, nil
}

// Periods returns the distinct periods available, newest first.
func (l *Locator) Periods() ([]payroll.Period, error) {
	entries, err := l.Discover()
	if err != nil {
		return nil, err
	}
	out := make([]payroll.Period, len(entries))
	for i, e := range entries {
		out[i] = e.Period
	}
	return out, nil
}

// Store atomically replaces the convention file for period with src.
func (l *Locator) Store(p payroll.Period, src io.Reader, ext string) (string, error) {
	if !p.Valid() {
		return "", fmt.Errorf("invalid period %s", p)
	}
	ext = strings.ToLower(ext)
	if ext != ".xlsx" && ext != ".xls" {
		return "", fmt.Errorf("unsupported spreadsheet type %q", ext)
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(l.Dir, ".upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temporary upload: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close upload: %w", err)
	}
	if _, _, err := readSheet(tmpPath, 1); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("uploaded file is not a readable spreadsheet: %w", err)
	}

	dest := filepath.Join(l.Dir, conventionFileName(p, ext))
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("install upload: %w", err)
	}
	return dest, nil
}

func (l *Locator) inspect(path string) (Entry, error) {
	p, ok, err := ReadPeriodTag(path)
	if err != nil {
		return Entry{}, err
	}
	if ok {
		return Entry{Period: p, Path: path, Source: SourceTag}, nil
	}
	if p, ok := PeriodFromFileName(filepath.Base(path)); ok {
		return Entry{Period: p, Path: path, Source: SourceFileName}, nil
	}
	return Entry{}, ErrUnrecognizedFileName
}

// preferEntry keeps convention-named files over drifted duplicates, then the
// lexically first name so discovery is deterministic.
func preferEntry(candidate, current Entry) bool {
	candidateConv := isConventionName(candidate)
	currentConv := isConventionName(current)
	if candidateConv != currentConv {
		return candidateConv
	}
	return filepath.Base(candidate.Path) < filepath.Base(current.Path)
}

func isConventionName(e Entry) bool {
	return filepath.Base(e.Path) == conventionFileName(e.Period, filepath.Ext(e.Path))
}

// spreadsheetFiles lists xlsx/xls names in Dir, sorted, excluding ~$ lock files.
func (l *Locator) spreadsheetFiles() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list payroll directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".xlsx", ".xlsm", ".xls":
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// PeriodFromFileName understands gaji_<yyyy>_<m> and names holding a year plus a
// month name, e.g. "Gaji Maret 2025.xlsx".
func PeriodFromFileName(name string) (payroll.Period, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if m := conventionName.FindStringSubmatch(base); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		p := payroll.Period{Month: month, Year: year}
		if p.Valid() {
			return p, true
		}
	}
	y := yearInName.FindStringSubmatch(base)
	if y == nil {
		return payroll.Period{}, false
	}
	month, ok := payroll.MonthInText(base)
	if !ok {
		return payroll.Period{}, false
	}
	year, _ := strconv.Atoi(y[1])
	return payroll.Period{Month: month, Year: year}, true
}
