package dataset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/phillip-england/payslip/internal/payroll"
)

var ErrInvalidQuery = errors.New("invalid payroll period")

// Query selects a dataset the way a caller typed it. Month is a number or a
// month name. The zero Query selects the most recent period.
type Query struct {
	Month string
	Year  string
}

// QueryFor selects exactly period p.
func QueryFor(p payroll.Period) Query {
	return Query{Month: strconv.Itoa(p.Month), Year: strconv.Itoa(p.Year)}
}

func (q Query) Latest() bool {
	return strings.TrimSpace(q.Month) == "" && strings.TrimSpace(q.Year) == ""
}

// Period parses the query. Month and year must be given together.
func (q Query) Period() (payroll.Period, error) {
	month, year := strings.TrimSpace(q.Month), strings.TrimSpace(q.Year)
	if month == "" || year == "" {
		return payroll.Period{}, fmt.Errorf("%w: month and year must be given together", ErrInvalidQuery)
	}
	p, err := payroll.ParsePeriod(month, year)
	if err != nil {
		return payroll.Period{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return p, nil
}

// byName reports whether the month was typed as text, which allows the
// name scan over file names.
func (q Query) byName() bool {
	month := strings.TrimSpace(q.Month)
	if month == "" || strings.TrimSpace(q.Year) == "" {
		return false
	}
	_, err := strconv.Atoi(month)
	return err != nil
}

// Resolved is one employee's record together with the period it belongs to.
type Resolved struct {
	Record  payroll.Record
	Period  payroll.Period
	Dataset string
}

// Resolver joins the Locator and the reader. Nothing is cached between calls, so a
// replaced upload is visible to the next request.
type Resolver struct {
	Locator *Locator
}

func NewResolver(locator *Locator) *Resolver {
	return &Resolver{Locator: locator}
}

// Open locates and loads the dataset for q. A month given by name that the
// period lookup cannot place falls back to scanning file names for it.
func (r *Resolver) Open(q Query) (*Dataset, error) {
	if q.Latest() {
		entry, err := r.Locator.Locate(nil)
		if err != nil {
			return nil, err
		}
		return r.load(entry)
	}

	p, perr := q.Period()
	if perr == nil {
		entry, err := r.Locator.Locate(&p)
		if err == nil {
			return r.load(entry)
		}
		if !errors.Is(err, ErrDatasetNotFound) || !q.byName() {
			return nil, err
		}
	} else if !q.byName() {
		return nil, perr
	}
	return r.OpenByName(q.Month, q.Year)
}

// OpenByName loads the first file whose name holds both the month text and the
// year.
func (r *Resolver) OpenByName(month, year string) (*Dataset, error) {
	entry, err := r.Locator.LocateByName(month, year)
	if err != nil {
		return nil, err
	}
	d, err := r.load(entry)
	if err != nil {
		return nil, err
	}
	if !d.Period.Valid() {
		return nil, fmt.Errorf("%w: period of %s could not be determined", ErrDatasetNotFound, entry.Path)
	}
	return d, nil
}

func (r *Resolver) load(entry Entry) (*Dataset, error) {
	d, err := Load(entry.Path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", entry.Path, err)
	}
	if entry.Period.Valid() {
		d.Period = entry.Period
	}
	return d, nil
}

// Resolve returns the record for nup in the selected dataset. ErrDatasetNotFound
// and ErrRecordNotFound are reported separately.
func (r *Resolver) Resolve(q Query, nup string) (Resolved, error) {
	d, err := r.Open(q)
	if err != nil {
		return Resolved{}, err
	}
	rec, err := d.Find(nup)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Record: rec, Period: d.Period, Dataset: d.Path}, nil
}
