package payroll

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Canonical column names after NormalizeHeader.
const (
	FieldNUP    = "NUP"
	FieldName   = "NAMA"
	FieldEmail  = "EMAIL"
	FieldTTL    = "TTL"
	FieldStatus = "STATUS_PEGAWAI"
	FieldMonth  = "BULAN"
	FieldYear   = "TAHUN"
)

type CellKind int

const (
	CellEmpty CellKind = iota
	CellText
	CellNumber
	CellDate
)

// Cell is one raw spreadsheet value.
type Cell struct {
	Kind   CellKind
	Text   string
	Number float64
	Time   time.Time
}

func TextCell(s string) Cell {
	if strings.TrimSpace(s) == "" {
		return Cell{Kind: CellEmpty}
	}
	return Cell{Kind: CellText, Text: s}
}

func NumberCell(v float64) Cell {
	return Cell{Kind: CellNumber, Number: v}
}

func DateCell(t time.Time) Cell {
	return Cell{Kind: CellDate, Time: t}
}

func (c Cell) IsEmpty() bool {
	return c.Kind == CellEmpty
}

func (c Cell) String() string {
	switch c.Kind {
	case CellText:
		return c.Text
	case CellNumber:
		return strconv.FormatFloat(c.Number, 'f', -1, 64)
	case CellDate:
		return c.Time.Format("2006-01-02")
	default:
		return ""
	}
}

// Float returns the numeric value of the cell, or 0 when it has none.
func (c Cell) Float() float64 {
	switch c.Kind {
	case CellNumber:
		if math.IsNaN(c.Number) || math.IsInf(c.Number, 0) {
			return 0
		}
		return c.Number
	case CellText:
		raw := strings.ReplaceAll(strings.TrimSpace(c.Text), ",", "")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return v
	default:
		return 0
	}
}

// Record is one employee row of a payroll dataset, keyed by normalized column name.
type Record struct {
	Fields     map[string]Cell
	Row        int
	Credential string
}

func NewRecord(row int, fields map[string]Cell) Record {
	if fields == nil {
		fields = map[string]Cell{}
	}
	return Record{
		Fields:     fields,
		Row:        row,
		Credential: DeriveCredential(fields[FieldTTL]),
	}
}

func (r Record) Get(field string) Cell {
	return r.Fields[field]
}

func (r Record) Text(field string) string {
	return strings.TrimSpace(r.Fields[field].String())
}

func (r Record) Amount(field string) float64 {
	return r.Fields[field].Float()
}

func (r Record) NUP() string    { return r.Text(FieldNUP) }
func (r Record) Name() string   { return r.Text(FieldName) }
func (r Record) Email() string  { return r.Text(FieldEmail) }
func (r Record) Status() string { return r.Text(FieldStatus) }

// PeriodTag reads the BULAN/TAHUN columns embedded in the row.
func (r Record) PeriodTag() (Period, bool) {
	month, ok := ParseMonth(r.Text(FieldMonth))
	if !ok {
		return Period{}, false
	}
	year, err := strconv.Atoi(strings.TrimSuffix(r.Text(FieldYear), ".0"))
	if err != nil {
		return Period{}, false
	}
	p := Period{Month: month, Year: year}
	if !p.Valid() {
		return Period{}, false
	}
	return p, true
}

// Period identifies one monthly payroll dataset.
type Period struct {
	Month int
	Year  int
}

func (p Period) Valid() bool {
	return p.Month >= 1 && p.Month <= 12 && p.Year >= 1000 && p.Year <= 9999
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

func (p Period) MonthName() string {
	if p.Month < 1 || p.Month > 12 {
		return "Unknown"
	}
	return indonesianMonths[p.Month-1]
}

// Label is the human form used in subjects and file names, e.g. "April 2025".
func (p Period) Label() string {
	return fmt.Sprintf("%s %04d", p.MonthName(), p.Year)
}

func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

// ParsePeriod accepts a month as number or name and a 4-digit year.
func ParsePeriod(month, year string) (Period, error) {
	m, ok := ParseMonth(month)
	if !ok {
		return Period{}, fmt.Errorf("invalid month %q", month)
	}
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return Period{}, fmt.Errorf("invalid year %q", year)
	}
	p := Period{Month: m, Year: y}
	if !p.Valid() {
		return Period{}, fmt.Errorf("invalid period %s", p)
	}
	return p, nil
}
