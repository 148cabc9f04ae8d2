package payroll

import (
	"math"
	"strings"
	"time"
)

// FallbackCredential is issued when no birth date can be read at all.
const FallbackCredential = "00000000"

const credentialLayout = "02012006"

// serialEpoch is day zero of the spreadsheet date-serial convention.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// Day-first layouts tried in order against text birth dates.
var birthDateLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	"2.1.2006",
	"02012006",
	"2006-01-02",
	"2006/01/02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006 15:04:05",
	"02-01-2006 15:04:05",
	"2 January 2006",
	"2 Jan 2006",
	"02 January 2006",
	"02 Jan 2006",
	time.RFC3339,
}

// Two-digit years are placed in the most recent century that does not put the
// birth date in the future.
var shortYearLayouts = []string{
	"02/01/06",
	"2/1/06",
	"02-01-06",
	"2-1-06",
	"02.01.06",
	"2.1.06",
}

// DeriveCredential turns a TTL cell into the 8-digit ddmmyyyy credential used both
// as the initial login password and as the slip document password. It never fails.
func DeriveCredential(c Cell) string {
	if t, ok := ParseBirthDate(c); ok {
		return t.Format(credentialLayout)
	}
	switch c.Kind {
	case CellEmpty:
		return FallbackCredential
	case CellNumber:
		return padCredential(c.String())
	default:
		return padCredential(c.Text)
	}
}

// ParseBirthDate reports the calendar date held by c, if any.
func ParseBirthDate(c Cell) (time.Time, bool) {
	switch c.Kind {
	case CellDate:
		return c.Time, usableYear(c.Time)
	case CellNumber:
		return serialToDate(c.Number)
	case CellText:
		return parseBirthDateText(c.Text)
	default:
		return time.Time{}, false
	}
}

func serialToDate(serial float64) (time.Time, bool) {
	if math.IsNaN(serial) || math.IsInf(serial, 0) || serial < 1 || serial > 3e6 {
		return time.Time{}, false
	}
	t := serialEpoch.AddDate(0, 0, int(math.Floor(serial)))
	return t, usableYear(t)
}

func parseBirthDateText(raw string) (time.Time, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, false
	}
	candidates := []string{value}
	if english := toEnglishMonths(value); english != value {
		candidates = append(candidates, english)
	}
	for _, candidate := range candidates {
		for _, layout := range birthDateLayouts {
			if t, err := time.Parse(layout, candidate); err == nil && usableYear(t) {
				return t, true
			}
		}
	}
	for _, layout := range shortYearLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return pivotCentury(t, time.Now()), true
		}
	}
	return time.Time{}, false
}

func pivotCentury(t, now time.Time) time.Time {
	year := now.Year()/100*100 + t.Year()%100
	if year > now.Year() {
		year -= 100
	}
	return time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// usableYear keeps ddmmyyyy at exactly eight digits.
func usableYear(t time.Time) bool {
	return !t.IsZero() && t.Year() >= 1000 && t.Year() <= 9999
}

func padCredential(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	s := digits.String()
	if len(s) >= len(FallbackCredential) {
		return s[:len(FallbackCredential)]
	}
	return strings.Repeat("0", len(FallbackCredential)-len(s)) + s
}
