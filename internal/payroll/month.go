package payroll

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

var indonesianMonths = [12]string{
	"Januari", "Februari", "Maret", "April", "Mei", "Juni",
	"Juli", "Agustus", "September", "Oktober", "November", "Desember",
}

var englishMonths = [12]string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

var monthFolder = cases.Fold()

var monthsByName = func() map[string]int {
	out := make(map[string]int, 24)
	for i := range indonesianMonths {
		out[monthFolder.String(indonesianMonths[i])] = i + 1
		out[monthFolder.String(englishMonths[i])] = i + 1
	}
	return out
}()

// ParseMonth accepts 1-12 (optionally "04" or "4.0") or a month name.
func ParseMonth(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		m := int(n)
		if float64(m) != n || m < 1 || m > 12 {
			return 0, false
		}
		return m, true
	}
	m, ok := monthsByName[monthFolder.String(value)]
	return m, ok
}

// MonthInText finds the first month name contained in s, case-insensitively.
func MonthInText(s string) (int, bool) {
	folded := monthFolder.String(s)
	for i := range indonesianMonths {
		if strings.Contains(folded, monthFolder.String(indonesianMonths[i])) {
			return i + 1, true
		}
	}
	for i := range englishMonths {
		if strings.Contains(folded, monthFolder.String(englishMonths[i])) {
			return i + 1, true
		}
	}
	return 0, false
}

// toEnglishMonths rewrites Indonesian month names so time.Parse understands them.
func toEnglishMonths(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		m, ok := monthsByName[monthFolder.String(f)]
		if ok {
			fields[i] = englishMonths[m-1]
		}
	}
	return strings.Join(fields, " ")
}
