package payroll

import "strings"

var headerSeparators = strings.NewReplacer(" ", "_", "-", "_")

// NormalizeHeader maps a spreadsheet header onto the canonical column vocabulary:
// trimmed, spaces and hyphens replaced by underscores, upper-cased.
func NormalizeHeader(header string) string {
	return strings.ToUpper(headerSeparators.Replace(strings.TrimSpace(header)))
}

func NormalizeHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = NormalizeHeader(h)
	}
	return out
}
