package payroll

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var rupiahPrinter = message.NewPrinter(language.Indonesian)

// FormatRupiah rounds half away from zero and groups thousands with dots: 10000 -> "10.000".
func FormatRupiah(value float64) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "0"
	}
	return rupiahPrinter.Sprintf("%d", int64(roundHalfUp(value)))
}

func roundHalfUp(v float64) float64 {
	if v >= 0 {
		return math.Floor(v + 0.5)
	}
	return math.Ceil(v - 0.5)
}
