package slip

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/phillip-england/payslip/internal/payroll"
)

//go:embed templates/slip.html
var templatesFS embed.FS

var slipTmpl = template.Must(template.New("slip.html").Funcs(template.FuncMap{
	"rupiah": payroll.FormatRupiah,
}).ParseFS(templatesFS, "templates/slip.html"))

// Branding is the per-installation text and imagery printed on every slip.
type Branding struct {
	CompanyName string
	SignerName  string
	SignerTitle string
	Logo        template.URL
	Signature   template.URL
}

// View is the populated field set handed to the renderer.
type View struct {
	Branding
	NUP         string
	Name        string
	Position    string
	Unit        string
	Status      string
	Period      payroll.Period
	Buckets     payroll.Buckets
	THPTotal    float64
	SuppTotal   float64
	DeductTotal float64
	Gross       float64
	Net         float64
	QRCode      template.URL
	GeneratedAt time.Time
}

func NewView(rec payroll.Record, period payroll.Period, brand Branding, now time.Time) (View, error) {
	buckets := payroll.Classify(rec)
	qr, err := QRCodeDataURI(QRPayload(rec.NUP(), period, brand.SignerName, brand.SignerTitle))
	if err != nil {
		return View{}, fmt.Errorf("qr code: %w", err)
	}
	return View{
		Branding:    brand,
		NUP:         rec.NUP(),
		Name:        rec.Name(),
		Position:    rec.Text("JABATAN"),
		Unit:        rec.Text("UNIT_KERJA"),
		Status:      rec.Status(),
		Period:      period,
		Buckets:     buckets,
		THPTotal:    buckets.THP.Total(),
		SuppTotal:   buckets.Supplementary.Total(),
		DeductTotal: buckets.Deductions.Total(),
		Gross:       buckets.Gross(),
		Net:         buckets.Net(),
		QRCode:      qr,
		GeneratedAt: now,
	}, nil
}

func (v View) HTML() (string, error) {
	var buf bytes.Buffer
	if err := slipTmpl.Execute(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}
