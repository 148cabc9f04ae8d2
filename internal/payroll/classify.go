package payroll

import "strings"

type StatusCategory int

const (
	StatusUnknown StatusCategory = iota
	StatusPermanent
	StatusFixedTerm
	StatusSupplemental
)

func (s StatusCategory) String() string {
	switch s {
	case StatusPermanent:
		return "permanent"
	case StatusFixedTerm:
		return "fixed_term"
	case StatusSupplemental:
		return "supplemental"
	default:
		return "unknown"
	}
}

// ParseStatus reads STATUS_PEGAWAI values: PKWTT, PKWT or Tambahan.
func ParseStatus(raw string) StatusCategory {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pkwtt":
		return StatusPermanent
	case "pkwt":
		return StatusFixedTerm
	case "tambahan":
		return StatusSupplemental
	default:
		return StatusUnknown
	}
}

// Component binds a slip label to its source column.
type Component struct {
	Label string
	Field string
}

type componentSet struct {
	thp           []Component
	supplementary []Component
	deductions    []Component
}

var (
	incentive        = Component{"Insentif", "INSENTIF"}
	meal             = Component{"Uang Makan", "FOODING"}
	transport        = Component{"Uang Transport", "TRANSPORT"}
	housing          = Component{"Uang Perumahan", "PERUMAHAN"}
	honorarium       = Component{"Honorarium", "GAJI_KONTRAK"}
	dplk             = Component{"DPLK", "DPLK"}
	coopSavings      = Component{"Simp. Wajib Koperasi", "SIKOP"}
	coopLoan         = Component{"Pinjaman Koperasi", "PINKOP"}
	unionDues        = Component{"Serikat Pekerja", "SP"}
	oldAgeInsurance  = Component{"BPJS Ketenagakerjaan - JHT", "JAMSOSTEK"}
	pensionInsurance = Component{"BPJS Ketenagakerjaan - JP", "JAMINAN_PENSIUN"}
	healthInsurance  = Component{"BPJS Kesehatan", "BPJS_KESEHATAN"}
	miscDeduction    = Component{"Lain-Lain", "LAIN_LAIN"}
)

var componentsByStatus = map[StatusCategory]componentSet{
	StatusPermanent: {
		thp: []Component{
			{"Gaji Dasar 1", "GAJI_DASAR_1"},
			{"Gaji Dasar 2", "GAJI_DASAR_2"},
			{"Tunjangan Grade", "TUNJ_GRADE"},
		},
		supplementary: []Component{
			incentive,
			{"Tunjangan Struktural", "TUNJ_STRUKTURAL"},
			meal,
			transport,
			{"Telpon", "TELPON"},
			{"Uang Bensin", "BENSIN"},
			housing,
			{"EToll", "ETOLL"},
			{"Tunjangan Kendaraan", "KENDARAAN"},
		},
		deductions: []Component{
			{"IDP", "IDP"},
			{"PIP", "PIP"},
			dplk,
			coopSavings,
			coopLoan,
			unionDues,
			oldAgeInsurance,
			pensionInsurance,
			healthInsurance,
			miscDeduction,
		},
	},
	StatusFixedTerm: {
		thp: []Component{
			honorarium,
			{"Bantuan DPLK", "BANTUAN_DPLK"},
		},
		supplementary: []Component{incentive, meal, transport},
		deductions: []Component{
			dplk,
			coopSavings,
			coopLoan,
			unionDues,
			oldAgeInsurance,
			pensionInsurance,
			healthInsurance,
			miscDeduction,
		},
	},
	StatusSupplemental: {
		thp:           []Component{honorarium},
		supplementary: []Component{housing, transport},
		deductions: []Component{
			coopSavings,
			coopLoan,
			oldAgeInsurance,
			pensionInsurance,
			healthInsurance,
		},
	},
}

// LineItem is one labelled amount on the slip.
type LineItem struct {
	Label  string
	Field  string
	Amount float64
}

type Bucket []LineItem

func (b Bucket) Total() float64 {
	var sum float64
	for _, item := range b {
		sum += item.Amount
	}
	return sum
}

// Buckets partitions a record's compensation into take-home pay, supplementary
// income and deductions. Label order follows the fixed per-status tables.
type Buckets struct {
	Status        StatusCategory
	THP           Bucket
	Supplementary Bucket
	Deductions    Bucket
}

func (b Buckets) Gross() float64 {
	return b.THP.Total() + b.Supplementary.Total()
}

func (b Buckets) Net() float64 {
	return b.Gross() - b.Deductions.Total()
}

// Classify fills the component table for the record's status. Missing columns
// count as zero; an unrecognized status yields three empty buckets.
func Classify(r Record) Buckets {
	status := ParseStatus(r.Status())
	set := componentsByStatus[status]
	return Buckets{
		Status:        status,
		THP:           fill(r, set.thp),
		Supplementary: fill(r, set.supplementary),
		Deductions:    fill(r, set.deductions),
	}
}

func fill(r Record, components []Component) Bucket {
	out := make(Bucket, 0, len(components))
	for _, c := range components {
		out = append(out, LineItem{Label: c.Label, Field: c.Field, Amount: r.Amount(c.Field)})
	}
	return out
}
