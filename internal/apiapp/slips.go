package apiapp

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/phillip-england/payslip/internal/dataset"
	"github.com/phillip-england/payslip/internal/payroll"
	"github.com/phillip-england/payslip/internal/slip"
)

type lineItemResponse struct {
	Label     string  `json:"label"`
	Amount    float64 `json:"amount"`
	Formatted string  `json:"formatted"`
}

type totalsResponse struct {
	THP           string `json:"thp"`
	Supplementary string `json:"supplementary"`
	Deductions    string `json:"deductions"`
	Gross         string `json:"gross"`
	Net           string `json:"net"`
}

type slipResponse struct {
	Period        string             `json:"period"`
	PeriodLabel   string             `json:"periodLabel"`
	NUP           string             `json:"nup"`
	Name          string             `json:"nama"`
	Status        string             `json:"status"`
	THP           []lineItemResponse `json:"thp"`
	Supplementary []lineItemResponse `json:"supplementary"`
	Deductions    []lineItemResponse `json:"deductions"`
	Totals        totalsResponse     `json:"totals"`
}

func (s *server) periods(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	periods, err := s.locator.Periods()
	if err != nil {
		s.logger.Printf("list periods: %v", err)
		writeError(w, http.StatusInternalServerError, "unable to list payroll periods")
		return
	}
	out := make([]map[string]any, 0, len(periods))
	for _, p := range periods {
		out = append(out, map[string]any{
			"period": p.String(),
			"label":  p.Label(),
			"month":  p.Month,
			"year":   p.Year,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"periods": out})
}

func (s *server) slipView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, ok := s.resolveForRequest(w, r)
	if !ok {
		return
	}
	buckets := payroll.Classify(res.Record)
	writeJSON(w, http.StatusOK, slipResponse{
		Period:        res.Period.String(),
		PeriodLabel:   res.Period.Label(),
		NUP:           res.Record.NUP(),
		Name:          res.Record.Name(),
		Status:        res.Record.Status(),
		THP:           lineItems(buckets.THP),
		Supplementary: lineItems(buckets.Supplementary),
		Deductions:    lineItems(buckets.Deductions),
		Totals: totalsResponse{
			THP:           payroll.FormatRupiah(buckets.THP.Total()),
			Supplementary: payroll.FormatRupiah(buckets.Supplementary.Total()),
			Deductions:    payroll.FormatRupiah(buckets.Deductions.Total()),
			Gross:         payroll.FormatRupiah(buckets.Gross()),
			Net:           payroll.FormatRupiah(buckets.Net()),
		},
	})
}

func (s *server) slipDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, ok := s.resolveForRequest(w, r)
	if !ok {
		return
	}
	art, err := s.generator.Generate(r.Context(), res.Record, res.Period)
	if err != nil {
		if errors.Is(err, slip.ErrUnusableCredential) {
			writeError(w, http.StatusUnprocessableEntity, "birth date on the payroll record is not usable; contact human capital")
			return
		}
		s.logger.Printf("generate slip %s %s: %v", res.Record.NUP(), res.Period, err)
		writeError(w, http.StatusInternalServerError, "unable to generate slip")
		return
	}

	f, err := os.Open(art.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unable to read slip")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unable to read slip")
		return
	}
	name := filepath.Base(art.Path)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// resolveForRequest finds the record the caller may see. Employees only see
// their own; admins may pass ?nup=.
func (s *server) resolveForRequest(w http.ResponseWriter, r *http.Request) (dataset.Resolved, bool) {
	user := userFromContext(r.Context())
	q, err := queryFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return dataset.Resolved{}, false
	}
	nup := user.NUP
	if requested := strings.TrimSpace(r.URL.Query().Get("nup")); requested != "" && requested != user.NUP {
		if !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "you may only view your own slip")
			return dataset.Resolved{}, false
		}
		nup = requested
	}
	res, err := s.resolver.Resolve(q, nup)
	if err != nil {
		s.writeDatasetError(w, err)
		return dataset.Resolved{}, false
	}
	return res, true
}

func (s *server) writeDatasetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dataset.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dataset.ErrDatasetNotFound):
		writeError(w, http.StatusNotFound, "payroll data for period not found")
	case errors.Is(err, dataset.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "payroll record not found")
	default:
		s.logger.Printf("payroll lookup: %v", err)
		writeError(w, http.StatusInternalServerError, "unable to read payroll data")
	}
}

// queryFromRequest reads month and year. Both absent means the most recent
// period; month may be a number or a name.
func queryFromRequest(r *http.Request) (dataset.Query, error) {
	q := dataset.Query{
		Month: strings.TrimSpace(r.URL.Query().Get("month")),
		Year:  strings.TrimSpace(r.URL.Query().Get("year")),
	}
	if (q.Month == "") != (q.Year == "") {
		return dataset.Query{}, errors.New("month and year must be given together")
	}
	return q, nil
}

func lineItems(b payroll.Bucket) []lineItemResponse {
	out := make([]lineItemResponse, 0, len(b))
	for _, item := range b {
		out = append(out, lineItemResponse{Label: item.Label, Amount: item.Amount, Formatted: payroll.FormatRupiah(item.Amount)})
	}
	return out
}
