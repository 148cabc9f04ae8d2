package apiapp

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/phillip-england/payslip/internal/dataset"
	"github.com/phillip-england/payslip/internal/payroll"
	"github.com/phillip-england/payslip/internal/slip"
)

func (s *server) dashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q, err := queryFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.distributor.Dashboard(q)
	if err != nil {
		s.writeDatasetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slips": rows})
}

func (s *server) upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "payroll file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	switch ext {
	case ".xlsx", ".xlsm", ".xls":
	default:
		writeError(w, http.StatusBadRequest, "payroll file must be .xlsx or .xls")
		return
	}

	var period payroll.Period
	month, year := strings.TrimSpace(r.FormValue("month")), strings.TrimSpace(r.FormValue("year"))
	switch {
	case month != "" || year != "":
		period, err = payroll.ParsePeriod(month, year)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	default:
		p, ok := dataset.PeriodFromFileName(header.Filename)
		if !ok {
			writeError(w, http.StatusBadRequest, "month and year are required")
			return
		}
		period = p
	}

	dest, err := s.locator.Store(period, file, ext)
	if err != nil {
		s.logger.Printf("WARN: rejected upload %s: %v", header.Filename, err)
		writeError(w, http.StatusBadRequest, "payroll file could not be read")
		return
	}
	s.logger.Printf("stored payroll %s for %s", dest, period)
	writeJSON(w, http.StatusCreated, map[string]string{
		"period": period.String(),
		"file":   filepath.Base(dest),
	})
}

func (s *server) sendAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q, err := queryFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.distributor.SendAll(r.Context(), q)
	if err != nil {
		s.writeDatasetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *server) resend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	nup := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/admin/resend/"), "/")
	if nup == "" {
		writeError(w, http.StatusBadRequest, "nup is required")
		return
	}
	q, err := queryFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	art, err := s.distributor.Resend(r.Context(), q, nup)
	if err != nil {
		switch {
		case errors.Is(err, dataset.ErrInvalidQuery), errors.Is(err, dataset.ErrDatasetNotFound), errors.Is(err, dataset.ErrRecordNotFound):
			s.writeDatasetError(w, err)
		case errors.Is(err, slip.ErrUnusableCredential):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			s.logger.Printf("resend %s: %v", nup, err)
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "slip sent",
		"nup":     art.NUP,
		"file":    filepath.Base(art.Path),
	})
}

func (s *server) users(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	users, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unable to list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *server) seedUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q, err := queryFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.resolver.Open(q)
	if err != nil {
		s.writeDatasetError(w, err)
		return
	}
	report, err := s.store.SeedFromRecords(r.Context(), d.Records)
	if err != nil {
		s.logger.Printf("seed users from %s: %v", d.Path, err)
		writeError(w, http.StatusInternalServerError, "unable to seed users")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
