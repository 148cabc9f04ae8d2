package dataset

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/extrame/xls"
	"github.com/phillip-england/payslip/internal/payroll"
	"github.com/xuri/excelize/v2"
)

var errEmptySheet = errors.New("worksheet is empty")

// Dataset is every employee row of one payroll file. It is built fresh per request.
type Dataset struct {
	Path    string
	Period  payroll.Period
	Headers []string
	Records []payroll.Record
}

// Find returns the first record whose NUP equals nup as text.
func (d *Dataset) Find(nup string) (payroll.Record, error) {
	want := strings.TrimSpace(nup)
	if want == "" {
		return payroll.Record{}, ErrRecordNotFound
	}
	for _, r := range d.Records {
		if r.NUP() == want {
			return r, nil
		}
	}
	return payroll.Record{}, fmt.Errorf("%w: nup %s in %s", ErrRecordNotFound, want, filepath.Base(d.Path))
}

// Load reads every row of a payroll spreadsheet.
func Load(path string) (*Dataset, error) {
	headers, rows, err := readSheet(path, 0)
	if err != nil {
		return nil, err
	}
	d := &Dataset{Path: path, Headers: headers}
	for _, row := range rows {
		d.Records = append(d.Records, payroll.NewRecord(row.number, row.fields(headers)))
	}
	if len(d.Records) > 0 {
		if p, ok := d.Records[0].PeriodTag(); ok {
			d.Period = p
		}
	}
	if !d.Period.Valid() {
		if p, ok := PeriodFromFileName(filepath.Base(path)); ok {
			d.Period = p
		}
	}
	return d, nil
}

// ReadPeriodTag reads only the first data row and returns its BULAN/TAHUN tag.
func ReadPeriodTag(path string) (payroll.Period, bool, error) {
	headers, rows, err := readSheet(path, 1)
	if err != nil {
		return payroll.Period{}, false, err
	}
	if len(rows) == 0 {
		return payroll.Period{}, false, nil
	}
	p, ok := payroll.NewRecord(rows[0].number, rows[0].fields(headers)).PeriodTag()
	return p, ok, nil
}

type sheetRow struct {
	number int
	cells  []payroll.Cell
}

func (r sheetRow) fields(headers []string) map[string]payroll.Cell {
	out := make(map[string]payroll.Cell, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		if _, seen := out[h]; seen {
			continue
		}
		if i < len(r.cells) {
			out[h] = r.cells[i]
		} else {
			out[h] = payroll.Cell{}
		}
	}
	return out
}

// readSheet returns normalized headers and up to limit data rows (0 = all).
func readSheet(path string, limit int) ([]string, []sheetRow, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xls":
		return readXLS(path, limit)
	case ".xlsx", ".xlsm":
		return readXLSX(path, limit)
	default:
		return nil, nil, fmt.Errorf("unsupported spreadsheet type %q", filepath.Ext(path))
	}
}

func readXLSX(path string, limit int) ([]string, []sheetRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, nil, fmt.Errorf("%s: no worksheet found", filepath.Base(path))
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	defer func() { _ = rows.Close() }()

	typer := &cellTyper{file: f, sheet: sheet, dateStyles: map[int]bool{}}
	var headers []string
	var out []sheetRow
	rowNumber := 0
	for rows.Next() {
		rowNumber++
		cols, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, nil, fmt.Errorf("%s row %d: %w", filepath.Base(path), rowNumber, err)
		}
		if blankRow(cols) {
			continue
		}
		if headers == nil {
			headers = payroll.NormalizeHeaders(cols)
			continue
		}
		cells := make([]payroll.Cell, len(cols))
		for i, raw := range cols {
			cells[i] = typer.cell(i+1, rowNumber, raw)
		}
		out = append(out, sheetRow{number: rowNumber, cells: cells})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := rows.Error(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if headers == nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), errEmptySheet)
	}
	return headers, out, nil
}

func readXLS(path string, limit int) ([]string, []sheetRow, error) {
	workbook, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	if workbook.NumSheets() == 0 {
		return nil, nil, fmt.Errorf("%s: no worksheet found", filepath.Base(path))
	}
	all := workbook.ReadAllCells(100000)

	var headers []string
	var out []sheetRow
	for idx, cols := range all {
		if blankRow(cols) {
			continue
		}
		if headers == nil {
			headers = payroll.NormalizeHeaders(cols)
			continue
		}
		cells := make([]payroll.Cell, len(cols))
		for i, raw := range cols {
			cells[i] = payroll.TextCell(raw)
		}
		out = append(out, sheetRow{number: idx + 1, cells: cells})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if headers == nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), errEmptySheet)
	}
	return headers, out, nil
}

func blankRow(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// cellTyper recovers the value kind that RawCellValue strings lose.
type cellTyper struct {
	file       *excelize.File
	sheet      string
	dateStyles map[int]bool
}

func (c *cellTyper) cell(col, row int, raw string) payroll.Cell {
	if strings.TrimSpace(raw) == "" {
		return payroll.Cell{}
	}
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return payroll.TextCell(raw)
	}
	kind, err := c.file.GetCellType(c.sheet, name)
	if err != nil {
		return payroll.TextCell(raw)
	}
	switch kind {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeBool, excelize.CellTypeError:
		return payroll.TextCell(raw)
	case excelize.CellTypeDate:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return payroll.DateCell(t)
		}
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			return payroll.DateCell(t)
		}
		return payroll.TextCell(raw)
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return payroll.TextCell(raw)
	}
	if c.isDateStyled(name) {
		if t, err := excelize.ExcelDateToTime(v, false); err == nil {
			return payroll.DateCell(t)
		}
	}
	return payroll.NumberCell(v)
}

func (c *cellTyper) isDateStyled(cell string) bool {
	styleID, err := c.file.GetCellStyle(c.sheet, cell)
	if err != nil || styleID == 0 {
		return false
	}
	if known, ok := c.dateStyles[styleID]; ok {
		return known
	}
	isDate := false
	if style, err := c.file.GetStyle(styleID); err == nil && style != nil {
		isDate = dateNumFmt(style.NumFmt, style.CustomNumFmt)
	}
	c.dateStyles[styleID] = isDate
	return isDate
}

// dateNumFmt recognizes the built-in date formats and custom formats with day/year tokens.
func dateNumFmt(id int, custom *string) bool {
	if custom != nil && *custom != "" {
		return customFormatIsDate(*custom)
	}
	switch {
	case id >= 14 && id <= 22:
		return true
	case id >= 27 && id <= 36:
		return true
	case id >= 45 && id <= 47:
		return true
	case id >= 50 && id <= 58:
		return true
	}
	return false
}

func customFormatIsDate(format string) bool {
	inQuote := false
	for _, r := range strings.ToLower(format) {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == 'd' || r == 'y':
			return true
		}
	}
	return false
}
