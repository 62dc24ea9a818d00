/*
Package batch turns uploaded spreadsheets into challenge batches.

PURPOSE:
  Reads the first sheet of an .xlsx file (or a .csv file), maps its header
  onto user_id / steps / date, and converts each row into a BatchRow.

HEADER ALIASES (case-insensitive, trimmed):
  user_id: "user_id", "userid", "user id"
  steps:   "steps"
  date:    "date"

ROW HANDLING:
  Bad rows are collected in Result.Errors and skipped; they do not fail
  the file. A missing required column fails the whole file.

DATE CELLS:
  YYYY-MM-DD, DD/MM/YYYY, or an Excel serial number. All are normalized to
  midnight UTC.

SEE ALSO:
  - spool.go: Temporary storage and discard-after-ingest
  - challenge/ingest.go: Consumes the parsed batch
*/
package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/warp/step-league/challenge"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for extensions other than .xlsx and .csv.
var ErrUnsupportedFormat = fmt.Errorf("%w: unsupported file format", challenge.ErrInvalidBatch)

// RowError is a skipped row. Row is the spreadsheet row number (header is 1).
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

func (e RowError) String() string {
	return fmt.Sprintf("Row %d: %s", e.Row, e.Reason)
}

// Result holds the rows that parsed and the ones that did not.
type Result struct {
	Rows   []challenge.BatchRow
	Errors []RowError
}

// MissingColumnsError is returned when the header lacks a required column.
type MissingColumnsError struct {
	Missing   []string
	Available []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns: %s. Available columns: %s",
		strings.Join(e.Missing, ", "), strings.Join(e.Available, ", "))
}

func (e *MissingColumnsError) Unwrap() error {
	return challenge.ErrInvalidBatch
}

const (
	colUserID = "user_id"
	colSteps  = "steps"
	colDate   = "date"
)

var requiredColumns = []string{colUserID, colSteps, colDate}

// Parse reads a batch file. name selects the format by extension.
func Parse(r io.Reader, name string) (Result, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(r)
	case ".csv":
		rows, err = readCSV(r)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
	if err != nil {
		return Result{}, err
	}
	return parseRows(rows)
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read workbook: %v", challenge.ErrInvalidBatch, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, challenge.ErrEmptyBatch
	}
	// Raw values keep date cells as serial numbers instead of the cell's
	// display format.
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read sheet %q: %v", challenge.ErrInvalidBatch, sheets[0], err)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read csv: %v", challenge.ErrInvalidBatch, err)
	}
	return rows, nil
}

func parseRows(rows [][]string) (Result, error) {
	if len(rows) == 0 {
		return Result{}, challenge.ErrEmptyBatch
	}

	index, err := headerIndex(rows[0])
	if err != nil {
		return Result{}, err
	}

	var res Result
	for i, cells := range rows[1:] {
		rowNum := i + 2
		if blank(cells) {
			continue
		}

		userID := strings.TrimSpace(cell(cells, index[colUserID]))
		if userID == "" {
			res.Errors = append(res.Errors, RowError{Row: rowNum, Reason: "Missing user_id"})
			continue
		}

		steps, ok := parseSteps(cell(cells, index[colSteps]))
		if !ok {
			res.Errors = append(res.Errors, RowError{Row: rowNum, Reason: "Invalid steps value"})
			continue
		}

		date, err := parseDateCell(cell(cells, index[colDate]))
		if err != nil {
			res.Errors = append(res.Errors, RowError{Row: rowNum, Reason: "Invalid date format"})
			continue
		}

		res.Rows = append(res.Rows, challenge.BatchRow{
			UserID: challenge.UserID(userID),
			Steps:  steps,
			Date:   date,
		})
	}
	return res, nil
}

// headerIndex maps canonical column names to positions.
func headerIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(requiredColumns))
	var available []string
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if name == "" {
			continue
		}
		available = append(available, name)
		canonical := canonicalColumn(name)
		if _, seen := index[canonical]; !seen {
			index[canonical] = i
		}
	}

	var missing []string
	for _, c := range requiredColumns {
		if _, ok := index[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Missing: missing, Available: available}
	}
	return index, nil
}

func canonicalColumn(name string) string {
	switch name {
	case "user_id", "userid", "user id":
		return colUserID
	default:
		return name
	}
}

// parseSteps truncates fractional counts. A blank cell counts as zero.
func parseSteps(s string) (int, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > math.MaxInt32 {
		return 0, false
	}
	return int(v), true
}

var errBlankDate = errors.New("blank date")

func parseDateCell(s string) (challenge.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return challenge.Date{}, errBlankDate
	}
	if !strings.ContainsAny(s, "/-") {
		serial, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return challenge.Date{}, fmt.Errorf("%w: %q", challenge.ErrMalformedDate, s)
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return challenge.Date{}, fmt.Errorf("%w: %q", challenge.ErrMalformedDate, s)
		}
		return challenge.DateOf(t), nil
	}
	return challenge.ParseBatchDate(isoDatePart(s))
}

// isoDatePart drops the time from an ISO datetime such as
// 2025-12-01T00:00:00Z. The calendar date is taken as written, without a
// zone conversion.
func isoDatePart(s string) string {
	const n = len("2006-01-02")
	if len(s) > n && (s[n] == 'T' || s[n] == ' ') && strings.Count(s[:n], "-") == 2 {
		return s[:n]
	}
	return s
}

func cell(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
