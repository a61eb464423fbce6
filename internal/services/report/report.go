// Package report exports ordered meals for a date range as an xlsx workbook.
package report

import (
	"bytes"
	"context"
	"sort"
	"strconv"

	"github.com/xuri/excelize/v2"

	"school-meals/internal/apperr"
	"school-meals/internal/logger"
	"school-meals/internal/models"
	"school-meals/internal/storage"
)

const (
	OrdersSheet     = "Orders"
	StatisticsSheet = "Statistics"

	// ContentType is the media type of the generated workbook
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	FileName    = "report.xlsx"

	cellDateLayout = "02.01.2006"
)

// Request selects the inclusive meal date range of the report
type Request struct {
	Start models.Date `json:"start"`
	End   models.Date `json:"end"`
}

type Service struct {
	store  storage.Store
	logger *logger.Logger
}

func NewService(store storage.Store, log *logger.Logger) *Service {
	return &Service{store: store, logger: log}
}

// Generate builds the workbook for every order on a meal date in [Start, End]
func (s *Service) Generate(ctx context.Context, req Request) (*bytes.Buffer, error) {
	if req.Start.IsZero() || req.End.IsZero() {
		return nil, apperr.Invalid("start", "start and end are required")
	}
	if req.Start.After(req.End) {
		return nil, apperr.Invalid("start", "start must not be after end")
	}

	var rows []models.ReportRow
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		rows, err = tx.ReportRows(ctx, req.Start, req.End)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap("load report rows", err)
	}

	buf, err := build(rows)
	if err != nil {
		return nil, apperr.Storage("build report", err)
	}

	s.logger.Info("report_generated", "Orders report generated", logger.RequestID(ctx), map[string]interface{}{
		"start":  req.Start.String(),
		"end":    req.End.String(),
		"orders": len(rows),
	})
	return buf, nil
}

type userKey struct {
	lastName, firstName, className string
}

type tally struct {
	byClass map[string]int
	byUser  map[userKey]int
	byDate  map[string]int
	dates   []models.Date
}

func count(rows []models.ReportRow) tally {
	t := tally{
		byClass: make(map[string]int),
		byUser:  make(map[userKey]int),
		byDate:  make(map[string]int),
	}
	for _, r := range rows {
		t.byClass[r.ClassName]++
		t.byUser[userKey{r.LastName, r.FirstName, r.ClassName}]++
		if _, seen := t.byDate[r.Date.String()]; !seen {
			t.dates = append(t.dates, r.Date)
		}
		t.byDate[r.Date.String()]++
	}
	sort.Slice(t.dates, func(i, j int) bool { return t.dates[i].Before(t.dates[j]) })
	return t
}

func build(rows []models.ReportRow) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	centered, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, err
	}

	if err := f.SetSheetName("Sheet1", OrdersSheet); err != nil {
		return nil, err
	}
	if err := writeOrders(f, rows, bold, centered); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(StatisticsSheet); err != nil {
		return nil, err
	}
	if err := writeStatistics(f, count(rows), len(rows), bold); err != nil {
		return nil, err
	}

	return f.WriteToBuffer()
}

func writeOrders(f *excelize.File, rows []models.ReportRow, bold, centered int) error {
	widths := []struct {
		col   string
		width float64
	}{{"A", 5}, {"B", 15}, {"C", 20}, {"D", 20}, {"E", 10}}
	for _, w := range widths {
		if err := f.SetColWidth(OrdersSheet, w.col, w.col, w.width); err != nil {
			return err
		}
	}

	header := []interface{}{"Nr", "Date", "Last name", "First name", "Class"}
	if err := f.SetSheetRow(OrdersSheet, "A1", &header); err != nil {
		return err
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		line := []interface{}{i + 1, r.Date.Format(cellDateLayout), r.LastName, r.FirstName, r.ClassName}
		if err := f.SetSheetRow(OrdersSheet, cell, &line); err != nil {
			return err
		}
	}

	last := "E" + strconv.Itoa(len(rows)+1)
	if err := f.SetCellStyle(OrdersSheet, "A1", last, centered); err != nil {
		return err
	}
	if err := f.SetCellStyle(OrdersSheet, "A1", "E1", bold); err != nil {
		return err
	}
	return f.AutoFilter(OrdersSheet, "A1:"+last, nil)
}

// statsWriter appends rows to the statistics sheet
type statsWriter struct {
	f    *excelize.File
	bold int
	row  int
	err  error
}

func (w *statsWriter) add(values ...interface{}) {
	if w.err != nil {
		return
	}
	w.row++
	if len(values) == 0 {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetSheetRow(StatisticsSheet, cell, &values)
}

func (w *statsWriter) heading(values ...interface{}) {
	w.add(values...)
	if w.err != nil {
		return
	}
	from, _ := excelize.CoordinatesToCellName(1, w.row)
	to, _ := excelize.CoordinatesToCellName(len(values), w.row)
	w.err = w.f.SetCellStyle(StatisticsSheet, from, to, w.bold)
}

func writeStatistics(f *excelize.File, t tally, total int, bold int) error {
	w := &statsWriter{f: f, bold: bold}

	w.heading("Class", "Meals")
	classes := make([]string, 0, len(t.byClass))
	for name := range t.byClass {
		classes = append(classes, name)
	}
	sort.Strings(classes)
	for _, name := range classes {
		w.add(name, t.byClass[name])
	}
	w.add()

	w.heading("Last name", "First name", "Class", "Meals")
	users := make([]userKey, 0, len(t.byUser))
	for k := range t.byUser {
		users = append(users, k)
	}
	sort.Slice(users, func(i, j int) bool {
		a, b := users[i], users[j]
		if a.lastName != b.lastName {
			return a.lastName < b.lastName
		}
		if a.firstName != b.firstName {
			return a.firstName < b.firstName
		}
		return a.className < b.className
	})
	for _, u := range users {
		w.add(u.lastName, u.firstName, u.className, t.byUser[u])
	}
	w.add()

	w.heading("Total meals", total)
	w.add()

	w.heading("Date", "Meals")
	for _, d := range t.dates {
		w.add(d.Format(cellDateLayout), t.byDate[d.String()])
	}
	if w.err != nil {
		return w.err
	}

	for col, width := range map[string]float64{"A": 22, "B": 15, "C": 12, "D": 10} {
		if err := f.SetColWidth(StatisticsSheet, col, col, width); err != nil {
			return err
		}
	}
	return nil
}
