// Package xlsx renders workspace analytics as an Excel workbook.
package xlsx

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

const (
	sheetSummary   = "Summary"
	sheetDaily     = "Daily"
	sheetPriority  = "By priority"
	sheetLabels    = "By label"
	sheetAttention = "Attention"
)

type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) RenderWorkbook(analytics *domain.WorkspaceAnalytics) ([]byte, error) {
	if analytics == nil {
		return nil, fmt.Errorf("render workbook: analytics is nil")
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	w := &writer{file: f, header: header}

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return nil, fmt.Errorf("rename default sheet: %w", err)
	}
	w.table(sheetSummary, []any{"Metric", "Value"}, summaryRows(analytics))

	daily := make([][]any, 0, len(analytics.Series))
	for _, p := range analytics.Series {
		daily = append(daily, []any{p.Day, p.Sent, p.Acknowledged})
	}
	w.sheet(sheetDaily, []any{"Day", "Sent", "Acknowledged"}, daily)
	w.sheet(sheetPriority, []any{"Priority", "Documents", "Acknowledged"}, breakdownRows(analytics.ByPriority))
	w.sheet(sheetLabels, []any{"Label", "Documents", "Acknowledged"}, breakdownRows(analytics.ByLabel))

	attention := make([][]any, 0, len(analytics.Attention))
	for _, item := range analytics.Attention {
		attention = append(attention, []any{
			string(item.Category),
			item.Title,
			item.DocumentID,
			item.AcknowledgedCount,
			item.Target,
			item.PendingSince.UTC().Format(time.RFC3339),
		})
	}
	w.sheet(sheetAttention, []any{"Category", "Title", "Document ID", "Acknowledged", "Target", "Pending since"}, attention)

	if w.err != nil {
		return nil, w.err
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// writer keeps the first error so sheet construction reads linearly.
type writer struct {
	file   *excelize.File
	header int
	err    error
}

func (w *writer) sheet(name string, header []any, rows [][]any) {
	if w.err != nil {
		return
	}
	if _, err := w.file.NewSheet(name); err != nil {
		w.err = fmt.Errorf("create sheet %s: %w", name, err)
		return
	}
	w.table(name, header, rows)
}

func (w *writer) table(name string, header []any, rows [][]any) {
	if w.err != nil {
		return
	}
	if err := w.file.SetSheetRow(name, "A1", &header); err != nil {
		w.err = fmt.Errorf("write %s header: %w", name, err)
		return
	}
	if err := w.file.SetRowStyle(name, 1, 1, w.header); err != nil {
		w.err = fmt.Errorf("style %s header: %w", name, err)
		return
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			w.err = err
			return
		}
		if err := w.file.SetSheetRow(name, cell, &row); err != nil {
			w.err = fmt.Errorf("write %s row %d: %w", name, i+2, err)
			return
		}
	}
	if err := w.file.SetColWidth(name, "A", "B", 22); err != nil {
		w.err = fmt.Errorf("size %s columns: %w", name, err)
	}
}

func summaryRows(a *domain.WorkspaceAnalytics) [][]any {
	rows := [][]any{
		{"Workspace", a.WorkspaceID},
		{"From", a.From},
		{"To", a.To},
		{"Sent", a.Totals.Sent},
		{"Acknowledged", a.Totals.Acknowledged},
		{"Acknowledgement rate", optional(a.Totals.AcknowledgementRate)},
		{"Outstanding", a.Totals.Outstanding},
		{"Completions measured", a.Averages.Population},
		{"Avg. max scroll %", optional(a.Averages.MaxScrollPercent)},
		{"Avg. time on page (s)", optional(a.Averages.TimeOnPageSeconds)},
		{"Avg. active time (s)", optional(a.Averages.ActiveSeconds)},
	}
	for _, c := range []domain.AttentionCategory{domain.AttentionOverdue, domain.AttentionClosing, domain.AttentionNew} {
		rows = append(rows, []any{"Attention: " + string(c), a.Categories[c]})
	}
	rows = append(rows, []any{"Generated at", a.GeneratedAt.UTC().Format(time.RFC3339)})
	return rows
}

func breakdownRows(entries []domain.BreakdownEntry) [][]any {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{e.Key, e.Total, e.Acknowledged})
	}
	return rows
}

// optional renders an absent average as an empty cell rather than zero.
func optional(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}
