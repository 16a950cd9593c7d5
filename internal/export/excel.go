// Package export renders attendance events as spreadsheets.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"marcaje/internal/attendance"
)

const (
	eventsSheet  = "Marcajes"
	summarySheet = "Resumen"
)

var eventHeader = []any{"Fecha", "Hora", "Documento", "Nombre", "Tipo", "Estado", "Minutos tarde", "Confianza"}

// WriteEvents writes an .xlsx workbook to w with one row per event and a
// summary sheet of per-status totals. users resolves names by id; events of
// unknown users keep their id in the name column.
func WriteEvents(w io.Writer, events []attendance.Event, users map[string]attendance.User) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", eventsSheet); err != nil {
		return err
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	if err := f.SetSheetRow(eventsSheet, "A1", &eventHeader); err != nil {
		return err
	}
	if err := f.SetRowStyle(eventsSheet, 1, 1, header); err != nil {
		return err
	}
	for i, evt := range events {
		u, ok := users[evt.UserID]
		name := evt.UserID
		if ok {
			name = u.FullName()
		}
		var confidence any = ""
		if evt.Confidence != nil {
			confidence = *evt.Confidence
		}
		status := string(evt.Status)
		if evt.Type == attendance.EventExit {
			status = ""
		}
		row := []any{evt.Date, evt.Time, u.Document, name, string(evt.Type), status, evt.MinutesLate, confidence}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(eventsSheet, cell, &row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(eventsSheet, "A", "H", 16)

	if err := writeSummary(f, attendance.Summarize(events), header); err != nil {
		return err
	}
	return f.Write(w)
}

func writeSummary(f *excelize.File, st attendance.Stats, header int) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	rows := [][]any{
		{"Indicador", "Valor"},
		{"Total", st.Total},
		{"Entradas", st.Entries},
		{"Salidas", st.Exits},
		{"A tiempo", st.OnTime},
		{"Tarde", st.Late},
		{"Temprano", st.Early},
		{"Minutos tarde (total)", st.TotalMinutesLate},
		{"Minutos tarde (promedio)", st.AvgMinutesLate},
	}
	for i := range rows {
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &rows[i]); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 26)
	return f.SetRowStyle(summarySheet, 1, 1, header)
}
