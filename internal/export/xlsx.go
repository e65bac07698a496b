package export

import (
	"encoding/json"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/ratescan/ratescan/internal/schedules"
)

const (
	schedulesSheet = "Rate Schedules"
	chargesSheet   = "Charges"
)

// renderXLSX builds the workbook: one row per extracted schedule on
// the first sheet, one row per charge on the second.
func renderXLSX(sched *schedules.Schedule, ext *schedules.Extraction, payload schedules.Payload) ([]byte, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", schedulesSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(chargesSheet); err != nil {
		return nil, err
	}

	writeRow(f, schedulesSheet, 1, []any{
		"Utility", "Schedule Name", "Code", "Effective Date", "Customer Class",
		"Eligibility Summary", "Demand kW Max", "Service Voltage", "Geography",
		"Metering", "Exclusions", "Pages", "Extraction Version",
	})

	pages := fmt.Sprintf("%d-%d", sched.PageStart, sched.PageEnd)
	for i, item := range payload.Schedules {
		writeRow(f, schedulesSheet, i+2, []any{
			sched.Utility,
			item.ScheduleName,
			strValue(item.ScheduleCode),
			strValue(item.EffectiveDate),
			strValue(item.CustomerClass),
			item.Eligibility.Summary,
			floatValue(item.Eligibility.Rules.DemandKWMax),
			strValue(item.Eligibility.Rules.ServiceVoltage),
			strValue(item.Eligibility.Rules.Geography),
			strValue(item.Eligibility.Rules.Metering),
			strValue(item.Eligibility.Exclusions),
			pages,
			ext.Version,
		})
	}

	writeRow(f, chargesSheet, 1, []any{
		"Schedule Name", "Type", "Value", "Unit", "Structure", "Tiers", "Notes",
	})

	row := 2
	for _, item := range payload.Schedules {
		for _, charge := range item.Charges {
			writeRow(f, chargesSheet, row, []any{
				item.ScheduleName,
				charge.Type,
				floatValue(charge.Value),
				strValue(charge.Unit),
				strValue(charge.Structure),
				tiersValue(charge.Tiers),
				strValue(charge.Notes),
			})
			row++
		}
	}

	widths := []struct {
		sheet      string
		start, end string
		width      float64
	}{
		{schedulesSheet, "A", "B", 28},
		{schedulesSheet, "C", "E", 16},
		{schedulesSheet, "F", "F", 48},
		{schedulesSheet, "G", "K", 16},
		{chargesSheet, "A", "A", 28},
		{chargesSheet, "B", "E", 14},
		{chargesSheet, "F", "G", 40},
	}
	for _, w := range widths {
		if err := f.SetColWidth(w.sheet, w.start, w.end, w.width); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			continue
		}
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func floatValue(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func tiersValue(raw json.RawMessage) string {
	trimmed := string(raw)
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	return trimmed
}
