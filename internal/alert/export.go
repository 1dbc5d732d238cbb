package alert

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Alerts"

var exportHeader = []any{"Timestamp", "Severity", "Message", "Key", "Variables", "Rule"}

// ExportAlerts writes up to limit alerts for a device to w as an XLSX
// workbook, newest first.
func (e *Engine) ExportAlerts(ctx context.Context, w io.Writer, deviceID string, limit int) error {
	alerts, err := e.ListAlerts(ctx, deviceID, limit)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck // in-memory workbook

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, a := range alerts {
		rule := ""
		if a.RuleID != nil {
			rule = strconv.FormatInt(*a.RuleID, 10)
		}
		vars := ""
		if len(a.MessageVariables) > 0 {
			vars = a.variablesJSON()
		}
		row := []any{
			a.Timestamp.UTC().Format(time.RFC3339),
			string(a.Severity),
			a.Message,
			string(a.MessageKey),
			vars,
			rule,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(exportSheet, "A", "A", 22); err != nil {
		return err
	}
	if err := f.SetColWidth(exportSheet, "C", "C", 80); err != nil {
		return err
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
