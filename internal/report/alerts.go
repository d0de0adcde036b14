package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Spok95/price-alerts/internal/domain/alerts"
)

var alertHeader = []interface{}{
	"id",
	"user_id",
	"telegram_id",
	"symbol",
	"rule",
	"value",
	"enabled",
	"cooldown_seconds",
	"last_met",
	"last_fired_at",
	"expires_at",
	"created_at",
}

// WriteAlerts renders list as a single-sheet xlsx workbook into w.
func WriteAlerts(w io.Writer, list []alerts.Alert) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())

	header := alertHeader
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	row := 2
	for _, a := range list {
		excelRow := []interface{}{
			a.ID,
			a.UserID,
			a.Recipient,
			a.Symbol,
			string(a.Rule),
			a.Value,
			a.Enabled,
			a.CooldownSeconds,
			a.LastMet.String(),
			formatTime(a.LastFiredAt),
			formatTime(a.ExpiresAt),
			a.CreatedAt.UTC().Format(time.RFC3339),
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &excelRow); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}
		row++
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
