package recon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"tcgledger/internal/storage"
	"tcgledger/internal/util"
)

func ExportConfirmedXLSX(db *storage.DB, outputDir string) (string, error) {
	records, err := db.ListConfirmedSales()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Confirmed Sales"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return "", err
	}

	headers := []string{"Order ID", "Item", "Quantity", "Sale Price", "Cost Basis", "Profit", "Confirmed At"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return "", err
		}
	}

	for row, r := range records {
		values := []interface{}{
			r.OrderID,
			r.ItemName,
			r.Quantity,
			util.FormatCents(r.SalePriceCents),
			util.FormatCents(r.CostBasisCents),
			util.FormatCents(r.ProfitCents),
			r.ConfirmedAt,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return "", err
			}
		}
	}

	_ = f.SetColWidth(sheet, "A", "B", 32)
	_ = f.SetColWidth(sheet, "C", "F", 14)
	_ = f.SetColWidth(sheet, "G", "G", 22)

	path := filepath.Join(outputDir, fmt.Sprintf("confirmed-sales-%s.xlsx", time.Now().Format("2006-01-02")))
	if err := f.SaveAs(path); err != nil {
		return "", err
	}
	return path, nil
}
