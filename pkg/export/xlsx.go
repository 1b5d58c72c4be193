package export

import (
	"github.com/xuri/excelize/v2"

	"github.com/secflow/secflow/internal/model"
	"github.com/secflow/secflow/pkg/errors"
	"github.com/secflow/secflow/pkg/index"
)

// SheetName is the worksheet holding exported filings.
const SheetName = "filings"

// XLSX writes ws to an Excel workbook at path.
func XLSX(path string, ws *model.WorkingSet) error {
	if ws.Empty() {
		return errors.Precondition("export xlsx", "working set is empty; run a filter first")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return errors.Wrap(err, errors.CodeExport, "failed to name worksheet")
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return errors.Wrap(err, errors.CodeExport, "failed to open worksheet stream")
	}

	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return errors.Wrap(err, errors.CodeExport, "failed to write header row")
	}

	for i := range ws.Records {
		r := &ws.Records[i]
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Wrap(err, errors.CodeExport, "row out of range")
		}
		row := []interface{}{
			r.CIK,
			r.CompanyName,
			r.FormType,
			r.DateFiled.Format(index.DateLayout),
			r.Filename,
			r.Period.String(),
		}
		if err := sw.SetRow(cell, row); err != nil {
			return errors.Wrap(err, errors.CodeExport, "failed to write row").WithContext("row", i+2)
		}
	}
	if err := sw.Flush(); err != nil {
		return errors.Wrap(err, errors.CodeExport, "failed to flush worksheet")
	}
	if err := f.SaveAs(path); err != nil {
		return errors.Wrap(err, errors.CodeExport, "failed to save workbook").WithContext("path", path)
	}
	return nil
}
