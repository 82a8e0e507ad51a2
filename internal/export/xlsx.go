package export

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/site-enricher/internal/domain"
	"github.com/sells-group/site-enricher/internal/model"
)

// SheetName is the worksheet WriteXLSX creates.
const SheetName = "Enrichments"

// WriteXLSX writes results to a single-sheet workbook.
func WriteXLSX(w io.Writer, results []*model.EnrichmentResult) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, name := range Header() {
		header.AddCell().SetString(name)
	}

	for _, row := range Rows(results) {
		xr := sheet.AddRow()
		for _, v := range row.cells() {
			cell := xr.AddCell()
			switch t := v.(type) {
			case int:
				cell.SetInt(t)
			case float64:
				cell.SetFloat(t)
			case string:
				cell.SetString(t)
			}
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}

// headerNames are first-row values treated as a column title rather than a
// domain.
var headerNames = map[string]bool{"domain": true, "website": true, "url": true, "site": true}

// ReadSheetDomains reads the first column of the first sheet in an XLSX
// file and runs it through domain.ReadDomains. A title row such as "domain"
// or "website" is skipped.
func ReadSheetDomains(path string) ([]string, []domain.LineError, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "export: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, nil, eris.Errorf("export: %s has no sheets", path)
	}

	var sb strings.Builder
	for i, row := range f.Sheets[0].Rows {
		var v string
		if row != nil && len(row.Cells) > 0 {
			v = strings.TrimSpace(row.Cells[0].String())
		}
		if i == 0 && headerNames[strings.ToLower(v)] {
			v = "# " + v
		}
		sb.WriteString(v)
		sb.WriteByte('\n')
	}
	return domain.ReadDomains(strings.NewReader(sb.String()))
}
