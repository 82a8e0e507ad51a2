package export

import (
	"encoding/csv"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/site-enricher/internal/model"
)

// WriteCSV writes a header and one row per result. The header is written
// even when results is empty.
func WriteCSV(w io.Writer, results []*model.EnrichmentResult) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	if err := enc.EncodeHeader(Row{}); err != nil {
		return eris.Wrap(err, "export: csv header")
	}
	for _, row := range Rows(results) {
		if err := enc.Encode(row); err != nil {
			return eris.Wrapf(err, "export: csv row %s", row.Domain)
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// Header returns the column names shared by CSV and XLSX output.
func Header() []string {
	h, err := csvutil.Header(Row{}, "csv")
	if err != nil {
		// Row is a fixed struct; Header only fails on non-struct input.
		panic(err)
	}
	return h
}
