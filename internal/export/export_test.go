package export

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/site-enricher/internal/model"
)

func sampleResults() []*model.EnrichmentResult {
	return []*model.EnrichmentResult{
		{
			Domain:       "acme.com",
			Name:         "acme.com (Jane Doe)",
			URL:          "https://acme.com",
			Status:       model.StatusCompleted,
			PagesScraped: 4,
			Emails:       []string{"info@acme.com", "sales@acme.com"},
			CompletedAt:  time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
			Analysis: &model.CompanyAnalysis{
				CompanySummary:          "Acme makes widgets, gadgets and more.",
				Industry:                "Manufacturing",
				CompanyOwner:            "Jane Doe",
				PrimaryProductsServices: []string{"widgets", "gadgets"},
				ConfidenceScore:         0.9,
			},
		},
		nil,
		{
			Domain:          "down.io",
			Status:          model.StatusFailed,
			EnrichmentError: "no pages could be fetched",
		},
	}
}

func TestNewRow(t *testing.T) {
	rows := Rows(sampleResults())
	require.Len(t, rows, 2)

	assert.Equal(t, "info@acme.com; sales@acme.com", rows[0].Emails)
	assert.Equal(t, "widgets; gadgets", rows[0].Products)
	assert.Equal(t, "2026-02-03T04:05:06Z", rows[0].CompletedAt)
	assert.Equal(t, 0.9, rows[0].ConfidenceScore)

	assert.Equal(t, "failed", rows[1].Status)
	assert.Equal(t, "no pages could be fetched", rows[1].Error)
	assert.Empty(t, rows[1].Industry)
	assert.Empty(t, rows[1].CompletedAt)
}

func TestHeader_MatchesCells(t *testing.T) {
	h := Header()
	assert.Len(t, Row{}.cells(), len(h))
	assert.Equal(t, "domain", h[0])
	assert.Equal(t, "completed_at", h[len(h)-1])
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleResults()))

	var got []Row
	require.NoError(t, csvutil.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, Rows(sampleResults()), got)

	// Commas inside values are quoted.
	assert.Contains(t, buf.String(), `"Acme makes widgets, gadgets and more."`)
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Equal(t, strings.Join(Header(), ","), lines[0])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleResults()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	sheet, ok := f.Sheet[SheetName]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)

	assert.Equal(t, "domain", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "acme.com", sheet.Rows[1].Cells[0].String())
	assert.Equal(t, "down.io", sheet.Rows[2].Cells[0].String())

	pages, err := sheet.Rows[1].Cells[5].Int()
	require.NoError(t, err)
	assert.Equal(t, 4, pages)

	conf, err := sheet.Rows[1].Cells[26].Float()
	require.NoError(t, err)
	assert.InDelta(t, 0.9, conf, 1e-9)
}

func writeSheet(t *testing.T, values ...string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	require.NoError(t, err)
	for _, v := range values {
		sheet.AddRow().AddCell().SetString(v)
	}
	path := filepath.Join(t.TempDir(), "leads.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadSheetDomains(t *testing.T) {
	path := writeSheet(t, "Website", "https://www.acme.com/about", "beta.io", "acme.com", "nope")

	domains, problems, err := ReadSheetDomains(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"acme.com", "beta.io"}, domains)
	require.Len(t, problems, 2)
	assert.Equal(t, 4, problems[0].Line)
	assert.Contains(t, problems[0].Reason, "duplicate of line 2")
	assert.Equal(t, 5, problems[1].Line)
	assert.Equal(t, "invalid domain", problems[1].Reason)
}

func TestReadSheetDomains_MissingFile(t *testing.T) {
	_, _, err := ReadSheetDomains(filepath.Join(t.TempDir(), "missing.xlsx"))
	assert.ErrorContains(t, err, "export: open xlsx")
}
