// Package export writes stored enrichment results as flat spreadsheet rows
// and reads domain lists back out of spreadsheets.
package export

import (
	"strings"
	"time"

	"github.com/sells-group/site-enricher/internal/model"
)

// Row is one enrichment result flattened for CSV and XLSX output. List
// fields are joined with "; ".
type Row struct {
	Domain          string  `csv:"domain"`
	Name            string  `csv:"name"`
	URL             string  `csv:"url"`
	Status          string  `csv:"enrichment_status"`
	Error           string  `csv:"enrichment_error"`
	PagesScraped    int     `csv:"pages_scraped"`
	Emails          string  `csv:"emails"`
	BusinessType    string  `csv:"business_type_description"`
	CompanySummary  string  `csv:"company_summary"`
	Industry        string  `csv:"industry"`
	NAICSCode       string  `csv:"naics_code"`
	CompanyOwner    string  `csv:"company_owner"`
	City            string  `csv:"city"`
	StateRegion     string  `csv:"state_region"`
	PostalCode      string  `csv:"postal_code"`
	Country         string  `csv:"country"`
	Employees       string  `csv:"number_of_employees"`
	AnnualRevenue   string  `csv:"annual_revenue"`
	Timezone        string  `csv:"timezone"`
	TargetMarket    string  `csv:"target_market"`
	Products        string  `csv:"primary_products_services"`
	ValueProps      string  `csv:"value_propositions"`
	Advantages      string  `csv:"competitive_advantages"`
	Technologies    string  `csv:"technologies_used"`
	Certifications  string  `csv:"certifications_awards"`
	PainPoints      string  `csv:"pain_points_addressed"`
	ConfidenceScore float64 `csv:"confidence_score"`
	CompletedAt     string  `csv:"completed_at"`
}

// NewRow flattens r.
func NewRow(r *model.EnrichmentResult) Row {
	row := Row{
		Domain:       r.Domain,
		Name:         r.Name,
		URL:          r.URL,
		Status:       string(r.Status),
		Error:        r.EnrichmentError,
		PagesScraped: r.PagesScraped,
		Emails:       strings.Join(r.Emails, "; "),
	}
	if !r.CompletedAt.IsZero() {
		row.CompletedAt = r.CompletedAt.UTC().Format(time.RFC3339)
	}
	a := r.Analysis
	if a == nil {
		return row
	}
	row.BusinessType = a.BusinessTypeDescription
	row.CompanySummary = a.CompanySummary
	row.Industry = a.Industry
	row.NAICSCode = a.NAICSCode
	row.CompanyOwner = a.CompanyOwner
	row.City = a.City
	row.StateRegion = a.StateRegion
	row.PostalCode = a.PostalCode
	row.Country = a.Country
	row.Employees = a.NumberOfEmployees
	row.AnnualRevenue = a.AnnualRevenue
	row.Timezone = a.Timezone
	row.TargetMarket = a.TargetMarket
	row.Products = join(a.PrimaryProductsServices)
	row.ValueProps = join(a.ValuePropositions)
	row.Advantages = join(a.CompetitiveAdvantages)
	row.Technologies = join(a.TechnologiesUsed)
	row.Certifications = join(a.CertificationsAwards)
	row.PainPoints = join(a.PainPointsAddressed)
	row.ConfidenceScore = a.ConfidenceScore
	return row
}

// Rows flattens every result, skipping nils.
func Rows(results []*model.EnrichmentResult) []Row {
	rows := make([]Row, 0, len(results))
	for _, r := range results {
		if r != nil {
			rows = append(rows, NewRow(r))
		}
	}
	return rows
}

// cells returns the row's values in header order. Numbers stay numeric so
// spreadsheet cells can be typed.
func (r Row) cells() []any {
	return []any{
		r.Domain, r.Name, r.URL, r.Status, r.Error, r.PagesScraped, r.Emails,
		r.BusinessType, r.CompanySummary, r.Industry, r.NAICSCode, r.CompanyOwner,
		r.City, r.StateRegion, r.PostalCode, r.Country, r.Employees, r.AnnualRevenue,
		r.Timezone, r.TargetMarket, r.Products, r.ValueProps, r.Advantages,
		r.Technologies, r.Certifications, r.PainPoints, r.ConfidenceScore, r.CompletedAt,
	}
}

func join(items []string) string {
	return strings.Join(items, "; ")
}
