package model

import (
	"fmt"
	"time"
)

// EnrichmentStatus is the lifecycle state of one domain's enrichment.
type EnrichmentStatus string

const (
	StatusPending    EnrichmentStatus = "pending"
	StatusInProgress EnrichmentStatus = "in_progress"
	StatusCompleted  EnrichmentStatus = "completed"
	StatusFailed     EnrichmentStatus = "failed"
)

// CompanyAnalysis is the structured record the AI analyzer extracts from a
// consolidated document.
type CompanyAnalysis struct {
	BusinessTypeDescription string   `json:"business_type_description"`
	CompanySummary          string   `json:"company_summary"`
	Industry                string   `json:"industry"`
	NAICSCode               string   `json:"naics_code"`
	CompanyOwner            string   `json:"company_owner"`
	City                    string   `json:"city"`
	StateRegion             string   `json:"state_region"`
	PostalCode              string   `json:"postal_code"`
	Country                 string   `json:"country"`
	NumberOfEmployees       string   `json:"number_of_employees"`
	AnnualRevenue           string   `json:"annual_revenue"`
	Timezone                string   `json:"timezone"`
	TargetMarket            string   `json:"target_market"`
	PrimaryProductsServices []string `json:"primary_products_services"`
	ValuePropositions       []string `json:"value_propositions"`
	CompetitiveAdvantages   []string `json:"competitive_advantages"`
	TechnologiesUsed        []string `json:"technologies_used"`
	CertificationsAwards    []string `json:"certifications_awards"`
	PainPointsAddressed     []string `json:"pain_points_addressed"`
	ConfidenceScore         float64  `json:"confidence_score"`
}

// EnrichmentResult is the domain-keyed result of crawling and analyzing one
// company website. Content, Emails, Success, Error, PagesScraped and
// ScrapedURLs mirror the crawl's ConsolidatedDocument.
type EnrichmentResult struct {
	Domain          string           `json:"domain"`
	Name            string           `json:"name"`
	URL             string           `json:"url"`
	Status          EnrichmentStatus `json:"enrichment_status"`
	EnrichmentError string           `json:"enrichment_error,omitempty"`

	Content      string   `json:"content"`
	Emails       []string `json:"emails"`
	Success      bool     `json:"success"`
	Error        string   `json:"error"`
	PagesScraped int      `json:"pages_scraped"`
	ScrapedURLs  []string `json:"scraped_urls"`

	Analysis  *CompanyAnalysis `json:"analysis,omitempty"`
	FromCache bool             `json:"from_cache,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// ApplyDocument copies the crawl fields of doc onto r.
func (r *EnrichmentResult) ApplyDocument(doc ConsolidatedDocument) {
	r.URL = doc.URL
	r.Content = doc.Content
	r.Emails = doc.Emails
	r.Success = doc.Success
	r.Error = doc.Error
	r.PagesScraped = doc.PagesScraped
	r.ScrapedURLs = doc.ScrapedURLs
}

// Document rebuilds the crawl document from a stored result.
func (r *EnrichmentResult) Document() ConsolidatedDocument {
	return ConsolidatedDocument{
		URL:          r.URL,
		Content:      r.Content,
		Emails:       r.Emails,
		Success:      r.Success,
		Error:        r.Error,
		PagesScraped: r.PagesScraped,
		ScrapedURLs:  r.ScrapedURLs,
	}
}

// DisplayName formats the record name as "domain (owner)" when an owner is
// known.
func DisplayName(domain, owner string) string {
	if owner == "" {
		return domain
	}
	return fmt.Sprintf("%s (%s)", domain, owner)
}
