// Package crm writes enrichment results to Salesforce Accounts.
package crm

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Salesforce text limits.
const (
	TextLimit     = 255
	LongTextLimit = 32000
)

// FieldMapping maps one result key to one Salesforce field.
type FieldMapping struct {
	Key   string `yaml:"key"`
	Field string `yaml:"field"`
	Long  bool   `yaml:"long"`
}

// Limit returns the character limit for the field.
func (m FieldMapping) Limit() int {
	if m.Long {
		return LongTextLimit
	}
	return TextLimit
}

// FieldMap describes how results land on the CRM object.
type FieldMap struct {
	Object      string         `yaml:"object"`
	StatusField string         `yaml:"status_field"`
	DateField   string         `yaml:"date_field"`
	Fields      []FieldMapping `yaml:"fields"`
}

// DefaultFieldMap is used when no mapping file is configured.
func DefaultFieldMap() *FieldMap {
	return &FieldMap{
		Object:      "Account",
		StatusField: "Enrichment_Status__c",
		DateField:   "Enrichment_Date__c",
		Fields: []FieldMapping{
			{Key: "company_summary", Field: "Description", Long: true},
			{Key: "industry", Field: "Industry"},
			{Key: "naics_code", Field: "NAICS_Code__c"},
			{Key: "business_type_description", Field: "Business_Type__c"},
			{Key: "company_owner", Field: "Company_Owner__c"},
			{Key: "city", Field: "BillingCity"},
			{Key: "state_region", Field: "BillingState"},
			{Key: "postal_code", Field: "BillingPostalCode"},
			{Key: "country", Field: "BillingCountry"},
			{Key: "number_of_employees", Field: "Employee_Range__c"},
			{Key: "annual_revenue", Field: "Revenue_Range__c"},
			{Key: "timezone", Field: "Timezone__c"},
			{Key: "target_market", Field: "Target_Market__c", Long: true},
			{Key: "primary_products_services", Field: "Products_Services__c", Long: true},
			{Key: "value_propositions", Field: "Value_Propositions__c", Long: true},
			{Key: "competitive_advantages", Field: "Competitive_Advantages__c", Long: true},
			{Key: "technologies_used", Field: "Technologies__c", Long: true},
			{Key: "certifications_awards", Field: "Certifications__c", Long: true},
			{Key: "pain_points_addressed", Field: "Pain_Points__c", Long: true},
			{Key: "confidence_score", Field: "Enrichment_Confidence__c"},
			{Key: "emails", Field: "Website_Emails__c", Long: true},
			{Key: "pages_scraped", Field: "Pages_Scraped__c"},
		},
	}
}

// LoadFieldMap reads a YAML mapping file. An empty path yields the default
// map.
func LoadFieldMap(path string) (*FieldMap, error) {
	if path == "" {
		return DefaultFieldMap(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "crm: open field map")
	}
	defer f.Close() //nolint:errcheck
	return ParseFieldMap(f)
}

// ParseFieldMap decodes and validates a YAML mapping.
func ParseFieldMap(r io.Reader) (*FieldMap, error) {
	var fm FieldMap
	if err := yaml.NewDecoder(r).Decode(&fm); err != nil {
		return nil, eris.Wrap(err, "crm: decode field map")
	}
	if fm.Object == "" {
		fm.Object = "Account"
	}
	if len(fm.Fields) == 0 {
		return nil, eris.New("crm: field map has no fields")
	}
	seen := make(map[string]bool, len(fm.Fields))
	for i, m := range fm.Fields {
		if m.Key == "" || m.Field == "" {
			return nil, eris.Errorf("crm: field map entry %d needs key and field", i)
		}
		if seen[m.Field] {
			return nil, eris.Errorf("crm: field %s mapped twice", m.Field)
		}
		seen[m.Field] = true
	}
	return &fm, nil
}

// SalesforceFields lists every target field, including status and date.
func (fm *FieldMap) SalesforceFields() []string {
	out := make([]string, 0, len(fm.Fields)+2)
	for _, m := range fm.Fields {
		out = append(out, m.Field)
	}
	if fm.StatusField != "" {
		out = append(out, fm.StatusField)
	}
	if fm.DateField != "" {
		out = append(out, fm.DateField)
	}
	return out
}
