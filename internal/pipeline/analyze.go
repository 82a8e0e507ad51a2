package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/site-enricher/internal/model"
	"github.com/sells-group/site-enricher/internal/resilience"
	"github.com/sells-group/site-enricher/pkg/anthropic"
)

// MinAnalysisContent is the shortest consolidated text worth analyzing.
const MinAnalysisContent = 50

// ErrContentTooShort is returned when there is too little text to analyze.
var ErrContentTooShort = eris.New("pipeline: content too short for analysis")

// AnalysisInput is what the analyzer sees for one domain.
type AnalysisInput struct {
	Text   string
	Domain string
	Emails []string
}

// Analyzer turns consolidated site text into a structured company record.
type Analyzer interface {
	Analyze(ctx context.Context, in AnalysisInput) (*model.CompanyAnalysis, error)
}

// AnalyzerConfig configures ClaudeAnalyzer.
type AnalyzerConfig struct {
	Model     string
	MaxTokens int64
	Timeout   time.Duration
}

// ClaudeAnalyzer implements Analyzer with a single Anthropic message call.
type ClaudeAnalyzer struct {
	client   anthropic.Client
	cfg      AnalyzerConfig
	limiters *resilience.Limiters
	breaker  *resilience.CircuitBreaker
}

// NewClaudeAnalyzer builds a ClaudeAnalyzer. limiters may be nil.
func NewClaudeAnalyzer(client anthropic.Client, cfg AnalyzerConfig, limiters *resilience.Limiters) *ClaudeAnalyzer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &ClaudeAnalyzer{
		client:   client,
		cfg:      cfg,
		limiters: limiters,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:       "anthropic",
			ShouldTrip: resilience.IsTransient,
		}),
	}
}

const analysisSystemPrompt = `You are a business analyst. You read the text of a company's website and ` +
	`return a single JSON object describing the company. Use only facts supported by the text. ` +
	`Use an empty string or empty list when a field is unknown. Respond with JSON only.`

const analysisFields = `{
  "business_type_description": "one sentence on what kind of business this is",
  "company_summary": "2-3 sentence summary",
  "industry": "industry name",
  "naics_code": "most likely 6-digit NAICS code",
  "company_owner": "owner or principal if named",
  "city": "", "state_region": "", "postal_code": "", "country": "",
  "number_of_employees": "estimate or range",
  "annual_revenue": "estimate or range",
  "timezone": "IANA timezone of headquarters",
  "target_market": "who they sell to",
  "primary_products_services": [],
  "value_propositions": [],
  "competitive_advantages": [],
  "technologies_used": [],
  "certifications_awards": [],
  "pain_points_addressed": [],
  "confidence_score": "integer 1-10 for how well the text supports these answers"
}`

func buildAnalysisPrompt(in AnalysisInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Domain: %s\n", in.Domain)
	if len(in.Emails) > 0 {
		fmt.Fprintf(&sb, "Emails found on site: %s\n", strings.Join(in.Emails, ", "))
	}
	sb.WriteString("\nReturn JSON with exactly these keys:\n")
	sb.WriteString(analysisFields)
	sb.WriteString("\n\nWebsite content:\n")
	sb.WriteString(in.Text)
	return sb.String()
}

// Analyze sends the text to the model and parses its JSON answer.
func (a *ClaudeAnalyzer) Analyze(ctx context.Context, in AnalysisInput) (*model.CompanyAnalysis, error) {
	if utf8.RuneCountInString(strings.TrimSpace(in.Text)) < MinAnalysisContent {
		return nil, ErrContentTooShort
	}
	if err := a.limiters.Wait(ctx, resilience.CategoryAI); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	temp := 0.1
	resp, err := resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return a.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       a.cfg.Model,
			MaxTokens:   a.cfg.MaxTokens,
			System:      analysisSystemPrompt,
			Messages:    []anthropic.Message{{Role: "user", Content: buildAnalysisPrompt(in)}},
			Temperature: &temp,
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: analyze %s", in.Domain)
	}
	resp.Usage.LogCost(a.cfg.Model, in.Domain)

	analysis, err := parseAnalysis(resp.Text())
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: analyze %s", in.Domain)
	}
	return analysis, nil
}

// cleanJSON strips markdown fences and any prose around the outermost
// object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// looseString accepts a JSON string, number or bool.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(strings.TrimSpace(v))
		return nil
	}
	*s = looseString(string(b))
	return nil
}

// looseList accepts a JSON list of strings or a single comma-separated
// string.
type looseList []string

func (l *looseList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	if b[0] == '[' {
		var raw []looseString
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			if v != "" {
				out = append(out, string(v))
			}
		}
		*l = out
		return nil
	}
	var one looseString
	if err := one.UnmarshalJSON(b); err != nil {
		return err
	}
	var out []string
	for _, part := range strings.Split(string(one), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*l = out
	return nil
}

type rawAnalysis struct {
	BusinessTypeDescription looseString `json:"business_type_description"`
	CompanySummary          looseString `json:"company_summary"`
	Industry                looseString `json:"industry"`
	NAICSCode               looseString `json:"naics_code"`
	CompanyOwner            looseString `json:"company_owner"`
	City                    looseString `json:"city"`
	StateRegion             looseString `json:"state_region"`
	PostalCode              looseString `json:"postal_code"`
	Country                 looseString `json:"country"`
	NumberOfEmployees       looseString `json:"number_of_employees"`
	AnnualRevenue           looseString `json:"annual_revenue"`
	Timezone                looseString `json:"timezone"`
	TargetMarket            looseString `json:"target_market"`
	PrimaryProductsServices looseList   `json:"primary_products_services"`
	ValuePropositions       looseList   `json:"value_propositions"`
	CompetitiveAdvantages   looseList   `json:"competitive_advantages"`
	TechnologiesUsed        looseList   `json:"technologies_used"`
	CertificationsAwards    looseList   `json:"certifications_awards"`
	PainPointsAddressed     looseList   `json:"pain_points_addressed"`
	ConfidenceScore         looseString `json:"confidence_score"`
}

// parseAnalysis decodes the model's answer. Confidence arrives on a 1-10
// scale and is stored as 0-1.
func parseAnalysis(text string) (*model.CompanyAnalysis, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" || !strings.HasPrefix(cleaned, "{") {
		return nil, eris.New("pipeline: analysis response has no JSON object")
	}
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, eris.Wrap(err, "pipeline: decode analysis")
	}

	return &model.CompanyAnalysis{
		BusinessTypeDescription: string(raw.BusinessTypeDescription),
		CompanySummary:          string(raw.CompanySummary),
		Industry:                string(raw.Industry),
		NAICSCode:               string(raw.NAICSCode),
		CompanyOwner:            string(raw.CompanyOwner),
		City:                    string(raw.City),
		StateRegion:             string(raw.StateRegion),
		PostalCode:              string(raw.PostalCode),
		Country:                 string(raw.Country),
		NumberOfEmployees:       string(raw.NumberOfEmployees),
		AnnualRevenue:           string(raw.AnnualRevenue),
		Timezone:                string(raw.Timezone),
		TargetMarket:            string(raw.TargetMarket),
		PrimaryProductsServices: nonNil(raw.PrimaryProductsServices),
		ValuePropositions:       nonNil(raw.ValuePropositions),
		CompetitiveAdvantages:   nonNil(raw.CompetitiveAdvantages),
		TechnologiesUsed:        nonNil(raw.TechnologiesUsed),
		CertificationsAwards:    nonNil(raw.CertificationsAwards),
		PainPointsAddressed:     nonNil(raw.PainPointsAddressed),
		ConfidenceScore:         normalizeConfidence(string(raw.ConfidenceScore)),
	}, nil
}

// defaultConfidence stands in for a missing score: 5 on the 1-10 scale.
const defaultConfidence = 0.5

// normalizeConfidence maps the model's 1-10 score onto 0-1. Values below 1
// without a "/10" suffix are taken as fractions already.
func normalizeConfidence(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultConfidence
	}
	scaled := strings.HasSuffix(s, "/10")
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "/10")), 64)
	if err != nil || v < 0 {
		return 0
	}
	if scaled || v >= 1 {
		v /= 10
	}
	if v > 1 {
		v = 1
	}
	return v
}

func nonNil(l looseList) []string {
	if l == nil {
		return []string{}
	}
	return l
}
