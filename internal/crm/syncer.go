package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-enricher/internal/domain"
	"github.com/sells-group/site-enricher/internal/model"
	"github.com/sells-group/site-enricher/internal/resilience"
	"github.com/sells-group/site-enricher/pkg/salesforce"
)

// ErrNoAccount is returned when no Account matches a domain.
var ErrNoAccount = eris.New("crm: no matching account")

// SyncOutcome reports what happened to one result.
type SyncOutcome struct {
	Domain    string `json:"domain"`
	AccountID string `json:"account_id,omitempty"`
	NoteID    string `json:"note_id,omitempty"`
	Updated   bool   `json:"updated"`
	Error     string `json:"error,omitempty"`
}

// Syncer pushes enrichment results to Salesforce. Every API call waits on
// the crm limiter and runs through a circuit breaker.
type Syncer struct {
	client     salesforce.Client
	fields     *FieldMap
	limiters   *resilience.Limiters
	breaker    *resilience.CircuitBreaker
	writeNotes bool
}

// NewSyncer builds a Syncer. A nil field map uses DefaultFieldMap.
func NewSyncer(client salesforce.Client, fields *FieldMap, limiters *resilience.Limiters, writeNotes bool) *Syncer {
	if fields == nil {
		fields = DefaultFieldMap()
	}
	return &Syncer{
		client:     client,
		fields:     fields,
		limiters:   limiters,
		breaker:    resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("salesforce")),
		writeNotes: writeNotes,
	}
}

func (s *Syncer) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.limiters.Wait(ctx, resilience.CategoryCRM); err != nil {
		return err
	}
	return s.breaker.Execute(ctx, fn)
}

// FindAccountByDomain returns the Account whose Website matches d.
func (s *Syncer) FindAccountByDomain(ctx context.Context, d string) (*salesforce.Account, error) {
	var acct *salesforce.Account
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		acct, err = salesforce.FindAccountByDomain(ctx, s.client, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ErrNoAccount
	}
	return acct, nil
}

// AccountFields maps r onto Salesforce fields. Empty values are left out
// so existing CRM data is never blanked.
func (s *Syncer) AccountFields(r *model.EnrichmentResult) map[string]any {
	values := resultValues(r)
	out := make(map[string]any, len(s.fields.Fields)+2)
	for _, m := range s.fields.Fields {
		v, ok := values[m.Key]
		if !ok || v == "" {
			continue
		}
		out[m.Field] = salesforce.Truncate(v, m.Limit())
	}
	if s.fields.StatusField != "" {
		out[s.fields.StatusField] = string(r.Status)
	}
	if s.fields.DateField != "" && !r.CompletedAt.IsZero() {
		out[s.fields.DateField] = r.CompletedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// UpdateAccount writes r's mapped fields to accountID.
func (s *Syncer) UpdateAccount(ctx context.Context, accountID string, r *model.EnrichmentResult) error {
	fields := s.AccountFields(r)
	return s.call(ctx, func(ctx context.Context) error {
		return salesforce.UpdateAccount(ctx, s.client, accountID, fields)
	})
}

// CreateNote attaches the consolidated crawl summary to accountID.
func (s *Syncer) CreateNote(ctx context.Context, accountID string, r *model.EnrichmentResult) (string, error) {
	title := fmt.Sprintf("Website enrichment: %s", r.Domain)
	var id string
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		id, err = salesforce.CreateNote(ctx, s.client, accountID, title, noteBody(r))
		return err
	})
	return id, err
}

// Sync finds the Account for r, updates it and optionally adds a note.
func (s *Syncer) Sync(ctx context.Context, r *model.EnrichmentResult) SyncOutcome {
	out := SyncOutcome{Domain: r.Domain}
	log := zap.L().With(zap.String("domain", r.Domain))

	acct, err := s.FindAccountByDomain(ctx, r.Domain)
	if err != nil {
		out.Error = err.Error()
		log.Warn("crm: account lookup failed", zap.Error(err))
		return out
	}
	out.AccountID = acct.ID

	if err := s.UpdateAccount(ctx, acct.ID, r); err != nil {
		out.Error = err.Error()
		log.Warn("crm: account update failed", zap.String("account_id", acct.ID), zap.Error(err))
		return out
	}
	out.Updated = true

	if s.writeNotes && r.Status == model.StatusCompleted {
		noteID, err := s.CreateNote(ctx, acct.ID, r)
		if err != nil {
			log.Warn("crm: note failed", zap.String("account_id", acct.ID), zap.Error(err))
		} else {
			out.NoteID = noteID
		}
	}
	log.Info("crm: synced", zap.String("account_id", acct.ID), zap.Bool("note", out.NoteID != ""))
	return out
}

// SyncMany looks up each result's Account and sends all updates through the
// collections API. Notes are written one by one afterwards.
func (s *Syncer) SyncMany(ctx context.Context, rs []*model.EnrichmentResult) ([]SyncOutcome, error) {
	outcomes := make([]SyncOutcome, len(rs))
	var updates []salesforce.AccountUpdate
	var pending []int

	for i, r := range rs {
		outcomes[i] = SyncOutcome{Domain: r.Domain}
		acct, err := s.FindAccountByDomain(ctx, r.Domain)
		if err != nil {
			outcomes[i].Error = err.Error()
			continue
		}
		outcomes[i].AccountID = acct.ID
		updates = append(updates, salesforce.AccountUpdate{ID: acct.ID, Fields: s.AccountFields(r)})
		pending = append(pending, i)
	}

	var results []salesforce.CollectionResult
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		results, err = salesforce.BulkUpdateAccounts(ctx, s.client, updates)
		return err
	})
	for j, i := range pending {
		switch {
		case j < len(results) && results[j].Success:
			outcomes[i].Updated = true
		case j < len(results):
			outcomes[i].Error = strings.Join(results[j].Errors, "; ")
		case err != nil:
			outcomes[i].Error = err.Error()
		}
	}

	if s.writeNotes {
		for _, i := range pending {
			if !outcomes[i].Updated || rs[i].Status != model.StatusCompleted {
				continue
			}
			if id, nerr := s.CreateNote(ctx, outcomes[i].AccountID, rs[i]); nerr == nil {
				outcomes[i].NoteID = id
			} else {
				zap.L().Warn("crm: note failed", zap.String("domain", rs[i].Domain), zap.Error(nerr))
			}
		}
	}
	return outcomes, err
}

// PendingAccounts returns the domains of Accounts that have never been
// enriched, deduplicated and normalized.
func (s *Syncer) PendingAccounts(ctx context.Context, limit int) ([]string, error) {
	if s.fields.StatusField == "" {
		return nil, eris.New("crm: field map has no status_field")
	}
	var accounts []salesforce.Account
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		accounts, err = salesforce.FindAccountsMissing(ctx, s.client, s.fields.StatusField, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(accounts))
	var domains []string
	for _, a := range accounts {
		d, ok := domain.Normalize(a.Website)
		if !ok {
			zap.L().Debug("crm: skipping account with bad website",
				zap.String("account_id", a.ID), zap.String("website", a.Website))
			continue
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		domains = append(domains, d)
	}
	return domains, nil
}

// CheckFields reports mapped fields that do not exist on the CRM object.
func (s *Syncer) CheckFields(ctx context.Context) ([]string, error) {
	var desc *salesforce.SObjectDescription
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		desc, err = s.client.DescribeSObject(ctx, s.fields.Object)
		return err
	})
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, f := range s.fields.SalesforceFields() {
		if desc.Field(f) == nil {
			missing = append(missing, f)
		}
	}
	return missing, nil
}

// resultValues flattens r into string values keyed like the JSON result.
func resultValues(r *model.EnrichmentResult) map[string]string {
	values := map[string]string{
		"domain":            r.Domain,
		"name":              r.Name,
		"url":               r.URL,
		"enrichment_status": string(r.Status),
		"emails":            strings.Join(r.Emails, ", "),
		"pages_scraped":     strconv.Itoa(r.PagesScraped),
	}
	if r.Analysis == nil {
		return values
	}

	raw, err := json.Marshal(r.Analysis)
	if err != nil {
		return values
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return values
	}
	for k, v := range fields {
		switch t := v.(type) {
		case string:
			values[k] = t
		case float64:
			values[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case []any:
			parts := make([]string, 0, len(t))
			for _, p := range t {
				parts = append(parts, fmt.Sprint(p))
			}
			values[k] = strings.Join(parts, "; ")
		}
	}
	return values
}

func noteBody(r *model.EnrichmentResult) string {
	var sb strings.Builder
	if a := r.Analysis; a != nil {
		if a.CompanySummary != "" {
			sb.WriteString(a.CompanySummary)
			sb.WriteString("\n\n")
		}
		if a.Industry != "" {
			fmt.Fprintf(&sb, "Industry: %s\n", a.Industry)
		}
		if len(a.PrimaryProductsServices) > 0 {
			fmt.Fprintf(&sb, "Products/services: %s\n", strings.Join(a.PrimaryProductsServices, "; "))
		}
		fmt.Fprintf(&sb, "Confidence: %.0f%%\n", a.ConfidenceScore*100)
	}
	if len(r.Emails) > 0 {
		fmt.Fprintf(&sb, "Emails: %s\n", strings.Join(r.Emails, ", "))
	}
	fmt.Fprintf(&sb, "Pages scraped: %d\n", r.PagesScraped)
	for _, u := range r.ScrapedURLs {
		sb.WriteString("  ")
		sb.WriteString(u)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
