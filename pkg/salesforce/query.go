package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Account represents a Salesforce Account record.
type Account struct {
	ID       string `json:"Id" salesforce:"Id"`
	Name     string `json:"Name" salesforce:"Name"`
	Website  string `json:"Website" salesforce:"Website"`
	Industry string `json:"Industry" salesforce:"Industry"`
}

// accountFields are the SOQL fields selected for Account queries.
var accountFields = []string{"Id", "Name", "Website", "Industry"}

// FindAccountByDomain returns the first Account whose Website contains
// domain, or nil when there is none.
func FindAccountByDomain(ctx context.Context, c Client, domain string) (*Account, error) {
	if domain == "" {
		return nil, eris.New("sf: domain is required")
	}
	soql := fmt.Sprintf(
		"SELECT %s FROM Account WHERE Website LIKE '%%%s%%' ORDER BY LastModifiedDate DESC LIMIT 1",
		strings.Join(accountFields, ", "),
		escapeSoql(domain),
	)

	var accounts []Account
	if err := c.Query(ctx, soql, &accounts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find account by domain %s", domain))
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

// FindAccountsMissing lists Accounts with a Website but an empty field,
// oldest first.
func FindAccountsMissing(ctx context.Context, c Client, field string, limit int) ([]Account, error) {
	if field == "" {
		return nil, eris.New("sf: field is required")
	}
	if limit <= 0 {
		limit = maxBatchSize
	}
	soql := fmt.Sprintf(
		"SELECT %s FROM Account WHERE Website != null AND %s = null ORDER BY CreatedDate ASC LIMIT %d",
		strings.Join(accountFields, ", "),
		field,
		limit,
	)

	var accounts []Account
	if err := c.Query(ctx, soql, &accounts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find accounts missing %s", field))
	}
	return accounts, nil
}

// escapeSoql escapes backslashes and single quotes in SOQL string literals.
func escapeSoql(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}
