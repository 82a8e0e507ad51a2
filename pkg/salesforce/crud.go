package salesforce

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// Note body and title limits on the classic Note object.
const (
	noteTitleMax = 80
	noteBodyMax  = 32000
)

// UpdateAccount updates an Account record with the given fields.
func UpdateAccount(ctx context.Context, c Client, accountID string, fields map[string]any) error {
	if accountID == "" {
		return eris.New("sf: account id is required")
	}
	if len(fields) == 0 {
		return eris.New("sf: no fields to update")
	}
	if err := c.UpdateOne(ctx, "Account", accountID, fields); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update account %s", accountID))
	}
	return nil
}

// CreateNote attaches a Note to parentID and returns the new Note ID. Title
// and body are cut to the object's limits.
func CreateNote(ctx context.Context, c Client, parentID, title, body string) (string, error) {
	if parentID == "" {
		return "", eris.New("sf: parent id is required for note")
	}
	if title == "" {
		return "", eris.New("sf: note title is required")
	}
	id, err := c.InsertOne(ctx, "Note", map[string]any{
		"ParentId": parentID,
		"Title":    Truncate(title, noteTitleMax),
		"Body":     Truncate(body, noteBodyMax),
	})
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sf: create note for %s", parentID))
	}
	return id, nil
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
