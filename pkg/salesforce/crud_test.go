package salesforce

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateAccount(t *testing.T) {
	var gotObj, gotID string
	c := &mockClient{updateOneFn: func(_ context.Context, obj, id string, fields map[string]any) error {
		gotObj, gotID = obj, id
		return nil
	}}

	require.NoError(t, UpdateAccount(context.Background(), c, "001xx", map[string]any{"Industry": "Tech"}))
	assert.Equal(t, "Account", gotObj)
	assert.Equal(t, "001xx", gotID)

	assert.ErrorContains(t, UpdateAccount(context.Background(), c, "", map[string]any{"a": 1}), "account id is required")
	assert.ErrorContains(t, UpdateAccount(context.Background(), c, "001xx", nil), "no fields to update")

	failing := &mockClient{updateOneFn: func(context.Context, string, string, map[string]any) error {
		return errors.New("INVALID_FIELD")
	}}
	err := UpdateAccount(context.Background(), failing, "001xx", map[string]any{"Bad__c": 1})
	assert.ErrorContains(t, err, "sf: update account 001xx")
}

func TestCreateNote(t *testing.T) {
	var got map[string]any
	c := &mockClient{insertOneFn: func(_ context.Context, obj string, rec map[string]any) (string, error) {
		assert.Equal(t, "Note", obj)
		got = rec
		return "002new", nil
	}}

	long := strings.Repeat("x", noteBodyMax+10)
	id, err := CreateNote(context.Background(), c, "001xx", strings.Repeat("t", 100), long)

	require.NoError(t, err)
	assert.Equal(t, "002new", id)
	assert.Equal(t, "001xx", got["ParentId"])
	assert.Len(t, got["Title"], noteTitleMax)
	assert.Len(t, got["Body"], noteBodyMax)
}

func TestCreateNote_Validation(t *testing.T) {
	c := &mockClient{}
	_, err := CreateNote(context.Background(), c, "", "title", "body")
	assert.ErrorContains(t, err, "parent id is required")
	_, err = CreateNote(context.Background(), c, "001xx", "", "body")
	assert.ErrorContains(t, err, "note title is required")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ñé", Truncate("ñéü", 2))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
