package salesforce

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpdateAccounts_Batches(t *testing.T) {
	var batchSizes []int
	c := &mockClient{updateCollectionFn: func(_ context.Context, obj string, recs []CollectionRecord) ([]CollectionResult, error) {
		assert.Equal(t, "Account", obj)
		batchSizes = append(batchSizes, len(recs))
		out := make([]CollectionResult, len(recs))
		for i, r := range recs {
			out[i] = CollectionResult{ID: r.ID, Success: true}
		}
		return out, nil
	}}

	updates := make([]AccountUpdate, 450)
	for i := range updates {
		updates[i] = AccountUpdate{ID: fmt.Sprintf("001%04d", i), Fields: map[string]any{"Industry": "Tech"}}
	}

	results, err := BulkUpdateAccounts(context.Background(), c, updates)

	require.NoError(t, err)
	assert.Len(t, results, 450)
	assert.Equal(t, []int{200, 200, 50}, batchSizes)
}

func TestBulkUpdateAccounts_Empty(t *testing.T) {
	results, err := BulkUpdateAccounts(context.Background(), &mockClient{}, nil)
	assert.NoError(t, err)
	assert.Nil(t, results)
}

func TestBulkUpdateAccounts_PartialFailure(t *testing.T) {
	calls := 0
	c := &mockClient{updateCollectionFn: func(_ context.Context, _ string, recs []CollectionRecord) ([]CollectionResult, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("REQUEST_LIMIT_EXCEEDED")
		}
		return make([]CollectionResult, len(recs)), nil
	}}

	updates := make([]AccountUpdate, 250)
	results, err := BulkUpdateAccounts(context.Background(), c, updates)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch 200-250")
	assert.Len(t, results, 200)
}
