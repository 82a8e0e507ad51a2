package salesforce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gosf "github.com/k-capehart/go-salesforce/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOrg starts an httptest server standing in for a Salesforce org and
// returns a Client pointed at it.
func fakeOrg(t *testing.T, h http.HandlerFunc, opts ...ClientOption) Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	sf, err := gosf.Init(gosf.Creds{AccessToken: "test-token", Domain: ts.URL},
		gosf.WithValidateAuthentication(false),
		gosf.WithRoundTripper(http.DefaultTransport),
	)
	require.NoError(t, err)
	return NewClient(sf, opts...)
}

func replyJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sfError(code, msg string) []map[string]any {
	return []map[string]any{{"errorCode": code, "message": msg}}
}

func TestSFClient_QueryAccountsByWebsite(t *testing.T) {
	client := fakeOrg(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, "/query"), r.URL.Path)
		replyJSON(w, http.StatusOK, map[string]any{
			"totalSize": 1,
			"done":      true,
			"records": []map[string]any{{
				"attributes": map[string]any{"type": "Account"},
				"Id":         "001ACME",
				"Name":       "Acme Widgets",
				"Website":    "https://www.acme.com",
				"Industry":   "Manufacturing",
			}},
		})
	})

	acct, err := FindAccountByDomain(context.Background(), client, "acme.com")
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, Account{ID: "001ACME", Name: "Acme Widgets", Website: "https://www.acme.com", Industry: "Manufacturing"}, *acct)
}

func TestSFClient_CreateNote(t *testing.T) {
	client := fakeOrg(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/sobjects/Note")
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "001ACME", body["ParentId"])
		assert.Equal(t, "Website enrichment: acme.com", body["Title"])
		replyJSON(w, http.StatusCreated, map[string]any{"id": "002NOTE", "success": true, "errors": []any{}})
	})

	id, err := CreateNote(context.Background(), client, "001ACME", "Website enrichment: acme.com", "Acme makes widgets.")
	require.NoError(t, err)
	assert.Equal(t, "002NOTE", id)
}

func TestSFClient_InsertRejected(t *testing.T) {
	client := fakeOrg(t, func(w http.ResponseWriter, r *http.Request) {
		replyJSON(w, http.StatusOK, map[string]any{
			"id":      "",
			"success": false,
			"errors":  []map[string]any{{"message": "Required fields are missing: [ParentId]"}},
		})
	})

	_, err := client.InsertOne(context.Background(), "Note", map[string]any{"Title": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert Note failed")
}

func TestSFClient_UpdateEnrichmentFields(t *testing.T) {
	var body map[string]any
	client := fakeOrg(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Contains(t, r.URL.Path, "/sobjects/Account/001ACME")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	})

	fields := map[string]any{"Enrichment_Status__c": "completed", "Industry": "Manufacturing"}
	require.NoError(t, UpdateAccount(context.Background(), client, "001ACME", fields))

	assert.Equal(t, "completed", body["Enrichment_Status__c"])
	assert.Equal(t, "Manufacturing", body["Industry"])
	assert.NotContains(t, fields, "Id", "caller's map is not modified")
}

func TestSFClient_BulkUpdate(t *testing.T) {
	var sent struct {
		Records []map[string]any `json:"records"`
	}
	client := fakeOrg(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		replyJSON(w, http.StatusOK, []map[string]any{
			{"id": "001A", "success": true, "errors": []any{}},
			{"id": "001B", "success": true, "errors": []any{}},
		})
	})

	results, err := BulkUpdateAccounts(context.Background(), client, []AccountUpdate{
		{ID: "001A", Fields: map[string]any{"Enrichment_Status__c": "completed"}},
		{ID: "001B", Fields: map[string]any{"Enrichment_Status__c": "failed"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.Equal(t, "001B", results[1].ID)
	require.Len(t, sent.Records, 2)
	assert.Equal(t, "001A", sent.Records[0]["Id"])
}

func TestSFClient_DescribeEnrichmentFields(t *testing.T) {
	client := fakeOrg(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/sobjects/Account/describe")
		replyJSON(w, http.StatusOK, map[string]any{
			"name":  "Account",
			"label": "Account",
			"fields": []map[string]any{
				{"name": "Id", "type": "id", "length": 18, "updateable": false},
				{"name": "Description", "type": "textarea", "length": 32000, "updateable": true},
				{"name": "Enrichment_Status__c", "type": "string", "length": 40, "updateable": true, "custom": true},
			},
		})
	})

	desc, err := client.DescribeSObject(context.Background(), "Account")
	require.NoError(t, err)
	assert.Equal(t, "Account", desc.Label)
	require.Len(t, desc.Fields, 3)

	status := desc.Field("Enrichment_Status__c")
	require.NotNil(t, status)
	assert.True(t, status.Custom)
	assert.True(t, status.Updateable)
	assert.Equal(t, 32000, desc.Field("Description").Length)
	assert.False(t, desc.Field("Id").Updateable)
	assert.Nil(t, desc.Field("NAICS_Code__c"))
}

func TestSFClient_Errors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		status int
		call   func(Client) error
		want   string
	}{
		{
			name:   "query",
			status: http.StatusBadRequest,
			call: func(c Client) error {
				var out []Account
				return c.Query(ctx, "SELECT Nope FROM Account", &out)
			},
			want: "sf: query",
		},
		{
			name:   "update",
			status: http.StatusBadRequest,
			call: func(c Client) error {
				return c.UpdateOne(ctx, "Account", "001ACME", map[string]any{"Bogus__c": "x"})
			},
			want: "sf: update Account 001ACME",
		},
		{
			name:   "update collection",
			status: http.StatusBadRequest,
			call: func(c Client) error {
				_, err := c.UpdateCollection(ctx, "Account", []CollectionRecord{{ID: "001A", Fields: map[string]any{"Name": "A"}}})
				return err
			},
			want: "sf: update collection Account",
		},
		{
			name:   "describe",
			status: http.StatusNotFound,
			call: func(c Client) error {
				_, err := c.DescribeSObject(ctx, "Lead__x")
				return err
			},
			want: "sf: describe Lead__x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := fakeOrg(t, func(w http.ResponseWriter, r *http.Request) {
				replyJSON(w, tt.status, sfError("INVALID_FIELD", "bad request"))
			})
			err := tt.call(client)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSFClient_RateLimitHonorsContext(t *testing.T) {
	client := fakeOrg(t, func(w http.ResponseWriter, r *http.Request) {
		replyJSON(w, http.StatusOK, map[string]any{"totalSize": 0, "done": true, "records": []any{}})
	}, WithRateLimit(0.001))

	var out []Account
	require.NoError(t, client.Query(context.Background(), "SELECT Id FROM Account", &out))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := client.Query(ctx, "SELECT Id FROM Account", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sf: rate limit")
}
