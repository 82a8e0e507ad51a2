package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/site-enricher/internal/model"
	"github.com/sells-group/site-enricher/internal/scrape"
	"github.com/sells-group/site-enricher/internal/store"
)

type stubEnricher struct {
	mu      sync.Mutex
	crawled []string
	done    chan string
}

func (s *stubEnricher) Crawl(_ context.Context, d string) model.ConsolidatedDocument {
	s.mu.Lock()
	s.crawled = append(s.crawled, d)
	s.mu.Unlock()
	return model.ConsolidatedDocument{
		URL:          "https://" + d,
		Content:      "Welcome to " + d,
		Emails:       []string{},
		Success:      true,
		PagesScraped: 1,
		ScrapedURLs:  []string{"https://" + d},
	}
}

func (s *stubEnricher) Enrich(_ context.Context, raw string) *model.EnrichmentResult {
	if s.done != nil {
		s.done <- raw
	}
	return &model.EnrichmentResult{Domain: raw, Status: model.StatusCompleted}
}

type stubStore struct {
	results map[string]*model.EnrichmentResult
	pingErr error
	getErr  error
}

func (s *stubStore) GetEnrichment(_ context.Context, d string) (*model.EnrichmentResult, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	r, ok := s.results[d]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (s *stubStore) Ping(context.Context) error { return s.pingErr }

type stubPool struct{ hits, misses int }

func (p stubPool) Stats() scrape.PoolStats {
	return scrape.PoolStats{
		SessionsCreated: p.misses,
		TotalRequests:   p.hits + p.misses,
		PoolHits:        p.hits,
		PoolMisses:      p.misses,
		IdleSessions:    1,
	}
}

// shared hands the same enricher to every worker slot.
func shared(en crawlEnricher) workerFactory {
	return func() (crawlEnricher, poolStatter) { return en, nil }
}

func serve(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func TestRouter_Health(t *testing.T) {
	a := newAPI(context.Background(), &stubStore{}, 1, shared(&stubEnricher{}))
	rr := serve(t, newRouter(a, nil), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", decode[map[string]string](t, rr)["status"])
}

func TestRouter_Health_StoreDown(t *testing.T) {
	a := newAPI(context.Background(), &stubStore{pingErr: errors.New("db gone")}, 1, shared(&stubEnricher{}))
	rr := serve(t, newRouter(a, nil), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouter_Crawl(t *testing.T) {
	en := &stubEnricher{}
	a := newAPI(context.Background(), nil, 1, shared(en))
	rr := serve(t, newRouter(a, nil), http.MethodPost, "/v1/crawl", map[string]string{"domain": "https://www.Acme.com/about"})

	require.Equal(t, http.StatusOK, rr.Code)
	doc := decode[model.ConsolidatedDocument](t, rr)
	assert.True(t, doc.Success)
	assert.Equal(t, "https://acme.com", doc.URL)
	assert.Equal(t, []string{"acme.com"}, en.crawled)
}

func TestRouter_Crawl_BadRequests(t *testing.T) {
	h := newRouter(newAPI(context.Background(), nil, 1, shared(&stubEnricher{})), nil)

	tests := []struct {
		name string
		body any
		want string
	}{
		{"missing domain", map[string]string{}, "domain is required"},
		{"invalid domain", map[string]string{"domain": "not a domain"}, "invalid domain"},
		{"not json", "just a string", "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(t, h, http.MethodPost, "/v1/crawl", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, decode[map[string]string](t, rr)["error"], tt.want)
		})
	}
}

func TestRouter_Enrich_Accepted(t *testing.T) {
	en := &stubEnricher{done: make(chan string, 1)}
	a := newAPI(context.Background(), nil, 2, shared(en))
	rr := serve(t, newRouter(a, nil), http.MethodPost, "/v1/enrich", map[string]string{"url": "http://beta.io/contact"})

	require.Equal(t, http.StatusAccepted, rr.Code)
	resp := decode[map[string]string](t, rr)
	assert.Equal(t, "accepted", resp["status"])
	assert.Equal(t, "beta.io", resp["domain"])
	assert.Len(t, resp["job_id"], 36)

	select {
	case d := <-en.done:
		assert.Equal(t, "beta.io", d)
	case <-time.After(2 * time.Second):
		t.Fatal("enrichment did not run")
	}
	a.Wait()
}

func TestRouter_Enrich_CancelledContextDropsJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	en := &stubEnricher{done: make(chan string, 1)}
	a := newAPI(ctx, nil, 1, shared(en))
	h := newRouter(a, nil)

	// Hold the only worker so the job waits for it.
	held, err := a.lease(context.Background())
	require.NoError(t, err)
	rr := serve(t, h, http.MethodPost, "/v1/enrich", map[string]string{"domain": "acme.com"})
	require.Equal(t, http.StatusAccepted, rr.Code)

	cancel()
	a.Wait()
	a.workers <- held
	assert.Empty(t, en.done)
}

func TestRouter_GetEnrichment(t *testing.T) {
	st := &stubStore{results: map[string]*model.EnrichmentResult{
		"acme.com": {Domain: "acme.com", Status: model.StatusCompleted, PagesScraped: 3},
	}}
	h := newRouter(newAPI(context.Background(), st, 1, shared(&stubEnricher{})), nil)

	rr := serve(t, h, http.MethodGet, "/v1/enrichments/www.acme.com", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[model.EnrichmentResult](t, rr)
	assert.Equal(t, 3, got.PagesScraped)

	rr = serve(t, h, http.MethodGet, "/v1/enrichments/unknown.org", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_GetEnrichment_Errors(t *testing.T) {
	h := newRouter(newAPI(context.Background(), &stubStore{getErr: errors.New("boom")}, 1, shared(&stubEnricher{})), nil)
	rr := serve(t, h, http.MethodGet, "/v1/enrichments/acme.com", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	h = newRouter(newAPI(context.Background(), nil, 1, shared(&stubEnricher{})), nil)
	rr = serve(t, h, http.MethodGet, "/v1/enrichments/acme.com", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouter_PoolStats_Disabled(t *testing.T) {
	h := newRouter(newAPI(context.Background(), nil, 1, shared(&stubEnricher{})), nil)

	rr := serve(t, h, http.MethodGet, "/v1/pool/stats", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_PoolStats_SumsWorkerPools(t *testing.T) {
	pools := []stubPool{{hits: 6, misses: 2}, {hits: 2, misses: 0}}
	built := 0
	a := newAPI(context.Background(), nil, 2, func() (crawlEnricher, poolStatter) {
		p := pools[built]
		built++
		return &stubEnricher{}, p
	})
	require.Equal(t, 2, built)

	rr := serve(t, newRouter(a, nil), http.MethodGet, "/v1/pool/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	stats := decode[scrape.PoolStats](t, rr)
	assert.Equal(t, 10, stats.TotalRequests)
	assert.Equal(t, 8, stats.PoolHits)
	assert.Equal(t, 2, stats.SessionsCreated)
	assert.Equal(t, 2, stats.IdleSessions)
	assert.InDelta(t, 80.0, stats.HitRate, 1e-9)
}

func TestAPI_WorkersLeasedExclusively(t *testing.T) {
	var built []*stubEnricher
	a := newAPI(context.Background(), nil, 2, func() (crawlEnricher, poolStatter) {
		en := &stubEnricher{}
		built = append(built, en)
		return en, nil
	})
	require.Len(t, built, 2)

	first, err := a.lease(context.Background())
	require.NoError(t, err)
	second, err := a.lease(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.lease(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	req := httptest.NewRequest(http.MethodPost, "/v1/crawl", bytes.NewBufferString(`{"domain":"acme.com"}`))
	req = req.WithContext(ctx)
	rr := httptest.NewRecorder()
	newRouter(a, nil).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	a.workers <- first
	rr = serve(t, newRouter(a, nil), http.MethodPost, "/v1/crawl", map[string]string{"domain": "acme.com"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"acme.com"}, first.(*stubEnricher).crawled)
	assert.Empty(t, second.(*stubEnricher).crawled)
	a.workers <- second
}

func TestRouter_CORS(t *testing.T) {
	h := newRouter(newAPI(context.Background(), nil, 1, shared(&stubEnricher{})), []string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RecoversPanics(t *testing.T) {
	h := newRouter(newAPI(context.Background(), nil, 1, shared(panicEnricher{})), nil)
	rr := serve(t, h, http.MethodPost, "/v1/crawl", map[string]string{"domain": "acme.com"})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

type panicEnricher struct{}

func (panicEnricher) Crawl(context.Context, string) model.ConsolidatedDocument { panic("boom") }

func (panicEnricher) Enrich(context.Context, string) *model.EnrichmentResult { panic("boom") }

func TestResolvePort(t *testing.T) {
	assert.Equal(t, 9090, resolvePort(9090, 8080))
	assert.Equal(t, 8080, resolvePort(0, 8080))
}

func TestStartServer_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newRouter(newAPI(ctx, nil, 1, shared(&stubEnricher{})), nil)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	errCh := make(chan error, 1)
	go func() { errCh <- startServer(ctx, h, port) }()

	var ready bool
	for i := 0; i < 50; i++ {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
		if err == nil {
			_ = resp.Body.Close()
			ready = resp.StatusCode == http.StatusOK
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.True(t, ready, "server never became ready")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
