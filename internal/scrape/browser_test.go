package scrape

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/site-enricher/internal/resilience"
)

func TestBrowserFetcher_OneShotClosedOnSuccess(t *testing.T) {
	ff := &fakeFactory{}
	b := NewBrowserFetcher(BrowserConfig{Timeout: time.Second}, ff.New, nil, nil)

	page, err := b.Render(context.Background(), "https://acme.com")
	require.NoError(t, err)
	assert.Equal(t, longText, page.Text)
	require.Equal(t, 1, ff.count())
	assert.True(t, ff.sessions[0].closed.Load())
}

func TestBrowserFetcher_OneShotClosedOnError(t *testing.T) {
	failing := &fakeSession{err: errors.New("net::ERR_CONNECTION_REFUSED")}
	factory := func(context.Context) (Session, error) { return failing, nil }
	b := NewBrowserFetcher(BrowserConfig{}, factory, nil, nil)

	_, err := b.Render(context.Background(), "https://acme.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_CONNECTION_REFUSED")
	assert.True(t, failing.closed.Load())
}

func TestBrowserFetcher_UsesPool(t *testing.T) {
	ff := &fakeFactory{}
	pool := NewSessionPool(PoolConfig{MaxSessions: 1}, ff.New)
	b := NewBrowserFetcher(BrowserConfig{}, ff.New, pool, nil)

	for i := 0; i < 3; i++ {
		_, err := b.Render(context.Background(), "https://acme.com")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, ff.count())
	assert.False(t, ff.sessions[0].closed.Load())
	assert.Equal(t, 2, pool.Stats().PoolHits)
}

func TestBrowserFetcher_PoolExhaustedFallsBack(t *testing.T) {
	ff := &fakeFactory{}
	pool := NewSessionPool(PoolConfig{MaxSessions: 1}, ff.New)
	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	b := NewBrowserFetcher(BrowserConfig{}, ff.New, pool, nil)
	_, err = b.Render(context.Background(), "https://acme.com")
	require.NoError(t, err)

	require.Equal(t, 2, ff.count())
	assert.True(t, ff.sessions[1].closed.Load(), "one-shot session must be closed")
	assert.False(t, ff.sessions[0].closed.Load())
	pool.Release(held, true)
}

func TestBrowserFetcher_FactoryError(t *testing.T) {
	b := NewBrowserFetcher(BrowserConfig{}, (&fakeFactory{err: errors.New("chrome not found")}).New, nil, nil)
	_, err := b.Render(context.Background(), "https://acme.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chrome not found")
}

func TestBrowserFetcher_RateLimited(t *testing.T) {
	ff := &fakeFactory{}
	limiters := resilience.NewLimiters(map[string]resilience.Limit{
		resilience.CategoryBrowser: {RPS: 0.001, Burst: 1},
	})
	b := NewBrowserFetcher(BrowserConfig{}, ff.New, nil, limiters)

	_, err := b.Render(context.Background(), "https://acme.com")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.Render(ctx, "https://acme.com")
	require.Error(t, err)
	assert.Equal(t, 1, ff.count())
}

func TestPageFetcher_WithBrowserFetcher(t *testing.T) {
	light := &mockLight{}
	light.On("FetchLight", mock.Anything, "https://spa.io").Return(&RawPage{Text: "Loading..."}, nil)

	ff := &fakeFactory{}
	f := NewPageFetcher(light, NewBrowserFetcher(BrowserConfig{}, ff.New, nil, nil))
	res := f.Fetch(context.Background(), "https://spa.io")
	assert.True(t, res.Success)
	assert.Equal(t, "rendered", string(res.Strategy))
}
