package scrape

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id     int
	closed atomic.Bool
	page   *RawPage
	err    error
}

func (s *fakeSession) Render(_ context.Context, url string, _ time.Duration) (*RawPage, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.page != nil {
		return s.page, nil
	}
	return &RawPage{URL: url, Markup: "<p>rendered</p>", Text: longText}, nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	err      error
}

func (f *fakeFactory) New(context.Context) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSession{id: len(f.sessions) + 1}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func TestSessionPool_ReusesSessions(t *testing.T) {
	ff := &fakeFactory{}
	p := NewSessionPool(PoolConfig{MaxSessions: 2}, ff.New)
	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(s1, true)

	s2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	p.Release(s2, true)

	st := p.Stats()
	assert.Equal(t, 1, st.SessionsCreated)
	assert.Equal(t, 1, st.PoolHits)
	assert.Equal(t, 1, st.PoolMisses)
	assert.Equal(t, 2, st.TotalRequests)
	assert.InDelta(t, 50.0, st.HitRate, 0.001)
	assert.Equal(t, 1, st.ActiveSessions)
	assert.Equal(t, 1, st.IdleSessions)
}

func TestSessionPool_ExhaustedAtCapacity(t *testing.T) {
	ff := &fakeFactory{}
	p := NewSessionPool(PoolConfig{MaxSessions: 1}, ff.New)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolExhausted)

	p.Release(s, true)
	_, err = p.Acquire(context.Background())
	assert.NoError(t, err)
}

func TestSessionPool_RecyclesByRequestCount(t *testing.T) {
	ff := &fakeFactory{}
	p := NewSessionPool(PoolConfig{MaxSessions: 1, MaxRequests: 2}, ff.New)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		s, err := p.Acquire(ctx)
		require.NoError(t, err)
		p.Release(s, true)
	}
	assert.True(t, ff.sessions[0].closed.Load())
	assert.Equal(t, 1, p.Stats().SessionsRecycled)
	assert.Equal(t, 0, p.Stats().ActiveSessions)

	_, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ff.count())
}

func TestSessionPool_RecyclesByAgeAndIdle(t *testing.T) {
	now := time.Now()
	ff := &fakeFactory{}
	p := NewSessionPool(PoolConfig{MaxSessions: 2, MaxAge: time.Hour, MaxIdle: time.Minute}, ff.New)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	s, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(s, true)

	now = now.Add(2 * time.Minute)
	s2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, s, s2)
	assert.True(t, ff.sessions[0].closed.Load())

	now = now.Add(2 * time.Hour)
	p.Release(s2, true)
	assert.True(t, ff.sessions[1].closed.Load())
	assert.Equal(t, 2, p.Stats().SessionsRecycled)
}

func TestSessionPool_UnhealthyClosed(t *testing.T) {
	ff := &fakeFactory{}
	p := NewSessionPool(PoolConfig{}, ff.New)
	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(s, false)
	assert.True(t, ff.sessions[0].closed.Load())
	assert.Equal(t, 0, p.Stats().IdleSessions)
}

func TestSessionPool_FactoryError(t *testing.T) {
	ff := &fakeFactory{err: errors.New("no chrome")}
	p := NewSessionPool(PoolConfig{MaxSessions: 1}, ff.New)
	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no chrome")
	assert.Equal(t, 0, p.Stats().ActiveSessions)
}

func TestSessionPool_Close(t *testing.T) {
	ff := &fakeFactory{}
	p := NewSessionPool(PoolConfig{MaxSessions: 3}, ff.New)
	ctx := context.Background()

	idle, err := p.Acquire(ctx)
	require.NoError(t, err)
	leased, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(idle, true)

	p.Close()
	assert.True(t, ff.sessions[0].closed.Load())
	assert.False(t, ff.sessions[1].closed.Load())

	p.Release(leased, true)
	assert.True(t, ff.sessions[1].closed.Load())

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)
	p.Close()
}

func TestSessionPool_ConcurrentUse(t *testing.T) {
	ff := &fakeFactory{}
	p := NewSessionPool(PoolConfig{MaxSessions: 3}, ff.New)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := p.Acquire(context.Background())
			if err != nil {
				return
			}
			p.Release(s, true)
		}()
	}
	wg.Wait()
	st := p.Stats()
	assert.LessOrEqual(t, st.SessionsCreated, 3)
	assert.LessOrEqual(t, st.ActiveSessions, 3)
}
