package scrape

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	// ErrPoolExhausted is returned by Acquire when every session is leased.
	ErrPoolExhausted = eris.New("scrape: session pool exhausted")
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = eris.New("scrape: session pool closed")
)

// Session is one rendering-engine instance. A session is used by one fetch
// at a time.
type Session interface {
	Render(ctx context.Context, url string, settle time.Duration) (*RawPage, error)
	Close() error
}

// SessionFactory starts a new Session.
type SessionFactory func(ctx context.Context) (Session, error)

// PoolConfig bounds the session pool.
type PoolConfig struct {
	MaxSessions int
	MaxRequests int
	MaxAge      time.Duration
	MaxIdle     time.Duration
}

// DefaultPoolConfig returns the pool limits used when none are configured.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSessions: 5,
		MaxRequests: 50,
		MaxAge:      30 * time.Minute,
		MaxIdle:     10 * time.Minute,
	}
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	SessionsCreated  int     `json:"sessions_created"`
	SessionsRecycled int     `json:"sessions_recycled"`
	TotalRequests    int     `json:"total_requests"`
	PoolHits         int     `json:"pool_hits"`
	PoolMisses       int     `json:"pool_misses"`
	HitRate          float64 `json:"hit_rate"`
	ActiveSessions   int     `json:"active_sessions"`
	IdleSessions     int     `json:"idle_sessions"`
}

// PooledSession is a Session leased from a SessionPool.
type PooledSession struct {
	Session
	createdAt time.Time
	lastUsed  time.Time
	requests  int
}

// SessionPool reuses rendering sessions across fetches and recycles them by
// request count, age and idle time. It is owned by whoever constructs it.
type SessionPool struct {
	cfg     PoolConfig
	factory SessionFactory
	now     func() time.Time

	mu       sync.Mutex
	idle     []*PooledSession
	active   int
	closed   bool
	created  int
	recycled int
	requests int
	hits     int
	misses   int
}

// NewSessionPool builds an empty pool. Zero limits take DefaultPoolConfig
// values.
func NewSessionPool(cfg PoolConfig, factory SessionFactory) *SessionPool {
	d := DefaultPoolConfig()
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = d.MaxSessions
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = d.MaxRequests
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = d.MaxAge
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = d.MaxIdle
	}
	return &SessionPool{cfg: cfg, factory: factory, now: time.Now}
}

// Acquire leases an idle session, or starts a new one while the pool is
// under capacity. It returns ErrPoolExhausted at capacity.
func (p *SessionPool) Acquire(ctx context.Context) (*PooledSession, error) {
	var stale []*PooledSession
	defer func() { p.closeAll(stale) }()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	now := p.now()
	for len(p.idle) > 0 {
		s := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.worn(s, now) || now.Sub(s.lastUsed) >= p.cfg.MaxIdle {
			p.active--
			p.recycled++
			stale = append(stale, s)
			continue
		}
		p.hits++
		p.requests++
		p.mu.Unlock()
		return s, nil
	}
	if p.active >= p.cfg.MaxSessions {
		p.mu.Unlock()
		return nil, ErrPoolExhausted
	}
	p.active++
	p.misses++
	p.mu.Unlock()

	sess, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		return nil, eris.Wrap(err, "scrape: start pooled session")
	}

	p.mu.Lock()
	p.created++
	p.requests++
	p.mu.Unlock()

	now = p.now()
	return &PooledSession{Session: sess, createdAt: now, lastUsed: now}, nil
}

// Release returns s to the pool. Unhealthy, worn-out sessions and sessions
// released after Close are closed instead.
func (p *SessionPool) Release(s *PooledSession, healthy bool) {
	if s == nil {
		return
	}
	p.mu.Lock()
	now := p.now()
	s.requests++
	s.lastUsed = now
	if p.closed || !healthy || p.worn(s, now) {
		p.active--
		p.recycled++
		p.mu.Unlock()
		p.closeAll([]*PooledSession{s})
		return
	}
	p.idle = append(p.idle, s)
	p.mu.Unlock()
}

// Stats returns a snapshot of the pool counters.
func (p *SessionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := PoolStats{
		SessionsCreated:  p.created,
		SessionsRecycled: p.recycled,
		TotalRequests:    p.requests,
		PoolHits:         p.hits,
		PoolMisses:       p.misses,
		ActiveSessions:   p.active,
		IdleSessions:     len(p.idle),
	}
	if lookups := p.hits + p.misses; lookups > 0 {
		st.HitRate = float64(p.hits) / float64(lookups) * 100
	}
	return st
}

// Close drains the pool. Leased sessions are closed when released.
func (p *SessionPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.active -= len(idle)
	p.mu.Unlock()

	p.closeAll(idle)
	zap.L().Info("scrape: session pool closed", zap.Any("stats", p.Stats()))
}

func (p *SessionPool) worn(s *PooledSession, now time.Time) bool {
	return s.requests >= p.cfg.MaxRequests || now.Sub(s.createdAt) >= p.cfg.MaxAge
}

func (p *SessionPool) closeAll(sessions []*PooledSession) {
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			zap.L().Warn("scrape: close session", zap.Error(err))
		}
	}
}
