package resilience

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Rate limit categories shared by every outbound call class.
const (
	CategoryBrowser = "browser"
	CategoryAI      = "ai"
	CategoryCRM     = "crm"
)

// Limit is a token-bucket setting for one category.
type Limit struct {
	RPS   float64 `yaml:"rps" mapstructure:"rps"`
	Burst int     `yaml:"burst" mapstructure:"burst"`
}

// Limiters holds one token bucket per call category. A category without a
// configured limit is unthrottled.
type Limiters struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewLimiters builds a limiter set from per-category limits. Limits with a
// non-positive RPS are skipped.
func NewLimiters(limits map[string]Limit) *Limiters {
	l := &Limiters{limiters: make(map[string]*rate.Limiter, len(limits))}
	for name, lim := range limits {
		l.Set(name, lim)
	}
	return l
}

// Set replaces the limit for one category.
func (l *Limiters) Set(category string, lim Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim.RPS <= 0 {
		delete(l.limiters, category)
		return
	}
	burst := lim.Burst
	if burst <= 0 {
		burst = 1
	}
	l.limiters[category] = rate.NewLimiter(rate.Limit(lim.RPS), burst)
}

// Get returns the limiter for category, or nil when it is unthrottled.
func (l *Limiters) Get(category string) *rate.Limiter {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiters[category]
}

// Wait blocks until category has a token or ctx is done. A nil receiver
// never blocks.
func (l *Limiters) Wait(ctx context.Context, category string) error {
	lim := l.Get(category)
	if lim == nil {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		return eris.Wrapf(err, "resilience: wait for %s token", category)
	}
	return nil
}
