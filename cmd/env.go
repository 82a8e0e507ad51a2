package main

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-enricher/internal/config"
	"github.com/sells-group/site-enricher/internal/crm"
	"github.com/sells-group/site-enricher/internal/pipeline"
	"github.com/sells-group/site-enricher/internal/resilience"
	"github.com/sells-group/site-enricher/internal/scrape"
	"github.com/sells-group/site-enricher/internal/store"
	"github.com/sells-group/site-enricher/pkg/anthropic"
	"github.com/sells-group/site-enricher/pkg/salesforce"
)

// enrichEnv holds the clients shared by the crawl, enrich, batch and serve
// commands. Workers share the store, analyzer and limiters; each worker
// gets its own fetch stack and browser session pool.
type enrichEnv struct {
	Store    store.Store // nil in crawl mode
	Limiters *resilience.Limiters
	Analyzer pipeline.Analyzer // nil in crawl mode

	mu    sync.Mutex
	pools []*scrape.SessionPool
}

// Close drains every worker's session pool and closes the store.
func (e *enrichEnv) Close() {
	e.mu.Lock()
	pools := e.pools
	e.pools = nil
	e.mu.Unlock()
	for _, p := range pools {
		p.Close()
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

// initEnv validates cfg for mode and builds the rate limiters. Every mode but
// "crawl" also opens the store and the analyzer. Callers should defer
// env.Close().
func initEnv(ctx context.Context, mode string) (*enrichEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &enrichEnv{Limiters: resilience.NewLimiters(cfg.RateLimit)}
	if mode == "crawl" {
		return env, nil
	}

	st, err := openStore(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Store = st

	env.Analyzer = pipeline.NewClaudeAnalyzer(
		anthropic.NewClient(cfg.Anthropic.Key),
		analyzerConfig(cfg),
		env.Limiters,
	)
	return env, nil
}

// openStore opens the configured result store and runs its migration.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// buildFetcher assembles the lightweight and (optionally) rendering
// strategies. The returned pool is nil when the browser or pooling is off.
func buildFetcher(c *config.Config, limiters *resilience.Limiters) (scrape.Fetcher, *scrape.SessionPool) {
	light := scrape.NewHTTPFetcher(httpConfig(c))

	var (
		render scrape.RenderFetcher
		pool   *scrape.SessionPool
	)
	if c.Browser.Enabled {
		bcfg := browserConfig(c)
		factory := scrape.ChromeFactory(bcfg)
		if c.Browser.Pool.Enabled {
			pool = scrape.NewSessionPool(poolConfig(c), factory)
		}
		render = scrape.NewBrowserFetcher(bcfg, factory, pool, limiters)
	}

	return scrape.NewPageFetcher(light, render, scrape.WithMinContentLength(c.Fetch.MinContentLength)), pool
}

// newWorker builds an Enricher with its own fetch stack. The returned pool
// is nil when the browser or pooling is off; env.Close drains it. sink may
// be nil when the caller persists results itself.
func (e *enrichEnv) newWorker(sink pipeline.ResultSink) (*pipeline.Enricher, *scrape.SessionPool) {
	fetcher, pool := buildFetcher(cfg, e.Limiters)
	if pool != nil {
		e.mu.Lock()
		e.pools = append(e.pools, pool)
		e.mu.Unlock()
	}

	crawler := pipeline.NewCrawler(fetcher,
		pipeline.WithDelay(cfg.Crawl.Delay()),
		pipeline.WithPathMatcher(scrape.NewPathMatcher(cfg.Crawl.ExcludePaths)),
	)

	var cache pipeline.CrawlCache
	if e.Store != nil {
		cache = e.Store
	}
	en := pipeline.NewEnricher(crawler, e.Analyzer, cache, sink, pipeline.EnricherConfig{
		MaxDepth:        cfg.Crawl.MaxDepth,
		MaxPages:        cfg.Crawl.MaxPages,
		CacheTTL:        cfg.Crawl.CacheTTL(),
		MaxContentChars: cfg.Anthropic.MaxContentChars,
	})
	return en, pool
}

// initSyncer authenticates with Salesforce and loads the field map.
func initSyncer(limiters *resilience.Limiters) (*crm.Syncer, error) {
	client, err := salesforce.Dial(salesforce.JWTConfig{
		ClientID: cfg.Salesforce.ClientID,
		Username: cfg.Salesforce.Username,
		KeyPath:  cfg.Salesforce.KeyPath,
		LoginURL: cfg.Salesforce.LoginURL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "connect salesforce")
	}
	fields, err := crm.LoadFieldMap(cfg.CRM.FieldMap)
	if err != nil {
		return nil, err
	}
	return crm.NewSyncer(client, fields, limiters, cfg.CRM.WriteNotes), nil
}

func httpConfig(c *config.Config) scrape.HTTPConfig {
	return scrape.HTTPConfig{
		Timeout:      seconds(c.Fetch.TimeoutSecs),
		Retries:      c.Fetch.Retries,
		UserAgent:    c.Fetch.UserAgent,
		MaxBodyBytes: c.Fetch.MaxBodyBytes,
	}
}

func browserConfig(c *config.Config) scrape.BrowserConfig {
	b := scrape.DefaultBrowserConfig()
	b.Headless = c.Browser.Headless
	b.ExecPath = c.Browser.ExecPath
	b.UserAgent = c.Fetch.UserAgent
	b.SettleDelay = time.Duration(c.Browser.SettleMs) * time.Millisecond
	if c.Browser.TimeoutSecs > 0 {
		b.Timeout = seconds(c.Browser.TimeoutSecs)
	}
	return b
}

func poolConfig(c *config.Config) scrape.PoolConfig {
	p := scrape.DefaultPoolConfig()
	pc := c.Browser.Pool
	if pc.MaxSessions > 0 {
		p.MaxSessions = pc.MaxSessions
	}
	if pc.MaxRequests > 0 {
		p.MaxRequests = pc.MaxRequests
	}
	if pc.MaxAgeMins > 0 {
		p.MaxAge = time.Duration(pc.MaxAgeMins) * time.Minute
	}
	if pc.MaxIdleMins > 0 {
		p.MaxIdle = time.Duration(pc.MaxIdleMins) * time.Minute
	}
	return p
}

func analyzerConfig(c *config.Config) pipeline.AnalyzerConfig {
	return pipeline.AnalyzerConfig{
		Model:     c.Anthropic.Model,
		MaxTokens: c.Anthropic.MaxTokens,
		Timeout:   seconds(c.Anthropic.TimeoutSecs),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
