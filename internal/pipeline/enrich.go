package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-enricher/internal/domain"
	"github.com/sells-group/site-enricher/internal/model"
)

// CrawlCache stores consolidated documents by domain.
type CrawlCache interface {
	GetCachedCrawl(ctx context.Context, domain string) (*model.ConsolidatedDocument, error)
	SetCachedCrawl(ctx context.Context, domain string, doc model.ConsolidatedDocument, ttl time.Duration) error
}

// ResultSink persists finished enrichments.
type ResultSink interface {
	SaveEnrichment(ctx context.Context, r *model.EnrichmentResult) error
}

// EnricherConfig bounds a single enrichment.
type EnricherConfig struct {
	MaxDepth        int
	MaxPages        int
	CacheTTL        time.Duration
	MaxContentChars int
}

// Enricher crawls a domain, consolidates the pages and analyzes the text.
// cache, sink and analyzer are optional.
type Enricher struct {
	crawler  *Crawler
	analyzer Analyzer
	cache    CrawlCache
	sink     ResultSink
	cfg      EnricherConfig
	now      func() time.Time
}

// NewEnricher builds an Enricher.
func NewEnricher(crawler *Crawler, analyzer Analyzer, cache CrawlCache, sink ResultSink, cfg EnricherConfig) *Enricher {
	if cfg.MaxDepth < 0 {
		cfg.MaxDepth = 0
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	return &Enricher{
		crawler:  crawler,
		analyzer: analyzer,
		cache:    cache,
		sink:     sink,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Crawl crawls one normalized domain from its root URL and consolidates the
// pages. It never returns an error; failures are in the document.
func (e *Enricher) Crawl(ctx context.Context, d string) model.ConsolidatedDocument {
	results := e.crawler.Crawl(ctx, domain.RootURL(d), e.cfg.MaxDepth, e.cfg.MaxPages)
	return Consolidate(results)
}

// Enrich runs the full enrichment for raw, which may be a bare domain, a URL
// or an email address. The returned result always carries a terminal
// status.
func (e *Enricher) Enrich(ctx context.Context, raw string) (res *model.EnrichmentResult) {
	res = &model.EnrichmentResult{
		Domain:      raw,
		Name:        raw,
		Status:      model.StatusInProgress,
		Emails:      []string{},
		ScrapedURLs: []string{},
		StartedAt:   e.now().UTC(),
	}
	log := zap.L().With(zap.String("domain", raw))
	valid := false

	defer func() {
		if r := recover(); r != nil {
			log.Error("enrich: panic", zap.Any("panic", r))
			e.fail(res, fmt.Sprintf("panic: %v", r))
		}
		res.CompletedAt = e.now().UTC()
		if valid {
			e.persist(ctx, res)
		}
	}()

	d, ok := domain.Normalize(raw)
	if !ok {
		e.fail(res, "invalid domain")
		res.Error = "invalid domain"
		return res
	}
	valid = true
	res.Domain = d
	res.Name = d
	res.URL = domain.RootURL(d)

	doc, cached := e.cachedDocument(ctx, d)
	if cached {
		res.FromCache = true
		log.Info("enrich: using cached crawl", zap.Int("pages", doc.PagesScraped))
	} else {
		doc = e.Crawl(ctx, d)
		if doc.Success && e.cache != nil && e.cfg.CacheTTL > 0 {
			if err := e.cache.SetCachedCrawl(ctx, d, doc, e.cfg.CacheTTL); err != nil {
				log.Warn("enrich: cache write failed", zap.Error(err))
			}
		}
	}
	res.ApplyDocument(doc)

	if !doc.Success {
		e.fail(res, doc.Error)
		return res
	}

	if e.analyzer == nil {
		res.Status = model.StatusCompleted
		return res
	}

	text := truncateRunes(doc.Content, e.cfg.MaxContentChars)
	analysis, err := e.analyzer.Analyze(ctx, AnalysisInput{Text: text, Domain: d, Emails: doc.Emails})
	switch {
	case eris.Is(err, ErrContentTooShort):
		log.Info("enrich: skipping analysis, content too short")
		res.Status = model.StatusCompleted
	case err != nil:
		log.Warn("enrich: analysis failed", zap.Error(err))
		e.fail(res, err.Error())
	default:
		res.Analysis = analysis
		res.Name = model.DisplayName(d, analysis.CompanyOwner)
		res.Status = model.StatusCompleted
	}
	return res
}

func (e *Enricher) cachedDocument(ctx context.Context, d string) (model.ConsolidatedDocument, bool) {
	if e.cache == nil || e.cfg.CacheTTL <= 0 {
		return model.ConsolidatedDocument{}, false
	}
	doc, err := e.cache.GetCachedCrawl(ctx, d)
	if err != nil {
		zap.L().Warn("enrich: cache read failed", zap.String("domain", d), zap.Error(err))
		return model.ConsolidatedDocument{}, false
	}
	if doc == nil {
		return model.ConsolidatedDocument{}, false
	}
	return *doc, true
}

func (e *Enricher) fail(res *model.EnrichmentResult, msg string) {
	res.Status = model.StatusFailed
	res.EnrichmentError = msg
}

func (e *Enricher) persist(ctx context.Context, res *model.EnrichmentResult) {
	if e.sink == nil {
		return
	}
	// A cancelled run still records where it got to.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.sink.SaveEnrichment(ctx, res); err != nil {
		zap.L().Error("enrich: save failed", zap.String("domain", res.Domain), zap.Error(err))
	}
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
