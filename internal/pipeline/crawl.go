// Package pipeline runs the per-domain crawl, consolidation and analysis,
// and fans many domains out over a bounded worker pool.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/site-enricher/internal/domain"
	"github.com/sells-group/site-enricher/internal/extract"
	"github.com/sells-group/site-enricher/internal/model"
	"github.com/sells-group/site-enricher/internal/resilience"
	"github.com/sells-group/site-enricher/internal/scrape"
)

// DefaultCrawlDelay is the politeness pause between page fetches.
const DefaultCrawlDelay = time.Second

// Crawler walks one site breadth-first. A Crawler holds no per-crawl state
// and may run several crawls, but each crawl is sequential.
type Crawler struct {
	fetcher scrape.Fetcher
	matcher *scrape.PathMatcher
	delay   time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

// CrawlerOption configures a Crawler.
type CrawlerOption func(*Crawler)

// WithDelay sets the pause between fetches. Zero disables it.
func WithDelay(d time.Duration) CrawlerOption {
	return func(c *Crawler) { c.delay = d }
}

// WithPathMatcher skips discovered links the matcher excludes.
func WithPathMatcher(m *scrape.PathMatcher) CrawlerOption {
	return func(c *Crawler) { c.matcher = m }
}

// NewCrawler builds a Crawler around fetcher.
func NewCrawler(fetcher scrape.Fetcher, opts ...CrawlerOption) *Crawler {
	c := &Crawler{
		fetcher: fetcher,
		delay:   DefaultCrawlDelay,
		sleep:   resilience.Sleep,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type crawlItem struct {
	url   string
	depth int
}

// Crawl fetches startURL and then same-site pages in BFS order until the
// frontier is empty or maxPages results are held. Links are followed only
// from successful pages shallower than maxDepth. A failed page is recorded
// and the crawl moves on. Cancelling ctx stops the crawl between pages and
// returns what was fetched so far.
func (c *Crawler) Crawl(ctx context.Context, startURL string, maxDepth, maxPages int) *model.CrawlResults {
	results := model.NewCrawlResults()
	if maxPages <= 0 || startURL == "" {
		return results
	}
	if maxDepth < 0 {
		maxDepth = 0
	}

	base := domain.Host(startURL)
	queue := []crawlItem{{url: startURL, depth: 0}}
	visited := make(map[string]bool)
	queued := map[string]bool{domain.DedupKey(startURL): true}

	log := zap.L().With(zap.String("site", base))
	start := time.Now()

	for len(queue) > 0 && results.Len() < maxPages {
		if ctx.Err() != nil {
			log.Warn("crawl: stopped early", zap.Error(ctx.Err()), zap.Int("pages", results.Len()))
			break
		}

		item := queue[0]
		queue = queue[1:]

		key := domain.DedupKey(item.url)
		if visited[key] {
			continue
		}
		visited[key] = true

		res := c.fetcher.Fetch(ctx, item.url)
		results.Add(item.url, res)
		log.Debug("crawl: fetched",
			zap.String("url", item.url),
			zap.Int("depth", item.depth),
			zap.Bool("success", res.Success),
			zap.String("strategy", string(res.Strategy)),
			zap.String("error", res.Error),
		)

		if res.Success && item.depth < maxDepth {
			for _, link := range discoverLinks(res, base) {
				k := domain.DedupKey(link)
				if visited[k] || queued[k] || c.matcher.IsExcluded(link) {
					continue
				}
				queued[k] = true
				queue = append(queue, crawlItem{url: link, depth: item.depth + 1})
			}
		}

		if len(queue) > 0 && results.Len() < maxPages && c.delay > 0 {
			if err := c.sleep(ctx, c.delay); err != nil {
				break
			}
		}
	}

	log.Info("crawl: complete",
		zap.Int("pages", results.Len()),
		zap.Int("max_pages", maxPages),
		zap.Int("max_depth", maxDepth),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results
}

// discoverLinks prefers markup; the text scan only runs when a strategy
// returned no markup at all.
func discoverLinks(res model.FetchResult, base string) []string {
	pageURL := res.URL
	if res.FinalURL != "" {
		pageURL = res.FinalURL
	}
	if res.RawMarkup != "" {
		return extract.Links(res.RawMarkup, pageURL, base)
	}
	return extract.LinksFromText(res.TextContent, base)
}
