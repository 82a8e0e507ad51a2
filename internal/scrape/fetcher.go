// Package scrape fetches single pages. A PageFetcher tries a plain HTTP GET
// first and escalates to a rendering browser when the page looks empty.
package scrape

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-enricher/internal/domain"
	"github.com/sells-group/site-enricher/internal/extract"
	"github.com/sells-group/site-enricher/internal/model"
)

// DefaultMinContentLength is the visible-text length below which a page is
// treated as an unrendered shell.
const DefaultMinContentLength = 100

// ErrInsufficientContent marks a page that loaded but had too little text.
var ErrInsufficientContent = eris.New("Insufficient content")

// RawPage is what a single fetch strategy returns.
type RawPage struct {
	URL        string
	FinalURL   string
	Markup     string
	Text       string
	StatusCode int
}

// LightweightFetcher fetches a page without executing scripts.
type LightweightFetcher interface {
	FetchLight(ctx context.Context, url string) (*RawPage, error)
}

// RenderFetcher fetches a page through a script-executing browser.
type RenderFetcher interface {
	Render(ctx context.Context, url string) (*RawPage, error)
}

// Fetcher resolves one URL into a FetchResult. Fetch never fails; errors are
// reported on the result.
type Fetcher interface {
	Fetch(ctx context.Context, url string) model.FetchResult
}

// PageFetcher composes a lightweight and a rendering strategy.
type PageFetcher struct {
	light      LightweightFetcher
	render     RenderFetcher
	minContent int
}

// PageFetcherOption configures a PageFetcher.
type PageFetcherOption func(*PageFetcher)

// WithMinContentLength overrides DefaultMinContentLength.
func WithMinContentLength(n int) PageFetcherOption {
	return func(f *PageFetcher) {
		if n > 0 {
			f.minContent = n
		}
	}
}

// NewPageFetcher builds a PageFetcher. render may be nil, in which case
// short pages are reported as insufficient without escalation.
func NewPageFetcher(light LightweightFetcher, render RenderFetcher, opts ...PageFetcherOption) *PageFetcher {
	f := &PageFetcher{
		light:      light,
		render:     render,
		minContent: DefaultMinContentLength,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch runs the lightweight attempt and escalates to the renderer when it
// errored or produced less than the minimum text. An escalated result
// carries the emails found by both attempts.
func (f *PageFetcher) Fetch(ctx context.Context, url string) (res model.FetchResult) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("scrape: fetch panicked", zap.String("url", url), zap.Any("panic", r))
			res = model.FetchResult{URL: url, Emails: []string{}, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	target := domain.Host(url)

	res = attempt(ctx, url, target, model.StrategyLightweight, f.light.FetchLight)
	if res.Success && f.sufficient(res.TextContent) {
		return res
	}

	if f.render == nil {
		if res.Success {
			res.Success = false
			res.Error = ErrInsufficientContent.Error()
		}
		return res
	}

	zap.L().Debug("scrape: escalating to renderer",
		zap.String("url", url),
		zap.Bool("light_ok", res.Success),
		zap.Int("light_chars", utf8.RuneCountInString(res.TextContent)),
		zap.String("light_error", res.Error),
	)

	lightEmails := res.Emails
	res = attempt(ctx, url, target, model.StrategyRendered, f.render.Render)
	res.Emails = extract.MergeEmails(res.Emails, lightEmails)
	if res.Success && !f.sufficient(res.TextContent) {
		res.Success = false
		res.Error = ErrInsufficientContent.Error()
	}
	return res
}

func (f *PageFetcher) sufficient(text string) bool {
	return utf8.RuneCountInString(text) >= f.minContent
}

func attempt(
	ctx context.Context,
	url, target string,
	strategy model.FetchStrategy,
	fetch func(context.Context, string) (*RawPage, error),
) model.FetchResult {
	res := model.FetchResult{URL: url, Strategy: strategy, Emails: []string{}}

	page, err := fetch(ctx, url)
	if page != nil {
		res.FinalURL = page.FinalURL
		res.RawMarkup = page.Markup
		res.TextContent = page.Text
		res.StatusCode = page.StatusCode
		res.Emails = extract.Emails(page.Markup, target)
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if page == nil {
		res.Error = "empty response"
		return res
	}
	res.Success = true
	return res
}
