package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/sells-group/site-enricher/internal/model"
)

// siteFetcher serves a fixed link graph. Unknown URLs fail.
type siteFetcher struct {
	mu    sync.Mutex
	pages map[string]string // url -> markup
	fail  map[string]bool
	calls []string
}

func newSiteFetcher(pages map[string]string) *siteFetcher {
	return &siteFetcher{pages: pages, fail: map[string]bool{}}
}

func (s *siteFetcher) Fetch(_ context.Context, url string) model.FetchResult {
	s.mu.Lock()
	s.calls = append(s.calls, url)
	s.mu.Unlock()

	markup, ok := s.pages[url]
	if !ok || s.fail[url] {
		return model.FetchResult{URL: url, Emails: []string{}, Error: "connection refused"}
	}
	return model.FetchResult{
		URL:         url,
		FinalURL:    url,
		RawMarkup:   markup,
		TextContent: "Text of " + url + " " + strings.Repeat("content ", 20),
		Emails:      []string{},
		Success:     true,
		Strategy:    model.StrategyLightweight,
		StatusCode:  200,
	}
}

func (s *siteFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func links(hrefs ...string) string {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for _, h := range hrefs {
		sb.WriteString(`<a href="` + h + `">link</a>`)
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

func noDelay() CrawlerOption { return WithDelay(0) }
