package scrape

import (
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/site-enricher/internal/extract"
	"github.com/sells-group/site-enricher/internal/resilience"
)

// DefaultUserAgent identifies the crawler on lightweight fetches.
const DefaultUserAgent = "Mozilla/5.0 (compatible; SiteEnricher/1.0)"

// HTTPConfig configures the lightweight fetcher.
type HTTPConfig struct {
	Timeout      time.Duration
	Retries      int
	UserAgent    string
	MaxBodyBytes int64
}

// HTTPFetcher is the lightweight strategy: one GET per URL, no scripts.
type HTTPFetcher struct {
	client *http.Client
	cfg    HTTPConfig
	retry  resilience.RetryConfig
}

// NewHTTPFetcher builds an HTTPFetcher, filling zero config values.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 << 20
	}
	retry := resilience.FetchRetryConfig(cfg.Retries)
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout: cfg.Timeout,
				}).DialContext,
				TLSHandshakeTimeout: cfg.Timeout,
				MaxIdleConnsPerHost: 2,
			},
		},
		cfg:   cfg,
		retry: retry,
	}
}

// FetchLight GETs url, retrying transient failures. On error the last page
// seen (if any) is returned alongside the error so its markup can still be
// scanned.
func (h *HTTPFetcher) FetchLight(ctx context.Context, url string) (*RawPage, error) {
	var last *RawPage
	retry := h.retry
	retry.OnRetry = resilience.RetryLogger("http", url)
	page, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*RawPage, error) {
		p, err := h.fetchOnce(ctx, url)
		last = p
		return p, err
	})
	if err != nil {
		return last, err
	}
	return page, nil
}

func (h *HTTPFetcher) fetchOnce(ctx context.Context, url string) (*RawPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "http: create request")
	}
	req.Header.Set("User-Agent", h.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "http: get %s", url)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "http: read body")
	}

	markup := decodeBody(body, resp.Header.Get("Content-Type"))
	page := &RawPage{
		URL:        url,
		FinalURL:   resp.Request.URL.String(),
		Markup:     markup,
		StatusCode: resp.StatusCode,
	}

	if blocked, kind := DetectBlock(resp, body); blocked {
		return page, eris.Errorf("http: blocked (%s)", kind)
	}
	if resp.StatusCode >= 400 {
		err := eris.Errorf("http: status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return page, resilience.NewTransientError(err, resp.StatusCode)
		}
		return page, err
	}

	page.Text = extract.VisibleText(markup)
	return page, nil
}

// decodeBody converts body to UTF-8 using the Content-Type charset, falling
// back to <meta> sniffing.
func decodeBody(body []byte, contentType string) string {
	if _, params, err := mime.ParseMediaType(contentType); err == nil && params["charset"] != "" {
		if enc, err := htmlindex.Get(params["charset"]); err == nil {
			if name, _ := htmlindex.Name(enc); name == "utf-8" {
				return string(body)
			}
			if out, err := enc.NewDecoder().Bytes(body); err == nil {
				return string(out)
			}
		}
	}

	peek := body
	if len(peek) > 1024 {
		peek = peek[:1024]
	}
	enc, name, _ := charset.DetermineEncoding(peek, contentType)
	if name == "utf-8" {
		return string(body)
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(out)
}
