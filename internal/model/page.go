package model

// FetchStrategy names the fetch path that produced a FetchResult.
type FetchStrategy string

const (
	StrategyLightweight FetchStrategy = "lightweight"
	StrategyRendered    FetchStrategy = "rendered"
)

// FetchResult is the outcome of fetching one URL. Both strategies always
// retain the raw markup alongside the visible text.
type FetchResult struct {
	URL         string        `json:"url"`
	FinalURL    string        `json:"final_url,omitempty"`
	TextContent string        `json:"text_content"`
	RawMarkup   string        `json:"raw_markup,omitempty"`
	Emails      []string      `json:"emails"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Strategy    FetchStrategy `json:"strategy,omitempty"`
	StatusCode  int           `json:"status_code,omitempty"`
}

// CrawlResults is the ordered url -> FetchResult map produced by one crawl.
// Iteration order is fetch order.
type CrawlResults struct {
	pages []FetchResult
	index map[string]int
}

// NewCrawlResults returns an empty result set.
func NewCrawlResults() *CrawlResults {
	return &CrawlResults{index: make(map[string]int)}
}

// Add stores r under key. Adding an existing key replaces its result and
// keeps its original position.
func (c *CrawlResults) Add(key string, r FetchResult) {
	if c.index == nil {
		c.index = make(map[string]int)
	}
	if i, ok := c.index[key]; ok {
		c.pages[i] = r
		return
	}
	c.index[key] = len(c.pages)
	c.pages = append(c.pages, r)
}

// Len returns the number of fetched pages.
func (c *CrawlResults) Len() int {
	if c == nil {
		return 0
	}
	return len(c.pages)
}

// Get returns the result stored under key.
func (c *CrawlResults) Get(key string) (FetchResult, bool) {
	if c == nil {
		return FetchResult{}, false
	}
	i, ok := c.index[key]
	if !ok {
		return FetchResult{}, false
	}
	return c.pages[i], true
}

// URLs returns the keys in fetch order.
func (c *CrawlResults) URLs() []string {
	if c == nil {
		return nil
	}
	urls := make([]string, len(c.pages))
	for key, i := range c.index {
		urls[i] = key
	}
	return urls
}

// Pages returns the results in fetch order. The slice is shared.
func (c *CrawlResults) Pages() []FetchResult {
	if c == nil {
		return nil
	}
	return c.pages
}

// ConsolidatedDocument merges every page of a crawl into one document for
// analysis.
type ConsolidatedDocument struct {
	URL          string   `json:"url"`
	Content      string   `json:"content"`
	Emails       []string `json:"emails"`
	Success      bool     `json:"success"`
	Error        string   `json:"error"`
	PagesScraped int      `json:"pages_scraped"`
	ScrapedURLs  []string `json:"scraped_urls"`
}
