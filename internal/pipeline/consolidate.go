package pipeline

import (
	"strings"

	"github.com/sells-group/site-enricher/internal/extract"
	"github.com/sells-group/site-enricher/internal/model"
)

const (
	errNoPagesScraped    = "No pages scraped"
	errNoSuccessfulPages = "No successful pages"
)

// Consolidate merges a crawl into one document. Each successful page with
// text contributes a "=== Page: <url> ===" section and its emails.
func Consolidate(results *model.CrawlResults) model.ConsolidatedDocument {
	doc := model.ConsolidatedDocument{
		Emails:      []string{},
		ScrapedURLs: []string{},
	}
	if results.Len() == 0 {
		doc.Error = errNoPagesScraped
		return doc
	}

	urls := results.URLs()
	doc.URL = urls[0]

	var sb strings.Builder
	for i, page := range results.Pages() {
		if !page.Success || page.TextContent == "" {
			continue
		}
		sb.WriteString("\n\n=== Page: ")
		sb.WriteString(urls[i])
		sb.WriteString(" ===\n")
		sb.WriteString(page.TextContent)

		doc.Emails = extract.MergeEmails(doc.Emails, page.Emails)
		doc.ScrapedURLs = append(doc.ScrapedURLs, urls[i])
	}

	doc.PagesScraped = len(doc.ScrapedURLs)
	doc.Success = doc.PagesScraped > 0
	if !doc.Success {
		doc.Error = errNoSuccessfulPages
		return doc
	}
	doc.Content = strings.TrimSpace(sb.String())
	return doc
}
