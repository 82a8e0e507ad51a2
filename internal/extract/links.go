package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/sells-group/site-enricher/internal/domain"
)

var hrefSelector = cascadia.MustCompile("a[href], link[href]")

var textURLPattern = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+[^\s<>"{}|\\^` + "`" + `\[\].,;:!?'")\]}]`)

// Links returns the same-site link targets of markup. Anchor and <link>
// hrefs are resolved against baseURL, filtered to hosts equal to
// targetDomain or under it, stripped of fragments and trailing slashes, and
// deduplicated in document order.
func Links(markup, baseURL, targetDomain string) []string {
	out := []string{}
	base, err := url.Parse(baseURL)
	if err != nil || markup == "" {
		return out
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return out
	}

	seen := make(map[string]struct{})
	doc.FindMatcher(hrefSelector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, ok := resolve(base, href, targetDomain)
		if !ok {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		out = append(out, link)
	})
	return out
}

// LinksFromText is the fallback used when only visible text is available. It
// finds literal http(s) URLs and applies the same site filter as Links.
func LinksFromText(text, targetDomain string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, raw := range textURLPattern.FindAllString(text, -1) {
		u, err := url.Parse(raw)
		if err != nil || !domain.SameSite(u.Hostname(), targetDomain) {
			continue
		}
		link := domain.CleanURL(u)
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out
}

func resolve(base *url.URL, href, targetDomain string) (string, bool) {
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	switch {
	case href == "",
		strings.HasPrefix(href, "#"),
		strings.HasPrefix(lower, "javascript:"),
		strings.HasPrefix(lower, "mailto:"),
		strings.HasPrefix(lower, "tel:"):
		return "", false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if !domain.SameSite(u.Hostname(), targetDomain) {
		return "", false
	}
	return domain.CleanURL(u), true
}
