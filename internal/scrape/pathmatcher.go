package scrape

import (
	"net/url"
	"path"
	"strings"
)

// DefaultExcludePatterns skip non-HTML assets that <link> and <a> tags point
// at.
var DefaultExcludePatterns = []string{
	"*.pdf", "*.doc", "*.docx", "*.xls", "*.xlsx", "*.zip",
	"*.jpg", "*.jpeg", "*.png", "*.gif", "*.svg", "*.webp", "*.ico",
	"*.css", "*.js", "*.json", "*.xml", "*.rss",
	"*.mp3", "*.mp4", "*.mov", "*.woff", "*.woff2", "*.ttf",
	"/wp-json/*", "/feed/*", "/cdn-cgi/*",
}

// PathMatcher decides which discovered URLs the crawler skips. Patterns are
// "*.ext" (extension anywhere in the path), "/dir/*" (the directory and
// everything below it) or a path.Match glob.
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher builds a matcher. An empty list selects
// DefaultExcludePatterns.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = DefaultExcludePatterns
	}
	lower := make([]string, len(patterns))
	for i, p := range patterns {
		lower[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return &PathMatcher{patterns: lower}
}

// Patterns returns the active patterns.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// IsExcluded reports whether rawURL matches a pattern. Unparsable URLs are
// excluded. A nil matcher excludes nothing.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	if m == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, pattern := range m.patterns {
		if matchPattern(pattern, p) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, p string) bool {
	switch {
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(p, pattern[1:])
	case strings.HasSuffix(pattern, "/*"):
		dir := strings.TrimSuffix(pattern, "/*")
		return p == dir || strings.HasPrefix(p, dir+"/")
	}
	ok, _ := path.Match(pattern, p)
	return ok
}
