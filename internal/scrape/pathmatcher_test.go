package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathMatcher_Defaults(t *testing.T) {
	m := NewPathMatcher(nil)
	assert.Equal(t, DefaultExcludePatterns, m.Patterns())

	assert.True(t, m.IsExcluded("https://acme.com/assets/site.css"))
	assert.True(t, m.IsExcluded("https://acme.com/brochure.PDF"))
	assert.True(t, m.IsExcluded("https://acme.com/wp-json/wp/v2/posts"))
	assert.False(t, m.IsExcluded("https://acme.com/about"))
	assert.False(t, m.IsExcluded("https://acme.com/"))
	assert.False(t, m.IsExcluded("https://acme.com/services.html"))
}

func TestPathMatcher_Custom(t *testing.T) {
	m := NewPathMatcher([]string{"/blog/*", "/careers", "/*.aspx"})
	assert.True(t, m.IsExcluded("https://acme.com/blog"))
	assert.True(t, m.IsExcluded("https://acme.com/blog/2024/post"))
	assert.True(t, m.IsExcluded("https://acme.com/careers"))
	assert.True(t, m.IsExcluded("https://acme.com/Default.aspx"))
	assert.False(t, m.IsExcluded("https://acme.com/blogger"))
	assert.False(t, m.IsExcluded("https://acme.com/careers/engineer"))
}

func TestPathMatcher_NilAndInvalid(t *testing.T) {
	var m *PathMatcher
	assert.False(t, m.IsExcluded("https://acme.com/x.pdf"))
	assert.True(t, NewPathMatcher(nil).IsExcluded("http://[::1"))
}
