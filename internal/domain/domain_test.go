package domain

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"example.com", "example.com", true},
		{"  Example.COM ", "example.com", true},
		{"www.example.com", "example.com", true},
		{"https://www.example.com/about?x=1", "example.com", true},
		{"http://example.com:8080/path", "example.com", true},
		{"jane@Example.co.uk", "example.co.uk", true},
		{"shop.example.com", "shop.example.com", true},
		{"xn--bcher-kva.example", "xn--bcher-kva.example", true},
		{"example.xn--p1ai", "example.xn--p1ai", true},
		{"a-b.io", "a-b.io", true},
		{"", "", false},
		{"   ", "", false},
		{"localhost", "", false},
		{"not a domain", "", false},
		{"127.0.0.1", "", false},
		{"a.b", "", false},
		{"https://", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Normalize(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"example.com",
		"WWW.Example.com",
		"https://www.example.com:443/a/b#frag",
		"info@sub.example.org",
		"xn--80ak6aa92e.com",
		"my-site.co",
	}
	for _, in := range inputs {
		once, ok := Normalize(in)
		require.True(t, ok, in)
		twice, ok := Normalize(once)
		require.True(t, ok, once)
		assert.Equal(t, once, twice, in)
	}
}

func TestHost(t *testing.T) {
	assert.Equal(t, "example.com", Host("https://WWW.example.com/about"))
	assert.Equal(t, "blog.example.com", Host("https://blog.example.com"))
	assert.Equal(t, "", Host("/relative"))
}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "example.com", DedupKey("https://example.com/"))
	assert.Equal(t, "example.com", DedupKey("https://www.example.com"))
	assert.Equal(t, "example.com/about", DedupKey("https://Example.com/about/#team"))
	assert.Equal(t, "example.com/about?a=1", DedupKey("https://example.com/about?a=1"))
	assert.Equal(t, DedupKey("https://example.com/about"), DedupKey("http://example.com/about"))
	assert.Equal(t, DedupKey("https://example.com/about"), DedupKey("https://www.example.com/about/"))
	assert.Equal(t, "relative", DedupKey("relative/"))
}

func TestCleanURL(t *testing.T) {
	u, err := url.Parse("https://www.example.com/about/#top")
	require.NoError(t, err)
	assert.Equal(t, "https://www.example.com/about", CleanURL(u))
}

func TestSameSite(t *testing.T) {
	assert.True(t, SameSite("example.com", "example.com"))
	assert.True(t, SameSite("www.example.com", "example.com"))
	assert.True(t, SameSite("shop.example.com", "example.com"))
	assert.False(t, SameSite("notexample.com", "example.com"))
	assert.False(t, SameSite("external.com", "example.com"))
	assert.False(t, SameSite("", "example.com"))
}

func TestRegistrable(t *testing.T) {
	assert.Equal(t, "example.co.uk", Registrable("shop.example.co.uk"))
	assert.Equal(t, "example.com", Registrable("www.example.com"))
	assert.Equal(t, "localhost", Registrable("localhost"))
}

func TestRootURL(t *testing.T) {
	assert.Equal(t, "https://example.com", RootURL("example.com"))
}
