// Package domain canonicalizes company domains and page URLs.
package domain

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// MinDomainLength is the shortest host accepted by the loose fallback check.
const MinDomainLength = 4

var domainPattern = regexp.MustCompile(
	`^[a-z0-9][a-z0-9-]*[a-z0-9]*\.([a-z]{2,}|xn--[a-z0-9]+)(\.[a-z]{2,}|\.xn--[a-z0-9]+)*$`,
)

// Normalize reduces a bare domain, email address or URL to its lowercase
// host without "www.", port or path. It reports false when no plausible
// domain can be recovered. Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}
	if at := strings.LastIndex(s, "@"); at >= 0 && !strings.Contains(s, "://") {
		s = s[at+1:]
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}
	host := u.Hostname()
	if host == "" {
		return "", false
	}
	host = strings.TrimSuffix(stripWWW(host), ".")
	if net.ParseIP(host) != nil {
		return "", false
	}

	if domainPattern.MatchString(host) {
		return host, true
	}
	if strings.Contains(host, ".") && len(host) >= MinDomainLength && !strings.ContainsAny(host, " /\\") {
		return host, true
	}
	return "", false
}

// RootURL returns the https URL of the site root for a normalized domain.
func RootURL(domain string) string {
	return "https://" + domain
}

// Host returns the lowercase hostname of rawURL with any leading "www."
// removed, or "" when rawURL has no host.
func Host(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return stripWWW(strings.ToLower(u.Hostname()))
}

// DedupKey returns the form of rawURL used to detect repeat visits: the
// scheme is dropped so http and https links to one page collide, the host
// is lowercased without "www.", the fragment is dropped and the trailing
// slash removed. Unparsable input is returned trimmed.
func DedupKey(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.TrimSpace(rawURL), "/")
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = ""
	u.Host = stripWWW(strings.ToLower(u.Host))
	return strings.TrimRight(strings.TrimPrefix(u.String(), "//"), "/")
}

// CleanURL strips the fragment and trailing slash from an absolute URL while
// keeping its host as written.
func CleanURL(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return strings.TrimRight(c.String(), "/")
}

// SameSite reports whether host equals target or is a subdomain of it,
// ignoring a leading "www." on either side.
func SameSite(host, target string) bool {
	host = stripWWW(strings.ToLower(host))
	target = stripWWW(strings.ToLower(target))
	if host == "" || target == "" {
		return false
	}
	return host == target || strings.HasSuffix(host, "."+target)
}

// Registrable returns the registrable domain (eTLD+1) of host, falling back
// to the host itself for hosts publicsuffix cannot classify.
func Registrable(host string) string {
	host = stripWWW(strings.ToLower(host))
	reg, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return reg
}

func stripWWW(host string) string {
	return strings.TrimPrefix(host, "www.")
}
