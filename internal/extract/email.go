// Package extract pulls emails, links and visible text out of fetched
// markup. Every function degrades to an empty result on malformed input.
package extract

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// Emails scans raw markup (scripts, comments and attributes included) for
// addresses on targetDomain or one of its subdomains. Matches are
// deduplicated case-insensitively, keeping first-seen casing and order.
func Emails(markup, targetDomain string) []string {
	out := []string{}
	target := strings.ToLower(strings.TrimSpace(targetDomain))
	if markup == "" || target == "" {
		return out
	}

	seen := make(map[string]struct{})
	for _, addr := range emailPattern.FindAllString(markup, -1) {
		at := strings.LastIndexByte(addr, '@')
		host := strings.ToLower(addr[at+1:])
		if host != target && !strings.HasSuffix(host, "."+target) {
			continue
		}
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// MergeEmails appends the addresses of more to into, skipping any already
// present case-insensitively.
func MergeEmails(into []string, more ...[]string) []string {
	if into == nil {
		into = []string{}
	}
	seen := make(map[string]struct{}, len(into))
	for _, e := range into {
		seen[strings.ToLower(e)] = struct{}{}
	}
	for _, list := range more {
		for _, e := range list {
			key := strings.ToLower(e)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			into = append(into, e)
		}
	}
	return into
}
