package scrape

import (
	"bytes"
	"net/http"
)

// BlockType names the kind of anti-bot page a lightweight fetch hit.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

var (
	challengeMarkers = [][]byte{[]byte("checking your browser"), []byte("cf-browser-verification"), []byte("cf-challenge")}
	captchaMarkers   = [][]byte{[]byte("g-recaptcha"), []byte("h-captcha"), []byte("captcha-container"), []byte("are you a robot")}
)

// DetectBlock reports whether resp is an anti-bot interstitial rather than
// the site's own page. A blocked lightweight fetch escalates to the browser.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("Cf-Ray") != "" || resp.Header.Get("Server") == "cloudflare" {
			return true, BlockCloudflare
		}
	}

	lower := bytes.ToLower(body)
	for _, m := range challengeMarkers {
		if bytes.Contains(lower, m) {
			return true, BlockCloudflare
		}
	}
	// Contact forms embed captchas too; only a small page is an interstitial.
	if len(body) < 10000 {
		for _, m := range captchaMarkers {
			if bytes.Contains(lower, m) {
				return true, BlockCaptcha
			}
		}
	}

	if len(body) < 2000 && bytes.Contains(lower, []byte(`http-equiv="refresh"`)) {
		return true, BlockJSShell
	}
	return false, BlockNone
}
