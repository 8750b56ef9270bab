package worker

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// TrackingToken derives the stateless token guarding the tracking endpoints for
// one SentEmail id.
func TrackingToken(sentEmailID uint, secret string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", secret, sentEmailID)))
	return base64.URLEncoding.EncodeToString(hash[:])[:20]
}

// ValidTrackingToken verifies a token against the SentEmail id it claims
func ValidTrackingToken(sentEmailID uint, secret, token string) bool {
	return token != "" && token == TrackingToken(sentEmailID, secret)
}

// OpenTrackingURL generates the tracking pixel URL for email opens
func OpenTrackingURL(baseURL string, sentEmailID uint, secret string) string {
	return fmt.Sprintf("%s/track/open/%d/%s", baseURL, sentEmailID, TrackingToken(sentEmailID, secret))
}

// ClickTrackingURL generates a tracked redirect URL for a link
func ClickTrackingURL(baseURL string, sentEmailID uint, secret, originalURL string) string {
	return fmt.Sprintf("%s/track/click/%d/%s?url=%s",
		baseURL, sentEmailID, TrackingToken(sentEmailID, secret), url.QueryEscape(originalURL))
}

// InjectTracking adds the open pixel and rewrites links in an HTML body
func InjectTracking(htmlContent, baseURL string, sentEmailID uint, secret string) string {
	pixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`,
		OpenTrackingURL(baseURL, sentEmailID, secret))
	return injectClickTracking(htmlContent, baseURL, sentEmailID, secret) + pixel
}

func injectClickTracking(html, baseURL string, sentEmailID uint, secret string) string {
	const startTag = `<a href="`
	const endTag = `"`
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], endTag)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		trackedURL := ClickTrackingURL(baseURL, sentEmailID, secret, html[startIdx:endIdx])
		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}
