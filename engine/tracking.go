package engine

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// TrackingToken derives the open/click token for a message id. Deterministic so
// the webhook can verify it without storing a second secret per message.
func TrackingToken(messageID string) string {
	hash := sha256.Sum256([]byte("vitalpath:" + messageID))
	return base64.URLEncoding.EncodeToString(hash[:])[:20]
}

// OpenPixelURL returns the tracking pixel URL for email opens.
func OpenPixelURL(baseURL, messageID string) string {
	return fmt.Sprintf("%s/track/open/%s/%s", baseURL, messageID, TrackingToken(messageID))
}

// ClickTrackURL wraps a link so the click is recorded before redirecting.
func ClickTrackURL(baseURL, messageID, originalURL string) string {
	return fmt.Sprintf("%s/track/click/%s/%s?url=%s",
		baseURL, messageID, TrackingToken(messageID), url.QueryEscape(originalURL))
}

// InjectTracking rewrites links for click tracking and appends the open pixel.
// Applied after rendering, so the renderer itself stays deterministic with
// respect to its own inputs.
func InjectTracking(htmlContent, baseURL, messageID string, trackOpens, trackClicks bool) string {
	if trackClicks {
		htmlContent = injectClickTracking(htmlContent, baseURL, messageID)
	}
	if trackOpens {
		pixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`,
			OpenPixelURL(baseURL, messageID))
		htmlContent += pixel
	}
	return htmlContent
}

func injectClickTracking(html, baseURL, messageID string) string {
	startTag := `<a href="`
	endTag := `"`
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

		originalURL := html[startIdx:endIdx]
		trackedURL := ClickTrackURL(baseURL, messageID, originalURL)

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}
