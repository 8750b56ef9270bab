package worker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackingTokenIsStableAndSecretBound(t *testing.T) {
	token := TrackingToken(7, "secret-a")

	assert.Equal(t, token, TrackingToken(7, "secret-a"))
	assert.NotEqual(t, token, TrackingToken(8, "secret-a"))
	assert.NotEqual(t, token, TrackingToken(7, "secret-b"))
	assert.Len(t, token, 20)
}

func TestValidTrackingToken(t *testing.T) {
	token := TrackingToken(3, "s")

	assert.True(t, ValidTrackingToken(3, "s", token))
	assert.False(t, ValidTrackingToken(4, "s", token))
	assert.False(t, ValidTrackingToken(3, "s", ""))
	assert.False(t, ValidTrackingToken(3, "s", "forged"))
}

func TestClickTrackingURLEscapesTarget(t *testing.T) {
	url := ClickTrackingURL("https://track.test", 5, "s", "https://example.com/a?b=c&d=e")

	assert.True(t, strings.HasPrefix(url, "https://track.test/track/click/5/"))
	assert.Contains(t, url, "url=https%3A%2F%2Fexample.com%2Fa%3Fb%3Dc%26d%3De")
}

func TestInjectTrackingAppendsPixelAndRewritesLinks(t *testing.T) {
	body := `<p>Hello</p><a href="https://one.test">1</a><a href="https://two.test">2</a>`

	out := InjectTracking(body, "https://track.test", 9, "s")

	assert.Contains(t, out, `<img src="https://track.test/track/open/9/`)
	assert.NotContains(t, out, `href="https://one.test"`)
	assert.NotContains(t, out, `href="https://two.test"`)
	assert.Contains(t, out, "url=https%3A%2F%2Fone.test")
	assert.Contains(t, out, "url=https%3A%2F%2Ftwo.test")
}

func TestInjectTrackingWithoutLinks(t *testing.T) {
	out := InjectTracking("<p>No links here</p>", "https://track.test", 2, "s")

	assert.True(t, strings.HasPrefix(out, "<p>No links here</p>"))
	assert.Contains(t, out, "/track/open/2/")
}
