package controller

import (
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailhive/worker"
)

// trackingStore fakes just the tracking slice of worker.Store; the embedded
// interface panics on anything else, which is exactly what these handlers must
// not touch.
type trackingStore struct {
	worker.Store
	mu      sync.Mutex
	opened  map[uint]bool
	clicked map[uint]bool
	opens   int
	clicks  int
}

func newTrackingStore() *trackingStore {
	return &trackingStore{opened: make(map[uint]bool), clicked: make(map[uint]bool)}
}

func (s *trackingStore) MarkOpened(sentEmailID uint, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.opened[sentEmailID] {
		return false, nil
	}
	s.opened[sentEmailID] = true
	return true, nil
}

func (s *trackingStore) MarkClicked(sentEmailID uint, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks++
	if s.clicked[sentEmailID] {
		return false, nil
	}
	s.clicked[sentEmailID] = true
	return true, nil
}

const testSecret = "test-secret"

func newTrackingApp(store *trackingStore) *fiber.App {
	tc := NewTrackingController(store, testSecret, nil)
	app := fiber.New()
	app.Get("/track/open/:id/:token", tc.TrackOpen)
	app.Get("/track/click/:id/:token", tc.TrackClick)
	return app
}

func TestTrackOpenRecordsFirstEventOnly(t *testing.T) {
	store := newTrackingStore()
	app := newTrackingApp(store)
	url := fmt.Sprintf("/track/open/7/%s", worker.TrackingToken(7, testSecret))

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", url, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))
	}

	// Both requests hit the store, only the first one counted as an open.
	assert.Equal(t, 2, store.opens)
	assert.True(t, store.opened[7])
}

func TestTrackOpenInvalidTokenServesPixelWithoutRecording(t *testing.T) {
	store := newTrackingStore()
	app := newTrackingApp(store)

	resp, err := app.Test(httptest.NewRequest("GET", "/track/open/7/forged-token", nil))
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))
	assert.Equal(t, 0, store.opens)
}

func TestTrackClickRedirectsAndRecordsOnce(t *testing.T) {
	store := newTrackingStore()
	app := newTrackingApp(store)
	url := fmt.Sprintf("/track/click/5/%s?url=https%%3A%%2F%%2Fexample.com%%2Fsale", worker.TrackingToken(5, testSecret))

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", url, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusFound, resp.StatusCode)
		assert.Equal(t, "https://example.com/sale", resp.Header.Get("Location"))
	}

	assert.Equal(t, 2, store.clicks)
	assert.True(t, store.clicked[5])
}

func TestTrackClickRejectsMissingURL(t *testing.T) {
	store := newTrackingStore()
	app := newTrackingApp(store)
	url := fmt.Sprintf("/track/click/5/%s", worker.TrackingToken(5, testSecret))

	resp, err := app.Test(httptest.NewRequest("GET", url, nil))
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, store.clicks)
}

func TestTrackClickRejectsForgedToken(t *testing.T) {
	store := newTrackingStore()
	app := newTrackingApp(store)

	resp, err := app.Test(httptest.NewRequest("GET", "/track/click/5/forged?url=https%3A%2F%2Fevil.test", nil))
	require.NoError(t, err)

	// The token gate keeps this from being an open redirect.
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, store.clicks)
}
