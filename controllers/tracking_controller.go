package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"mailhive/utils"
	"mailhive/worker"
)

// transparentPixel is a 1x1 transparent GIF served by the open tracker
var transparentPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0x21, 0xF9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2C, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3B,
}

// TrackingController serves the open pixel and click redirect endpoints
type TrackingController struct {
	Store  worker.Store
	Secret string
	Logger *logrus.Logger
}

func NewTrackingController(store worker.Store, secret string, logger *logrus.Logger) *TrackingController {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TrackingController{
		Store:  store,
		Secret: secret,
		Logger: logger,
	}
}

// TrackOpen records the first open of a sent email and serves the pixel. Repeat
// opens and requests with a bad token still get the pixel, they just record
// nothing.
func (tc *TrackingController) TrackOpen(c *fiber.Ctx) error {
	sentEmailID := utils.ParseUint(c.Params("id"))
	token := c.Params("token")

	if sentEmailID != 0 && worker.ValidTrackingToken(sentEmailID, tc.Secret, token) {
		first, err := tc.Store.MarkOpened(sentEmailID, time.Now())
		if err != nil {
			utils.LogError("track_open_failed", err, map[string]interface{}{"sent_email_id": sentEmailID})
		} else if first {
			tc.Logger.WithField("sent_email_id", sentEmailID).Info("Email open recorded")
		}
	}

	c.Set("Content-Type", "image/gif")
	c.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	return c.Send(transparentPixel)
}

// TrackClick records the first click of a sent email and redirects to the
// original link. The token gate keeps the endpoint from being an open redirect.
func (tc *TrackingController) TrackClick(c *fiber.Ctx) error {
	sentEmailID := utils.ParseUint(c.Params("id"))
	token := c.Params("token")
	target := c.Query("url")

	if target == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Missing redirect URL", nil)
	}
	if sentEmailID == 0 || !worker.ValidTrackingToken(sentEmailID, tc.Secret, token) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid tracking token", nil)
	}

	first, err := tc.Store.MarkClicked(sentEmailID, time.Now())
	if err != nil {
		utils.LogError("track_click_failed", err, map[string]interface{}{"sent_email_id": sentEmailID})
	} else if first {
		tc.Logger.WithField("sent_email_id", sentEmailID).Info("Email click recorded")
	}

	return c.Redirect(target, fiber.StatusFound)
}
