package routes

import (
	controller "mailhive/controllers"
	"mailhive/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

// SetupRoutes wires the campaign control plane and the tracking endpoints
func SetupRoutes(app *fiber.App, qc *controller.QueueController, tc *controller.TrackingController) {
	// Campaign control plane, rate limited per client and campaign
	campaigns := app.Group("/api/campaigns", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}), middleware.ControlRateLimiter())

	campaigns.Post("/:id/start", qc.StartCampaign)
	campaigns.Post("/:id/pause", qc.PauseCampaign)
	campaigns.Post("/:id/resume", qc.ResumeCampaign)
	campaigns.Post("/:id/stop", qc.StopCampaign)
	campaigns.Post("/:id/schedule", qc.ScheduleCampaign)
	campaigns.Get("/:id/queue", qc.GetCampaignQueue)
	campaigns.Get("/:id/logs", qc.GetCampaignLogs)
	campaigns.Get("/:id/tasks", qc.GetCampaignTasks)

	// Fleet-wide queue visibility and on-demand recovery
	queues := app.Group("/api/queues", middleware.ControlRateLimiter())
	queues.Get("/", qc.GetAllQueues)
	queues.Get("/stats", qc.GetGlobalStats)
	queues.Post("/recover", qc.RecoverQueues)

	// Tracking endpoints are hit by mail clients, never rate limited
	track := app.Group("/track")
	track.Get("/open/:id/:token", tc.TrackOpen)
	track.Get("/click/:id/:token", tc.TrackClick)
}
