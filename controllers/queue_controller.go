package controller

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailhive/models"
	"mailhive/utils"
	"mailhive/worker"
)

var validate = validator.New()

// QueueController exposes the campaign send control plane over HTTP
type QueueController struct {
	DB       *gorm.DB
	Manager  *worker.QueueManager
	Recovery *worker.TaskRecoveryService
	Logger   *logrus.Logger
}

func NewQueueController(db *gorm.DB, manager *worker.QueueManager, recovery *worker.TaskRecoveryService, logger *logrus.Logger) *QueueController {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &QueueController{
		DB:       db,
		Manager:  manager,
		Recovery: recovery,
		Logger:   logger,
	}
}

// StartCampaign begins sending a campaign by starting its worker queue
func (qc *QueueController) StartCampaign(c *fiber.Ctx) error {
	campaignID := utils.ParseUint(c.Params("id"))
	if campaignID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign ID", nil)
	}

	queue, err := qc.Manager.StartCampaignQueue(campaignID)
	if err != nil {
		switch {
		case errors.Is(err, worker.ErrCampaignNotFound):
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", err)
		case errors.Is(err, worker.ErrDuplicateStart):
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Campaign is already running", err)
		case errors.Is(err, worker.ErrCampaignFinished):
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Campaign has already finished", err)
		default:
			utils.LogError("campaign_start_failed", err, map[string]interface{}{"campaign_id": campaignID})
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to start campaign", err)
		}
	}

	utils.LogEvent("campaign_started", map[string]interface{}{"campaign_id": campaignID})
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"campaign_id": queue.CampaignID(),
		"state":       queue.State(),
	}))
}

// PauseCampaign suspends a running queue before its next send
func (qc *QueueController) PauseCampaign(c *fiber.Ctx) error {
	campaignID := utils.ParseUint(c.Params("id"))

	if err := qc.Manager.PauseCampaignQueue(campaignID); err != nil {
		if errors.Is(err, worker.ErrQueueNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "No running queue for campaign", err)
		}
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Cannot pause campaign", err)
	}

	utils.LogEvent("campaign_paused", map[string]interface{}{"campaign_id": campaignID})
	return c.JSON(utils.SuccessResponse(fiber.Map{"campaign_id": campaignID, "state": worker.QueueStatePaused}))
}

// ResumeCampaign resumes a paused queue from the exact recipient it stopped at
func (qc *QueueController) ResumeCampaign(c *fiber.Ctx) error {
	campaignID := utils.ParseUint(c.Params("id"))

	if err := qc.Manager.ResumeCampaignQueue(campaignID); err != nil {
		if errors.Is(err, worker.ErrQueueNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "No running queue for campaign", err)
		}
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Cannot resume campaign", err)
	}

	utils.LogEvent("campaign_resumed", map[string]interface{}{"campaign_id": campaignID})
	return c.JSON(utils.SuccessResponse(fiber.Map{"campaign_id": campaignID, "state": worker.QueueStateRunning}))
}

// StopCampaign cancels the live queue. An in-flight send is allowed to finish.
func (qc *QueueController) StopCampaign(c *fiber.Ctx) error {
	campaignID := utils.ParseUint(c.Params("id"))

	if err := qc.Manager.StopCampaignQueue(campaignID); err != nil {
		if errors.Is(err, worker.ErrQueueNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "No running queue for campaign", err)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to stop campaign", err)
	}

	utils.LogEvent("campaign_stopped", map[string]interface{}{"campaign_id": campaignID})
	return c.JSON(utils.SuccessResponse(fiber.Map{"campaign_id": campaignID, "state": worker.QueueStateStopped}))
}

type scheduleCampaignRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

// ScheduleCampaign marks a campaign to be started later by the recovery sweep
func (qc *QueueController) ScheduleCampaign(c *fiber.Ctx) error {
	campaignID := utils.ParseUint(c.Params("id"))

	var req scheduleCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := validate.Struct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "scheduled_at is required", err)
	}
	if req.ScheduledAt.Before(time.Now()) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "scheduled_at must be in the future", nil)
	}

	var campaign models.Campaign
	if err := qc.DB.First(&campaign, campaignID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", err)
	}
	if campaign.Status != models.CampaignStatusDraft && campaign.Status != models.CampaignStatusScheduled {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Only draft campaigns can be scheduled", nil)
	}

	if err := qc.DB.Model(&campaign).Updates(map[string]interface{}{
		"status":       models.CampaignStatusScheduled,
		"scheduled_at": utils.Pointer(req.ScheduledAt),
	}).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to schedule campaign", err)
	}

	utils.LogEvent("campaign_scheduled", map[string]interface{}{
		"campaign_id":  campaignID,
		"scheduled_at": req.ScheduledAt,
	})
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"campaign_id":  campaignID,
		"status":       models.CampaignStatusScheduled,
		"scheduled_at": req.ScheduledAt,
	}))
}

// GetCampaignQueue returns a point-in-time snapshot of one campaign's queue
func (qc *QueueController) GetCampaignQueue(c *fiber.Ctx) error {
	campaignID := utils.ParseUint(c.Params("id"))

	queue, err := qc.Manager.GetCampaignQueue(campaignID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "No running queue for campaign", err)
	}
	return c.JSON(utils.SuccessResponse(queue.Stats()))
}

// GetCampaignLogs serves the campaign's execution log for pull-based polling
func (qc *QueueController) GetCampaignLogs(c *fiber.Ctx) error {
	campaignID := utils.ParseUint(c.Params("id"))

	var campaign models.Campaign
	if err := qc.DB.First(&campaign, campaignID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", err)
	}

	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var logs []models.CampaignLog
	query := qc.DB.Where("campaign_id = ?", campaignID)
	if since := utils.ParseUint(c.Query("after")); since > 0 {
		query = query.Where("id > ?", since)
	}
	if err := query.Order("id ASC").Limit(limit).Find(&logs).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load campaign logs", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"campaign_id": campaignID,
		"status":      campaign.Status,
		"logs":        logs,
	}))
}

// GetCampaignTasks reports how many recipients remain for a campaign
func (qc *QueueController) GetCampaignTasks(c *fiber.Ctx) error {
	campaignID := utils.ParseUint(c.Params("id"))

	var campaign models.Campaign
	if err := qc.DB.First(&campaign, campaignID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"campaign_id": campaignID,
		"tasks":       qc.Recovery.GetCampaignTaskCount(campaignID),
		"running":     qc.Manager.IsQueueRunning(campaignID),
	}))
}

// GetAllQueues returns a snapshot of every live queue
func (qc *QueueController) GetAllQueues(c *fiber.Ctx) error {
	return c.JSON(utils.SuccessResponse(qc.Manager.GetAllStats()))
}

// GetGlobalStats aggregates progress across all live queues
func (qc *QueueController) GetGlobalStats(c *fiber.Ctx) error {
	return c.JSON(utils.SuccessResponse(qc.Manager.GetGlobalStats()))
}

// RecoverQueues triggers an on-demand recovery sweep
func (qc *QueueController) RecoverQueues(c *fiber.Ctx) error {
	recovered, err := qc.Recovery.RunOnce(c.Context())
	if err != nil {
		utils.LogError("recovery_sweep_failed", err, nil)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Recovery sweep failed", err)
	}

	utils.LogEvent("recovery_sweep_completed", map[string]interface{}{"recovered": recovered})
	return c.JSON(utils.SuccessResponse(fiber.Map{"recovered": recovered}))
}
