package handlers

import (
	"net/http"

	"github.com/Dhoini/a11y-scan-service/internal/service"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/gin-gonic/gin"
)

// CronHandler служебные задачи для внешнего планировщика. Все идемпотентны.
type CronHandler struct {
	trials    *service.TrialService
	schedules *service.ScheduleService
	billing   *service.BillingSync
	log       *logger.Logger
}

// NewCronHandler создает новый CronHandler
func NewCronHandler(trials *service.TrialService, schedules *service.ScheduleService, billing *service.BillingSync, log *logger.Logger) *CronHandler {
	return &CronHandler{trials: trials, schedules: schedules, billing: billing, log: log}
}

// EndTrials обрабатывает POST /api/cron/end-trials
func (h *CronHandler) EndTrials(c *gin.Context) {
	ids, err := h.trials.EndExpiredTrials(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "expired": len(ids)})
}

// EndPaidPeriods обрабатывает POST /api/cron/end-paid-periods
func (h *CronHandler) EndPaidPeriods(c *gin.Context) {
	ended, err := h.billing.EndPaidPeriods(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "ended": len(ended)})
}

// TrialReminders обрабатывает GET /api/cron/trial-reminders
func (h *CronHandler) TrialReminders(c *gin.Context) {
	sent, err := h.trials.SendTrialReminders(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sent": sent})
}

// ScheduledScans обрабатывает POST /api/cron/scheduled-scans
func (h *CronHandler) ScheduledScans(c *gin.Context) {
	summary, err := h.schedules.RunDue(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "summary": summary})
}
