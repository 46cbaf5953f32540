package handlers

import (
	"net/http"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/service"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/Dhoini/a11y-scan-service/pkg/req"
	"github.com/gin-gonic/gin"
)

// CreateScheduleRequest тело POST /api/scheduled-scans
type CreateScheduleRequest struct {
	URL              string `json:"url" validate:"required,max=2048"`
	Frequency        string `json:"frequency" validate:"required,oneof=daily weekly monthly"`
	AlertOnNewIssues bool   `json:"alertOnNewIssues"`
}

// UpdateScheduleRequest тело PATCH /api/scheduled-scans/:id
type UpdateScheduleRequest struct {
	URL              *string `json:"url" validate:"omitempty,max=2048"`
	Frequency        *string `json:"frequency" validate:"omitempty,oneof=daily weekly monthly"`
	Enabled          *bool   `json:"enabled"`
	AlertOnNewIssues *bool   `json:"alertOnNewIssues"`
}

// ScheduleHandler CRUD запланированных сканов
type ScheduleHandler struct {
	schedules *service.ScheduleService
	log       *logger.Logger
}

// NewScheduleHandler создает новый ScheduleHandler
func NewScheduleHandler(schedules *service.ScheduleService, log *logger.Logger) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules, log: log}
}

// List обрабатывает GET /api/scheduled-scans
func (h *ScheduleHandler) List(c *gin.Context) {
	userID, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	list, err := h.schedules.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if list == nil {
		list = []domain.ScheduledScan{}
	}
	c.JSON(http.StatusOK, gin.H{"scheduledScans": list})
}

// Create обрабатывает POST /api/scheduled-scans
func (h *ScheduleHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	body, err := req.HandleBody[CreateScheduleRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	sched, decision, err := h.schedules.Create(c.Request.Context(), userID, service.ScheduleInput{
		URL:              body.URL,
		Frequency:        body.Frequency,
		AlertOnNewIssues: body.AlertOnNewIssues,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if !decision.Allowed {
		writeFeatureDenial(c, decision)
		return
	}
	c.JSON(http.StatusCreated, sched)
}

// Update обрабатывает PATCH /api/scheduled-scans/:id (пауза, возобновление, частота)
func (h *ScheduleHandler) Update(c *gin.Context) {
	userID, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	body, err := req.HandleBody[UpdateScheduleRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	sched, decision, err := h.schedules.Update(c.Request.Context(), userID, c.Param("id"), service.SchedulePatch{
		URL:              body.URL,
		Frequency:        body.Frequency,
		Enabled:          body.Enabled,
		AlertOnNewIssues: body.AlertOnNewIssues,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if !decision.Allowed {
		writeFeatureDenial(c, decision)
		return
	}
	c.JSON(http.StatusOK, sched)
}

// Delete обрабатывает DELETE /api/scheduled-scans/:id
func (h *ScheduleHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	if err := h.schedules.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeFeatureDenial(c *gin.Context, d domain.FeatureDecision) {
	status := http.StatusForbidden
	message := "Scheduled scans require a paid plan"
	if d.Reason == domain.ReasonScheduleLimitReached {
		status = http.StatusBadRequest
		message = "Scheduled scan limit reached"
	}
	abortJSON(c, status, gin.H{
		"error":        message,
		"reason":       d.Reason,
		"limit":        d.Limit,
		"currentCount": d.CurrentCount,
	})
}
