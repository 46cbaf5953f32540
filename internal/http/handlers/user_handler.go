package handlers

import (
	"net/http"

	"github.com/Dhoini/a11y-scan-service/internal/service"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/gin-gonic/gin"
)

// UserHandler тариф и триал текущего пользователя
type UserHandler struct {
	trials *service.TrialService
	plans  *service.PlanService
	log    *logger.Logger
}

// NewUserHandler создает новый UserHandler
func NewUserHandler(trials *service.TrialService, plans *service.PlanService, log *logger.Logger) *UserHandler {
	return &UserHandler{trials: trials, plans: plans, log: log}
}

// StartTrial обрабатывает POST /api/user/trial
func (h *UserHandler) StartTrial(c *gin.Context) {
	userID, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	user, err := h.trials.StartTrial(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"subscription": user.Subscription,
		"trialEnds":    user.TrialEnds,
	})
}

// Plan обрабатывает GET /api/user/plan
func (h *UserHandler) Plan(c *gin.Context) {
	userID, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	overview, err := h.plans.Overview(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}
