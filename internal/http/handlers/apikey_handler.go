package handlers

import (
	"net/http"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/service"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/Dhoini/a11y-scan-service/pkg/req"
	"github.com/Dhoini/a11y-scan-service/pkg/res"
	"github.com/gin-gonic/gin"
)

// CreateAPIKeyRequest тело POST /api/user/api-key
type CreateAPIKeyRequest struct {
	Name      string     `json:"name" validate:"max=100"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// APIKeyHandler управление API ключами
type APIKeyHandler struct {
	keys *service.APIKeyService
	log  *logger.Logger
}

// NewAPIKeyHandler создает новый APIKeyHandler
func NewAPIKeyHandler(keys *service.APIKeyService, log *logger.Logger) *APIKeyHandler {
	return &APIKeyHandler{keys: keys, log: log}
}

// List обрабатывает GET /api/user/api-key
func (h *APIKeyHandler) List(c *gin.Context) {
	userID, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	keys, err := h.keys.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if keys == nil {
		keys = []domain.APIKey{}
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

// Create обрабатывает POST /api/user/api-key. Пустое тело допустимо.
func (h *APIKeyHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	var body CreateAPIKeyRequest
	if c.Request.ContentLength != 0 {
		parsed, err := req.HandleBody[CreateAPIKeyRequest](c.Writer, c.Request, h.log)
		if err != nil {
			c.Abort()
			return
		}
		body = *parsed
	}

	created, decision, err := h.keys.Create(c.Request.Context(), userID, body.Name, body.ExpiresAt)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if !decision.Allowed {
		status := http.StatusForbidden
		message := "API keys require a Pro plan or higher"
		if decision.Reason == domain.ReasonKeyLimitReached {
			status = http.StatusBadRequest
			message = "API key limit reached for your plan"
		}
		abortJSON(c, status, gin.H{
			"error":        message,
			"reason":       decision.Reason,
			"limit":        decision.Limit,
			"currentCount": decision.CurrentCount,
		})
		return
	}

	h.log.Infow("API key issued via HTTP", "userID", userID, "keyID", created.Key.ID)
	c.JSON(http.StatusCreated, gin.H{
		"key":    created.Key,
		"secret": created.Secret,
	})
}

// Revoke обрабатывает DELETE /api/user/api-key?keyId=
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	userID, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	keyID := c.Query("keyId")
	if keyID == "" {
		abortJSON(c, http.StatusBadRequest, res.ErrorResponse{Error: "keyId is required", ErrorCode: http.StatusBadRequest})
		return
	}

	if err := h.keys.Revoke(c.Request.Context(), userID, keyID); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
