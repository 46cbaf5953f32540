package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/middleware"
	"github.com/Dhoini/a11y-scan-service/internal/service"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/Dhoini/a11y-scan-service/pkg/req"
	"github.com/gin-gonic/gin"
)

const (
	// MarkerCookie одноразовая отметка анонимного скана
	MarkerCookie    = "a11y_scan_marker"
	markerMaxAge    = 365 * 24 * 60 * 60
	apiKeyHeader    = "X-API-Key"
	defaultPageSize = 20
	maxPageSize     = 100
)

// ScanRequest тело POST /api/scan
type ScanRequest struct {
	URL string `json:"url" validate:"required,max=2048"`
}

// ScanResponse успешный ответ скана
type ScanResponse struct {
	Success    bool                 `json:"success"`
	ScanID     string               `json:"scanId"`
	URL        string               `json:"url"`
	Teaser     bool                 `json:"teaser"`
	Summary    domain.Summary       `json:"summary"`
	Risk       domain.Risk          `json:"risk"`
	Issues     []domain.TeaserIssue `json:"issues,omitempty"`
	Hidden     int                  `json:"hidden,omitempty"`
	Violations []domain.Violation   `json:"violations,omitempty"`
	Passes     int                  `json:"passes,omitempty"`
}

// ScanHandler обрабатывает запросы сканирования
type ScanHandler struct {
	scans        *service.ScanService
	log          *logger.Logger
	secureCookie bool
}

// NewScanHandler создает новый ScanHandler
func NewScanHandler(scans *service.ScanService, secureCookie bool, log *logger.Logger) *ScanHandler {
	return &ScanHandler{scans: scans, log: log, secureCookie: secureCookie}
}

// Scan обрабатывает POST /api/scan
func (h *ScanHandler) Scan(c *gin.Context) {
	body, err := req.HandleBody[ScanRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	identity := domain.Identity{}
	if userID, ok := middleware.UserIDFromContext(c); ok {
		identity.UserID = userID
	} else if v, err := c.Cookie(MarkerCookie); err == nil && v != "" {
		identity.HasMarker = true
	}

	out, err := h.scans.RunScan(c.Request.Context(), identity, body.URL)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if !out.Decision.Allowed {
		writeScanDenial(c, out.Decision)
		return
	}
	if out.Decision.SetMarker {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(MarkerCookie, strconv.FormatInt(time.Now().Unix(), 10), markerMaxAge, "/", "", h.secureCookie, true)
	}

	resp := ScanResponse{
		Success: true,
		ScanID:  out.ScanID,
		URL:     out.URL,
		Summary: out.Summary,
		Risk:    out.Risk,
	}
	if out.Teaser != nil {
		resp.Teaser = true
		resp.Issues = out.Teaser.Issues
		resp.Hidden = out.Teaser.Hidden
	}
	if out.Result != nil {
		resp.Violations = out.Result.Violations
		resp.Passes = out.Result.Passes
	}
	c.JSON(http.StatusOK, resp)
}

func writeScanDenial(c *gin.Context, d domain.ScanDecision) {
	switch d.Reason {
	case domain.ReasonNeedsAuth:
		abortJSON(c, http.StatusUnauthorized, gin.H{
			"error":     "Sign up to run more scans",
			"needsAuth": true,
		})
	case domain.ReasonDailyLimitReached:
		body := gin.H{
			"error":             "Daily scan limit reached",
			"dailyLimitReached": true,
			"limit":             d.Limit,
			"used":              d.Used,
		}
		if d.ResetAt != nil {
			body["resetAt"] = d.ResetAt.UTC().Format(time.RFC3339)
		}
		abortJSON(c, http.StatusTooManyRequests, body)
	default:
		abortJSON(c, http.StatusPaymentRequired, gin.H{
			"error":        "Upgrade to run more scans",
			"needsUpgrade": true,
			"plan":         d.Plan,
		})
	}
}

// APIScan обрабатывает POST /api/v1/scan по API ключу
func (h *ScanHandler) APIScan(c *gin.Context) {
	key := apiKeyFromRequest(c)
	if key == "" {
		abortJSON(c, http.StatusUnauthorized, gin.H{"error": "API key required", "reason": domain.ReasonInvalidKey})
		return
	}
	body, err := req.HandleBody[ScanRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	out, err := h.scans.RunAPIScan(c.Request.Context(), key, body.URL)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	d := out.Decision
	if d.Limit != 0 {
		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if d.ResetEpoch > 0 {
			c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetEpoch, 10))
		}
	}

	switch d.Reason {
	case domain.ReasonNone:
	case domain.ReasonInvalidKey:
		abortJSON(c, http.StatusUnauthorized, gin.H{"error": "Invalid API key", "reason": d.Reason})
		return
	case domain.ReasonPlanRequired:
		abortJSON(c, http.StatusForbidden, gin.H{"error": "API access requires a paid plan", "reason": d.Reason})
		return
	case domain.ReasonQuotaExceeded:
		abortJSON(c, http.StatusTooManyRequests, gin.H{
			"error":   "Monthly API quota exceeded",
			"reason":  d.Reason,
			"limit":   d.Limit,
			"resetAt": time.Unix(d.ResetEpoch, 0).UTC().Format(time.RFC3339),
		})
		return
	}

	c.JSON(http.StatusOK, ScanResponse{
		Success:    true,
		ScanID:     out.ScanID,
		URL:        out.URL,
		Summary:    out.Summary,
		Risk:       out.Risk,
		Violations: out.Result.Violations,
		Passes:     out.Result.Passes,
	})
}

func apiKeyFromRequest(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(apiKeyHeader)); key != "" {
		return key
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// List обрабатывает GET /api/scans
func (h *ScanHandler) List(c *gin.Context) {
	userID, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	limit := defaultPageSize
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = min(v, maxPageSize)
	}

	scans, err := h.scans.ListScans(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scans": scans})
}

// Get обрабатывает GET /api/scans/:id
func (h *ScanHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	stored, err := h.scans.GetScan(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}
