package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/gin-gonic/gin"
)

func TestRespondErrorStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var verrs domain.ValidationErrors
	verrs.Add("expiresAt", "must be in the future")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"duplicate", domain.NewDuplicateError("user", "stripe_customer_id", "cus_1"), http.StatusConflict},
		{"wrapped duplicate", fmt.Errorf("link: %w", domain.NewDuplicateError("api_key", "prefix", "a11y_x")), http.StatusConflict},
		{"validation", verrs, http.StatusBadRequest},
		{"not found", domain.NewNotFoundError("scan", "s1"), http.StatusNotFound},
		{"trial unavailable", domain.ErrTrialUnavailable, http.StatusConflict},
		{"external", domain.NewExternalServiceError("stripe", "", "down", 503, nil), http.StatusServiceUnavailable},
		{"unknown", errors.New("database: connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			respondError(c, logger.NewNop(), tt.err)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestRespondErrorValidationDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var verrs domain.ValidationErrors
	verrs.Add("name", "must be at most 100 characters")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	respondError(c, logger.NewNop(), verrs)

	var body struct {
		Details map[string]string `json:"details"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Details["name"] != "must be at most 100 characters" {
		t.Fatalf("unexpected details %v", body.Details)
	}

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	respondError(c, logger.NewNop(), domain.ErrForbidden)
	if containsKey(t, w.Body.String(), "details") {
		t.Fatalf("details must be omitted for plain errors: %s", w.Body.String())
	}
}

func containsKey(t *testing.T, raw, key string) bool {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	_, ok := m[key]
	return ok
}
