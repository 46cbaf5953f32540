package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
)

// Scanner запускает проверку доступности страницы
type Scanner interface {
	Scan(ctx context.Context, url string) (domain.ScanResult, error)
}

// ScannerFunc адаптер для функций
type ScannerFunc func(ctx context.Context, url string) (domain.ScanResult, error)

func (f ScannerFunc) Scan(ctx context.Context, url string) (domain.ScanResult, error) {
	return f(ctx, url)
}

// axeResults часть ответа axe.run, которая нам нужна
type axeResults struct {
	Timestamp  string             `json:"timestamp"`
	URL        string             `json:"url"`
	Violations []domain.Violation `json:"violations"`
	Passes     []json.RawMessage  `json:"passes"`
	Incomplete []json.RawMessage  `json:"incomplete"`
}

// parseAxeResults разбирает JSON, который вернул axe.run
func parseAxeResults(requestedURL string, raw []byte, now time.Time) (domain.ScanResult, error) {
	var res axeResults
	if err := json.Unmarshal(raw, &res); err != nil {
		return domain.ScanResult{}, fmt.Errorf("failed to decode axe results: %w", err)
	}

	ts := now
	if res.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, res.Timestamp); err == nil {
			ts = parsed
		}
	}
	url := res.URL
	if url == "" {
		url = requestedURL
	}
	violations := res.Violations
	if violations == nil {
		violations = []domain.Violation{}
	}

	return domain.ScanResult{
		URL:        url,
		Violations: violations,
		Passes:     len(res.Passes),
		Incomplete: len(res.Incomplete),
		Timestamp:  ts.UTC(),
	}, nil
}
