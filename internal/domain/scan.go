package domain

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ScanStatus статус скана: pending → completed | failed
type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
)

// RedactedResults то, что хранится в results для teaser-сканов
const RedactedResults = "{}"

// Scan запись о скане. Results хранится как JSON текст.
type Scan struct {
	ID          string     `db:"id" json:"id"`
	URL         string     `db:"url" json:"url"`
	UserID      *string    `db:"user_id" json:"userId,omitempty"`
	Status      ScanStatus `db:"status" json:"status"`
	IssueCount  int        `db:"issue_count" json:"issueCount"`
	Results     string     `db:"results" json:"-"`
	Error       *string    `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt,omitempty"`
}

// Impact серьезность нарушения по классификации axe-core
type Impact string

const (
	ImpactCritical Impact = "critical"
	ImpactSerious  Impact = "serious"
	ImpactModerate Impact = "moderate"
	ImpactMinor    Impact = "minor"
)

// ViolationNode конкретный элемент страницы с нарушением
type ViolationNode struct {
	Target         []string `json:"target"`
	HTML           string   `json:"html"`
	FailureSummary string   `json:"failureSummary,omitempty"`
}

// Violation нарушение правила доступности
type Violation struct {
	ID          string          `json:"id"`
	Impact      Impact          `json:"impact"`
	Description string          `json:"description"`
	Help        string          `json:"help"`
	HelpURL     string          `json:"helpUrl"`
	Tags        []string        `json:"tags,omitempty"`
	Nodes       []ViolationNode `json:"nodes"`
}

// ScanResult результат работы сканера
type ScanResult struct {
	URL        string      `json:"url"`
	Violations []Violation `json:"violations"`
	Passes     int         `json:"passes"`
	Incomplete int         `json:"incomplete"`
	Timestamp  time.Time   `json:"timestamp"`
}

// IssueCount число найденных проблем: каждый затронутый элемент считается отдельно.
func (r ScanResult) IssueCount() int {
	total := 0
	for _, v := range r.Violations {
		if len(v.Nodes) == 0 {
			total++
			continue
		}
		total += len(v.Nodes)
	}
	return total
}

// NormalizeScanURL приводит адрес к виду https://host/path и отсекает внутренние адреса.
func NormalizeScanURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return "", fmt.Errorf("%w: local addresses are not allowed", ErrInvalidURL)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return "", fmt.Errorf("%w: private addresses are not allowed", ErrInvalidURL)
		}
	} else if !strings.Contains(host, ".") {
		return "", fmt.Errorf("%w: host %q is not a public domain", ErrInvalidURL, host)
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
