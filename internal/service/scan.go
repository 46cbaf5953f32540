package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/kafka"
	"github.com/Dhoini/a11y-scan-service/internal/metrics"
	"github.com/Dhoini/a11y-scan-service/internal/repository"
	"github.com/Dhoini/a11y-scan-service/internal/scanner"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/google/uuid"
)

// ScanOutcome ответ на запрос скана. При отказе заполнено только Decision.
type ScanOutcome struct {
	Decision domain.ScanDecision
	ScanID   string
	URL      string
	Summary  domain.Summary
	Risk     domain.Risk
	Teaser   *domain.Teaser
	Result   *domain.ScanResult
}

// APIScanOutcome ответ публичного API
type APIScanOutcome struct {
	Decision domain.APIRequestDecision
	ScanID   string
	URL      string
	Summary  domain.Summary
	Risk     domain.Risk
	Result   *domain.ScanResult
}

// ScanService проверка доступа, запуск сканера и сохранение результата
type ScanService struct {
	evaluator *Evaluator
	scans     repository.ScanRepository
	scanner   scanner.Scanner
	publisher kafka.Publisher
	metrics   metrics.EntitlementMetrics
	clock     Clock
	log       *logger.Logger
}

// NewScanService создает сервис сканирования
func NewScanService(
	evaluator *Evaluator,
	scans repository.ScanRepository,
	sc scanner.Scanner,
	publisher kafka.Publisher,
	m metrics.EntitlementMetrics,
	clock Clock,
	log *logger.Logger,
) *ScanService {
	return &ScanService{
		evaluator: evaluator,
		scans:     scans,
		scanner:   sc,
		publisher: publisher,
		metrics:   m,
		clock:     clock,
		log:       log,
	}
}

// RunScan сканирует страницу для посетителя сайта
func (s *ScanService) RunScan(ctx context.Context, identity domain.Identity, rawURL string) (*ScanOutcome, error) {
	target, err := domain.NormalizeScanURL(rawURL)
	if err != nil {
		return nil, err
	}

	decision, err := s.evaluator.EvaluateScanRequest(ctx, identity, s.clock.Now())
	if err != nil {
		return nil, err
	}
	out := &ScanOutcome{Decision: decision, URL: target}
	if !decision.Allowed {
		return out, nil
	}

	var owner *string
	if !identity.Anonymous() {
		id := identity.UserID
		owner = &id
	}

	scanID, result, err := s.execute(ctx, owner, target, decision.Shape)
	if err != nil {
		return nil, err
	}

	out.ScanID = scanID
	out.Summary = domain.Summarize(*result)
	out.Risk = domain.AssessRisk(out.Summary)
	if decision.Shape == domain.ShapeFull {
		out.Result = result
	} else {
		teaser := domain.BuildTeaser(*result)
		out.Teaser = &teaser
	}
	return out, nil
}

// RunAPIScan сканирует страницу по API ключу. Результат всегда полный.
func (s *ScanService) RunAPIScan(ctx context.Context, plainKey, rawURL string) (*APIScanOutcome, error) {
	target, err := domain.NormalizeScanURL(rawURL)
	if err != nil {
		return nil, err
	}

	decision, err := s.evaluator.EvaluateAPIRequest(ctx, plainKey, s.clock.Now())
	if err != nil {
		return nil, err
	}
	out := &APIScanOutcome{Decision: decision, URL: target}
	if !decision.Allowed {
		return out, nil
	}

	owner := decision.UserID
	scanID, result, err := s.execute(ctx, &owner, target, domain.ShapeFull)
	if err != nil {
		return nil, err
	}

	out.ScanID = scanID
	out.Summary = domain.Summarize(*result)
	out.Risk = domain.AssessRisk(out.Summary)
	out.Result = result
	return out, nil
}

// execute создает pending запись, запускает сканер и завершает запись
func (s *ScanService) execute(ctx context.Context, owner *string, target string, shape domain.ResultShape) (string, *domain.ScanResult, error) {
	started := s.clock.Now()
	scan := &domain.Scan{
		ID:        uuid.NewString(),
		URL:       target,
		UserID:    owner,
		Status:    domain.ScanStatusPending,
		Results:   domain.RedactedResults,
		CreatedAt: started,
	}
	if err := s.scans.Create(ctx, scan); err != nil {
		return "", nil, fmt.Errorf("create scan: %w", err)
	}

	result, err := s.scanner.Scan(ctx, target)
	if err != nil {
		s.metrics.ObserveScan(domain.ScanStatusFailed, s.clock.Now().Sub(started))
		s.log.Warnw("Scan failed", "scanID", scan.ID, "url", target, "error", err)
		if ferr := s.scans.Fail(context.WithoutCancel(ctx), scan.ID, err.Error(), s.clock.Now()); ferr != nil {
			s.log.Errorw("Failed to mark scan as failed", "scanID", scan.ID, "error", ferr)
		}
		var scanErr *domain.ScanError
		if errors.As(err, &scanErr) {
			return "", nil, scanErr
		}
		return "", nil, domain.NewScanError(target, "scanner error", err)
	}

	// teaser хранится без деталей
	stored := domain.RedactedResults
	if shape == domain.ShapeFull {
		raw, err := json.Marshal(result)
		if err != nil {
			return "", nil, fmt.Errorf("encode scan result: %w", err)
		}
		stored = string(raw)
	}

	issues := result.IssueCount()
	if err := s.scans.Complete(ctx, scan.ID, issues, stored, s.clock.Now()); err != nil {
		return "", nil, fmt.Errorf("complete scan: %w", err)
	}
	s.metrics.ObserveScan(domain.ScanStatusCompleted, s.clock.Now().Sub(started))

	if owner != nil {
		_ = publishEvent(ctx, s.publisher, s.log, domain.NewEvent(domain.EventScanCompleted, *owner, map[string]any{
			"scanId":     scan.ID,
			"url":        target,
			"issueCount": issues,
		}, s.clock.Now()))
	}

	s.log.Infow("Scan completed", "scanID", scan.ID, "url", target, "issues", issues, "shape", shape)
	return scan.ID, &result, nil
}

// StoredScan сохраненный скан с разобранным результатом, если он полный
type StoredScan struct {
	Scan   *domain.Scan       `json:"scan"`
	Result *domain.ScanResult `json:"result,omitempty"`
}

// GetScan возвращает скан владельцу
func (s *ScanService) GetScan(ctx context.Context, userID, scanID string) (*StoredScan, error) {
	scan, err := s.scans.GetByID(ctx, scanID)
	if err != nil {
		return nil, err
	}
	if scan.UserID == nil || *scan.UserID != userID {
		return nil, domain.ErrForbidden
	}

	out := &StoredScan{Scan: scan}
	if scan.Status == domain.ScanStatusCompleted && scan.Results != "" && scan.Results != domain.RedactedResults {
		var result domain.ScanResult
		if err := json.Unmarshal([]byte(scan.Results), &result); err != nil {
			return nil, fmt.Errorf("decode stored scan %s: %w", scanID, err)
		}
		out.Result = &result
	}
	return out, nil
}

// ListScans история сканов пользователя
func (s *ScanService) ListScans(ctx context.Context, userID string, limit int) ([]domain.Scan, error) {
	return s.scans.ListByUser(ctx, userID, limit)
}
