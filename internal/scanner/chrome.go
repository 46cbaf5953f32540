package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

const axeRunScript = `axe.run(document, {resultTypes: ["violations"]})`

// Config настройки headless Chrome
type Config struct {
	ChromePath    string
	AxeScriptPath string
	Timeout       time.Duration
}

// ChromeScanner выполняет axe-core в headless Chrome через chromedp
type ChromeScanner struct {
	axeSource string
	execPath  string
	timeout   time.Duration
	log       *logger.Logger
}

// NewChromeScanner читает скрипт axe-core и создает сканер
func NewChromeScanner(cfg Config, log *logger.Logger) (*ChromeScanner, error) {
	src, err := os.ReadFile(cfg.AxeScriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read axe script %s: %w", cfg.AxeScriptPath, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChromeScanner{
		axeSource: string(src),
		execPath:  cfg.ChromePath,
		timeout:   timeout,
		log:       log,
	}, nil
}

// Scan открывает страницу, внедряет axe-core и возвращает нарушения
func (s *ChromeScanner) Scan(ctx context.Context, url string) (domain.ScanResult, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.DisableGPU, chromedp.NoSandbox)
	if s.execPath != "" {
		opts = append(opts, chromedp.ExecPath(s.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	runCtx, cancel := context.WithTimeout(browserCtx, s.timeout)
	defer cancel()

	started := time.Now()
	var raw []byte
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(s.axeSource, nil),
		chromedp.Evaluate(axeRunScript, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return domain.ScanResult{}, domain.NewScanError(url, fmt.Sprintf("scan timed out after %s", s.timeout), err)
		}
		return domain.ScanResult{}, domain.NewScanError(url, "browser run failed", err)
	}

	result, err := parseAxeResults(url, raw, time.Now())
	if err != nil {
		return domain.ScanResult{}, domain.NewScanError(url, "invalid scanner output", err)
	}

	s.log.Debugw("Axe scan finished", "url", url, "violations", len(result.Violations), "duration", time.Since(started))
	return result, nil
}
