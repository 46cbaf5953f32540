package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SystemMetrics периодический снимок процесса и состояния компонентов сервиса
type SystemMetrics interface {
	// Track регистрирует gauge, значение которого снимается на каждом проходе
	Track(name, help string, fn func() float64)
	Sample()
	StartRecording(interval time.Duration)
	Stop()
}

type trackedGauge struct {
	gauge prometheus.Gauge
	read  func() float64
}

type systemMetrics struct {
	log        *logger.Logger
	registerer prometheus.Registerer

	goroutines prometheus.Gauge
	heapInUse  prometheus.Gauge
	gcCycles   prometheus.Counter
	gcPause    prometheus.Gauge

	mu        sync.Mutex
	tracked   []trackedGauge
	lastNumGC uint32

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewSystemMetrics создает метрики процесса с префиксом a11y_process
func NewSystemMetrics(registry *prometheus.Registry, log *logger.Logger) SystemMetrics {
	factory := promauto.With(registry)
	return &systemMetrics{
		log:        log,
		registerer: registry,
		goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "a11y", Subsystem: "process", Name: "goroutines",
			Help: "Goroutines at the last sample, scan workers included",
		}),
		heapInUse: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "a11y", Subsystem: "process", Name: "heap_inuse_bytes",
			Help: "Heap bytes in use at the last sample",
		}),
		gcCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "a11y", Subsystem: "process", Name: "gc_cycles_total",
			Help: "Completed GC cycles",
		}),
		gcPause: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "a11y", Subsystem: "process", Name: "gc_last_pause_seconds",
			Help: "Duration of the most recent GC pause",
		}),
		stopCh: make(chan struct{}),
	}
}

func (m *systemMetrics) Track(name, help string, fn func() float64) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "a11y", Name: name, Help: help})
	if err := m.registerer.Register(g); err != nil {
		m.log.Warnw("Failed to register tracked gauge", "name", name, "error", err)
		return
	}
	m.mu.Lock()
	m.tracked = append(m.tracked, trackedGauge{gauge: g, read: fn})
	m.mu.Unlock()
}

// Sample снимает все значения один раз
func (m *systemMetrics) Sample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.heapInUse.Set(float64(ms.HeapInuse))
	if ms.NumGC > 0 {
		m.gcPause.Set(time.Duration(ms.PauseNs[(ms.NumGC+255)%256]).Seconds())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// NumGC накопительный
	if ms.NumGC > m.lastNumGC {
		m.gcCycles.Add(float64(ms.NumGC - m.lastNumGC))
		m.lastNumGC = ms.NumGC
	}
	for _, t := range m.tracked {
		t.gauge.Set(t.read())
	}
}

func (m *systemMetrics) StartRecording(interval time.Duration) {
	m.Sample()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sample()
			case <-m.stopCh:
				return
			}
		}
	}()
	m.log.Infow("Process metrics sampling started", "interval", interval)
}

func (m *systemMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.log.Infow("Process metrics sampling stopped")
	})
}
