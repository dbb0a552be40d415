package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-tiller/internal/logger"
	"github.com/23skdu/longbow-tiller/internal/metrics"
)

// HealthStatus is the /status payload.
type HealthStatus struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
	System    SystemInfo    `json:"system"`
	Training  TrainingInfo  `json:"training"`
}

// SystemInfo contains host-level information.
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// TrainingInfo contains the run snapshot.
type TrainingInfo struct {
	Steps     int64     `json:"steps"`
	LastLoss  float64   `json:"last_loss"`
	LastStep  time.Time `json:"last_step"`
	AMPLevel  string    `json:"amp_level"`
	LossScale float64   `json:"loss_scale"`
}

// Monitor serves /health, /status and the Prometheus /metrics endpoint for
// a training run.
type Monitor struct {
	mu        sync.RWMutex
	startTime time.Time
	server    *http.Server
	training  TrainingInfo
}

func NewMonitor(ampLevel string, lossScale float32) *Monitor {
	return &Monitor{
		startTime: time.Now(),
		training: TrainingInfo{
			AMPLevel:  ampLevel,
			LossScale: float64(lossScale),
		},
	}
}

// Start serves until Stop or listener failure. Blocking; run in a goroutine.
func (m *Monitor) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", m.handleHealth)
	mux.HandleFunc("/healthz", m.handleHealth)
	mux.HandleFunc("/status", m.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	m.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Log.Info("monitor starting", "addr", addr)
	return m.server.ListenAndServe()
}

// Stop shuts the server down.
func (m *Monitor) Stop(ctx context.Context) error {
	if m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return nil
}

// RecordStep updates the run snapshot served by /status.
func (m *Monitor) RecordStep(loss float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.training.Steps = metrics.TotalSteps()
	m.training.LastLoss = float64(loss)
	m.training.LastStep = time.Now()
}

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := m.getStatus()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (m *Monitor) getStatus() HealthStatus {
	m.mu.RLock()
	training := m.training
	m.mu.RUnlock()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startTime),
		System: SystemInfo{
			GoVersion:    runtime.Version(),
			OS:           runtime.GOOS,
			Arch:         runtime.GOARCH,
			NumCPU:       runtime.NumCPU(),
			MemoryMB:     int(ms.Sys / 1024 / 1024),
			MemoryUsedMB: int(ms.Alloc / 1024 / 1024),
		},
		Training: training,
	}
}
