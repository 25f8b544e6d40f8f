package workers

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/shirou/gopsutil/process"
)

// ProcessStats is the last sample of the server's own resource usage.
type ProcessStats struct {
	PID        int32     `json:"pid"`
	Threads    int32     `json:"threads"`
	CPUPercent float64   `json:"cpuPercent"`
	RAMPercent float32   `json:"ramPercent"`
	Goroutines int       `json:"goroutines"`
	SampledAt  time.Time `json:"sampledAt"`
}

// HealthMonitoringWorker samples the process with gopsutil so /healthz can
// answer without touching the OS on every probe.
type HealthMonitoringWorker struct {
	log            *slog.Logger
	clock          clock.Clock
	metricInterval time.Duration
	goroutines     func() int

	mu     sync.RWMutex
	latest ProcessStats
}

func NewHealthMonitoringWorker(log *slog.Logger, clk clock.Clock, metricInterval time.Duration, goroutines func() int) *HealthMonitoringWorker {
	return &HealthMonitoringWorker{
		log:            log,
		clock:          clk,
		metricInterval: metricInterval,
		goroutines:     goroutines,
	}
}

func (w *HealthMonitoringWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	for {
		w.sample(p)
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping health monitoring")
			return nil
		case <-w.clock.After(w.metricInterval):
		}
	}
}

func (w *HealthMonitoringWorker) sample(p *process.Process) {
	stats := ProcessStats{PID: p.Pid, SampledAt: w.clock.Now().UTC()}
	if threads, err := p.NumThreads(); err == nil {
		stats.Threads = threads
	} else {
		w.log.Debug("Error while finding process threads", "err", err)
	}
	if cpu, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	} else {
		w.log.Debug("Error while finding process cpu usage", "err", err)
	}
	if ram, err := p.MemoryPercent(); err == nil {
		stats.RAMPercent = ram
	} else {
		w.log.Debug("Error while finding process ram usage", "err", err)
	}
	if w.goroutines != nil {
		stats.Goroutines = w.goroutines()
	}

	w.mu.Lock()
	w.latest = stats
	w.mu.Unlock()
}

// Latest returns the most recent sample; ok is false before the first one.
func (w *HealthMonitoringWorker) Latest() (ProcessStats, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.latest, !w.latest.SampledAt.IsZero()
}
