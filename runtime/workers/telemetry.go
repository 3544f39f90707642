package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"assist-chat/observability"
)

// TelemetryWorker logs process health (RSS, CPU) and the chat counters on a
// fixed interval so an operator can spot a leaking gateway without external
// monitoring.
type TelemetryWorker struct {
	log            *slog.Logger
	monitor        *observability.Monitor
	metricInterval time.Duration
}

func NewTelemetryWorker(log *slog.Logger, monitor *observability.Monitor, metricInterval time.Duration) *TelemetryWorker {
	return &TelemetryWorker{log: log, monitor: monitor, metricInterval: metricInterval}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			mem, err := p.MemoryInfo()
			if err != nil {
				w.log.Warn("Failed to collect memory stats", "error", err)
				continue
			}
			cpu, err := p.CPUPercent()
			if err != nil {
				w.log.Warn("Failed to collect cpu stats", "error", err)
				continue
			}
			stats := w.monitor.Refresh()
			w.log.Info("Telemetry",
				"rss_mb", mem.RSS/1024/1024,
				"cpu_percent", cpu,
				"connections", stats.ConnectionsOpen,
				"messages_accepted", stats.MessagesAccepted,
				"message_rate", stats.MessageRate,
				"delivery_failures", stats.DeliveryFailures,
			)
		}
	}
}
