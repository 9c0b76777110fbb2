package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// modelVersion is bumped whenever the baseline's statistical shape changes.
const modelVersion = "welford-v1"

// persistInterval is how often Run flushes the baseline to disk.
const persistInterval = time.Minute

// DeviceBaseline tracks the online anomaly-detection statistics for one
// device's latency, packet loss, and availability.
type DeviceBaseline struct {
	IP                  string    `json:"ip"`
	TotalChecks         int64     `json:"total_checks"`
	SuccessfulChecks    int64     `json:"successful_checks"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	LatencyCount        int64     `json:"latency_count"`
	LatencyMean         float64   `json:"latency_mean"`
	LatencyM2           float64   `json:"latency_m2"`
	PacketLossMean      float64   `json:"packet_loss_mean"`
	LastUpdated         time.Time `json:"last_updated"`
}

// LatencyVariance returns the sample variance of observed latencies, 0 if
// fewer than two samples have been observed.
func (b DeviceBaseline) LatencyVariance() float64 {
	if b.LatencyCount < 2 {
		return 0
	}
	return b.LatencyM2 / float64(b.LatencyCount-1)
}

// AvailabilityFraction returns successful_checks / total_checks, 0 if no
// checks have been recorded.
func (b DeviceBaseline) AvailabilityFraction() float64 {
	if b.TotalChecks == 0 {
		return 0
	}
	return float64(b.SuccessfulChecks) / float64(b.TotalChecks)
}

// AnomalyBaseline maintains per-device Welford statistics, periodically
// flushed to a JSON file and loaded back at startup. There is no
// third-party online-statistics library anywhere in this stack's
// dependency set, so the update math is implemented directly from its
// textbook definition rather than reached for a library.
type AnomalyBaseline struct {
	mu      sync.Mutex
	path    string
	devices map[string]*DeviceBaseline
	logger  *slog.Logger
}

// NewAnomalyBaseline builds an AnomalyBaseline, loading any persisted state
// found at path. path may be empty, in which case state is in-memory only.
func NewAnomalyBaseline(path string, logger *slog.Logger) *AnomalyBaseline {
	b := &AnomalyBaseline{path: path, devices: make(map[string]*DeviceBaseline), logger: logger}
	b.load()
	return b
}

func (b *AnomalyBaseline) load() {
	if b.path == "" {
		return
	}
	data, err := os.ReadFile(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			b.logger.Warn("anomaly baseline: read failed", "path", b.path, "error", err)
		}
		return
	}

	var devices map[string]*DeviceBaseline
	if err := json.Unmarshal(data, &devices); err != nil {
		b.logger.Warn("anomaly baseline: corrupt file, starting empty", "path", b.path, "error", err)
		return
	}
	b.devices = devices
}

// Persist flushes the current baseline state to disk. Safe to call
// periodically from a background ticker.
func (b *AnomalyBaseline) Persist() {
	if b.path == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := json.Marshal(b.devices)
	if err != nil {
		b.logger.Error("anomaly baseline: marshal failed", "error", err)
		return
	}
	if err := os.WriteFile(b.path, data, 0o644); err != nil {
		b.logger.Error("anomaly baseline: write failed", "path", b.path, "error", err)
	}
}

// Train folds one observation into a device's running statistics.
func (b *AnomalyBaseline) Train(ip string, success bool, latencyMs float64, packetLoss float64, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.devices[ip]
	if !ok {
		d = &DeviceBaseline{IP: ip}
		b.devices[ip] = d
	}

	d.TotalChecks++
	if success {
		d.SuccessfulChecks++
		d.ConsecutiveFailures = 0
	} else {
		d.ConsecutiveFailures++
	}

	d.LatencyCount++
	delta := latencyMs - d.LatencyMean
	d.LatencyMean += delta / float64(d.LatencyCount)
	d.LatencyM2 += delta * (latencyMs - d.LatencyMean)

	if d.TotalChecks == 1 {
		d.PacketLossMean = packetLoss
	} else {
		plDelta := packetLoss - d.PacketLossMean
		d.PacketLossMean += plDelta / float64(d.TotalChecks)
	}

	d.LastUpdated = at
}

// Run persists the baseline on a fixed tick until ctx is cancelled, and
// once more on the way out so a shutdown doesn't drop the latest state.
func (b *AnomalyBaseline) Run(ctx context.Context) {
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Persist()
			return
		case <-ticker.C:
			b.Persist()
		}
	}
}

// GetDeviceBaseline returns a copy of a device's current stats, and whether
// the device has been observed at all.
func (b *AnomalyBaseline) GetDeviceBaseline(ip string) (DeviceBaseline, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.devices[ip]
	if !ok {
		return DeviceBaseline{}, false
	}
	return *d, true
}

// ModelStatus summarizes the baseline's overall state.
type ModelStatus struct {
	TrackedDevices int    `json:"tracked_devices"`
	ModelVersion   string `json:"model_version"`
}

// GetModelStatus returns the tracked-device count and model version.
func (b *AnomalyBaseline) GetModelStatus() ModelStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	return ModelStatus{TrackedDevices: len(b.devices), ModelVersion: modelVersion}
}
