package notification

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func TestAnomalyBaselineTrainWelfordStats(t *testing.T) {
	b := NewAnomalyBaseline("", testLogger())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	latencies := []float64{10, 12, 11, 13, 9}
	for i, l := range latencies {
		b.Train("10.0.0.1", true, l, 0, now.Add(time.Duration(i)*time.Second))
	}

	baseline, ok := b.GetDeviceBaseline("10.0.0.1")
	if !ok {
		t.Fatal("expected device to be tracked")
	}

	wantMean := 11.0
	if math.Abs(baseline.LatencyMean-wantMean) > 1e-9 {
		t.Fatalf("expected mean %v, got %v", wantMean, baseline.LatencyMean)
	}
	if baseline.TotalChecks != int64(len(latencies)) {
		t.Fatalf("expected total_checks=%d, got %d", len(latencies), baseline.TotalChecks)
	}
	if baseline.SuccessfulChecks != int64(len(latencies)) {
		t.Fatalf("expected all checks successful, got %d", baseline.SuccessfulChecks)
	}
	if baseline.LatencyVariance() <= 0 {
		t.Fatal("expected nonzero variance across varying latencies")
	}
}

func TestAnomalyBaselineConsecutiveFailures(t *testing.T) {
	b := NewAnomalyBaseline("", testLogger())
	now := time.Now()

	b.Train("10.0.0.2", true, 5, 0, now)
	b.Train("10.0.0.2", false, 5, 0, now)
	b.Train("10.0.0.2", false, 5, 0, now)

	baseline, _ := b.GetDeviceBaseline("10.0.0.2")
	if baseline.ConsecutiveFailures != 2 {
		t.Fatalf("expected 2 consecutive failures, got %d", baseline.ConsecutiveFailures)
	}

	b.Train("10.0.0.2", true, 5, 0, now)
	baseline, _ = b.GetDeviceBaseline("10.0.0.2")
	if baseline.ConsecutiveFailures != 0 {
		t.Fatalf("expected a success to reset consecutive failures, got %d", baseline.ConsecutiveFailures)
	}
}

func TestAnomalyBaselinePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")

	b := NewAnomalyBaseline(path, testLogger())
	b.Train("10.0.0.3", true, 20, 0.1, time.Now())
	b.Persist()

	reloaded := NewAnomalyBaseline(path, testLogger())
	baseline, ok := reloaded.GetDeviceBaseline("10.0.0.3")
	if !ok {
		t.Fatal("expected reloaded baseline to contain the trained device")
	}
	if baseline.LatencyMean != 20 {
		t.Fatalf("expected latency mean 20, got %v", baseline.LatencyMean)
	}
}

func TestAnomalyBaselineModelStatus(t *testing.T) {
	b := NewAnomalyBaseline("", testLogger())
	b.Train("10.0.0.4", true, 1, 0, time.Now())
	b.Train("10.0.0.5", true, 1, 0, time.Now())

	status := b.GetModelStatus()
	if status.TrackedDevices != 2 {
		t.Fatalf("expected 2 tracked devices, got %d", status.TrackedDevices)
	}
	if status.ModelVersion == "" {
		t.Fatal("expected a non-empty model version")
	}
}

func TestAnomalyBaselineRunPersistsOnShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")

	b := NewAnomalyBaseline(path, testLogger())
	b.Train("10.0.0.6", true, 15, 0, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	reloaded := NewAnomalyBaseline(path, testLogger())
	if _, ok := reloaded.GetDeviceBaseline("10.0.0.6"); !ok {
		t.Fatal("expected Run to persist the trained device before returning")
	}
}
