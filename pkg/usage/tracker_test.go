package usage

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/cartographer/pkg/kvstore"
)

func newTestTracker(t *testing.T, batchSize int) *Tracker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	kv := kvstore.New(rdb)
	return New(kv, batchSize, time.Minute, slog.Default())
}

func TestRecordFlushesAtBatchSize(t *testing.T) {
	tr := newTestTracker(t, 2)
	now := time.Now()

	tr.Record("backend-service", "GET", "/networks/abc/snapshots", 200, 10*time.Millisecond, now)

	stats, err := tr.Stats(context.Background(), "backend-service")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalServices != 0 {
		t.Fatalf("expected no flush yet below batch size, got %d services", stats.TotalServices)
	}

	tr.Record("backend-service", "GET", "/networks/abc/snapshots", 200, 20*time.Millisecond, now)

	stats, err = tr.Stats(context.Background(), "backend-service")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	summary, ok := stats.Services["backend-service"]
	if !ok {
		t.Fatal("expected backend-service to be recorded after batch flush")
	}
	if summary.TotalRequests != 2 {
		t.Fatalf("total requests = %d, want 2", summary.TotalRequests)
	}
	if summary.TotalSuccesses != 2 {
		t.Fatalf("total successes = %d, want 2", summary.TotalSuccesses)
	}
	if len(summary.Endpoints) != 1 {
		t.Fatalf("expected one aggregated endpoint, got %d", len(summary.Endpoints))
	}
	ep := summary.Endpoints[0]
	if ep.Endpoint != "networks_abc_snapshots" {
		t.Fatalf("endpoint = %q, want normalized underscored form", ep.Endpoint)
	}
	if ep.RequestCount != 2 {
		t.Fatalf("request count = %d, want 2", ep.RequestCount)
	}
	if ep.MinResponseTimeMs == nil || *ep.MinResponseTimeMs != 10 {
		t.Fatalf("min response time = %v, want 10", ep.MinResponseTimeMs)
	}
	if ep.MaxResponseTimeMs == nil || *ep.MaxResponseTimeMs != 20 {
		t.Fatalf("max response time = %v, want 20", ep.MaxResponseTimeMs)
	}
}

func TestRecordSeparatesSuccessAndErrorCounts(t *testing.T) {
	tr := newTestTracker(t, 1)
	now := time.Now()

	tr.Record("auth-service", "POST", "/auth/login", 200, time.Millisecond, now)
	tr.Record("auth-service", "POST", "/auth/login", 500, time.Millisecond, now)

	stats, err := tr.Stats(context.Background(), "auth-service")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	summary := stats.Services["auth-service"]
	if summary.TotalSuccesses != 1 || summary.TotalErrors != 1 {
		t.Fatalf("successes=%d errors=%d, want 1 and 1", summary.TotalSuccesses, summary.TotalErrors)
	}

	ep := summary.Endpoints[0]
	if ep.StatusCodes["200"] != 1 || ep.StatusCodes["500"] != 1 {
		t.Fatalf("status codes = %+v, want one each of 200 and 500", ep.StatusCodes)
	}
}

func TestRunFlushesOnShutdown(t *testing.T) {
	tr := newTestTracker(t, 100)
	tr.Record("health-service", "GET", "/devices", 200, time.Millisecond, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	stats, err := tr.Stats(context.Background(), "health-service")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalServices != 1 {
		t.Fatalf("expected the buffered record to flush on shutdown, got %d services", stats.TotalServices)
	}
}

func TestExcludedPaths(t *testing.T) {
	cases := map[string]bool{
		"/health":        true,
		"/health/live":   true,
		"/metrics":       true,
		"/usage":         true,
		"/usage/backend": true,
		"/snapshots":     false,
		"/networks/abc":  false,
	}
	for path, want := range cases {
		if got := Excluded(path); got != want {
			t.Errorf("Excluded(%q) = %v, want %v", path, got, want)
		}
	}
}
