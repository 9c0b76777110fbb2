package proxy

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/cartographer/internal/auth"
	"github.com/wisbric/cartographer/pkg/kvstore"
	"github.com/wisbric/cartographer/pkg/usage"
)

func withIdentity(r *http.Request, id *auth.Identity) *http.Request {
	return r.WithContext(auth.NewContext(r.Context(), id))
}

func TestForwarderRejectsUnauthenticated(t *testing.T) {
	f := NewForwarder(nil)
	route := Route{Name: "metrics", TargetURL: "http://unused"}

	req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	rec := httptest.NewRecorder()
	f.ServeRoute(route)(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestForwarderRejectsInsufficientRole(t *testing.T) {
	f := NewForwarder(nil)
	route := Route{Name: "admin", TargetURL: "http://unused", MinRole: "owner"}

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req = withIdentity(req, &auth.Identity{Role: "member"})
	rec := httptest.NewRecorder()
	f.ServeRoute(route)(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestForwarderProxiesSuccessfulResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Username"); got != "ada" {
			t.Errorf("expected X-Username to be forwarded, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	f := NewForwarder(nil)
	route := Route{Name: "metrics", TargetURL: upstream.URL}

	req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	req = withIdentity(req, &auth.Identity{Username: "ada", Role: "member"})
	rec := httptest.NewRecorder()
	f.ServeRoute(route)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("expected body to be piped through, got %s", rec.Body.String())
	}
}

func TestForwarderTranslatesRateLimit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"Rate limit exceeded"}`))
	}))
	defer upstream.Close()

	f := NewForwarder(nil)
	route := Route{Name: "chat", TargetURL: upstream.URL, LongTimeout: true}

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req = withIdentity(req, &auth.Identity{Username: "ada", Role: "member"})
	rec := httptest.NewRecorder()
	f.ServeRoute(route)(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "3600" {
		t.Fatalf("expected retry-after to be preserved, got %q", rec.Header().Get("Retry-After"))
	}
	if !strings.Contains(rec.Body.String(), "Rate limit exceeded") {
		t.Fatalf("expected detail to be forwarded, got %s", rec.Body.String())
	}
}

func TestForwarderTranslatesGenericError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("not json"))
	}))
	defer upstream.Close()

	f := NewForwarder(nil)
	route := Route{Name: "metrics", TargetURL: upstream.URL}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = withIdentity(req, &auth.Identity{Username: "ada", Role: "member"})
	rec := httptest.NewRecorder()
	f.ServeRoute(route)(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected upstream status to be mirrored, got %d", rec.Code)
	}
}

func TestForwarderRecordsUsage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	kv := kvstore.New(rdb)
	tracker := usage.New(kv, 1, time.Minute, slog.Default())

	f := NewForwarder(tracker)
	route := Route{Name: "metrics-service", TargetURL: upstream.URL}

	req := httptest.NewRequest(http.MethodGet, "/snapshots", nil)
	req = withIdentity(req, &auth.Identity{Username: "ada", Role: "member"})
	rec := httptest.NewRecorder()
	f.ServeRoute(route)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	stats, err := tracker.Stats(req.Context(), "metrics-service")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	summary, ok := stats.Services["metrics-service"]
	if !ok {
		t.Fatal("expected metrics-service to be recorded")
	}
	if summary.TotalRequests != 1 {
		t.Fatalf("total requests = %d, want 1", summary.TotalRequests)
	}
	if len(summary.Endpoints) != 1 || summary.Endpoints[0].Endpoint != "snapshots" {
		t.Fatalf("unexpected endpoints: %+v", summary.Endpoints)
	}
}

func TestForwarderSkipsExcludedRoutes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	kv := kvstore.New(rdb)
	tracker := usage.New(kv, 1, time.Minute, slog.Default())

	f := NewForwarder(tracker)
	route := Route{Name: "metrics-service", TargetURL: upstream.URL}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req = withIdentity(req, &auth.Identity{Username: "ada", Role: "member"})
	rec := httptest.NewRecorder()
	f.ServeRoute(route)(rec, req)

	stats, err := tracker.Stats(req.Context(), "")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalServices != 0 {
		t.Fatalf("expected no services recorded for an excluded path, got %d", stats.TotalServices)
	}
}
