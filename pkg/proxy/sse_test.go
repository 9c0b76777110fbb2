package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wisbric/cartographer/internal/auth"
)

func TestServeSSERoutePipesUpstreamFrames(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: hello\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: world\n\n"))
		flusher.Flush()
	}))
	defer upstream.Close()

	f := NewForwarder(nil)
	route := Route{Name: "chat", TargetURL: upstream.URL, LongTimeout: true}

	req := httptest.NewRequest(http.MethodGet, "/chat/stream", nil)
	req = withIdentity(req, &auth.Identity{Username: "ada", Role: "member"})
	rec := httptest.NewRecorder()
	f.ServeSSERoute(route)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" {
		t.Fatal("expected X-Accel-Buffering: no header")
	}
	body := rec.Body.String()
	if !strings.Contains(body, "data: hello") || !strings.Contains(body, "data: world") {
		t.Fatalf("expected both frames to be piped through, got %q", body)
	}
}

func TestServeSSERouteTranslatesUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"token expired"}`))
	}))
	defer upstream.Close()

	f := NewForwarder(nil)
	route := Route{Name: "chat", TargetURL: upstream.URL, LongTimeout: true}

	req := httptest.NewRequest(http.MethodGet, "/chat/stream", nil)
	req = withIdentity(req, &auth.Identity{Username: "ada", Role: "member"})
	rec := httptest.NewRecorder()
	f.ServeSSERoute(route)(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestServeSSERouteRejectsInsufficientRole(t *testing.T) {
	f := NewForwarder(nil)
	route := Route{Name: "chat", TargetURL: "http://unused", MinRole: "admin"}

	req := httptest.NewRequest(http.MethodGet, "/chat/stream", nil)
	req = withIdentity(req, &auth.Identity{Role: "member"})
	rec := httptest.NewRecorder()
	f.ServeSSERoute(route)(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
