// Package proxy implements the authenticated edge that forwards requests
// to downstream collector services, translating their error responses and
// piping server-sent-event bodies through unchanged.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/wisbric/cartographer/internal/apperr"
	"github.com/wisbric/cartographer/internal/auth"
	"github.com/wisbric/cartographer/internal/httpserver"
	"github.com/wisbric/cartographer/pkg/usage"
	"github.com/wisbric/cartographer/pkg/user"
)

// Route names a downstream target and the timeout class it forwards with.
type Route struct {
	Name        string
	TargetURL   string // base URL of the downstream service
	MinRole     string // "" means any authenticated caller
	LongTimeout bool   // chat/speed-test endpoints get a longer deadline
}

const (
	defaultTimeout = 30 * time.Second
	longTimeout    = 120 * time.Second
)

// Forwarder relays requests to a downstream service via a pooled client,
// generalized to a table of per-route timeouts, and records each
// forwarded request's usage counters if a tracker is attached.
type Forwarder struct {
	client  *http.Client
	tracker *usage.Tracker
}

// NewForwarder builds a Forwarder with a shared, pooled transport.
// tracker may be nil, in which case usage accounting is skipped.
func NewForwarder(tracker *usage.Tracker) *Forwarder {
	return &Forwarder{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		tracker: tracker,
	}
}

// ServeRoute authorizes the caller against route.MinRole, forwards the
// request body and selected headers to route.TargetURL+r.URL.Path, and
// translates the downstream response back to the client.
func (f *Forwarder) ServeRoute(route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		if f.tracker != nil && !usage.Excluded(r.URL.Path) {
			defer func() {
				f.tracker.Record(route.Name, r.Method, r.URL.Path, sw.status, time.Since(start), start)
			}()
		}
		w = sw

		id := auth.FromContext(r.Context())
		if id == nil {
			httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "authentication required"))
			return
		}
		if route.MinRole != "" && !user.RoleAtLeast(id.Role, route.MinRole) {
			httpserver.RespondErr(w, apperr.New(apperr.Forbidden, "insufficient role for this route"))
			return
		}

		timeout := defaultTimeout
		if route.LongTimeout {
			timeout = longTimeout
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		var body io.Reader
		if r.Body != nil {
			buf, err := io.ReadAll(r.Body)
			if err != nil {
				httpserver.RespondErr(w, apperr.Wrap(apperr.Validation, "reading request body", err))
				return
			}
			body = bytes.NewReader(buf)
		}

		upstreamURL := route.TargetURL + r.URL.Path
		if r.URL.RawQuery != "" {
			upstreamURL += "?" + r.URL.RawQuery
		}

		req, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL, body)
		if err != nil {
			httpserver.RespondErr(w, apperr.Wrap(apperr.Internal, "building upstream request", err))
			return
		}
		copyForwardHeaders(req, r, id)

		resp, err := f.client.Do(req)
		if err != nil {
			httpserver.RespondErr(w, apperr.Wrap(apperr.UpstreamUnavailable, "calling downstream service", err))
			return
		}
		defer func() { _ = resp.Body.Close() }()

		translate(w, resp)
	}
}

// copyForwardHeaders passes Authorization through when present and injects
// the identity headers downstream services expect.
func copyForwardHeaders(req *http.Request, src *http.Request, id *auth.Identity) {
	if authz := src.Header.Get("Authorization"); authz != "" {
		req.Header.Set("Authorization", authz)
	}
	if ct := src.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	if id.UserID != nil {
		req.Header.Set("X-User-Id", *id.UserID)
	}
	req.Header.Set("X-Username", id.Username)
}

// translate mirrors the downstream status to the client, special-casing
// 429 (rate limit, with Retry-After preserved) and attempting to extract a
// JSON "detail" field for any 4xx/5xx body.
func translate(w http.ResponseWriter, resp *http.Response) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		httpserver.RespondErr(w, apperr.Wrap(apperr.Internal, "reading upstream response", err))
		return
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfterSeconds := 0
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if n, err := strconv.Atoi(ra); err == nil {
				retryAfterSeconds = n
			}
		}
		err := apperr.New(apperr.RateLimited, extractDetail(body, "Daily chat limit exceeded")).WithRetryAfter(retryAfterSeconds)
		httpserver.RespondErr(w, err)
	case resp.StatusCode == http.StatusUnauthorized:
		httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, extractDetail(body, "unauthorized")))
	case resp.StatusCode >= 400:
		detail := extractDetail(body, fmt.Sprintf("downstream returned HTTP %d", resp.StatusCode))
		httpserver.RespondError(w, resp.StatusCode, "upstream_error", detail)
	default:
		for k, values := range resp.Header {
			if k == "Content-Length" {
				continue
			}
			for _, v := range values {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(body)
	}
}

func extractDetail(body []byte, fallback string) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return fallback
}

// statusWriter wraps http.ResponseWriter to capture the status code for
// usage accounting, the same way internal/httpserver's request logger
// captures it for access logs.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}
