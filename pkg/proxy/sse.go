package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/wisbric/cartographer/internal/apperr"
	"github.com/wisbric/cartographer/internal/auth"
	"github.com/wisbric/cartographer/internal/httpserver"
	"github.com/wisbric/cartographer/pkg/user"
)

// sseTimeout is generous: streaming chat/speed-test sessions can run long,
// and the client disconnecting is what actually ends the upstream call.
const sseTimeout = longTimeout

// ServeSSERoute opens a streaming upstream request and pipes its
// text/event-stream body through to the client byte-for-byte. Any error
// raised mid-stream is emitted as a final `data: {"type":"error",...}`
// frame before both sockets are closed.
func (f *Forwarder) ServeSSERoute(route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := auth.FromContext(r.Context())
		if id == nil {
			httpserver.RespondErr(w, apperr.New(apperr.NotAuthenticated, "authentication required"))
			return
		}
		if route.MinRole != "" && !user.RoleAtLeast(id.Role, route.MinRole) {
			httpserver.RespondErr(w, apperr.New(apperr.Forbidden, "insufficient role for this route"))
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpserver.RespondErr(w, apperr.New(apperr.Internal, "streaming not supported"))
			return
		}

		var body *bytes.Reader
		if r.Body != nil {
			buf, err := io.ReadAll(r.Body)
			if err != nil {
				httpserver.RespondErr(w, apperr.Wrap(apperr.Validation, "reading request body", err))
				return
			}
			body = bytes.NewReader(buf)
		} else {
			body = bytes.NewReader(nil)
		}

		upstreamURL := route.TargetURL + r.URL.Path
		if r.URL.RawQuery != "" {
			upstreamURL += "?" + r.URL.RawQuery
		}

		ctx, cancel := context.WithTimeout(r.Context(), sseTimeout)
		defer cancel()

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

		if resp.StatusCode >= 400 {
			translate(w, resp)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if _, err := fmt.Fprintf(w, "%s\n", scanner.Text()); err != nil {
				return
			}
			flusher.Flush()
		}
		if err := scanner.Err(); err != nil {
			writeErrorFrame(w, err)
			flusher.Flush()
		}
	}
}

func writeErrorFrame(w http.ResponseWriter, err error) {
	payload, marshalErr := json.Marshal(struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}{Type: "error", Error: err.Error()})
	if marshalErr != nil {
		payload = []byte(`{"type":"error"}`)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
}
