package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"syscall"
	"time"
)

// StatusClientClosed is the nginx convention for a client that went away
// before the response completed. It never reaches a client; it exists so
// logs and metrics can tell cancellation apart from upstream failure.
const StatusClientClosed = 499

// FailureKind classifies why a forward did not complete, for the
// upstream-failure metric and the error body.
type FailureKind string

const (
	FailureConnect      FailureKind = "connect"
	FailureTimeout      FailureKind = "timeout"
	FailureReset        FailureKind = "reset"
	FailureClientClosed FailureKind = "client_closed"
)

// Classify maps a transport error to a failure kind. Order matters:
// a cancelled context also surfaces as a net error, so context state is
// checked first.
func Classify(ctx context.Context, err error) FailureKind {
	switch {
	case ctx.Err() == context.Canceled:
		return FailureClientClosed
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, syscall.ECONNRESET):
		return FailureReset
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return FailureTimeout
		}
	}
	return FailureConnect
}

// FailureObserver receives one callback per failed forward. Wired to the
// Prometheus upstream-failure counter in cmd/frontgate.
type FailureObserver func(route string, kind FailureKind)

// ForwarderOptions tune one route's reverse proxy.
type ForwarderOptions struct {
	// FlushInterval is handed to httputil.ReverseProxy. The default of
	// -1 flushes every write immediately so SSE and other incremental
	// upstream responses reach the client without gateway-added delay.
	FlushInterval time.Duration

	Log     *slog.Logger
	Observe FailureObserver
}

// Forward builds the reverse proxy for one route. The proxy rewrites the
// outbound Host to the upstream's so the upstream sees itself as the
// request's origin, strips hop-by-hop headers, and streams the body in
// both directions.
//
// Error mapping: connect failures become 502, exceeding the transport's
// response-header deadline becomes 504, and a client that disconnected
// first is only logged. A failure after response headers were already
// written cannot be remapped; ReverseProxy aborts the client connection,
// which the client observes as a truncated transfer rather than a clean
// success.
func Forward(route string, up *url.URL, transport http.RoundTripper, opts ForwarderOptions) *httputil.ReverseProxy {
	if opts.FlushInterval == 0 {
		opts.FlushInterval = -1
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	p := httputil.NewSingleHostReverseProxy(up)
	p.Transport = transport
	p.FlushInterval = opts.FlushInterval

	director := p.Director
	p.Director = func(req *http.Request) {
		director(req)
		req.Host = up.Host
	}

	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		kind := Classify(r.Context(), err)
		if opts.Observe != nil {
			opts.Observe(route, kind)
		}

		if kind == FailureClientClosed {
			// Nobody is listening; record and bail.
			opts.Log.Debug("client closed before upstream response",
				slog.String("route", route),
				slog.String("path", r.URL.Path),
			)
			w.WriteHeader(StatusClientClosed)
			return
		}

		opts.Log.Warn("upstream failure",
			slog.String("route", route),
			slog.String("upstream", up.Host),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)

		code := http.StatusBadGateway
		msg := "upstream_unavailable"
		if kind == FailureTimeout {
			code = http.StatusGatewayTimeout
			msg = "upstream_timeout"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": msg,
			"route": route,
		})
	}

	return p
}
