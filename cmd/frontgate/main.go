package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/frontgate/frontgate/internal/assets"
	"github.com/frontgate/frontgate/internal/config"
	"github.com/frontgate/frontgate/internal/logging"
	"github.com/frontgate/frontgate/internal/mw"
	"github.com/frontgate/frontgate/internal/netx"
	"github.com/frontgate/frontgate/internal/proxy"
	"github.com/frontgate/frontgate/internal/ratelimit"
)

func main() {
	var configPath string
	var validateOnly bool
	flag.StringVar(&configPath, "config", "./config/config.example.yaml", "path to yaml config")
	flag.BoolVar(&validateOnly, "validate-config", false, "validate config and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logging.New(cfg.Server.LogLevel)
	if validateOnly {
		log.Info("config ok")
		return
	}

	if cfg.Static.Dir != "" {
		if err := assets.CheckDir(cfg.Static.Dir); err != nil {
			log.Error("static dir not usable", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	trusted, err := netx.ParsePrefixSet(cfg.Server.TrustedProxies)
	if err != nil {
		log.Error("invalid trusted_proxies", slog.String("error", err.Error()))
		os.Exit(1)
	}
	ipr := mw.IPResolver{Trusted: trusted}

	// ---- Rate limiter backend
	var limiter ratelimit.Limiter
	switch strings.ToLower(cfg.RateLimit.Backend) {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Warn("redis unreachable; falling back to memory limiter", slog.String("error", err.Error()))
			limiter = ratelimit.NewMemoryLimiter(5*time.Minute, time.Minute)
		} else {
			limiter = ratelimit.NewRedisLimiter(rdb)
		}
	default:
		limiter = ratelimit.NewMemoryLimiter(
			time.Duration(cfg.RateLimit.Memory.TTLSeconds)*time.Second,
			time.Duration(cfg.RateLimit.Memory.CleanupSeconds)*time.Second,
		)
	}
	defer limiter.Close()

	// ---- Outbound transport shared by all proxy routes
	transport := proxy.NewTransport(proxy.TransportConfig{
		DialTimeout:           time.Duration(cfg.Upstream.DialTimeoutSeconds) * time.Second,
		TLSHandshakeTimeout:   time.Duration(cfg.Upstream.TLSHandshakeTimeoutSeconds) * time.Second,
		ResponseHeaderTimeout: time.Duration(cfg.Upstream.ResponseHeaderTimeoutSeconds) * time.Second,
		IdleConnTimeout:       time.Duration(cfg.Upstream.IdleConnTimeoutSeconds) * time.Second,
		MaxIdleConns:          cfg.Upstream.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.Upstream.MaxIdleConnsPerHost,
	})

	// ---- Metrics
	reg := prometheus.NewRegistry()
	metrics := mw.NewMetrics(reg)

	auth := mw.Authenticator{
		Secret: []byte(cfg.Auth.Secret),
		Leeway: time.Duration(cfg.Auth.LeewaySeconds) * time.Second,
	}

	// ---- Route table + per-route limits
	flush := time.Duration(cfg.Upstream.FlushIntervalMs) * time.Millisecond
	if cfg.Upstream.FlushIntervalMs < 0 {
		flush = -1
	}

	routes := make([]proxy.Route, 0, len(cfg.Routes)+1)
	sems := map[string]*mw.Semaphore{}
	breakers := map[string]*mw.CircuitBreaker{}

	for _, rc := range cfg.Routes {
		u, err := url.Parse(rc.Upstream)
		if err != nil {
			log.Error("invalid upstream url", slog.String("route", rc.Name), slog.String("error", err.Error()))
			os.Exit(1)
		}

		fwd := proxy.Forward(rc.Name, u, transport, proxy.ForwarderOptions{
			FlushInterval: flush,
			Log:           log,
			Observe:       metrics.ObserveFailure,
		})
		strip := rc.StripPrefix
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.URL.Path = proxy.StripPath(r.URL.Path, strip)
			fwd.ServeHTTP(w, r)
		})

		routes = append(routes, proxy.Route{
			Name:         rc.Name,
			PathPrefix:   rc.Match.PathPrefix,
			Upstream:     u,
			StripPrefix:  rc.StripPrefix,
			AuthRequired: rc.AuthRequired,
			RateLimit: proxy.RouteRateLimit{
				Enabled: rc.RateLimit.Enabled,
				RPS:     rc.RateLimit.RPS,
				Burst:   rc.RateLimit.Burst,
				Scope:   rc.RateLimit.Scope,
			},
			Handler: handler,
		})

		sems[rc.Name] = mw.NewSemaphore(rc.Concurrency.MaxInFlight)
		breakers[rc.Name] = mw.NewCircuitBreaker(mw.BreakerConfig{
			Enabled:             rc.CircuitBreaker.Enabled,
			FailureThreshold:    rc.CircuitBreaker.FailureThreshold,
			OpenDuration:        time.Duration(rc.CircuitBreaker.OpenSeconds) * time.Second,
			HalfOpenMaxInFlight: rc.CircuitBreaker.HalfOpenMaxInFlight,
		})
	}

	if cfg.Static.Dir != "" {
		routes = append(routes, proxy.Route{
			Name:    "assets",
			Handler: assets.New(cfg.Static.Dir, cfg.Static.Index),
		})
	}

	rtr, err := proxy.New(routes)
	if err != nil {
		log.Error("failed to build route table", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// ---- Mux
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	startedAt := time.Now()
	adminKey := os.Getenv("FRONTGATE_ADMIN_KEY")
	wrapAdmin := func(routeName string, h http.Handler) http.Handler {
		h = mw.RequireAdminKey(adminKey, h)
		h = mw.AccessLog(log, h)
		h = mw.Instrument(metrics, h)
		h = mw.WithRoute(h, routeName)
		h = mw.RequestID(h)
		return h
	}

	mux.Handle("/-/status", wrapAdmin("admin_status", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		goVer := ""
		if info, _ := debug.ReadBuildInfo(); info != nil {
			goVer = info.GoVersion
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"time_utc":          time.Now().UTC().Format(time.RFC3339),
			"uptime_seconds":    int(time.Since(startedAt).Seconds()),
			"listen_addr":       cfg.Server.Addr,
			"go_version":        goVer,
			"rate_backend":      cfg.RateLimit.Backend,
			"routes_configured": len(routes),
			"static_dir":        cfg.Static.Dir,
		})
	})))

	mux.Handle("/-/routes", wrapAdmin("admin_routes", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		type outRoute struct {
			Name         string `json:"name"`
			PathPrefix   string `json:"path_prefix"`
			Upstream     string `json:"upstream,omitempty"`
			StripPrefix  string `json:"strip_prefix,omitempty"`
			AuthRequired bool   `json:"auth_required"`
		}
		out := make([]outRoute, 0, len(routes))
		for _, rt := range rtr.Routes() {
			o := outRoute{
				Name:         rt.Name,
				PathPrefix:   rt.PathPrefix,
				StripPrefix:  rt.StripPrefix,
				AuthRequired: rt.AuthRequired,
			}
			if rt.Upstream != nil {
				o.Upstream = rt.Upstream.String()
			}
			out = append(out, o)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})))

	mux.Handle("/-/limits", wrapAdmin("admin_limits", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		rows := make([]map[string]any, 0, len(cfg.Routes))
		for _, rc := range cfg.Routes {
			row := map[string]any{"route": rc.Name}
			if sem := sems[rc.Name]; sem.Enabled() {
				row["concurrency"] = map[string]any{
					"max_in_flight": sem.Cap(),
					"in_flight":     sem.InFlight(),
				}
			}
			if br := breakers[rc.Name]; br.Enabled() {
				row["circuit_breaker"] = br.Stats()
			}
			rows = append(rows, row)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rows)
	})))

	// ---- Catch-all gateway handler
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := rtr.Match(r.URL.Path)
		if route == nil {
			http.NotFound(w, r)
			return
		}

		h := route.Handler

		// Breaker wraps the forward so it sees upstream status codes;
		// everything producing gateway-local 4xx stays outside it.
		if br := breakers[route.Name]; br.Enabled() {
			h = mw.CircuitBreak(br, h)
		}
		if sem := sems[route.Name]; sem.Enabled() {
			h = mw.ConcurrencyLimit(sem, h)
		}
		if route.AuthRequired {
			h = mw.RequireAuth(auth, h)
		}
		h = mw.RateLimit(limiter, ipr, mw.RateLimitConfig{
			Enabled:   route.RateLimit.Enabled,
			RPS:       route.RateLimit.RPS,
			Burst:     route.RateLimit.Burst,
			Scope:     route.RateLimit.Scope,
			RouteName: route.Name,
		}, h)
		h = mw.MaxBodyBytes(cfg.Server.MaxBodyBytes, h)

		h = mw.AccessLog(log, h)
		h = mw.Instrument(metrics, h)
		h = mw.WithRoute(h, route.Name)
		h = mw.RequestID(h)
		h = mw.Recover(log, h)

		h.ServeHTTP(w, r)
	}))

	// No ReadTimeout/WriteTimeout: the backend streams SSE responses of
	// unbounded duration, so only the header read and idle keep-alive
	// are bounded here. Per-forward deadlines live on the transport.
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	go func() {
		log.Info("frontgate listening", slog.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info("shutdown complete")
}
