package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"aldar.app/internal/obs"
)

// Checker reports whether a dependency is usable.
type Checker interface {
	Ping(ctx context.Context) error
}

// ReadyProbe: ping every dependency the API cannot serve without
type ReadyProbe struct {
	Deps []Checker
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	for _, d := range rp.Deps {
		if d == nil {
			continue
		}
		if err := d.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Limits configures the outer middleware.
type Limits struct {
	RateBurst    int
	RatePerSec   float64
	MaxBodyBytes int64
	Origins      []string
}

type Options struct {
	Version  string
	Ready    ReadyProbe
	Pipeline *Pipeline
	LMS      LMS
	Limits   Limits
	// Limiter is created from Limits when nil; its sweeper is the caller's to run.
	Limiter *RateLimiter
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	limits     Limits
	limiter    *RateLimiter
}

func New(opts Options) (*API, error) {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: opts.Ready,
		version:    opts.Version,
		limits:     opts.Limits,
		limiter:    opts.Limiter,
	}
	if a.limiter == nil && a.limits.RateBurst > 0 {
		a.limiter = NewRateLimiter(a.limits.RateBurst, a.limits.RatePerSec)
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	if opts.Pipeline != nil && opts.LMS != nil {
		if err := opts.Pipeline.Mount(a.mux, LMSEndpoints(opts.LMS)...); err != nil {
			return nil, err
		}
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found", "success": false})
	})
	return a, nil
}

// Handler wraps the mux with the outer middleware, outermost first:
// recovery, request id, access log, headers, CORS, rate limit, body limit,
// compression and metrics.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = Compress(h)
	if a.limits.MaxBodyBytes > 0 {
		h = MaxBodyBytes(h, a.limits.MaxBodyBytes)
	}
	if a.limiter != nil {
		h = a.limiter.Middleware(h)
	}
	h = CORS(a.limits.Origins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return Recover(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "aldar-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "aldar-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
