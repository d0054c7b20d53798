// Package httpserver assembles the HTTP surface: RPC, events, health and
// metrics.
package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	zlog "github.com/rs/zerolog/log"
)

// Options holds the handlers mounted on the router. Nil handlers are
// left out.
type Options struct {
	RPCPath     string
	RPC         http.Handler
	Events      http.Handler
	MetricsPath string
	Metrics     http.Handler
	Ready       func() bool

	AllowedOrigins []string // CORS origins for RPC; empty allows any
	RateLimit      int      // RPC requests per minute per client IP; 0 disables
}

// NewRouter creates the HTTP router.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if opts.Ready != nil && !opts.Ready() {
			writeText(w, http.StatusServiceUnavailable, "starting")
			return
		}
		writeText(w, http.StatusOK, "ready")
	})

	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, opts.Metrics)
	}
	if opts.Events != nil {
		r.Get("/ws", opts.Events.ServeHTTP)
	}
	if opts.RPC != nil {
		r.Group(func(r chi.Router) {
			r.Use(rpcCORS(opts.AllowedOrigins))
			if opts.RateLimit > 0 {
				r.Use(httprate.LimitByIP(opts.RateLimit, time.Minute))
			}
			r.Handle(opts.RPCPath+"*", opts.RPC)
		})
	}
	return r
}

// rpcCORS lets browser clients speak the Connect protocol.
func rpcCORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type", "Connect-Protocol-Version", "Connect-Timeout-Ms",
			"X-Admin-Token", "X-Requested-With",
		},
		ExposedHeaders: []string{"Grpc-Status", "Grpc-Message", "Grpc-Status-Details-Bin"},
		MaxAge:         7200,
	})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zlog.Debug().Msgf("http request: method=%s path=%s status=%d duration=%v request_id=%s",
			r.Method, r.URL.Path, ww.Status(), time.Since(start), chimiddleware.GetReqID(r.Context()))
	})
}
