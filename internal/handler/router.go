package handler

import (
	"net/http"

	"ilpsdk/internal/api"
	"ilpsdk/internal/middleware"
	"ilpsdk/pkg/logger"
	"ilpsdk/pkg/metrics"
	"ilpsdk/pkg/validator"

	"github.com/gorilla/mux"
)

// RouterOptions wires the HTTP surface. RateLimiter and Idempotency are
// optional.
type RouterOptions struct {
	State       *api.State
	JWTSecret   string
	Logger      logger.Logger
	Metrics     *metrics.Metrics
	RateLimiter *middleware.RateLimiter
	Idempotency *middleware.IdempotencyMiddleware
	BodyLimit   int64
}

// NewRouter builds the switch API.
func NewRouter(opts RouterOptions) *mux.Router {
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = 1 << 20
	}
	val := validator.New()

	uplinks := NewUplinkHandler(opts.State, val, opts.Logger)
	streams := NewStreamHandler(opts.State, val, opts.Logger)
	system := NewSystemHandler(opts.State, opts.Logger)

	r := mux.NewRouter()
	r.Use(middleware.CORS)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(opts.Logger))
	r.Use(middleware.NewLoggingMiddleware(opts.Logger, opts.Metrics).Log)
	r.Use(middleware.BodyLimit(opts.BodyLimit))

	r.HandleFunc("/health", system.Health).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(middleware.NewAuthMiddleware(opts.JWTSecret).Authenticate)
	if opts.RateLimiter != nil {
		v1.Use(opts.RateLimiter.Limit)
	}
	if opts.Idempotency != nil {
		v1.Use(opts.Idempotency.Guard)
	}

	v1.HandleFunc("/state", system.State).Methods(http.MethodGet)
	v1.HandleFunc("/uplinks", uplinks.List).Methods(http.MethodGet)
	v1.HandleFunc("/uplinks", uplinks.Create).Methods(http.MethodPost)
	v1.HandleFunc("/uplinks/{id}", uplinks.Get).Methods(http.MethodGet)
	v1.HandleFunc("/uplinks/{id}", uplinks.Delete).Methods(http.MethodDelete)
	v1.HandleFunc("/uplinks/{id}/deposit", uplinks.Deposit).Methods(http.MethodPost)
	v1.HandleFunc("/uplinks/{id}/withdraw", uplinks.Withdraw).Methods(http.MethodPost)
	v1.HandleFunc("/streams", streams.Create).Methods(http.MethodPost)

	return r
}
