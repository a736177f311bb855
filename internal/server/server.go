package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/qmsuite/change-control/pkg/composables"
	"github.com/qmsuite/change-control/pkg/configuration"
	"github.com/qmsuite/change-control/pkg/middleware"
)

// Controller registers a set of routes on the shared router.
type Controller interface {
	Register(r *mux.Router)
}

type Options struct {
	Config      *configuration.Configuration
	Pool        *pgxpool.Pool
	Logger      *logrus.Logger
	Controllers []Controller
}

// New assembles the HTTP server: middleware chain, CORS, health and metrics
// endpoints, and every controller's routes. The database pool is attached to
// each request context so repositories can run reads outside an explicit
// transaction.
func New(opts Options) *http.Server {
	router := mux.NewRouter()
	router.Use(
		middleware.RequestID(),
		middleware.Logging(opts.Logger),
		middleware.Recovery(opts.Logger),
		poolMiddleware(opts.Pool),
	)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := opts.Pool.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	if opts.Config.Prometheus.Enabled {
		router.Handle(opts.Config.Prometheus.Path, promhttp.Handler()).Methods(http.MethodGet)
	}

	for _, c := range opts.Controllers {
		c.Register(router)
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: opts.Config.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Config.ServerPort),
		Handler:           corsHandler.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func poolMiddleware(pool *pgxpool.Pool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(composables.WithPool(r.Context(), pool)))
		})
	}
}
