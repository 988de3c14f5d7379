package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/niikun/social-listening/internal/config"
	"github.com/niikun/social-listening/internal/service"
	"github.com/niikun/social-listening/internal/transport/rest/handler"
	"github.com/niikun/social-listening/internal/transport/rest/middleware"
	"github.com/niikun/social-listening/internal/transport/ws"
)

// Container holds all dependencies for the router
type Container struct {
	AuthService    *service.AuthService
	RunService     *service.RunService
	Orchestrator   *service.Orchestrator
	Generator      *service.PersonaGenerator
	InsightService *service.InsightService
	Search         *service.SearchService
	WSHub          *ws.Hub
	CORS           config.CORSConfig
	Logger         *zap.Logger
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Initialize handlers
	authHandler := handler.NewAuthHandler(c.AuthService)
	runHandler := handler.NewRunHandler(c.RunService, c.Orchestrator, logger)
	personaHandler := handler.NewPersonaHandler(c.Generator)
	insightHandler := handler.NewInsightHandler(c.RunService, c.InsightService)
	searchHandler := handler.NewSearchHandler(c.Search, c.InsightService, c.RunService.Defaults().SearchMaxResults)
	wsHandler := ws.NewHandler(c.WSHub, c.AuthService, c.RunService, logger)

	authMW := middleware.NewAuthMiddleware(c.AuthService)

	// CORS middleware (apply first)
	r.Use(corsMiddleware(c.CORS))
	r.Use(middleware.Logging(logger))

	v1 := r.PathPrefix("/v1").Subrouter()

	// Public routes
	v1.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")

	// WebSocket routes (public with token in query param)
	v1.HandleFunc("/ws/runs/{runId}", wsHandler.RunWS).Methods("GET")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Operator routes
	op := v1.NewRoute().Subrouter()
	op.Use(authMW.RequireOperator)

	op.HandleFunc("/preflight", runHandler.Preflight).Methods("GET", "OPTIONS")
	op.HandleFunc("/personas/preview", personaHandler.Preview).Methods("POST", "OPTIONS")
	op.HandleFunc("/search/summary", searchHandler.Summary).Methods("POST", "OPTIONS")
	op.HandleFunc("/runs", runHandler.Start).Methods("POST", "OPTIONS")
	op.HandleFunc("/runs", runHandler.List).Methods("GET", "OPTIONS")
	op.HandleFunc("/runs/{runId}", runHandler.Get).Methods("GET", "OPTIONS")
	op.HandleFunc("/runs/{runId}/cancel", runHandler.Cancel).Methods("POST", "OPTIONS")
	op.HandleFunc("/runs/{runId}/dataset", runHandler.Dataset).Methods("GET", "OPTIONS")
	op.HandleFunc("/runs/{runId}/analytics", runHandler.Analytics).Methods("GET", "OPTIONS")
	op.HandleFunc("/runs/{runId}/insight", insightHandler.Get).Methods("GET", "OPTIONS")
	op.HandleFunc("/runs/{runId}/insight", insightHandler.Generate).Methods("POST", "OPTIONS")

	return r
}

func corsMiddleware(cfg config.CORSConfig) mux.MiddlewareFunc {
	origins := orDefault(cfg.AllowedOrigins, "*")
	methods := orDefault(cfg.AllowedMethods, "GET, POST, OPTIONS")
	headers := orDefault(cfg.AllowedHeaders, "Content-Type, Authorization")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origins)
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
