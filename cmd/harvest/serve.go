package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/solaius/model-harvester/pkg/cache"
	"github.com/solaius/model-harvester/pkg/export"
	"github.com/solaius/model-harvester/pkg/registry"
	"github.com/solaius/model-harvester/pkg/runs"
)

func newServeCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Harvest on a schedule and serve run status over HTTP",
		Long: `Run the harvest scheduler and an HTTP API until interrupted.

Scheduling is configured with HARVEST_SCHEDULE_* and HARVEST_RUN_*
environment variables. GET responses are cached (HARVEST_CACHE_*) until
the next harvest run finishes. The API is mounted under /api/harvest/v1:

  GET  /runs            list runs (state, trigger, pageSize, pageToken)
  GET  /runs/{runId}    one run
  POST /runs            request a harvest now
  GET  /sources         last outcome of every source
  GET  /entities/{id}   one registry entity in export form (ids may contain "/")`,
		Run: func(cmd *cobra.Command, args []string) {
			runServe(cmd.Context(), listenAddr)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", envOrDefault("HARVEST_LISTEN", ":8080"), "Address to listen on")
	return cmd
}

func runServe(ctx context.Context, listenAddr string) {
	logger := slog.Default()
	a := mustApp(ctx)

	if err := a.registry.Load(ctx); err != nil {
		glog.Fatalf("Failed to load registry: %v", err)
	}

	sched, err := a.scheduler(ctx, runs.ConfigFromEnv())
	if err != nil {
		glog.Fatalf("Failed to create scheduler: %v", err)
	}

	srv := &statusServer{app: a, cache: cache.New(cache.ConfigFromEnv()), startedAt: time.Now()}
	sched.OnRunFinished(srv.cache.Purge)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.routes(sched),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()
	logger.Info("harvest server ready", "listen", listenAddr, "sources", len(a.cfg.EnabledSources()))

	// Blocks until ctx is cancelled.
	sched.Run(ctx)

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	logger.Info("harvest server stopped")
}

// statusServer serves health and read-only registry endpoints next to the
// run API.
type statusServer struct {
	app       *app
	cache     *cache.ResponseCache
	startedAt time.Time
}

func (s *statusServer) routes(sched *runs.Scheduler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)

	api := runs.Router(s.app.runs, sched)
	api.Get("/entities/*", entityHandler(s.app.registry))
	r.Mount("/api/harvest/v1", cache.Middleware(s.cache)(api))
	return r
}

func (s *statusServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *statusServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	resp := map[string]any{
		"status":   "ready",
		"entities": s.app.registry.Count(),
	}
	if err := s.app.runs.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		resp["status"] = "not_ready"
		resp["error"] = err.Error()
	}
	writeJSON(w, status, resp)
}

func entityHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "*")
		e, ok := reg.Get(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "entity not found"})
			return
		}
		writeJSON(w, http.StatusOK, export.Map(e))
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
