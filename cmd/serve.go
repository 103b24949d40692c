package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/monitoring"
	"github.com/sells-group/tender-cli/internal/source"
	"github.com/sells-group/tender-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve enriched tenders, run history and metrics over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics := monitoring.NewMetrics(reg)

		p, audit, err := buildPipeline(cfg, st, metrics)
		if err != nil {
			return err
		}
		defer audit.Sync() //nolint:errcheck

		runner := func(ctx context.Context) (*model.RunSummary, error) {
			src, err := source.Open(cfg.Source, cfg.Document, cfg.Retry.Policy())
			if err != nil {
				return nil, err
			}
			return p.Run(ctx, src)
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(st),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		a := newAPI(ctx, st, runner)
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           a.routes(reg),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		err = srv.ListenAndServe()

		// A triggered run finishes its in-flight records and saves its
		// summary before the store closes.
		a.wait()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// runFunc runs the pipeline once over the configured source.
type runFunc func(ctx context.Context) (*model.RunSummary, error)

// api serves the HTTP surface. Only one triggered run is in flight at a
// time.
type api struct {
	ctx    context.Context
	store  store.Store
	runner runFunc

	mu       sync.Mutex
	running  bool
	stopping bool
	runs     sync.WaitGroup
}

// newAPI creates the HTTP surface. Triggered runs inherit ctx, so they
// stop with the server.
func newAPI(ctx context.Context, st store.Store, runner runFunc) *api {
	return &api{ctx: ctx, store: st, runner: runner}
}

// routes builds the HTTP handler. gatherer may be nil to omit /metrics.
func (a *api) routes(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "run_in_progress": a.busy()})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/tenders/{id}", a.getTender)
		r.Get("/runs", a.listRuns)
		r.Post("/runs", a.triggerRun)
	})
	return r
}

func (a *api) getTender(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := a.store.Get(r.Context(), id)
	if err != nil {
		zap.L().Error("api: get tender", zap.String("resource_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "tender not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{Source: r.URL.Query().Get("source"), Limit: 50}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	runs, err := a.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []model.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *api) triggerRun(w http.ResponseWriter, _ *http.Request) {
	if a.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runs are not enabled")
		return
	}

	a.mu.Lock()
	if a.stopping {
		a.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	if a.running {
		a.mu.Unlock()
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	a.running = true
	a.runs.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.runs.Done()
		defer func() {
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
		}()

		summary, err := a.runner(a.ctx)
		if err != nil {
			zap.L().Error("api: triggered run failed", zap.Error(err))
			return
		}
		zap.L().Info("api: triggered run complete",
			zap.String("run_id", summary.ID),
			zap.Int("sinked", summary.Counts.Sinked),
			zap.Bool("interrupted", summary.Interrupted),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// wait refuses new runs and blocks until the triggered run, if any, has
// returned.
func (a *api) wait() {
	a.mu.Lock()
	a.stopping = true
	a.mu.Unlock()
	a.runs.Wait()
}

func (a *api) busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
