package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/site-enricher/internal/domain"
	"github.com/sells-group/site-enricher/internal/model"
	"github.com/sells-group/site-enricher/internal/scrape"
	"github.com/sells-group/site-enricher/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enrichment HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		a := newAPI(ctx, env.Store, cfg.Batch.Workers, func() (crawlEnricher, poolStatter) {
			en, pool := env.newWorker(env.Store)
			if pool == nil {
				return en, nil
			}
			return en, pool
		})

		err = startServer(ctx, newRouter(a, cfg.Server.CORSOrigins), resolvePort(servePort, cfg.Server.Port))
		a.Wait()
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// crawlEnricher is the part of *pipeline.Enricher the API drives.
type crawlEnricher interface {
	Crawl(ctx context.Context, d string) model.ConsolidatedDocument
	Enrich(ctx context.Context, raw string) *model.EnrichmentResult
}

type resultReader interface {
	GetEnrichment(ctx context.Context, domain string) (*model.EnrichmentResult, error)
	Ping(ctx context.Context) error
}

type poolStatter interface {
	Stats() scrape.PoolStats
}

// workerFactory builds one enricher with its own fetch stack. The
// poolStatter is nil when the worker has no session pool.
type workerFactory func() (crawlEnricher, poolStatter)

// api serves the HTTP routes. Every crawl or enrichment leases one of a
// fixed set of workers, so a session pool is only ever used by the request
// holding its worker. Asynchronous enrichments run on ctx, not on the
// request context.
type api struct {
	ctx     context.Context
	workers chan crawlEnricher
	store   resultReader  // may be nil
	pools   []poolStatter // empty when pooling is off
	jobs    sync.WaitGroup
}

func newAPI(ctx context.Context, st resultReader, maxJobs int, newWorker workerFactory) *api {
	if maxJobs <= 0 {
		maxJobs = 1
	}
	a := &api{
		ctx:     ctx,
		workers: make(chan crawlEnricher, maxJobs),
		store:   st,
	}
	for range maxJobs {
		en, pool := newWorker()
		if pool != nil {
			a.pools = append(a.pools, pool)
		}
		a.workers <- en
	}
	return a
}

// lease blocks until a worker is free or ctx is done. The worker must be
// handed back with a.workers <- en.
func (a *api) lease(ctx context.Context) (crawlEnricher, error) {
	select {
	case en := <-a.workers:
		return en, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait blocks until every accepted enrichment has finished.
func (a *api) Wait() {
	a.jobs.Wait()
}

// newRouter builds the chi router with CORS, request IDs and panic
// recovery.
func newRouter(a *api, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/crawl", a.crawl)
		r.Post("/enrich", a.enrich)
		r.Get("/enrichments/{domain}", a.getEnrichment)
		r.Get("/pool/stats", a.poolStats)
	})
	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if a.store != nil {
		if err := a.store.Ping(r.Context()); err != nil {
			zap.L().Warn("health: store ping failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type domainRequest struct {
	Domain string `json:"domain"`
	URL    string `json:"url"`
}

// decodeDomain reads a {"domain": ...} or {"url": ...} body and normalizes
// it. It writes the 400 response itself when the body is unusable.
func decodeDomain(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req domainRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	raw := req.Domain
	if raw == "" {
		raw = req.URL
	}
	if raw == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return "", false
	}
	d, ok := domain.Normalize(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid domain %q", raw))
		return "", false
	}
	return d, true
}

func (a *api) crawl(w http.ResponseWriter, r *http.Request) {
	d, ok := decodeDomain(w, r)
	if !ok {
		return
	}
	en, err := a.lease(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "no crawl worker available")
		return
	}
	defer func() { a.workers <- en }()
	writeJSON(w, http.StatusOK, en.Crawl(r.Context(), d))
}

func (a *api) enrich(w http.ResponseWriter, r *http.Request) {
	d, ok := decodeDomain(w, r)
	if !ok {
		return
	}

	jobID := uuid.NewString()
	log := zap.L().With(
		zap.String("job_id", jobID),
		zap.String("domain", d),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	)

	a.jobs.Add(1)
	go func() {
		defer a.jobs.Done()
		en, err := a.lease(a.ctx)
		if err != nil {
			log.Warn("api: enrichment dropped", zap.Error(err))
			return
		}
		defer func() { a.workers <- en }()

		res := en.Enrich(a.ctx, d)
		log.Info("api: enrichment complete",
			zap.String("status", string(res.Status)),
			zap.Int("pages", res.PagesScraped),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"domain": d,
		"job_id": jobID,
	})
}

func (a *api) getEnrichment(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no result store configured")
		return
	}
	raw := chi.URLParam(r, "domain")
	d, ok := domain.Normalize(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid domain %q", raw))
		return
	}

	res, err := a.store.GetEnrichment(r.Context(), d)
	switch {
	case eris.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "no enrichment for "+d)
	case err != nil:
		zap.L().Error("api: get enrichment", zap.String("domain", d), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (a *api) poolStats(w http.ResponseWriter, r *http.Request) {
	if len(a.pools) == 0 {
		writeError(w, http.StatusNotFound, "browser session pool is disabled")
		return
	}
	stats := make([]scrape.PoolStats, 0, len(a.pools))
	for _, p := range a.pools {
		stats = append(stats, p.Stats())
	}
	writeJSON(w, http.StatusOK, sumPoolStats(stats))
}

// sumPoolStats adds up the counters of every worker's pool and recomputes
// the hit rate over the total.
func sumPoolStats(stats []scrape.PoolStats) scrape.PoolStats {
	var sum scrape.PoolStats
	for _, st := range stats {
		sum.SessionsCreated += st.SessionsCreated
		sum.SessionsRecycled += st.SessionsRecycled
		sum.TotalRequests += st.TotalRequests
		sum.PoolHits += st.PoolHits
		sum.PoolMisses += st.PoolMisses
		sum.ActiveSessions += st.ActiveSessions
		sum.IdleSessions += st.IdleSessions
	}
	if lookups := sum.PoolHits + sum.PoolMisses; lookups > 0 {
		sum.HitRate = float64(sum.PoolHits) / float64(lookups) * 100
	}
	return sum
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// resolvePort prefers the --port flag over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves h on port until ctx is done, then shuts down
// gracefully.
func startServer(ctx context.Context, h http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !eris.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return nil
}
