// Package app wires all esgmap subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject a prebuilt index via [WithIndex] and mock providers in
// the [Providers] struct. When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/greenledger/esgmap/internal/adjudicate"
	"github.com/greenledger/esgmap/internal/config"
	"github.com/greenledger/esgmap/internal/health"
	"github.com/greenledger/esgmap/internal/mapping"
	"github.com/greenledger/esgmap/internal/observe"
	"github.com/greenledger/esgmap/internal/server"
	"github.com/greenledger/esgmap/pkg/corpus"
	"github.com/greenledger/esgmap/pkg/provider/embeddings"
	"github.com/greenledger/esgmap/pkg/provider/llm"
	"github.com/greenledger/esgmap/pkg/vecindex"
	pgindex "github.com/greenledger/esgmap/pkg/vecindex/postgres"
)

// shutdownGrace bounds how long Run waits for in-flight requests to drain
// after the context is cancelled.
const shutdownGrace = 10 * time.Second

// Providers holds one interface value per provider slot. Embeddings is
// required; a nil LLM runs the server in similarity-only fallback mode.
// Populated by main.go via the config registry.
type Providers struct {
	Embeddings embeddings.Provider
	LLM        llm.Provider
}

// App owns all subsystem lifetimes and serves the esgmap HTTP API.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics      *observe.Metrics
	index        vecindex.Searcher
	stats        server.StatsFunc
	checkers     []health.Checker
	orchestrator *mapping.Orchestrator
	handler      http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithIndex injects a prebuilt corpus index instead of building one from
// config. The index also backs the status endpoint and readiness check.
func WithIndex(ix *vecindex.Index) Option {
	return func(a *App) {
		a.index = ix
		a.stats = func(context.Context) (vecindex.Stats, error) { return ix.Stats() }
		a.checkers = append(a.checkers, health.CorpusChecker(ix))
	}
}

// WithMetrics injects a metrics instance instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: the corpus index is loaded
// (or the Postgres pool connected) before New returns, so a broken corpus
// fails startup instead of the first request.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Embeddings == nil {
		return nil, errors.New("app: an embeddings provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initIndex(ctx); err != nil {
		return nil, fmt.Errorf("app: init index: %w", err)
	}

	a.initPipeline()
	a.initHandler()

	return a, nil
}

// initIndex builds the corpus index from config unless one was injected:
// a pgvector-backed store when a DSN is set, otherwise the in-memory index
// over the snapshot file, optionally hot-swapped by a file watcher.
func (a *App) initIndex(ctx context.Context) error {
	if a.index != nil {
		return nil
	}

	if dsn := a.cfg.Corpus.PostgresDSN; dsn != "" {
		return a.initPostgresIndex(ctx, dsn)
	}

	path := a.cfg.Corpus.Path
	ix := vecindex.New(func() (*corpus.Snapshot, error) { return corpus.Load(path) })

	// Trigger the load now so a broken corpus fails startup.
	st, err := ix.Stats()
	if err != nil {
		return err
	}
	a.metrics.CorpusDocuments.Add(ctx, int64(st.DocumentCount))
	slog.Info("corpus index ready",
		"backend", "memory",
		"documents", st.DocumentCount,
		"model", st.EmbeddingModel,
		"version", st.Version,
	)

	a.index = ix
	a.stats = func(context.Context) (vecindex.Stats, error) { return ix.Stats() }
	a.checkers = append(a.checkers, health.CorpusChecker(ix))

	if interval := time.Duration(a.cfg.Corpus.RefreshInterval); interval > 0 {
		w, err := corpus.NewWatcher(path, func(old, new *corpus.Snapshot) {
			ix.Swap(new)
			a.metrics.CorpusDocuments.Add(context.Background(),
				int64(len(new.Documents)-len(old.Documents)))
		}, corpus.WithInterval(interval))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			w.Stop()
			return nil
		})
	}

	return nil
}

// initPostgresIndex connects the pgvector-backed store and adapts it to the
// status endpoint and readiness check.
func (a *App) initPostgresIndex(ctx context.Context, dsn string) error {
	store, err := pgindex.NewStore(ctx, dsn, a.cfg.Corpus.EmbeddingDimensions)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})

	a.index = store
	a.stats = func(ctx context.Context) (vecindex.Stats, error) {
		n, err := store.Count(ctx)
		if err != nil {
			return vecindex.Stats{}, err
		}
		return vecindex.Stats{
			DocumentCount:  n,
			EmbeddingDim:   a.cfg.Corpus.EmbeddingDimensions,
			EmbeddingModel: a.providers.Embeddings.ModelID(),
		}, nil
	}
	a.checkers = append(a.checkers, health.Checker{
		Name: "corpus",
		Check: func(ctx context.Context) error {
			st, err := a.stats(ctx)
			if err != nil {
				return err
			}
			if st.DocumentCount == 0 {
				return errors.New("corpus is empty")
			}
			return nil
		},
	})

	n, err := store.Count(ctx)
	if err != nil {
		return err
	}
	a.metrics.CorpusDocuments.Add(ctx, int64(n))
	slog.Info("corpus index ready", "backend", "postgres", "documents", n)
	return nil
}

// initPipeline wires the adjudicator and the mapping orchestrator over the
// configured providers, with call counters around each provider.
func (a *App) initPipeline() {
	embName := a.cfg.Providers.Embeddings.Name
	if embName == "" {
		embName = a.providers.Embeddings.ModelID()
	}
	emb := instrumentedEmbeddings{Provider: a.providers.Embeddings, name: embName, metrics: a.metrics}
	a.checkers = append(a.checkers, health.EmbeddingsChecker(emb))

	var adjOpts []adjudicate.Option
	llmProvider := a.providers.LLM
	if llmProvider == nil {
		// Fallback-only mode: every adjudication degrades to similarity
		// scoring. Retries would only add latency.
		llmProvider = disabledLLM{}
		adjOpts = append(adjOpts, adjudicate.WithMaxRetries(0))
		slog.Warn("no llm provider configured; serving similarity-only fallback results")
	} else {
		llmName := a.cfg.Providers.LLM.Name
		if llmName == "" {
			llmName = llmProvider.ModelID()
		}
		llmProvider = instrumentedLLM{Provider: llmProvider, name: llmName, metrics: a.metrics}
		if v := a.cfg.Adjudicator.MaxRetries; v > 0 {
			adjOpts = append(adjOpts, adjudicate.WithMaxRetries(v))
		}
	}

	if v := a.cfg.Adjudicator.Temperature; v > 0 {
		adjOpts = append(adjOpts, adjudicate.WithTemperature(v))
	}
	if v := a.cfg.Adjudicator.MaxOutputTokens; v > 0 {
		adjOpts = append(adjOpts, adjudicate.WithMaxOutputTokens(v))
	}

	adj := adjudicate.New(llmProvider, adjOpts...)
	a.orchestrator = mapping.New(emb, a.index, adj, mapping.WithMetrics(a.metrics))
}

// initHandler assembles the HTTP route tree.
func (a *App) initHandler() {
	a.handler = server.New(
		a.orchestrator,
		a.stats,
		server.WithHealth(health.New(a.checkers...)),
		server.WithMetrics(a.metrics),
	).Handler()
}

// Handler returns the fully assembled HTTP handler. Exposed for tests.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves the HTTP API and blocks until ctx is cancelled or the listener
// fails. On cancellation the server drains in-flight requests within
// [shutdownGrace] before Run returns the context error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: a.handler,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	slog.Info("server listening", "addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		slog.Warn("http drain incomplete", "err", err)
	}
	return ctx.Err()
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
