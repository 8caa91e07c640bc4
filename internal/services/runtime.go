package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/feltd/internal/config"
	"github.com/fyrsmithlabs/feltd/internal/convergence"
	"github.com/fyrsmithlabs/feltd/internal/coupling"
	"github.com/fyrsmithlabs/feltd/internal/embeddings"
	"github.com/fyrsmithlabs/feltd/internal/emission"
	"github.com/fyrsmithlabs/feltd/internal/entity"
	"github.com/fyrsmithlabs/feltd/internal/evaluator"
	"github.com/fyrsmithlabs/feltd/internal/family"
	"github.com/fyrsmithlabs/feltd/internal/generation"
	"github.com/fyrsmithlabs/feltd/internal/learning"
	"github.com/fyrsmithlabs/feltd/internal/nexus"
	"github.com/fyrsmithlabs/feltd/internal/persistence"
	"github.com/fyrsmithlabs/feltd/internal/turn"
)

// ErrNilConfig is returned by Build when no configuration is given.
var ErrNilConfig = errors.New("config cannot be nil")

// Runtime is an assembled feltd instance.
type Runtime struct {
	Registry

	logger   *zap.Logger
	watcher  *emission.Watcher
	watching bool
	flusher  *persistence.Flusher
	reports  []persistence.LoadReport

	closeOnce sync.Once
	closeErr  error
}

// Build constructs every component from cfg. Persisted state is restored
// and prototypes are seeded concurrently. A prototype seeding failure only
// disables the semantic evaluators' prototype matching; it is logged and
// Build continues.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	engine, err := convergence.NewEngine(cfg.Engine, evaluator.New(cfg.Evaluators), logger.Named("convergence"),
		convergence.WithMetrics(convergence.NewMetrics(logger)))
	if err != nil {
		return nil, fmt.Errorf("creating convergence engine: %w", err)
	}
	cs, err := coupling.NewStore(cfg.Coupling, logger.Named("coupling"))
	if err != nil {
		return nil, fmt.Errorf("creating coupling store: %w", err)
	}
	pool, err := family.NewPool(cfg.Families, logger.Named("families"))
	if err != nil {
		return nil, fmt.Errorf("creating family pool: %w", err)
	}
	svc, err := learning.NewService(cs, pool, logger.Named("learning"))
	if err != nil {
		return nil, fmt.Errorf("creating learning service: %w", err)
	}
	composer, err := nexus.NewComposer(cfg.Nexus, svc)
	if err != nil {
		return nil, fmt.Errorf("creating nexus composer: %w", err)
	}
	tracker, err := entity.NewTracker(cfg.Entities, logger.Named("entities"))
	if err != nil {
		return nil, fmt.Errorf("creating entity tracker: %w", err)
	}

	embedder, err := embeddings.NewProvider(cfg.Embeddings, logger.Named("embeddings"))
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	gen, err := generation.New(cfg.Generation, logger.Named("generation"))
	if err != nil {
		return nil, fmt.Errorf("creating generator: %w", err)
	}

	lib := emission.DefaultLibrary()
	if cfg.Emission.TemplatesPath != "" {
		lib, err = emission.LoadLibrary(cfg.Emission.TemplatesPath)
		if err != nil {
			return nil, fmt.Errorf("loading templates: %w", err)
		}
	}
	selector, err := emission.NewSelector(cfg.Emission, lib)
	if err != nil {
		return nil, fmt.Errorf("creating selector: %w", err)
	}
	emitter, err := emission.NewEmitter(cfg.Emission, gen, logger.Named("emission"))
	if err != nil {
		return nil, fmt.Errorf("creating emitter: %w", err)
	}

	var store *persistence.Store
	if cfg.Persistence.Dir != "" {
		store, err = persistence.NewStore(cfg.Persistence.Dir, logger.Named("persistence"))
		if err != nil {
			return nil, fmt.Errorf("opening state store: %w", err)
		}
	}

	rt := &Runtime{logger: logger}

	var protos *evaluator.Prototypes
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := evaluator.NewPrototypes(embedder, logger.Named("prototypes"))
		if err == nil {
			err = p.Seed(gctx, evaluator.DefaultPrototypes)
		}
		if err != nil {
			logger.Warn("prototype seeding failed, semantic matching disabled",
				zap.String("embedder", embedder.Name()), zap.Error(err))
			return nil
		}
		protos = p
		return nil
	})
	if store != nil {
		g.Go(func() error {
			rt.reports = store.LoadState(persistence.State{Learning: svc, Entities: tracker})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	processor, err := turn.NewProcessor(turn.Components{
		Engine:     engine,
		Composer:   composer,
		Learning:   svc,
		Entities:   tracker,
		Selector:   selector,
		Emitter:    emitter,
		Embedder:   embedder,
		Prototypes: protos,
		Graph:      tracker.Graph(),
	}, logger.Named("turn"))
	if err != nil {
		return nil, fmt.Errorf("creating turn processor: %w", err)
	}

	rt.Registry = NewRegistry(Options{
		Processor: processor,
		Engine:    engine,
		Learning:  svc,
		Entities:  tracker,
		Templates: lib,
		Embedder:  embedder,
		Generator: gen,
		Store:     store,
	})

	if cfg.Emission.TemplatesPath != "" {
		rt.watcher, err = emission.NewWatcher(lib, cfg.Emission.TemplatesPath, logger.Named("templates"))
		if err != nil {
			return nil, err
		}
	}
	if store != nil {
		rt.flusher = persistence.NewFlusher(cfg.Persistence.FlushInterval, rt.Flush, logger.Named("flusher"))
	}

	logger.Info("feltd assembled",
		zap.String("embedder", embedder.Name()),
		zap.String("generator", gen.Name()),
		zap.Int("templates", lib.Len()),
		zap.Bool("persistence", store != nil),
		zap.Bool("prototypes", protos != nil))
	return rt, nil
}

// Start begins the template watcher and the periodic flush.
func (r *Runtime) Start(ctx context.Context) error {
	if r.watcher != nil {
		if err := r.watcher.Start(ctx); err != nil {
			return fmt.Errorf("starting template watcher: %w", err)
		}
		r.watching = true
	}
	if r.flusher != nil {
		if err := r.flusher.Start(ctx); err != nil {
			return fmt.Errorf("starting flusher: %w", err)
		}
	}
	return nil
}

// Flush writes learned state to disk. It is a no-op without persistence.
func (r *Runtime) Flush(ctx context.Context) error {
	store := r.Store()
	if store == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return store.SaveState(persistence.State{Learning: r.Learning(), Entities: r.Entities()})
}

// Close stops background work and writes a final flush. Safe to call more
// than once.
func (r *Runtime) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		if r.watching {
			r.watcher.Stop()
		}
		if r.flusher != nil {
			// Stop flushes one last time.
			r.closeErr = r.flusher.Stop(ctx)
			return
		}
		r.closeErr = r.Flush(ctx)
	})
	return r.closeErr
}

// LoadReports describes the state restored by Build.
func (r *Runtime) LoadReports() []persistence.LoadReport {
	return r.reports
}
