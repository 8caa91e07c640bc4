package services

import (
	"github.com/fyrsmithlabs/feltd/internal/convergence"
	"github.com/fyrsmithlabs/feltd/internal/embeddings"
	"github.com/fyrsmithlabs/feltd/internal/emission"
	"github.com/fyrsmithlabs/feltd/internal/entity"
	"github.com/fyrsmithlabs/feltd/internal/generation"
	"github.com/fyrsmithlabs/feltd/internal/learning"
	"github.com/fyrsmithlabs/feltd/internal/persistence"
	"github.com/fyrsmithlabs/feltd/internal/turn"
)

// Registry provides access to the assembled components.
type Registry interface {
	Processor() *turn.Processor
	Engine() *convergence.Engine
	Learning() *learning.Service
	Entities() *entity.Tracker
	Templates() *emission.Library
	Embedder() embeddings.Provider
	Generator() generation.Generator
	// Store is nil when persistence is disabled.
	Store() *persistence.Store
}

// Options configures the registry with component instances.
type Options struct {
	Processor *turn.Processor
	Engine    *convergence.Engine
	Learning  *learning.Service
	Entities  *entity.Tracker
	Templates *emission.Library
	Embedder  embeddings.Provider
	Generator generation.Generator
	Store     *persistence.Store
}

type registry struct {
	processor *turn.Processor
	engine    *convergence.Engine
	learning  *learning.Service
	entities  *entity.Tracker
	templates *emission.Library
	embedder  embeddings.Provider
	generator generation.Generator
	store     *persistence.Store
}

// NewRegistry creates a registry over opts.
func NewRegistry(opts Options) Registry {
	return &registry{
		processor: opts.Processor,
		engine:    opts.Engine,
		learning:  opts.Learning,
		entities:  opts.Entities,
		templates: opts.Templates,
		embedder:  opts.Embedder,
		generator: opts.Generator,
		store:     opts.Store,
	}
}

func (r *registry) Processor() *turn.Processor { return r.processor }
func (r *registry) Engine() *convergence.Engine { return r.engine }
func (r *registry) Learning() *learning.Service { return r.learning }
func (r *registry) Entities() *entity.Tracker { return r.entities }
func (r *registry) Templates() *emission.Library { return r.templates }
func (r *registry) Embedder() embeddings.Provider { return r.embedder }
func (r *registry) Generator() generation.Generator { return r.generator }
func (r *registry) Store() *persistence.Store { return r.store }
