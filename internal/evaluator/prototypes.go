package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feltd/internal/embeddings"
	"github.com/fyrsmithlabs/feltd/internal/sanitize"
)

var prototypeTracer = otel.Tracer("github.com/fyrsmithlabs/feltd/internal/evaluator")

// ErrNoPrototypes is returned by Nearest when a kind has no prototypes yet.
var ErrNoPrototypes = errors.New("no prototypes for kind")

// Match is the prototype closest to a query embedding.
type Match struct {
	ID         string
	Atom       string
	Content    string
	Similarity float64
}

// Prototype is a seed phrase and the atom it stands for.
type Prototype struct {
	Kind Kind
	Text string
	Atom string
}

// DefaultPrototypes are the seed phrases for the semantic evaluators.
var DefaultPrototypes = []Prototype{
	{KindListening, "nobody ever listens to me", "being_heard"},
	{KindListening, "I just need someone to hear me out", "being_heard"},
	{KindListening, "can I talk to you about something", "connection"},
	{KindListening, "I don't know how to say this", "being_heard"},
	{KindEmpathy, "I miss her so much it hurts", "grief"},
	{KindEmpathy, "I feel so alone and nobody cares", "loneliness"},
	{KindEmpathy, "I'm scared something bad will happen", "fear"},
	{KindEmpathy, "everything is too much right now", "overwhelm"},
	{KindEmpathy, "I feel like such a failure", "shame"},
	{KindWisdom, "this keeps happening again and again", "recurrence"},
	{KindWisdom, "I finally see why I do this", "insight"},
	{KindWisdom, "what is the point of any of it", "meaning"},
	{KindWisdom, "I get to decide what happens next", "agency"},
}

// Prototypes is the learned prototype index consulted by the semantic
// evaluators. It keeps one in-memory chromem collection per kind.
type Prototypes struct {
	db       *chromem.DB
	embedder embeddings.Provider
	logger   *zap.Logger

	mu          sync.Mutex
	collections map[Kind]*chromem.Collection
	next        map[Kind]int
}

// NewPrototypes creates an empty index embedding through embedder.
func NewPrototypes(embedder embeddings.Provider, logger *zap.Logger) (*Prototypes, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prototypes{
		db:          chromem.NewDB(),
		embedder:    embedder,
		logger:      logger,
		collections: make(map[Kind]*chromem.Collection),
		next:        make(map[Kind]int),
	}, nil
}

func (p *Prototypes) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return p.embedder.Embed(ctx, text)
	}
}

func (p *Prototypes) collection(k Kind) (*chromem.Collection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if col, ok := p.collections[k]; ok {
		return col, nil
	}
	col, err := p.db.GetOrCreateCollection(sanitize.CollectionName("prototypes", k.String()), map[string]string{"kind": k.String()}, p.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection for %s: %w", k, err)
	}
	p.collections[k] = col
	return col, nil
}

func (p *Prototypes) nextID(k Kind) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next[k]++
	return fmt.Sprintf("%s-%04d", k, p.next[k])
}

// Add embeds text and stores it as a prototype of atom for kind.
func (p *Prototypes) Add(ctx context.Context, proto Prototype) error {
	if !proto.Kind.Valid() {
		return fmt.Errorf("invalid evaluator kind %d", int(proto.Kind))
	}
	col, err := p.collection(proto.Kind)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:       p.nextID(proto.Kind),
		Content:  proto.Text,
		Metadata: map[string]string{"atom": proto.Atom},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("adding prototype %s: %w", doc.ID, err)
	}
	return nil
}

// Seed adds every prototype, stopping at the first failure.
func (p *Prototypes) Seed(ctx context.Context, protos []Prototype) error {
	for _, proto := range protos {
		if err := p.Add(ctx, proto); err != nil {
			return err
		}
	}
	p.logger.Debug("seeded prototype index", zap.Int("prototypes", len(protos)))
	return nil
}

// Count returns the number of prototypes stored for k.
func (p *Prototypes) Count(k Kind) int {
	p.mu.Lock()
	col, ok := p.collections[k]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	return col.Count()
}

// Nearest returns the prototype of kind k most similar to embedding.
func (p *Prototypes) Nearest(ctx context.Context, k Kind, embedding []float32) (Match, error) {
	ctx, span := prototypeTracer.Start(ctx, "Prototypes.Nearest")
	defer span.End()
	span.SetAttributes(attribute.String("evaluator.kind", k.String()))

	col, err := p.collection(k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Match{}, err
	}
	if col.Count() == 0 {
		return Match{}, ErrNoPrototypes
	}

	// nResults must not exceed the collection size.
	results, err := col.QueryEmbedding(ctx, embedding, 1, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Match{}, fmt.Errorf("querying prototypes for %s: %w", k, err)
	}
	if len(results) == 0 {
		return Match{}, ErrNoPrototypes
	}

	r := results[0]
	span.SetAttributes(attribute.Float64("similarity", float64(r.Similarity)))
	return Match{
		ID:         r.ID,
		Atom:       r.Metadata["atom"],
		Content:    r.Content,
		Similarity: float64(r.Similarity),
	}, nil
}
