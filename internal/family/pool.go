// Package family clusters composite signatures into self-discovered
// families.
//
// Every observed signature is compared with every family centroid by cosine
// similarity. When the best similarity reaches the current join threshold,
// the signature joins that family and the centroid moves toward it by Alpha;
// otherwise a new family is created around it. The threshold rises with the
// number of families (see Schedule). Ties go to the earliest-created family,
// so assignment is deterministic for a given history.
package family

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feltd/internal/signature"
)

// Assignment describes where one signature went.
type Assignment struct {
	FamilyID    string  `json:"family_id"`
	Created     bool    `json:"created"`
	Similarity  float64 `json:"similarity"`
	Threshold   float64 `json:"threshold"`
	FamilyCount int     `json:"family_count"`
}

// Stats summarises the pool.
type Stats struct {
	Families         int     `json:"families"`
	Signatures       int     `json:"signatures"`
	Threshold        float64 `json:"threshold"`
	LargestFamily    string  `json:"largest_family,omitempty"`
	LargestMembers   int     `json:"largest_members"`
	MeanSatisfaction float64 `json:"mean_satisfaction"`
}

// Snapshot is the persisted form of the pool.
type Snapshot struct {
	Families []Family `json:"families"`
	NextID   int      `json:"next_id"`
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// Pool is the family store and clusterer. Safe for concurrent use.
type Pool struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	families []*Family
	index    map[string]int
	nextID   int
	recent   *lru.Cache[string, string]
}

// NewPool creates an empty pool.
func NewPool(cfg Config, logger *zap.Logger, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	recent, err := lru.New[string, string](cfg.RecentTurns)
	if err != nil {
		return nil, fmt.Errorf("creating turn cache: %w", err)
	}
	p := &Pool{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		index:  make(map[string]int),
		nextID: 1,
		recent: recent,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Observe assigns sig to exactly one family. A signature whose TurnID was
// already assigned is rejected with ErrAlreadyAssigned. An invalid signature
// (vector or scalars) is logged and rejected with signature.ErrInvalidSignature; the pool is left
// untouched.
func (p *Pool) Observe(sig signature.Composite) (Assignment, error) {
	if err := sig.Validate(); err != nil {
		p.logger.Warn("invalid signature, skipping clustering",
			zap.String("turn.id", sig.TurnID),
			zap.Error(err))
		return Assignment{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if sig.TurnID != "" {
		if prev, ok := p.recent.Get(sig.TurnID); ok {
			return Assignment{FamilyID: prev}, fmt.Errorf("%w: turn %s is in %s", ErrAlreadyAssigned, sig.TurnID, prev)
		}
	}

	threshold := p.cfg.Schedule.Threshold(len(p.families))
	best, bestSim := -1, 0.0
	for i, f := range p.families {
		sim := signature.Cosine(f.Centroid, sig.Vector)
		if best < 0 || sim > bestSim {
			best, bestSim = i, sim
		}
	}

	now := p.now()
	var a Assignment
	if best >= 0 && bestSim >= threshold {
		f := p.families[best]
		f.join(sig, p.cfg.Alpha, now)
		a = Assignment{FamilyID: f.ID, Similarity: bestSim, Threshold: threshold}
	} else {
		f := &Family{
			ID:                  formatID(p.nextID),
			Centroid:            sig.Vector.Clone(),
			Members:             1,
			SatisfactionMean:    sig.Satisfaction,
			EnergyMean:          sig.Energy,
			ThresholdAtCreation: threshold,
			CreatedAt:           now,
			UpdatedAt:           now,
			LastTurnID:          sig.TurnID,
		}
		p.nextID++
		p.index[f.ID] = len(p.families)
		p.families = append(p.families, f)
		a = Assignment{FamilyID: f.ID, Created: true, Similarity: bestSim, Threshold: threshold}
		p.logger.Debug("family created",
			zap.String("family.id", f.ID),
			zap.Float64("threshold", threshold),
			zap.Float64("best_similarity", bestSim))
	}
	a.FamilyCount = len(p.families)
	if sig.TurnID != "" {
		p.recent.Add(sig.TurnID, a.FamilyID)
	}
	return a, nil
}

// ObserveRecord is Observe for a generically decoded signature record, such
// as one reloaded from JSON whose vector arrives as []any. Records that
// cannot be coerced are logged and skipped with an error.
func (p *Pool) ObserveRecord(raw map[string]any) (Assignment, error) {
	sig, err := signature.FromRecord(raw)
	if err != nil {
		turnID, _ := raw["turn_id"].(string)
		p.logger.Warn("invalid signature, skipping clustering",
			zap.String("turn.id", turnID),
			zap.Error(err))
		return Assignment{}, err
	}
	return p.Observe(sig)
}

// join folds sig into f: centroid blend, Welford satisfaction, energy mean.
func (f *Family) join(sig signature.Composite, alpha float64, now time.Time) {
	f.Centroid = signature.Blend(f.Centroid, sig.Vector, alpha)
	f.Members++
	n := float64(f.Members)
	delta := sig.Satisfaction - f.SatisfactionMean
	f.SatisfactionMean += delta / n
	f.SatisfactionM2 += delta * (sig.Satisfaction - f.SatisfactionMean)
	f.EnergyMean += (sig.Energy - f.EnergyMean) / n
	f.UpdatedAt = now
	f.LastTurnID = sig.TurnID
}

// Lookup returns a copy of the family with id.
func (p *Pool) Lookup(id string) (Family, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i, ok := p.index[id]
	if !ok {
		return Family{}, false
	}
	return p.families[i].Clone(), true
}

// Families returns copies of every family in creation order.
func (p *Pool) Families() []Family {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Family, len(p.families))
	for i, f := range p.families {
		out[i] = f.Clone()
	}
	return out
}

// Len returns the number of families.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.families)
}

// Threshold returns the join threshold the next signature will face.
func (p *Pool) Threshold() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Schedule.Threshold(len(p.families))
}

// Stats summarises the pool.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := Stats{
		Families:  len(p.families),
		Threshold: p.cfg.Schedule.Threshold(len(p.families)),
	}
	var weighted float64
	for _, f := range p.families {
		st.Signatures += f.Members
		weighted += f.SatisfactionMean * float64(f.Members)
		if f.Members > st.LargestMembers {
			st.LargestMembers = f.Members
			st.LargestFamily = f.ID
		}
	}
	if st.Signatures > 0 {
		st.MeanSatisfaction = weighted / float64(st.Signatures)
	}
	return st
}

// Snapshot returns a deep copy for persistence.
func (p *Pool) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := Snapshot{Families: make([]Family, len(p.families)), NextID: p.nextID}
	for i, f := range p.families {
		out.Families[i] = f.Clone()
	}
	return out
}

// Restore replaces the pool with the valid families of snap. Invalid or
// duplicate families are skipped and reported; the rest are loaded. The
// next id continues after the highest sequence seen.
func (p *Pool) Restore(snap Snapshot) (int, []error) {
	var errs []error
	families := make([]*Family, 0, len(snap.Families))
	index := make(map[string]int, len(snap.Families))
	next := max(snap.NextID, 1)

	for i := range snap.Families {
		f := snap.Families[i].Clone()
		if err := f.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := index[f.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate id %s", ErrInvalidRecord, f.ID))
			continue
		}
		seq, _ := parseID(f.ID)
		next = max(next, seq+1)
		index[f.ID] = len(families)
		families = append(families, &f)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.families = families
	p.index = index
	p.nextID = next
	p.recent.Purge()
	return len(families), errs
}
