package entity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feltd/internal/signature"
)

// partition holds one user's profiles. mu serialises read-modify-write
// sequences; the LRU itself is also safe for concurrent use.
type partition struct {
	mu       sync.RWMutex
	profiles *lru.Cache[string, *Profile]
}

// Tracker is the Entity Association Tracker.
type Tracker struct {
	cfg    Config
	logger *zap.Logger
	graph  GraphStore
	now    func() time.Time

	mu    sync.Mutex
	users *lru.Cache[string, *partition]
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithGraphStore attaches the optional relationship store.
func WithGraphStore(g GraphStore) Option {
	return func(t *Tracker) { t.graph = g }
}

// WithClock overrides time.Now (for tests).
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker.
func NewTracker(cfg Config, logger *zap.Logger, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	users, err := lru.NewWithEvict[string, *partition](cfg.MaxUsers, func(userID string, p *partition) {
		t.logger.Debug("evicted user partition",
			zap.String("user_id", userID),
			zap.Int("profiles", p.profiles.Len()))
	})
	if err != nil {
		return nil, fmt.Errorf("creating user cache: %w", err)
	}
	t.users = users
	return t, nil
}

func (t *Tracker) partition(userID string, create bool) (*partition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.users.Get(userID); ok {
		return p, nil
	}
	if !create {
		return nil, nil
	}
	profiles, err := lru.New[string, *Profile](t.cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("creating profile cache: %w", err)
	}
	p := &partition{profiles: profiles}
	t.users.Add(userID, p)
	return p, nil
}

// RecordMention records one mention of key for userID during turnID. See the
// package documentation for the per-turn de-duplication rule.
func (t *Tracker) RecordMention(userID, turnID string, m Mention, activations []float64, s Scalars) error {
	return t.RecordTurn(userID, turnID, []Mention{m}, activations, s)
}

// RecordTurn records every mention extracted from one turn and increments
// co-mention counts once per distinct pair.
func (t *Tracker) RecordTurn(userID, turnID string, mentions []Mention, activations []float64, s Scalars) error {
	if userID == "" {
		return ErrEmptyUser
	}
	if turnID == "" {
		return ErrEmptyTurn
	}
	if len(activations) != signature.EvaluatorSlots {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidActivation, len(activations), signature.EvaluatorSlots)
	}
	if len(mentions) == 0 {
		return nil
	}

	normalized := make([]Mention, len(mentions))
	for i, m := range mentions {
		m.Key = NormalizeKey(m.Key)
		if m.Key == "" {
			return ErrEmptyKey
		}
		normalized[i] = m
	}

	p, err := t.partition(userID, true)
	if err != nil {
		return err
	}

	now := t.now()
	p.mu.Lock()
	defer p.mu.Unlock()

	var distinct []string
	seen := make(map[string]bool, len(normalized))
	// recorded holds keys this turn had already touched before the call.
	recorded := make(map[string]bool, len(normalized))
	for _, m := range normalized {
		if !seen[m.Key] {
			seen[m.Key] = true
			distinct = append(distinct, m.Key)
			if prof, ok := p.profiles.Peek(m.Key); ok && prof.LastTurnID == turnID {
				recorded[m.Key] = true
			}
		}
		t.apply(p, turnID, m, activations, s, now)
	}

	if len(distinct) > 1 {
		for _, key := range distinct {
			prof, ok := p.profiles.Peek(key)
			if !ok {
				// Evicted by a later key in the same batch.
				continue
			}
			next := prof.Clone()
			for _, other := range distinct {
				if other == key || (recorded[key] && recorded[other]) {
					continue
				}
				next.CoMentions[other]++
			}
			t.pruneCoMentions(p, next)
			p.profiles.Add(key, next)
		}
	}

	t.logger.Debug("recorded entity mentions",
		zap.String("user_id", userID),
		zap.String("turn_id", turnID),
		zap.Int("mentions", len(mentions)),
		zap.Int("distinct", len(distinct)))

	return nil
}

// apply publishes an updated profile for one mention. Caller holds p.mu.
func (t *Tracker) apply(p *partition, turnID string, m Mention, act []float64, s Scalars, now time.Time) {
	if m.Type == "" {
		m.Type = TypeOther
	}
	old, ok := p.profiles.Peek(m.Key)
	if !ok {
		p.profiles.Add(m.Key, &Profile{
			Key:          m.Key,
			Type:         m.Type,
			MentionCount: 1,
			Occurrences:  1,
			Activation:   append([]float64(nil), act...),
			Urgency:      s.Urgency,
			Autonomic:    s.Autonomic,
			CoreDistance: s.CoreDistance,
			CoMentions:   make(map[string]int),
			FirstSeen:    now,
			LastSeen:     now,
			LastTurnID:   turnID,
		})
		return
	}

	next := old.Clone()
	next.Occurrences++
	next.LastSeen = now
	if next.Type == TypeOther && m.Type != TypeOther {
		next.Type = m.Type
	}
	if old.LastTurnID == turnID {
		p.profiles.Add(m.Key, next)
		return
	}

	a := t.cfg.Alpha
	var delta float64
	for i := range next.Activation {
		updated := (1-a)*next.Activation[i] + a*act[i]
		delta = math.Max(delta, math.Abs(updated-next.Activation[i]))
		next.Activation[i] = updated
	}
	next.Urgency = (1-a)*next.Urgency + a*s.Urgency
	next.Autonomic = (1-a)*next.Autonomic + a*s.Autonomic
	next.CoreDistance = (1-a)*next.CoreDistance + a*s.CoreDistance
	next.MentionCount++
	next.LastTurnID = turnID
	next.LastDelta = delta
	p.profiles.Add(m.Key, next)
}

// Query returns a copy of the profile for key.
func (t *Tracker) Query(userID, key string) (Profile, error) {
	key = NormalizeKey(key)
	if key == "" {
		return Profile{}, ErrEmptyKey
	}
	p, err := t.partition(userID, false)
	if err != nil || p == nil {
		return Profile{}, ErrNotFound
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	prof, ok := p.profiles.Peek(key)
	if !ok {
		return Profile{}, ErrNotFound
	}
	return *prof.Clone(), nil
}

// Snapshot captures the user's profiles as of now.
func (t *Tracker) Snapshot(userID string) *Snapshot {
	snap := &Snapshot{userID: userID, profiles: map[string]*Profile{}, takenAt: t.now()}
	p, err := t.partition(userID, false)
	if err != nil || p == nil {
		return snap
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, key := range p.profiles.Keys() {
		if prof, ok := p.profiles.Peek(key); ok {
			snap.profiles[key] = prof
		}
	}
	return snap
}

// Related returns up to limit keys related to key. The graph store is asked
// first under Config.GraphTimeout; on failure the tracker's own co-mention
// counts are used.
func (t *Tracker) Related(ctx context.Context, userID, key string, limit int) ([]string, error) {
	key = NormalizeKey(key)
	if t.graph != nil {
		gctx, cancel := context.WithTimeout(ctx, t.cfg.GraphTimeout)
		related, err := t.graph.Related(gctx, userID, key)
		cancel()
		if err == nil {
			return truncate(related, limit), nil
		}
		t.logger.Warn("graph store unavailable, using co-mention graph",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	if key == "" {
		return nil, ErrEmptyKey
	}
	p, err := t.partition(userID, false)
	if err != nil || p == nil {
		return nil, ErrNotFound
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	prof, ok := p.profiles.Peek(key)
	if !ok {
		return nil, ErrNotFound
	}
	next := prof.Clone()
	t.pruneCoMentions(p, next)
	return truncate(next.TopCoMentions(), limit), nil
}

// Graph returns the tracker as a GraphStore for evaluators: the attached
// store when it answers, the co-mention counts otherwise.
func (t *Tracker) Graph() GraphStore { return trackerGraph{t} }

type trackerGraph struct{ t *Tracker }

func (g trackerGraph) Related(ctx context.Context, userID, key string) ([]string, error) {
	return g.t.Related(ctx, userID, key, 0)
}

// pruneCoMentions drops co-mentions of keys no longer held for the user and
// keeps at most Config.MaxCoMentions of the strongest. prof must be
// unpublished. Caller holds p.mu.
func (t *Tracker) pruneCoMentions(p *partition, prof *Profile) {
	for k := range prof.CoMentions {
		if !p.profiles.Contains(k) {
			delete(prof.CoMentions, k)
		}
	}
	if len(prof.CoMentions) <= t.cfg.MaxCoMentions {
		return
	}
	for _, k := range prof.TopCoMentions()[t.cfg.MaxCoMentions:] {
		delete(prof.CoMentions, k)
	}
}

// TopCoMentions returns co-mentioned keys, most frequent first.
func (p *Profile) TopCoMentions() []string {
	keys := make([]string, 0, len(p.CoMentions))
	for k := range p.CoMentions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := p.CoMentions[keys[i]], p.CoMentions[keys[j]]
		if ci != cj {
			return ci > cj
		}
		return keys[i] < keys[j]
	})
	return keys
}

func truncate(keys []string, limit int) []string {
	if limit > 0 && len(keys) > limit {
		return keys[:limit]
	}
	return keys
}

// Len returns the total number of profiles across all users.
func (t *Tracker) Len() int {
	t.mu.Lock()
	parts := t.users.Values()
	t.mu.Unlock()

	n := 0
	for _, p := range parts {
		n += p.profiles.Len()
	}
	return n
}

// UserProfiles is the persistence shape for one user's profiles, ordered
// least to most recently mentioned.
type UserProfiles struct {
	UserID   string     `json:"user_id"`
	Profiles []*Profile `json:"profiles"`
}

// Export returns copies of every profile, grouped by user.
func (t *Tracker) Export() []UserProfiles {
	t.mu.Lock()
	userIDs := t.users.Keys()
	t.mu.Unlock()

	sort.Strings(userIDs)
	out := make([]UserProfiles, 0, len(userIDs))
	for _, userID := range userIDs {
		t.mu.Lock()
		p, ok := t.users.Peek(userID)
		t.mu.Unlock()
		if !ok {
			continue
		}
		p.mu.RLock()
		up := UserProfiles{UserID: userID}
		for _, key := range p.profiles.Keys() {
			if prof, ok := p.profiles.Peek(key); ok {
				next := prof.Clone()
				t.pruneCoMentions(p, next)
				up.Profiles = append(up.Profiles, next)
			}
		}
		p.mu.RUnlock()
		out = append(out, up)
	}
	return out
}

// Restore loads exported profiles, replacing any existing profile with the
// same user and key. Invalid profiles are skipped and returned as errors.
func (t *Tracker) Restore(users []UserProfiles) (int, []error) {
	var errs []error
	restored := 0
	for _, up := range users {
		if up.UserID == "" {
			errs = append(errs, ErrEmptyUser)
			continue
		}
		p, err := t.partition(up.UserID, true)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.mu.Lock()
		for _, prof := range up.Profiles {
			if prof == nil {
				continue
			}
			if err := prof.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("user %s key %q: %w", up.UserID, prof.Key, err))
				continue
			}
			next := prof.Clone()
			next.Key = NormalizeKey(next.Key)
			p.profiles.Add(next.Key, next)
			restored++
		}
		p.mu.Unlock()
	}
	return restored, errs
}

// Snapshot is a read-only view of one user's profiles at a point in time.
type Snapshot struct {
	userID   string
	profiles map[string]*Profile
	takenAt  time.Time
}

// Lookup returns a copy of the profile for key as of the snapshot.
func (s *Snapshot) Lookup(key string) (Profile, bool) {
	if s == nil {
		return Profile{}, false
	}
	prof, ok := s.profiles[NormalizeKey(key)]
	if !ok {
		return Profile{}, false
	}
	return *prof.Clone(), true
}

// Len returns the number of profiles in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.profiles)
}

// UserID returns the user the snapshot belongs to.
func (s *Snapshot) UserID() string {
	if s == nil {
		return ""
	}
	return s.userID
}

// TakenAt returns when the snapshot was captured.
func (s *Snapshot) TakenAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.takenAt
}
