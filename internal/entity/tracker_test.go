package entity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/feltd/internal/signature"
)

func newTestTracker(t *testing.T, cfg Config, opts ...Option) *Tracker {
	t.Helper()
	tr, err := NewTracker(cfg, nil, opts...)
	require.NoError(t, err)
	return tr
}

func flat(v float64) []float64 {
	out := make([]float64, signature.EvaluatorSlots)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestTracker_FirstMentionInitializesProfile(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig())

	act := flat(0.4)
	err := tr.RecordMention("u1", "turn-1", Mention{Key: "Sister", Type: TypePerson}, act, Scalars{Urgency: 0.2, Autonomic: 0.5, CoreDistance: 0.3})
	require.NoError(t, err)

	prof, err := tr.Query("u1", "sister")
	require.NoError(t, err)
	assert.Equal(t, "sister", prof.Key)
	assert.Equal(t, TypePerson, prof.Type)
	assert.Equal(t, 1, prof.MentionCount)
	assert.Equal(t, 1, prof.Occurrences)
	assert.Equal(t, act, prof.Activation)
	assert.InDelta(t, 0.5, prof.Autonomic, 1e-12)
	assert.Equal(t, "turn-1", prof.LastTurnID)
}

func TestTracker_QueryNotFound(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig())
	_, err := tr.Query("nobody", "sister")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tr.RecordMention("u1", "t1", Mention{Key: "mom"}, flat(0.1), Scalars{}))
	_, err = tr.Query("u1", "dad")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTracker_SameTurnDeduplication(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig())

	mentions := []Mention{{Key: "mom"}, {Key: "Mom"}, {Key: "mom"}}
	require.NoError(t, tr.RecordTurn("u1", "turn-1", mentions, flat(0.5), Scalars{}))

	prof, err := tr.Query("u1", "mom")
	require.NoError(t, err)
	assert.Equal(t, 1, prof.MentionCount, "structural counter increments once per turn")
	assert.Equal(t, 3, prof.Occurrences)

	// A second RecordMention with the same turn id is also de-duplicated.
	require.NoError(t, tr.RecordMention("u1", "turn-1", Mention{Key: "mom"}, flat(0.9), Scalars{}))
	prof, _ = tr.Query("u1", "mom")
	assert.Equal(t, 1, prof.MentionCount)
	assert.Equal(t, 4, prof.Occurrences)
	assert.InDelta(t, 0.5, prof.Activation[0], 1e-12, "no EMA update inside the same turn")

	require.NoError(t, tr.RecordMention("u1", "turn-2", Mention{Key: "mom"}, flat(0.9), Scalars{}))
	prof, _ = tr.Query("u1", "mom")
	assert.Equal(t, 2, prof.MentionCount)
	assert.InDelta(t, 0.75*0.5+0.25*0.9, prof.Activation[0], 1e-12)
}

func TestTracker_ReplayedTurnKeepsCoMentions(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig())
	pair := []Mention{{Key: "mom"}, {Key: "dad"}}

	require.NoError(t, tr.RecordTurn("u1", "t1", pair, flat(0.5), Scalars{}))
	require.NoError(t, tr.RecordTurn("u1", "t1", pair, flat(0.5), Scalars{}))

	mom, err := tr.Query("u1", "mom")
	require.NoError(t, err)
	assert.Equal(t, 1, mom.MentionCount)
	assert.Equal(t, 2, mom.Occurrences)
	assert.Equal(t, 1, mom.CoMentions["dad"])
	dad, _ := tr.Query("u1", "dad")
	assert.Equal(t, 1, dad.CoMentions["mom"])

	// A key new to the turn still pairs with the ones already recorded.
	require.NoError(t, tr.RecordTurn("u1", "t1", []Mention{{Key: "mom"}, {Key: "dad"}, {Key: "sister"}}, flat(0.5), Scalars{}))
	mom, _ = tr.Query("u1", "mom")
	assert.Equal(t, 1, mom.CoMentions["dad"])
	assert.Equal(t, 1, mom.CoMentions["sister"])
	sister, _ := tr.Query("u1", "sister")
	assert.Equal(t, map[string]int{"mom": 1, "dad": 1}, sister.CoMentions)

	require.NoError(t, tr.RecordTurn("u1", "t2", pair, flat(0.5), Scalars{}))
	mom, _ = tr.Query("u1", "mom")
	assert.Equal(t, 2, mom.CoMentions["dad"])
}

func TestTracker_CountersMonotonic(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig())
	prevMentions, prevOcc := 0, 0
	for i := 0; i < 30; i++ {
		turn := fmt.Sprintf("turn-%d", i/2)
		require.NoError(t, tr.RecordMention("u1", turn, Mention{Key: "boss"}, flat(float64(i%3)/3), Scalars{}))
		prof, err := tr.Query("u1", "boss")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, prof.MentionCount, prevMentions)
		assert.GreaterOrEqual(t, prof.Occurrences, prevOcc)
		prevMentions, prevOcc = prof.MentionCount, prof.Occurrences
	}
	assert.Equal(t, 15, prevMentions)
	assert.Equal(t, 30, prevOcc)
}

// An activation pattern that settles drives the EMA delta below 1% by the
// 20th update.
func TestTracker_EMADeltaShrinks(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig())

	var deltas []float64
	for n := 1; n <= 20; n++ {
		act := make([]float64, signature.EvaluatorSlots)
		for i := range act {
			base := 0.2 + 0.05*float64(i%4)
			act[i] = base + 0.5*math.Pow(0.7, float64(n))
		}
		require.NoError(t, tr.RecordMention("u1", fmt.Sprintf("turn-%d", n), Mention{Key: "grandma"}, act, Scalars{}))
		prof, err := tr.Query("u1", "grandma")
		require.NoError(t, err)
		if n > 1 {
			deltas = append(deltas, prof.LastDelta)
		}
	}

	require.Len(t, deltas, 19)
	assert.Less(t, deltas[len(deltas)-1], 0.01)
	assert.Less(t, deltas[len(deltas)-1], deltas[0])
}

func TestTracker_CoMentions(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig())

	turn := []Mention{{Key: "mom"}, {Key: "dad"}, {Key: "mom"}, {Key: "sister"}}
	require.NoError(t, tr.RecordTurn("u1", "t1", turn, flat(0.3), Scalars{}))
	require.NoError(t, tr.RecordTurn("u1", "t2", []Mention{{Key: "mom"}, {Key: "dad"}}, flat(0.3), Scalars{}))

	mom, err := tr.Query("u1", "mom")
	require.NoError(t, err)
	assert.Equal(t, 2, mom.CoMentions["dad"], "once per distinct pair per turn")
	assert.Equal(t, 1, mom.CoMentions["sister"])
	assert.Equal(t, []string{"dad", "sister"}, mom.TopCoMentions())

	dad, _ := tr.Query("u1", "dad")
	assert.Equal(t, 2, dad.CoMentions["mom"])
}

func TestTracker_SnapshotIsStartOfTurnState(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig())
	require.NoError(t, tr.RecordMention("u1", "t1", Mention{Key: "mom"}, flat(0.2), Scalars{}))

	snap := tr.Snapshot("u1")

	require.NoError(t, tr.RecordMention("u1", "t2", Mention{Key: "mom"}, flat(1.0), Scalars{}))
	require.NoError(t, tr.RecordMention("u1", "t2", Mention{Key: "dad"}, flat(1.0), Scalars{}))

	prof, ok := snap.Lookup("mom")
	require.True(t, ok)
	assert.Equal(t, 1, prof.MentionCount)
	assert.InDelta(t, 0.2, prof.Activation[0], 1e-12)
	_, ok = snap.Lookup("dad")
	assert.False(t, ok)
	assert.Equal(t, 1, snap.Len())

	// Mutating a looked-up copy never leaks back.
	prof.Activation[0] = 42
	again, _ := snap.Lookup("mom")
	assert.InDelta(t, 0.2, again.Activation[0], 1e-12)
}

func TestTracker_EvictsLeastRecentlyMentioned(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 2
	tr := newTestTracker(t, cfg)

	require.NoError(t, tr.RecordMention("u1", "t1", Mention{Key: "a"}, flat(0), Scalars{}))
	require.NoError(t, tr.RecordMention("u1", "t2", Mention{Key: "b"}, flat(0), Scalars{}))
	require.NoError(t, tr.RecordMention("u1", "t3", Mention{Key: "a"}, flat(0), Scalars{}))
	require.NoError(t, tr.RecordMention("u1", "t4", Mention{Key: "c"}, flat(0), Scalars{}))

	_, err := tr.Query("u1", "b")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = tr.Query("u1", "a")
	assert.NoError(t, err)
	assert.Equal(t, 2, tr.Len())
}

func TestTracker_UserPartitionsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxUsers = 2
	tr := newTestTracker(t, cfg)

	for _, u := range []string{"u1", "u2", "u3"} {
		require.NoError(t, tr.RecordMention(u, "t1", Mention{Key: "mom"}, flat(0), Scalars{}))
	}
	_, err := tr.Query("u1", "mom")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = tr.Query("u3", "mom")
	assert.NoError(t, err)
}

func TestTracker_Validation(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig())
	assert.ErrorIs(t, tr.RecordMention("", "t1", Mention{Key: "a"}, flat(0), Scalars{}), ErrEmptyUser)
	assert.ErrorIs(t, tr.RecordMention("u", "", Mention{Key: "a"}, flat(0), Scalars{}), ErrEmptyTurn)
	assert.ErrorIs(t, tr.RecordMention("u", "t", Mention{Key: " "}, flat(0), Scalars{}), ErrEmptyKey)
	assert.ErrorIs(t, tr.RecordMention("u", "t", Mention{Key: "a"}, []float64{1}, Scalars{}), ErrInvalidActivation)

	// A batch with one bad key is rejected whole.
	err := tr.RecordTurn("u", "t", []Mention{{Key: "mom"}, {Key: "dad"}, {Key: "  "}}, flat(0), Scalars{})
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = tr.Query("u", "mom")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, tr.Len())

	bad := DefaultConfig()
	bad.Alpha = 0
	_, err = NewTracker(bad, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	bad = DefaultConfig()
	bad.MaxCoMentions = 0
	_, err = NewTracker(bad, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTracker_CoMentionsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 3
	cfg.MaxCoMentions = 1
	tr := newTestTracker(t, cfg)

	require.NoError(t, tr.RecordTurn("u1", "t1", []Mention{{Key: "mom"}, {Key: "dad"}}, flat(0), Scalars{}))
	require.NoError(t, tr.RecordTurn("u1", "t2", []Mention{{Key: "mom"}, {Key: "dad"}}, flat(0), Scalars{}))
	require.NoError(t, tr.RecordTurn("u1", "t3", []Mention{{Key: "mom"}, {Key: "sister"}}, flat(0), Scalars{}))

	mom, err := tr.Query("u1", "mom")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"dad": 2}, mom.CoMentions, "only the strongest co-mention is kept")

	// Two new keys push dad and sister out of the partition.
	require.NoError(t, tr.RecordTurn("u1", "t4", []Mention{{Key: "mom"}, {Key: "boss"}}, flat(0), Scalars{}))
	require.NoError(t, tr.RecordMention("u1", "t5", Mention{Key: "maya"}, flat(0), Scalars{}))
	_, err = tr.Query("u1", "dad")
	require.ErrorIs(t, err, ErrNotFound)

	related, err := tr.Related(context.Background(), "u1", "mom", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"boss"}, related)
	for _, up := range tr.Export() {
		for _, prof := range up.Profiles {
			assert.NotContains(t, prof.CoMentions, "dad", prof.Key)
			assert.NotContains(t, prof.CoMentions, "sister", prof.Key)
		}
	}
}

func TestTracker_ConcurrentUsers(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig())
	var wg sync.WaitGroup
	for u := 0; u < 8; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", u)
			for i := 0; i < 50; i++ {
				_ = tr.RecordTurn(user, fmt.Sprintf("t%d", i), []Mention{{Key: "mom"}, {Key: "dad"}}, flat(0.5), Scalars{})
				_ = tr.Snapshot(user)
			}
		}(u)
	}
	wg.Wait()

	for u := 0; u < 8; u++ {
		prof, err := tr.Query(fmt.Sprintf("user-%d", u), "mom")
		require.NoError(t, err)
		assert.Equal(t, 50, prof.MentionCount)
		assert.Equal(t, 50, prof.CoMentions["dad"])
	}
}

type stubGraph struct {
	related []string
	err     error
	delay   time.Duration
}

func (s *stubGraph) Related(ctx context.Context, userID, key string) ([]string, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.related, s.err
}

func TestTracker_RelatedUsesGraphStore(t *testing.T) {
	g := &stubGraph{related: []string{"aunt", "uncle", "cousin"}}
	tr := newTestTracker(t, DefaultConfig(), WithGraphStore(g))

	got, err := tr.Related(context.Background(), "u1", "mom", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"aunt", "uncle"}, got)
}

func TestTracker_RelatedFallsBackOnGraphFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GraphTimeout = 10 * time.Millisecond

	for name, g := range map[string]*stubGraph{
		"error":   {err: errors.New("graph down")},
		"timeout": {related: []string{"never"}, delay: time.Second},
	} {
		t.Run(name, func(t *testing.T) {
			tr := newTestTracker(t, cfg, WithGraphStore(g))
			require.NoError(t, tr.RecordTurn("u1", "t1", []Mention{{Key: "mom"}, {Key: "dad"}}, flat(0), Scalars{}))

			got, err := tr.Related(context.Background(), "u1", "mom", 5)
			require.NoError(t, err)
			assert.Equal(t, []string{"dad"}, got)
		})
	}
}

func TestTracker_GraphServesCoMentions(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig())
	require.NoError(t, tr.RecordTurn("u1", "t1", []Mention{{Key: "mom"}, {Key: "dad"}, {Key: "sister"}}, flat(0), Scalars{}))
	require.NoError(t, tr.RecordTurn("u1", "t2", []Mention{{Key: "mom"}, {Key: "sister"}}, flat(0), Scalars{}))

	var g GraphStore = tr.Graph()
	got, err := g.Related(context.Background(), "u1", "Mom")
	require.NoError(t, err)
	assert.Equal(t, []string{"sister", "dad"}, got)

	_, err = g.Related(context.Background(), "u2", "mom")
	assert.Error(t, err)
}

func TestTracker_ExportRestoreRoundTrip(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(t, DefaultConfig(), WithClock(func() time.Time { return clock }))
	require.NoError(t, tr.RecordTurn("u1", "t1", []Mention{{Key: "mom", Type: TypePerson}, {Key: "paris", Type: TypePlace}}, flat(0.3), Scalars{Urgency: 0.1}))
	require.NoError(t, tr.RecordTurn("u2", "t1", []Mention{{Key: "boss"}}, flat(0.6), Scalars{}))

	exported := tr.Export()
	require.Len(t, exported, 2)

	restored := newTestTracker(t, DefaultConfig())
	n, errs := restored.Restore(exported)
	assert.Empty(t, errs)
	assert.Equal(t, 3, n)
	assert.Equal(t, exported, restored.Export())
}

func TestTracker_RestoreRejectsInvalid(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig())
	n, errs := tr.Restore([]UserProfiles{
		{UserID: "u1", Profiles: []*Profile{
			{Key: "mom", Activation: flat(0.1)},
			{Key: "dad", Activation: []float64{0.1}},
			{Key: "", Activation: flat(0.1)},
		}},
		{UserID: ""},
	})
	assert.Equal(t, 1, n)
	assert.Len(t, errs, 3)
}
