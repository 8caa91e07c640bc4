package family

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/feltd/internal/signature"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	t := epoch
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func axis(weights map[int]float64) signature.Vector {
	v := signature.NewVector()
	for i, w := range weights {
		v[i] = w
	}
	return v
}

func composite(id string, v signature.Vector, s, e float64) signature.Composite {
	return signature.Composite{
		Version:      signature.SchemaVersion,
		TurnID:       id,
		Vector:       v,
		Satisfaction: s,
		Energy:       e,
	}
}

func newTestPool(t *testing.T, logger *zap.Logger) *Pool {
	t.Helper()
	p, err := NewPool(DefaultConfig(), logger, WithClock(fixedClock()))
	require.NoError(t, err)
	return p
}

// A signature close enough to an existing centroid joins it and moves the
// family's running stats.
func TestPool_SimilarSignatureJoins(t *testing.T) {
	p := newTestPool(t, nil)

	first := axis(map[int]float64{0: 1})
	other := axis(map[int]float64{5: 1})
	second := axis(map[int]float64{0: 0.95, 1: math.Sqrt(1 - 0.95*0.95)})
	require.InDelta(t, 0.95, signature.Cosine(first, second), 1e-12)

	a, err := p.Observe(composite("t1", first, 0.6, 0.2))
	require.NoError(t, err)
	assert.True(t, a.Created)
	_, err = p.Observe(composite("t2", other, 0.5, 0.3))
	require.NoError(t, err)
	require.Equal(t, 2, p.Len())

	a, err = p.Observe(composite("t3", second, 0.8, 0.4))
	require.NoError(t, err)
	assert.False(t, a.Created)
	assert.Equal(t, "family-0001", a.FamilyID)
	assert.Equal(t, 0.55, a.Threshold)
	assert.Equal(t, 2, a.FamilyCount)

	f, ok := p.Lookup("family-0001")
	require.True(t, ok)
	assert.Equal(t, 2, f.Members)
	assert.InDelta(t, 0.7, f.SatisfactionMean, 1e-12)
	assert.InDelta(t, 0.02, f.SatisfactionVariance(), 1e-12)
	assert.InDelta(t, 0.3, f.EnergyMean, 1e-12)
	assert.InDelta(t, 0.8+0.2*0.95, f.Centroid[0], 1e-12)
	assert.Equal(t, "t3", f.LastTurnID)
}

func TestPool_DissimilarSignatureCreatesFamily(t *testing.T) {
	p := newTestPool(t, nil)
	_, err := p.Observe(composite("t1", axis(map[int]float64{0: 1}), 0.5, 0.5))
	require.NoError(t, err)
	a, err := p.Observe(composite("t2", axis(map[int]float64{0: 0.5, 1: 1}), 0.5, 0.5))
	require.NoError(t, err)
	assert.True(t, a.Created)
	assert.Equal(t, "family-0002", a.FamilyID)
	assert.Less(t, a.Similarity, a.Threshold)
}

func TestPool_TieGoesToEarliestFamily(t *testing.T) {
	p := newTestPool(t, nil)
	_, err := p.Observe(composite("t1", axis(map[int]float64{0: 1}), 0.5, 0.5))
	require.NoError(t, err)
	_, err = p.Observe(composite("t2", axis(map[int]float64{1: 1}), 0.5, 0.5))
	require.NoError(t, err)

	a, err := p.Observe(composite("t3", axis(map[int]float64{0: 1, 1: 1}), 0.5, 0.5))
	require.NoError(t, err)
	assert.Equal(t, "family-0001", a.FamilyID)
	assert.InDelta(t, 1/math.Sqrt2, a.Similarity, 1e-12)
}

func TestPool_RejectsReassignment(t *testing.T) {
	p := newTestPool(t, nil)
	sig := composite("t1", axis(map[int]float64{0: 1}), 0.5, 0.5)
	_, err := p.Observe(sig)
	require.NoError(t, err)

	a, err := p.Observe(sig)
	assert.ErrorIs(t, err, ErrAlreadyAssigned)
	assert.Equal(t, "family-0001", a.FamilyID)
	f, _ := p.Lookup("family-0001")
	assert.Equal(t, 1, f.Members)
}

// A signature reloaded from JSON arrives with its vector as []any.
func TestPool_ObserveRecordCoercesGenericVector(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := newTestPool(t, zap.New(core))

	data, err := json.Marshal(composite("t1", axis(map[int]float64{3: 0.4, 7: 0.9}), 0.6, 0.25))
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	_, isGeneric := raw["vector"].([]any)
	require.True(t, isGeneric)

	a, err := p.ObserveRecord(raw)
	require.NoError(t, err)
	assert.True(t, a.Created)

	bad := map[string]any{"turn_id": "t2", "vector": []any{0.1, "not-a-number"}}
	_, err = p.ObserveRecord(bad)
	assert.ErrorIs(t, err, signature.ErrInvalidSignature)
	assert.Equal(t, 1, logs.FilterMessageSnippet("invalid signature").Len())

	_, err = p.Observe(composite("t3", signature.Vector{1, 2}, 0.5, 0.5))
	assert.ErrorIs(t, err, signature.ErrInvalidSignature)
	assert.Equal(t, 1, p.Len())
}

func TestPool_RejectsNonFiniteScalars(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := newTestPool(t, zap.New(core))

	vec := make([]any, signature.Dimension)
	for i := range vec {
		vec[i] = 0.1
	}
	records := []map[string]any{
		{"turn_id": "t1", "vector": vec, "energy": "NaN", "satisfaction": 0.5},
		{"turn_id": "t2", "vector": vec, "energy": 0.5, "satisfaction": "+Inf"},
	}
	for _, raw := range records {
		_, err := p.ObserveRecord(raw)
		assert.ErrorIs(t, err, signature.ErrInvalidSignature)
	}
	assert.Equal(t, 2, logs.FilterMessageSnippet("invalid signature").Len())

	_, err := p.Observe(composite("t3", axis(map[int]float64{0: 1}), math.NaN(), 0.5))
	assert.ErrorIs(t, err, signature.ErrInvalidSignature)
	assert.Equal(t, 0, p.Len())

	_, err = p.Observe(composite("t4", axis(map[int]float64{0: 1}), 0.5, 0.5))
	require.NoError(t, err)
	_, err = json.Marshal(p.Snapshot().Families)
	require.NoError(t, err)
	for _, f := range p.Families() {
		require.NoError(t, f.Validate())
	}
}

func TestSchedule_Breakpoints(t *testing.T) {
	s := DefaultSchedule()
	tests := []struct {
		count int
		want  float64
	}{
		{0, 0.55}, {7, 0.55}, {8, 0.65}, {23, 0.65}, {24, 0.75}, {500, 0.75},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.count), func(t *testing.T) {
			assert.Equal(t, tt.want, s.Threshold(tt.count))
		})
	}
}

func TestSchedule_Validate(t *testing.T) {
	require.NoError(t, DefaultSchedule().Validate())
	tests := map[string]Schedule{
		"shape":      {Breakpoints: []int{8}, Thresholds: []float64{0.5}},
		"decreasing": {Breakpoints: []int{8, 24}, Thresholds: []float64{0.6, 0.5, 0.7}},
		"unordered":  {Breakpoints: []int{24, 8}, Thresholds: []float64{0.5, 0.6, 0.7}},
		"range":      {Breakpoints: []int{8}, Thresholds: []float64{0.5, 1.5}},
	}
	for name, s := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, s.Validate(), ErrInvalidConfig)
		})
	}
}

func randomHistory(n int) []signature.Composite {
	rng := rand.New(rand.NewSource(11))
	out := make([]signature.Composite, n)
	for i := range out {
		v := signature.NewVector()
		hot := rng.Intn(4)
		for j := range v {
			v[j] = rng.Float64() * 0.2
		}
		v[hot*3] += 1
		out[i] = composite(fmt.Sprintf("t%03d", i), v, rng.Float64(), rng.Float64())
	}
	return out
}

func TestPool_Deterministic(t *testing.T) {
	history := randomHistory(120)
	run := func() Snapshot {
		p := newTestPool(t, nil)
		for _, sig := range history {
			_, err := p.Observe(sig)
			require.NoError(t, err)
		}
		return p.Snapshot()
	}
	first := run()
	assert.Equal(t, first, run())

	total := 0
	for _, f := range first.Families {
		total += f.Members
	}
	assert.Equal(t, len(history), total, "every signature lands in exactly one family")
}

func TestPool_SnapshotRestoreIdempotent(t *testing.T) {
	p := newTestPool(t, nil)
	for _, sig := range randomHistory(60) {
		_, err := p.Observe(sig)
		require.NoError(t, err)
	}
	snap := p.Snapshot()

	for round := 0; round < 3; round++ {
		data, err := json.Marshal(snap)
		require.NoError(t, err)
		var decoded Snapshot
		require.NoError(t, json.Unmarshal(data, &decoded))

		restored := newTestPool(t, nil)
		n, errs := restored.Restore(decoded)
		require.Empty(t, errs)
		assert.Equal(t, len(snap.Families), n)
		assert.Equal(t, snap, restored.Snapshot())
		snap = restored.Snapshot()
	}
}

func TestPool_RestoreSkipsInvalidFamilies(t *testing.T) {
	good := Family{ID: "family-0003", Centroid: axis(map[int]float64{0: 1}), Members: 2}
	snap := Snapshot{
		Families: []Family{
			good,
			{ID: "family-0004", Centroid: signature.Vector{1, 2, 3}, Members: 1},
			{ID: "cluster-9", Centroid: axis(map[int]float64{1: 1}), Members: 1},
			good,
		},
	}
	p := newTestPool(t, nil)
	n, errs := p.Restore(snap)
	assert.Equal(t, 1, n)
	assert.Len(t, errs, 3)

	a, err := p.Observe(composite("t1", axis(map[int]float64{9: 1}), 0.5, 0.5))
	require.NoError(t, err)
	assert.Equal(t, "family-0004", a.FamilyID, "ids continue after the highest restored sequence")
}

func TestFromRecord(t *testing.T) {
	f := Family{
		ID:               "family-0012",
		Centroid:         axis(map[int]float64{2: 0.3, 50: 0.7}),
		Members:          4,
		SatisfactionMean: 0.61,
		SatisfactionM2:   0.08,
		EnergyMean:       0.33,
		CreatedAt:        epoch,
		UpdatedAt:        epoch.Add(time.Minute),
		LastTurnID:       "t9",
	}
	data, err := json.Marshal(f)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	got, err := FromRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, f, got)

	raw["centroid"] = []any{"x"}
	_, err = FromRecord(raw)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestPool_Stats(t *testing.T) {
	p := newTestPool(t, nil)
	assert.Equal(t, Stats{Threshold: 0.55}, p.Stats())

	_, _ = p.Observe(composite("t1", axis(map[int]float64{0: 1}), 0.4, 0.5))
	_, _ = p.Observe(composite("t2", axis(map[int]float64{0: 1}), 0.8, 0.5))
	_, _ = p.Observe(composite("t3", axis(map[int]float64{4: 1}), 0.6, 0.5))

	st := p.Stats()
	assert.Equal(t, 2, st.Families)
	assert.Equal(t, 3, st.Signatures)
	assert.Equal(t, "family-0001", st.LargestFamily)
	assert.InDelta(t, 0.6, st.MeanSatisfaction, 1e-12)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.Alpha = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	cfg = DefaultConfig()
	cfg.RecentTurns = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
