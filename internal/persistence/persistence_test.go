package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/feltd/internal/coupling"
	"github.com/fyrsmithlabs/feltd/internal/diag"
	"github.com/fyrsmithlabs/feltd/internal/entity"
	"github.com/fyrsmithlabs/feltd/internal/evaluator"
	"github.com/fyrsmithlabs/feltd/internal/family"
	"github.com/fyrsmithlabs/feltd/internal/learning"
	"github.com/fyrsmithlabs/feltd/internal/signature"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func newState(t *testing.T) State {
	t.Helper()
	c, err := coupling.NewStore(coupling.DefaultConfig(), nil)
	require.NoError(t, err)
	f, err := family.NewPool(family.DefaultConfig(), nil, family.WithClock(func() time.Time { return epoch }))
	require.NoError(t, err)
	l, err := learning.NewService(c, f, nil)
	require.NoError(t, err)
	tr, err := entity.NewTracker(entity.DefaultConfig(), nil, entity.WithClock(func() time.Time { return epoch }))
	require.NoError(t, err)
	return State{Learning: l, Entities: tr}
}

func populate(t *testing.T, st State) {
	t.Helper()
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 40; i++ {
		v := signature.NewVector()
		for j := range v {
			v[j] = rng.Float64() * 0.1
		}
		v[rng.Intn(5)*7] = 1
		acts := make(map[evaluator.Kind]float64)
		slots := make([]float64, signature.EvaluatorSlots)
		for _, k := range evaluator.Kinds() {
			a := rng.Float64()
			acts[k] = a
			slots[k.Index()] = a
		}
		id := "t" + strconv.Itoa(i)
		sig := signature.Composite{Version: signature.SchemaVersion, TurnID: id, Vector: v, Satisfaction: rng.Float64(), Energy: rng.Float64()}
		st.Learning.Learn(context.Background(), sig, acts, nil)

		mentions := []entity.Mention{{Key: "mom", Type: entity.TypePerson}}
		if i%3 == 0 {
			mentions = append(mentions, entity.Mention{Key: "work", Type: entity.TypeOther})
		}
		require.NoError(t, st.Entities.RecordTurn(fmt.Sprintf("user-%d", i%2), id, mentions, slots,
			entity.Scalars{Urgency: rng.Float64(), Autonomic: 0.5, CoreDistance: rng.Float64()}))
	}
}

func newTestStore(t *testing.T, dir string, logger *zap.Logger) *Store {
	t.Helper()
	s, err := NewStore(dir, logger)
	require.NoError(t, err)
	s.now = func() time.Time { return epoch }
	return s
}

func TestStore_RoundTripIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	original := newState(t)
	populate(t, original)

	store := newTestStore(t, dir, nil)
	require.NoError(t, store.SaveState(original))
	wantCoupling, wantFamilies := original.Learning.Snapshot()
	wantEntities := original.Entities.Export()

	for round := 0; round < 3; round++ {
		loaded := newState(t)
		reports := store.LoadState(loaded)
		require.Len(t, reports, 3)
		for _, r := range reports {
			assert.Zero(t, r.Quarantined, r.Kind)
			assert.False(t, r.Fresh, r.Kind)
		}

		gotCoupling, gotFamilies := loaded.Learning.Snapshot()
		assert.Equal(t, wantCoupling, gotCoupling)
		assert.Equal(t, wantFamilies, gotFamilies)
		assert.Equal(t, wantEntities, loaded.Entities.Export())

		require.NoError(t, store.SaveState(loaded))
	}
}

func TestStore_MissingFilesStartFresh(t *testing.T) {
	store := newTestStore(t, t.TempDir(), nil)
	st := newState(t)
	for _, r := range store.LoadState(st) {
		assert.True(t, r.Fresh)
		assert.Zero(t, r.Loaded)
	}
}

func writeFile(t *testing.T, dir, kind string, records ...string) {
	t.Helper()
	raw := make([]json.RawMessage, len(records))
	for i, r := range records {
		raw[i] = json.RawMessage(r)
	}
	data, err := json.Marshal(Envelope{SchemaVersion: SchemaVersion, Kind: kind, SavedAt: epoch, Records: raw})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, kind+".json"), data, 0o600))
}

func stringVector(hot int) string {
	v := make([]string, signature.Dimension)
	for i := range v {
		v[i] = `"0"`
	}
	v[hot] = `"1.0"`
	out := "["
	for i, s := range v {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out + "]"
}

// A centroid stored as a list of numeric strings still loads.
func TestLoadFamilies_CoercesAndQuarantines(t *testing.T) {
	dir := t.TempDir()
	core, logs := observer.New(zap.ErrorLevel)
	store := newTestStore(t, dir, zap.New(core))

	good := fmt.Sprintf(`{"id":"family-0001","centroid":%s,"members":3,"satisfaction_mean":0.5}`, stringVector(2))
	short := `{"id":"family-0002","centroid":[1,2,3],"members":1}`
	badID := fmt.Sprintf(`{"id":"cluster","centroid":%s,"members":1}`, stringVector(4))
	writeFile(t, dir, KindFamilies, good, short, badID, good)

	pool, err := family.NewPool(family.DefaultConfig(), nil)
	require.NoError(t, err)
	report, err := store.LoadFamilies(pool)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Loaded)
	assert.Equal(t, 3, report.Quarantined)
	f, ok := pool.Lookup("family-0001")
	require.True(t, ok)
	assert.Equal(t, 1.0, f.Centroid[2])
	assert.Equal(t, 3, f.Members)

	q, err := store.Quarantined(KindFamilies)
	require.NoError(t, err)
	assert.Len(t, q, 3)
	assert.Equal(t, 3, logs.FilterMessage("quarantined invalid state record").Len())

	// The quarantine file accumulates across loads.
	_, err = store.LoadFamilies(pool)
	require.NoError(t, err)
	q, err = store.Quarantined(KindFamilies)
	require.NoError(t, err)
	assert.Len(t, q, 6)
}

func TestLoadCoupling_QuarantinesInvalidMatrix(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir, nil)

	c, err := coupling.NewStore(coupling.DefaultConfig(), nil)
	require.NoError(t, err)
	snap := c.Snapshot()
	snap.Matrix[0][1] = 0.3
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	writeFile(t, dir, KindCoupling, string(data))

	report, err := store.LoadCoupling(c)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Quarantined)
	assert.True(t, report.Fresh)
	assert.Zero(t, c.Coupling(evaluator.KindListening, evaluator.KindEmpathy))
}

func TestLoadEntities_QuarantinesInvalidProfiles(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir, nil)

	acts, err := json.Marshal(make([]float64, signature.EvaluatorSlots))
	require.NoError(t, err)
	good := fmt.Sprintf(`{"user_id":"u1","profile":{"key":"mom","type":"person","mention_count":2,"activation":%s}}`, acts)
	writeFile(t, dir, KindEntities,
		good,
		`{"user_id":"u1","profile":{"key":"dad","activation":[1]}}`,
		`{"user_id":"","profile":{"key":"x"}}`,
		`"not an object"`,
	)

	tr, err := entity.NewTracker(entity.DefaultConfig(), nil)
	require.NoError(t, err)
	report, err := store.LoadEntities(tr)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Loaded)
	assert.Equal(t, 3, report.Quarantined)

	p, err := tr.Query("u1", "mom")
	require.NoError(t, err)
	assert.Equal(t, 2, p.MentionCount)
}

func TestLoad_CorruptFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir, nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "coupling.json"), []byte("{not json"), 0o600))
	writeFile(t, dir, KindEntities) // valid envelope, but filed under the wrong name below
	require.NoError(t, os.Rename(filepath.Join(dir, "entities.json"), filepath.Join(dir, "families.json")))

	st := newState(t)
	report, err := store.LoadCoupling(st.Learning.CouplingStore())
	assert.ErrorIs(t, err, diag.ErrStateCorruption)
	assert.True(t, report.Fresh)
	assert.FileExists(t, filepath.Join(dir, "coupling.corrupt.json"))
	assert.NoFileExists(t, filepath.Join(dir, "coupling.json"))

	report, err = store.LoadFamilies(st.Learning.Families())
	assert.ErrorIs(t, err, ErrCorruptFile)
	assert.True(t, report.Fresh)

	// A fresh save after corruption succeeds and loads cleanly.
	require.NoError(t, store.SaveState(st))
	for _, r := range store.LoadState(newState(t)) {
		assert.Zero(t, r.Quarantined)
	}
}

func TestFlusher_PeriodicAndFinal(t *testing.T) {
	var calls atomic.Int32
	f := NewFlusher(10*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	}, nil)

	require.NoError(t, f.Start(context.Background()))
	assert.ErrorIs(t, f.Start(context.Background()), ErrFlusherStarted)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.Stop(context.Background()))
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no flushes after Stop")
}

func TestFlusher_StopWithoutStartStillFlushes(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir, nil)
	st := newState(t)
	populate(t, st)

	f := NewFlusher(0, func(context.Context) error { return store.SaveState(st) }, nil)
	require.NoError(t, f.Stop(context.Background()))
	for _, kind := range []string{KindCoupling, KindFamilies, KindEntities} {
		assert.FileExists(t, filepath.Join(dir, kind+".json"))
	}
}

func TestFlusher_ContextCancelEndsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := NewFlusher(time.Hour, func(context.Context) error { return nil }, nil)
	require.NoError(t, f.Start(ctx))
	cancel()
	require.NoError(t, f.Stop(context.Background()))
}
