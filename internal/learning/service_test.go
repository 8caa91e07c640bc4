package learning

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/feltd/internal/coupling"
	"github.com/fyrsmithlabs/feltd/internal/diag"
	"github.com/fyrsmithlabs/feltd/internal/evaluator"
	"github.com/fyrsmithlabs/feltd/internal/family"
	"github.com/fyrsmithlabs/feltd/internal/signature"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	c, err := coupling.NewStore(coupling.DefaultConfig(), nil)
	require.NoError(t, err)
	f, err := family.NewPool(family.DefaultConfig(), nil)
	require.NoError(t, err)
	s, err := NewService(c, f, nil)
	require.NoError(t, err)
	return s
}

func sig(id string, hot int, s float64) signature.Composite {
	v := signature.NewVector()
	v[hot] = 1
	return signature.Composite{Version: signature.SchemaVersion, TurnID: id, Vector: v, Satisfaction: s}
}

func TestNewService_RequiresStores(t *testing.T) {
	_, err := NewService(nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestLearn_UpdatesBothStores(t *testing.T) {
	s := newTestService(t)
	acts := map[evaluator.Kind]float64{evaluator.KindEmpathy: 0.8, evaluator.KindBond: 0.9}

	out := s.Learn(context.Background(), sig("t1", 0, 0.7), acts, diag.NewTrace())

	assert.True(t, out.Clustered)
	assert.True(t, out.Family.Created)
	assert.Equal(t, "family-0001", out.Family.FamilyID)
	assert.Equal(t, 1, out.PairsUpdated)
	assert.InDelta(t, 0.8*0.9*0.7*coupling.DefaultConfig().LearningRate, s.Coupling(evaluator.KindEmpathy, evaluator.KindBond), 1e-12)
	assert.Greater(t, out.CouplingStd, 0.0)
}

func TestLearn_InvalidSignatureStillLearnsCoupling(t *testing.T) {
	s := newTestService(t)
	tr := diag.NewTrace()
	bad := signature.Composite{TurnID: "t1", Vector: signature.Vector{1}, Satisfaction: 1}

	out := s.Learn(context.Background(), bad,
		map[evaluator.Kind]float64{evaluator.KindSafety: 1, evaluator.KindUrgency: 1}, tr)

	assert.False(t, out.Clustered)
	assert.Equal(t, 1, out.PairsUpdated)
	assert.True(t, tr.Has(diag.CategoryDegradedInput))
	assert.Zero(t, s.Families().Len())
}

func TestLearn_ConcurrentTurnsStayConsistent(t *testing.T) {
	s := newTestService(t)
	acts := map[evaluator.Kind]float64{evaluator.KindListening: 0.5, evaluator.KindPresence: 0.5}

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Learn(context.Background(), sig(fmt.Sprintf("t%d", i), i%3, 0.5), acts, nil)
		}(i)
	}
	wg.Wait()

	cs, fs := s.Snapshot()
	assert.EqualValues(t, 64, cs.Turns)
	members := 0
	for _, f := range fs.Families {
		members += f.Members
	}
	assert.Equal(t, 64, members)
	assert.Len(t, fs.Families, 3)
}
