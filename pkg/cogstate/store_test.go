package cogstate

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateCreationDefaults(t *testing.T) {
	sem := SemanticContext{PrimaryConcepts: []string{"rust", "memory"}, DomainTags: []string{"programming"}}
	state := New(sem)
	assert.Equal(t, 1.0, state.Activation)
	assert.True(t, state.IsActive(300*time.Second))
}

func TestEmotionalValenceDistance(t *testing.T) {
	v1 := NewValence(0.5, 0.5, 0)
	v2 := NewValence(-0.5, -0.5, 0)
	assert.InDelta(t, math.Sqrt(2), v1.Distance(v2), 0.01)
}

func TestAssociationCapacity(t *testing.T) {
	state := New(SemanticContext{})
	for i := 0; i < MaxAssociations; i++ {
		require.NoError(t, state.AddAssociation("target", 0.5, AssocSemantic))
	}
	err := state.AddAssociation("overflow", 0.5, AssocSemantic)
	require.Error(t, err)
	assert.IsType(t, ErrFull{}, err)
}

func TestStoreAddGetAndIndices(t *testing.T) {
	store := New(nil, nil)
	ctx := context.Background()

	sem := SemanticContext{PrimaryConcepts: []string{"rust", "memory"}, DomainTags: []string{"programming"}}
	state := New(sem)
	id := store.Add(ctx, state)

	got := store.Get(id)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)

	byConcept := store.FindByConcept("rust")
	require.Len(t, byConcept, 1)
	assert.Equal(t, id, byConcept[0].ID)

	byDomain := store.FindByDomain("programming")
	require.Len(t, byDomain, 1)
}

func TestCleanupInactiveEvicts(t *testing.T) {
	store := New(nil, nil)
	ctx := context.Background()

	state := New(SemanticContext{PrimaryConcepts: []string{"stale"}})
	state.Activation = 0.05
	store.Add(ctx, state)

	evicted := store.CleanupInactive(time.Hour)
	assert.Equal(t, 1, evicted)
	assert.Nil(t, store.Get(state.ID))
	assert.Empty(t, store.FindByConcept("stale"))
}
