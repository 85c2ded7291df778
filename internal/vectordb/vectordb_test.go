package vectordb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.sqlite")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func unitVector(dims int, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1
	return v
}

func TestUpsertGetRoundtrip(t *testing.T) {
	store := openTestStore(t)

	vec := unitVector(4, 0)
	require.NoError(t, store.Upsert("msg-1", vec, "model-a", "hash-1"))

	got, err := store.Get("msg-1")
	require.NoError(t, err)
	require.Equal(t, vec, got)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get("does-not-exist")
	require.Error(t, err)
}

func TestUpsertReplacesPriorVector(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Upsert("msg-1", unitVector(4, 0), "model-a", "hash-1"))
	require.NoError(t, store.Upsert("msg-1", unitVector(4, 1), "model-a", "hash-2"))

	got, err := store.Get("msg-1")
	require.NoError(t, err)
	require.Equal(t, unitVector(4, 1), got)

	n, err := store.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestTopKRanksBySimilarityThenID(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Upsert("b", unitVector(4, 0), "model-a", "h"))
	require.NoError(t, store.Upsert("a", unitVector(4, 0), "model-a", "h"))
	require.NoError(t, store.Upsert("c", unitVector(4, 1), "model-a", "h"))

	neighbors, err := store.TopK(unitVector(4, 0), "model-a", 2)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	// a and b tie at similarity 1.0; lower id (a) sorts first.
	require.Equal(t, "a", neighbors[0].MessageID)
	require.Equal(t, "b", neighbors[1].MessageID)
}

func TestTopKExcludesOtherModels(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Upsert("a", unitVector(4, 0), "model-a", "h"))
	require.NoError(t, store.Upsert("b", unitVector(4, 0), "model-b", "h"))

	neighbors, err := store.TopK(unitVector(4, 0), "model-a", 10)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	require.Equal(t, "a", neighbors[0].MessageID)
}

func TestNeighborsExcludesSelf(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Upsert("a", unitVector(4, 0), "model-a", "h"))
	require.NoError(t, store.Upsert("b", unitVector(4, 0), "model-a", "h"))

	neighbors, err := store.Neighbors("a", "model-a", 10)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	require.Equal(t, "b", neighbors[0].MessageID)
}

func TestDeleteRemovesOnlyThatMessage(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Upsert("a", unitVector(4, 0), "model-a", "h"))
	require.NoError(t, store.Upsert("b", unitVector(4, 0), "model-a", "h"))

	require.NoError(t, store.Delete("a"))

	_, err := store.Get("a")
	require.Error(t, err)
	_, err = store.Get("b")
	require.NoError(t, err)
}

func TestClearEmptiesTheStore(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Upsert("a", unitVector(4, 0), "model-a", "h"))
	require.NoError(t, store.Clear())

	n, err := store.Count()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestCosineSimilarityEdgeCases(t *testing.T) {
	require.Equal(t, 0.0, cosineSimilarity(nil, nil))
	require.Equal(t, 0.0, cosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	require.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	require.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
}

func TestVectorByteRoundtrip(t *testing.T) {
	v := []float32{0.5, -1.25, 3.0, 0}
	require.Equal(t, v, bytesToVector(vectorToBytes(v)))
}
