package retrieval

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/webrag/internal/embedding"
	"github.com/hyperjump/webrag/internal/indexer"
	"github.com/hyperjump/webrag/internal/models"
	"github.com/hyperjump/webrag/internal/storage"
)

const animals = "Cats are mammals. Dogs are mammals too. Fish are not."

// keywordEmbedder maps text to counts of "cat", "dog" and "fish".
type keywordEmbedder struct {
	mu     sync.Mutex
	calls  int
	failAt int // 1-based call number that fails; 0 never fails
	err    error
}

func (k *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	k.mu.Lock()
	k.calls++
	n := k.calls
	k.mu.Unlock()
	if k.failAt > 0 && n >= k.failAt {
		return nil, k.err
	}
	lower := strings.ToLower(text)
	return []float32{
		float32(strings.Count(lower, "cat")),
		float32(strings.Count(lower, "dog")),
		float32(strings.Count(lower, "fish")),
	}, nil
}

func (k *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := k.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (k *keywordEmbedder) Dimensions() int { return 3 }
func (k *keywordEmbedder) Close() error    { return nil }

func (k *keywordEmbedder) Calls() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls
}

type fakeResolver struct {
	docs  map[string][]string
	calls int
}

func (f *fakeResolver) ResolveSource(_ context.Context, id string) ([]string, error) {
	f.calls++
	if docs, ok := f.docs[id]; ok {
		return docs, nil
	}
	return nil, ErrNoSource
}

type recorder struct {
	mu      sync.Mutex
	updates []storage.StatusUpdate
}

func (r *recorder) UpdateStatus(_ context.Context, _ string, st storage.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, st)
	return nil
}

func (r *recorder) states() []models.IndexState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.IndexState
	for _, u := range r.updates {
		out = append(out, u.State)
	}
	return out
}

func newTestService(t *testing.T, emb embedding.Embedder, opts ...Option) (*Service, *storage.CollectionStore) {
	t.Helper()
	store, err := storage.NewCollectionStore(t.TempDir())
	require.NoError(t, err)
	opts = append([]Option{WithChunker(indexer.NewChunker(30))}, opts...)
	return NewService(store, emb, opts...), store
}

func TestService_QueryFindsClosestChunk(t *testing.T) {
	emb := &keywordEmbedder{}
	svc, store := newTestService(t, emb)
	ctx := context.Background()

	coll, err := svc.EnsureIndex(ctx, "zoo", []string{animals})
	require.NoError(t, err)
	require.Equal(t, 3, coll.Len())
	assert.Equal(t, []string{"Cats are mammals.", "Dogs are mammals too.", "Fish are not."},
		[]string{coll.Chunks[0].Text, coll.Chunks[1].Text, coll.Chunks[2].Text})
	assert.Equal(t, models.StateReady, svc.State("zoo"))
	assert.True(t, store.Exists("zoo"))

	res, err := svc.Query(ctx, "zoo", "dog", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, models.Hit{ChunkID: 1, Text: "Dogs are mammals too.", Distance: 0}, res[0])

	// default k, ties ordered by chunk id
	res, err = svc.Query(ctx, "zoo", "dog", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 2}, []int{res[0].ChunkID, res[1].ChunkID, res[2].ChunkID})
	assert.Equal(t, float32(2), res[1].Distance)

	res, err = svc.Query(ctx, "zoo", "dog", 50)
	require.NoError(t, err)
	assert.Len(t, res, 3)
}

func TestService_MaxK(t *testing.T) {
	svc, _ := newTestService(t, &keywordEmbedder{}, WithK(1, 2))
	ctx := context.Background()
	_, err := svc.EnsureIndex(ctx, "zoo", []string{animals})
	require.NoError(t, err)

	res, err := svc.Query(ctx, "zoo", "cat", 0)
	require.NoError(t, err)
	assert.Len(t, res, 1)
	res, err = svc.Query(ctx, "zoo", "cat", 10)
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestService_EnsureIndexIsIdempotent(t *testing.T) {
	emb := &keywordEmbedder{}
	svc, store := newTestService(t, emb)
	ctx := context.Background()

	first, err := svc.EnsureIndex(ctx, "zoo", []string{animals})
	require.NoError(t, err)
	assert.Equal(t, 3, emb.Calls())

	second, err := svc.EnsureIndex(ctx, "zoo", []string{animals})
	require.NoError(t, err)
	assert.Equal(t, 3, emb.Calls(), "a ready collection must not be re-embedded")
	assert.Same(t, first, second)

	// A fresh service over the same root loads from disk instead of building.
	emb2 := &keywordEmbedder{}
	svc2 := NewService(store, emb2)
	loaded, err := svc2.EnsureIndex(ctx, "zoo", []string{"something else entirely. With two sentences."})
	require.NoError(t, err)
	assert.Equal(t, 0, emb2.Calls())
	assert.Equal(t, first.SourceDigest, loaded.SourceDigest)
	for i := range first.Chunks {
		assert.Equal(t, first.Chunks[i].Text, loaded.Chunks[i].Text)
		assert.Equal(t, first.Chunks[i].Vector, loaded.Chunks[i].Vector)
	}
}

func TestService_FailedBuildPersistsNothing(t *testing.T) {
	emb := &keywordEmbedder{failAt: 2, err: &embedding.EmbeddingError{Attempts: 3, Err: errors.New("status 503")}}
	rec := &recorder{}
	svc, store := newTestService(t, emb, WithCatalog(rec))

	_, err := svc.EnsureIndex(context.Background(), "zoo", []string{animals})
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, OpEmbed, rerr.Op)
	assert.Equal(t, "zoo", rerr.Collection)
	assert.True(t, rerr.Temporary())
	assert.True(t, IsTransient(err))

	_, statErr := os.Stat(filepath.Join(store.Root(), "zoo"))
	assert.True(t, os.IsNotExist(statErr), "no directory may be left behind")
	entries, _ := os.ReadDir(store.Root())
	assert.Empty(t, entries)
	assert.Equal(t, models.StateEmpty, svc.State("zoo"))
	assert.Equal(t, []models.IndexState{models.StateBuilding, models.StateEmpty}, rec.states())
}

func TestService_PermanentEmbeddingFailureIsNotTransient(t *testing.T) {
	emb := &keywordEmbedder{failAt: 1, err: &embedding.EmbeddingError{Attempts: 1, Permanent: true, Err: errors.New("status 401")}}
	svc, _ := newTestService(t, emb)
	_, err := svc.EnsureIndex(context.Background(), "zoo", []string{animals})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestService_EmptySource(t *testing.T) {
	svc, _ := newTestService(t, &keywordEmbedder{})
	_, err := svc.EnsureIndex(context.Background(), "zoo", []string{"   ", ""})
	assert.ErrorIs(t, err, ErrEmptySource)
	_, err = svc.EnsureIndex(context.Background(), "zoo", nil)
	assert.ErrorIs(t, err, ErrEmptySource)
	assert.Equal(t, models.StateEmpty, svc.State("zoo"))
}

func TestService_InvalidCollectionID(t *testing.T) {
	svc, _ := newTestService(t, &keywordEmbedder{})
	ctx := context.Background()
	_, err := svc.EnsureIndex(ctx, "../escape", []string{animals})
	assert.ErrorIs(t, err, storage.ErrInvalidCollectionID)
	_, err = svc.Query(ctx, "a/b", "dog", 1)
	assert.ErrorIs(t, err, storage.ErrInvalidCollectionID)
	assert.ErrorIs(t, svc.Invalidate(ctx, ""), storage.ErrInvalidCollectionID)
}

func TestService_QueryBuildsLazilyFromResolver(t *testing.T) {
	emb := &keywordEmbedder{}
	resolver := &fakeResolver{docs: map[string][]string{"zoo": {animals}}}
	svc, store := newTestService(t, emb, WithSourceResolver(resolver))
	ctx := context.Background()

	res, err := svc.Query(ctx, "zoo", "fish", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Fish are not.", res[0].Text)
	assert.True(t, store.Exists("zoo"))

	_, err = svc.Query(ctx, "zoo", "cat", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, resolver.calls)
}

func TestService_QueryWithSource(t *testing.T) {
	svc, _ := newTestService(t, &keywordEmbedder{})
	res, err := svc.QueryWithSource(context.Background(), "zoo", "cat", 1, []string{animals})
	require.NoError(t, err)
	assert.Equal(t, "Cats are mammals.", res[0].Text)
}

func TestService_QueryUnknownCollection(t *testing.T) {
	ctx := context.Background()

	svc, _ := newTestService(t, &keywordEmbedder{})
	_, err := svc.Query(ctx, "nowhere", "dog", 1)
	var nf *CollectionNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nowhere", nf.ID)

	svc, _ = newTestService(t, &keywordEmbedder{}, WithSourceResolver(&fakeResolver{}))
	_, err = svc.Query(ctx, "nowhere", "dog", 1)
	require.ErrorAs(t, err, &nf)
}

func TestService_CorruptionTriggersRebuild(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, &keywordEmbedder{})
	_, err := svc.EnsureIndex(ctx, "zoo", []string{animals})
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(store.Root(), "zoo", storage.ChunksFile)))

	// Without docs the corruption is surfaced.
	fresh := NewService(store, &keywordEmbedder{}, WithChunker(indexer.NewChunker(30)))
	_, err = fresh.EnsureIndex(ctx, "zoo", nil)
	var corrupt *storage.CorruptStoreError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, models.StateInvalid, fresh.State("zoo"))

	_, err = fresh.Query(ctx, "zoo", "dog", 1)
	require.ErrorAs(t, err, &corrupt)

	// With docs it is rebuilt.
	coll, err := fresh.EnsureIndex(ctx, "zoo", []string{animals})
	require.NoError(t, err)
	assert.Equal(t, 3, coll.Len())
	assert.Equal(t, models.StateReady, fresh.State("zoo"))
	assert.True(t, store.Exists("zoo"))
}

func TestService_FailedRebuildKeepsPreviousIndex(t *testing.T) {
	ctx := context.Background()
	emb := &keywordEmbedder{}
	svc, store := newTestService(t, emb)
	_, err := svc.EnsureIndex(ctx, "zoo", []string{animals})
	require.NoError(t, err)

	emb.failAt = emb.Calls() + 1
	emb.err = errors.New("provider down")
	_, err = svc.Rebuild(ctx, "zoo", []string{"Birds fly. Dogs bark."})
	require.Error(t, err)

	assert.True(t, store.Exists("zoo"))
	assert.Equal(t, models.StateReady, svc.State("zoo"))

	emb.failAt = 0
	res, err := svc.Query(ctx, "zoo", "dog", 1)
	require.NoError(t, err)
	assert.Equal(t, "Dogs are mammals too.", res[0].Text)
}

func TestService_RebuildReplaces(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	svc, _ := newTestService(t, &keywordEmbedder{}, WithCatalog(rec))
	_, err := svc.EnsureIndex(ctx, "zoo", []string{animals})
	require.NoError(t, err)

	coll, err := svc.Rebuild(ctx, "zoo", []string{"Dogs bark."})
	require.NoError(t, err)
	assert.Equal(t, 1, coll.Len())

	res, err := svc.Query(ctx, "zoo", "cat", 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Dogs bark.", res[0].Text)
	assert.Equal(t, []models.IndexState{
		models.StateBuilding, models.StateReady,
		models.StateInvalid, models.StateBuilding, models.StateReady,
	}, rec.states())

	_, err = svc.Rebuild(ctx, "zoo", nil)
	assert.ErrorIs(t, err, ErrEmptySource)
}

func TestService_Refresh(t *testing.T) {
	ctx := context.Background()
	emb := &keywordEmbedder{}
	svc, store := newTestService(t, emb)

	rebuilt, err := svc.Refresh(ctx, "zoo", []string{animals})
	require.NoError(t, err)
	assert.True(t, rebuilt)

	calls := emb.Calls()
	rebuilt, err = svc.Refresh(ctx, "zoo", []string{animals})
	require.NoError(t, err)
	assert.False(t, rebuilt)
	assert.Equal(t, calls, emb.Calls())

	// A new service compares against the persisted digest.
	other := NewService(store, emb, WithChunker(indexer.NewChunker(30)))
	rebuilt, err = other.Refresh(ctx, "zoo", []string{animals})
	require.NoError(t, err)
	assert.False(t, rebuilt)

	rebuilt, err = other.Refresh(ctx, "zoo", []string{animals, "Fish swim."})
	require.NoError(t, err)
	assert.True(t, rebuilt)
	coll, err := other.EnsureIndex(ctx, "zoo", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, coll.Len())
}

func TestService_Invalidate(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, &keywordEmbedder{})
	_, err := svc.EnsureIndex(ctx, "zoo", []string{animals})
	require.NoError(t, err)

	require.NoError(t, svc.Invalidate(ctx, "zoo"))
	require.NoError(t, svc.Invalidate(ctx, "zoo"))
	assert.False(t, store.Exists("zoo"))
	assert.Equal(t, models.StateEmpty, svc.State("zoo"))

	_, err = svc.Query(ctx, "zoo", "dog", 1)
	var nf *CollectionNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestService_Collections(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, &keywordEmbedder{})
	_, err := svc.EnsureIndex(ctx, "b", []string{animals})
	require.NoError(t, err)
	_, err = svc.EnsureIndex(ctx, "empty", nil)
	require.Error(t, err)

	// persisted by another process, not yet loaded here
	other := NewService(store, &keywordEmbedder{}, WithChunker(indexer.NewChunker(30)))
	_, err = other.EnsureIndex(ctx, "a", []string{"Dogs bark."})
	require.NoError(t, err)

	infos, err := svc.Collections()
	require.NoError(t, err)
	assert.Equal(t, []models.CollectionInfo{
		{ID: "a", State: models.StateReady, ChunkCount: 1, Dimension: 3},
		{ID: "b", State: models.StateReady, ChunkCount: 3, Dimension: 3},
		{ID: "empty", State: models.StateEmpty},
	}, infos)
}

func TestService_ConcurrentQueriesBuildOnce(t *testing.T) {
	emb := &keywordEmbedder{}
	resolver := &fakeResolver{docs: map[string][]string{"zoo": {animals}}}
	svc, _ := newTestService(t, emb, WithSourceResolver(resolver))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Query(context.Background(), "zoo", "dog", 1)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, resolver.calls)
	assert.Equal(t, 3+len(errs), emb.Calls())
}

func TestService_CancelledBuild(t *testing.T) {
	svc, store := newTestService(t, &keywordEmbedder{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.EnsureIndex(ctx, "zoo", []string{animals})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, store.Exists("zoo"))
}

func TestService_IndexKind(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &keywordEmbedder{}, WithIndexKind("flat"))
	_, err := svc.EnsureIndex(ctx, "zoo", []string{animals})
	require.NoError(t, err)
	hits, err := svc.Query(ctx, "zoo", "dog", 1)
	require.NoError(t, err)
	assert.Equal(t, "Dogs are mammals too.", hits[0].Text)

	bad, store := newTestService(t, &keywordEmbedder{}, WithIndexKind("hnsw"))
	_, err = bad.EnsureIndex(ctx, "zoo", []string{animals})
	require.Error(t, err)
	assert.False(t, store.Exists("zoo"))
}

func TestService_CorruptHeaderDoesNotCrashQuery(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, &keywordEmbedder{})
	_, err := svc.EnsureIndex(ctx, "zoo", []string{animals})
	require.NoError(t, err)

	path := filepath.Join(store.Root(), "zoo", storage.VectorsFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(data[8:12], 1<<31)
	binary.LittleEndian.PutUint64(data[12:20], 1<<28)
	require.NoError(t, os.WriteFile(path, data, 0644))

	noSource := NewService(store, &keywordEmbedder{}, WithChunker(indexer.NewChunker(30)))
	_, err = noSource.Query(ctx, "zoo", "dog", 1)
	var corrupt *storage.CorruptStoreError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, models.StateInvalid, noSource.State("zoo"))

	resolver := &fakeResolver{docs: map[string][]string{"zoo": {animals}}}
	withSource := NewService(store, &keywordEmbedder{}, WithChunker(indexer.NewChunker(30)), WithSourceResolver(resolver))
	hits, err := withSource.Query(ctx, "zoo", "dog", 1)
	require.NoError(t, err)
	assert.Equal(t, "Dogs are mammals too.", hits[0].Text)
	assert.Equal(t, 1, resolver.calls)
	assert.True(t, store.Exists("zoo"))
}
