// Package retrieval builds, caches, and queries per-collection vector indexes.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/webrag/internal/embedding"
	"github.com/hyperjump/webrag/internal/indexer"
	"github.com/hyperjump/webrag/internal/models"
	"github.com/hyperjump/webrag/internal/sourceid"
	"github.com/hyperjump/webrag/internal/storage"
	"github.com/hyperjump/webrag/internal/vector"
)

// DefaultK is the number of hits returned when a query does not ask for a count.
const DefaultK = 3

// Store persists collections. *storage.CollectionStore implements it.
type Store interface {
	Load(id string) (*models.Collection, error)
	Persist(c *models.Collection) error
	Invalidate(id string) error
	Stat(id string) (models.CollectionInfo, error)
	List() ([]string, error)
}

// SourceResolver supplies the default documents of a collection for lazy builds.
type SourceResolver interface {
	ResolveSource(ctx context.Context, id string) ([]string, error)
}

// StatusRecorder receives index state transitions. storage.Catalog implements it.
type StatusRecorder interface {
	UpdateStatus(ctx context.Context, id string, status storage.StatusUpdate) error
}

// Service owns the index lifecycle of every collection:
// Empty -> Building -> Ready, and Ready -> Invalid -> Building on rebuild or corruption.
type Service struct {
	store     Store
	embedder  embedding.Embedder
	chunker   *indexer.Chunker
	resolver  SourceResolver
	catalog   StatusRecorder
	logger    *zap.Logger
	defaultK  int
	maxK      int
	indexKind string

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	// build serialises load, build and invalidate for one collection.
	build sync.Mutex

	mu    sync.RWMutex
	state models.IndexState // "" until first observed
	snap  *snapshot
}

// snapshot is an immutable loaded collection with its search index.
type snapshot struct {
	coll  *models.Collection
	index *vector.FlatIndex
}

// Option configures a Service.
type Option func(*Service)

// WithChunker sets the chunker used for builds.
func WithChunker(c *indexer.Chunker) Option {
	return func(s *Service) {
		if c != nil {
			s.chunker = c
		}
	}
}

// WithSourceResolver sets the resolver used when a query hits a collection with no index.
func WithSourceResolver(r SourceResolver) Option {
	return func(s *Service) { s.resolver = r }
}

// WithCatalog records state transitions in c.
func WithCatalog(c StatusRecorder) Option {
	return func(s *Service) { s.catalog = c }
}

// WithLogger sets a logger for build and load events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithK sets the default hit count and the upper bound for requested counts.
// maxK <= 0 leaves requests unbounded.
func WithK(defaultK, maxK int) Option {
	return func(s *Service) {
		if defaultK > 0 {
			s.defaultK = defaultK
		}
		s.maxK = maxK
	}
}

// WithIndexKind sets the kind of search index built over loaded vectors (see vector.NewIndex).
// Empty keeps the flat index.
func WithIndexKind(kind string) Option {
	return func(s *Service) { s.indexKind = kind }
}

// NewService returns a service persisting to store and embedding with embedder.
func NewService(store Store, embedder embedding.Embedder, opts ...Option) *Service {
	s := &Service{
		store:    store,
		embedder: embedder,
		chunker:  indexer.NewChunker(indexer.DefaultMaxChunkSize),
		defaultK: DefaultK,
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) entry(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{}
		s.entries[id] = e
	}
	return e
}

func (e *entry) get() (models.IndexState, *snapshot) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state, e.snap
}

func (e *entry) set(state models.IndexState, snap *snapshot) {
	e.mu.Lock()
	e.state = state
	e.snap = snap
	e.mu.Unlock()
}

// EnsureIndex returns the collection id, loading it from disk or building it from docs.
// A valid persisted collection is reused even if docs differ; use Refresh to compare.
// A corrupt persisted collection is rebuilt from docs, or reported when docs is empty.
func (s *Service) EnsureIndex(ctx context.Context, id string, docs []string) (*models.Collection, error) {
	if err := storage.ValidateCollectionID(id); err != nil {
		return nil, err
	}
	e := s.entry(id)
	e.build.Lock()
	defer e.build.Unlock()

	snap, err := s.ensureLocked(ctx, id, e, docs)
	if err != nil {
		return nil, err
	}
	return snap.coll, nil
}

func (s *Service) ensureLocked(ctx context.Context, id string, e *entry, docs []string) (*snapshot, error) {
	if state, snap := e.get(); state == models.StateReady && snap != nil {
		return snap, nil
	}
	snap, loadErr := s.loadLocked(ctx, id, e)
	if snap != nil {
		return snap, nil
	}
	var corrupt *storage.CorruptStoreError
	if loadErr != nil && !errors.As(loadErr, &corrupt) {
		return nil, loadErr
	}
	if len(docs) == 0 {
		if loadErr != nil {
			return nil, loadErr
		}
		return nil, &Error{Op: OpChunk, Collection: id, Err: ErrEmptySource}
	}
	return s.buildLocked(ctx, id, e, docs)
}

// loadLocked reads id from disk. It returns (nil, nil) when nothing is persisted and a
// *Error wrapping *storage.CorruptStoreError when the files are unusable.
func (s *Service) loadLocked(ctx context.Context, id string, e *entry) (*snapshot, error) {
	coll, err := s.store.Load(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.set(models.StateEmpty, nil)
			return nil, nil
		}
		var corrupt *storage.CorruptStoreError
		if errors.As(err, &corrupt) {
			if s.logger != nil {
				s.logger.Warn("persisted collection is corrupt", zap.String("collection", id), zap.Error(err))
			}
			e.set(models.StateInvalid, nil)
			s.record(ctx, id, storage.StatusUpdate{State: models.StateInvalid})
		}
		return nil, &Error{Op: OpLoad, Collection: id, Err: err}
	}
	idx, err := vector.NewIndex(s.indexKind, coll.Dimension)
	if err == nil {
		err = idx.Insert(coll.Vectors())
	}
	if err != nil {
		return nil, &Error{Op: OpLoad, Collection: id, Err: err}
	}
	snap := &snapshot{coll: coll, index: idx}
	e.set(models.StateReady, snap)
	if s.logger != nil {
		s.logger.Debug("loaded collection", zap.String("collection", id), zap.Int("chunks", coll.Len()))
	}
	return snap, nil
}

// buildLocked chunks, embeds, and persists docs as collection id. Nothing is written unless
// every chunk embeds. On failure the state follows whatever is still valid on disk.
func (s *Service) buildLocked(ctx context.Context, id string, e *entry, docs []string) (*snapshot, error) {
	e.set(models.StateBuilding, nil)
	s.record(ctx, id, storage.StatusUpdate{State: models.StateBuilding})
	start := time.Now()

	snap, err := s.build(ctx, id, docs)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("collection build failed", zap.String("collection", id), zap.Error(err))
		}
		s.settleAfterFailure(ctx, id, e)
		return nil, err
	}

	e.set(models.StateReady, snap)
	builtAt := snap.coll.BuiltAt
	s.record(ctx, id, storage.StatusUpdate{
		State:        models.StateReady,
		ChunkCount:   snap.coll.Len(),
		Dimension:    snap.coll.Dimension,
		SourceDigest: snap.coll.SourceDigest,
		IndexedAt:    &builtAt,
	})
	if s.logger != nil {
		s.logger.Info("built collection",
			zap.String("collection", id),
			zap.Int("documents", len(docs)),
			zap.Int("chunks", snap.coll.Len()),
			zap.Int("dimension", snap.coll.Dimension),
			zap.Duration("took", time.Since(start)))
	}
	return snap, nil
}

func (s *Service) build(ctx context.Context, id string, docs []string) (*snapshot, error) {
	texts := s.chunker.ChunkAll(docs)
	if len(texts) == 0 {
		return nil, &Error{Op: OpChunk, Collection: id, Err: ErrEmptySource}
	}

	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Op: OpEmbed, Collection: id, Err: err}
		}
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, &Error{Op: OpEmbed, Collection: id, Err: fmt.Errorf("chunk %d: %w", i, err)}
		}
		chunks[i] = models.Chunk{ID: i, Text: text, Vector: vec}
		if s.logger != nil {
			s.logger.Debug("embedded chunk", zap.String("collection", id), zap.Int("chunk", i), zap.Int("of", len(texts)))
		}
	}

	coll := &models.Collection{
		ID:           id,
		Dimension:    len(chunks[0].Vector),
		Chunks:       chunks,
		SourceDigest: sourceid.Digest(docs),
		BuiltAt:      time.Now().UTC(),
	}
	idx, err := vector.NewIndex(s.indexKind, coll.Dimension)
	if err == nil {
		err = idx.Insert(coll.Vectors())
	}
	if err != nil {
		return nil, &Error{Op: OpEmbed, Collection: id, Err: err}
	}
	if err := s.store.Persist(coll); err != nil {
		return nil, &Error{Op: OpPersist, Collection: id, Err: err}
	}
	return &snapshot{coll: coll, index: idx}, nil
}

func (s *Service) settleAfterFailure(ctx context.Context, id string, e *entry) {
	snap, err := s.loadLocked(ctx, id, e)
	switch {
	case snap != nil:
		builtAt := snap.coll.BuiltAt
		s.record(ctx, id, storage.StatusUpdate{
			State:        models.StateReady,
			ChunkCount:   snap.coll.Len(),
			Dimension:    snap.coll.Dimension,
			SourceDigest: snap.coll.SourceDigest,
			IndexedAt:    &builtAt,
		})
	case err == nil:
		s.record(ctx, id, storage.StatusUpdate{State: models.StateEmpty})
	default:
		// corrupt files were already recorded by loadLocked
		e.set(models.StateInvalid, nil)
	}
}

// Query returns the k chunks of collection id closest to text. k <= 0 uses the default.
// A collection with no index is built from the resolver's source; without one the
// result is a *CollectionNotFoundError.
func (s *Service) Query(ctx context.Context, id, text string, k int) (models.RetrievalResult, error) {
	return s.QueryWithSource(ctx, id, text, k, nil)
}

// QueryWithSource is Query with docs as the source for a lazy build, ahead of the resolver.
func (s *Service) QueryWithSource(ctx context.Context, id, text string, k int, docs []string) (models.RetrievalResult, error) {
	if err := storage.ValidateCollectionID(id); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = s.defaultK
	}
	if s.maxK > 0 && k > s.maxK {
		k = s.maxK
	}

	snap, err := s.snapshot(ctx, id, docs)
	if err != nil {
		return nil, err
	}

	qv, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, &Error{Op: OpEmbed, Collection: id, Err: err}
	}
	hits, err := snap.index.Search(qv, k)
	if err != nil {
		return nil, &Error{Op: OpSearch, Collection: id, Err: err}
	}
	out := make(models.RetrievalResult, len(hits))
	for i, h := range hits {
		out[i] = models.Hit{ChunkID: h.Row, Text: snap.coll.Chunks[h.Row].Text, Distance: h.Distance}
	}
	return out, nil
}

func (s *Service) snapshot(ctx context.Context, id string, docs []string) (*snapshot, error) {
	e := s.entry(id)
	if state, snap := e.get(); state == models.StateReady && snap != nil {
		return snap, nil
	}

	e.build.Lock()
	defer e.build.Unlock()

	if len(docs) > 0 {
		return s.ensureLocked(ctx, id, e, docs)
	}
	snap, loadErr := s.ensureLocked(ctx, id, e, nil)
	if snap != nil {
		return snap, nil
	}
	var corrupt *storage.CorruptStoreError
	if !errors.As(loadErr, &corrupt) && !errors.Is(loadErr, ErrEmptySource) {
		return nil, loadErr
	}
	if s.resolver == nil {
		return nil, notFoundOr(id, loadErr, corrupt)
	}

	docs, err := s.resolver.ResolveSource(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNoSource) {
			return nil, notFoundOr(id, loadErr, corrupt)
		}
		return nil, &Error{Op: OpResolve, Collection: id, Err: err}
	}
	return s.buildLocked(ctx, id, e, docs)
}

// notFoundOr reports a corrupt collection as such and anything else as not found.
func notFoundOr(id string, loadErr error, corrupt *storage.CorruptStoreError) error {
	if corrupt != nil {
		return loadErr
	}
	return &CollectionNotFoundError{ID: id}
}

// Rebuild discards the cached index of id and builds it again from docs. The previous
// files are replaced only once the new build is persisted.
func (s *Service) Rebuild(ctx context.Context, id string, docs []string) (*models.Collection, error) {
	if err := storage.ValidateCollectionID(id); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, &Error{Op: OpChunk, Collection: id, Err: ErrEmptySource}
	}
	e := s.entry(id)
	e.build.Lock()
	defer e.build.Unlock()

	e.set(models.StateInvalid, nil)
	s.record(ctx, id, storage.StatusUpdate{State: models.StateInvalid})
	snap, err := s.buildLocked(ctx, id, e, docs)
	if err != nil {
		return nil, err
	}
	return snap.coll, nil
}

// Refresh rebuilds id from docs only when their digest differs from the persisted one.
// It reports whether a build happened.
func (s *Service) Refresh(ctx context.Context, id string, docs []string) (bool, error) {
	if err := storage.ValidateCollectionID(id); err != nil {
		return false, err
	}
	e := s.entry(id)
	e.build.Lock()
	defer e.build.Unlock()

	digest := sourceid.Digest(docs)
	state, snap := e.get()
	if state != models.StateReady || snap == nil {
		snap, _ = s.loadLocked(ctx, id, e)
	}
	if snap != nil && snap.coll.SourceDigest == digest {
		return false, nil
	}
	if len(docs) == 0 {
		return false, &Error{Op: OpChunk, Collection: id, Err: ErrEmptySource}
	}
	if snap != nil {
		e.set(models.StateInvalid, nil)
		s.record(ctx, id, storage.StatusUpdate{State: models.StateInvalid})
	}
	if _, err := s.buildLocked(ctx, id, e, docs); err != nil {
		return false, err
	}
	return true, nil
}

// Invalidate deletes the persisted index of id and forgets its cached snapshot.
func (s *Service) Invalidate(ctx context.Context, id string) error {
	if err := storage.ValidateCollectionID(id); err != nil {
		return err
	}
	e := s.entry(id)
	e.build.Lock()
	defer e.build.Unlock()

	e.set(models.StateInvalid, nil)
	if err := s.store.Invalidate(id); err != nil {
		return &Error{Op: OpPersist, Collection: id, Err: err}
	}
	e.set(models.StateEmpty, nil)
	s.record(ctx, id, storage.StatusUpdate{State: models.StateEmpty})
	if s.logger != nil {
		s.logger.Info("invalidated collection", zap.String("collection", id))
	}
	return nil
}

// State returns the current state of id. Collections not yet touched by this service
// report Ready when a valid pair is on disk, Invalid when the files are unusable, and
// Empty otherwise.
func (s *Service) State(id string) models.IndexState {
	return s.info(id).State
}

// Info describes id the way State does, with its chunk count and dimension when known.
func (s *Service) Info(id string) models.CollectionInfo {
	return s.info(id)
}

func (s *Service) info(id string) models.CollectionInfo {
	s.mu.Lock()
	e := s.entries[id]
	s.mu.Unlock()
	if e != nil {
		state, snap := e.get()
		if snap != nil {
			return models.CollectionInfo{ID: id, State: state, ChunkCount: snap.coll.Len(), Dimension: snap.coll.Dimension}
		}
		if state == models.StateBuilding || state == models.StateInvalid || state == models.StateEmpty {
			return models.CollectionInfo{ID: id, State: state}
		}
	}
	info, err := s.store.Stat(id)
	switch {
	case err == nil:
		return info
	case errors.Is(err, os.ErrNotExist), errors.Is(err, storage.ErrInvalidCollectionID):
		return models.CollectionInfo{ID: id, State: models.StateEmpty}
	default:
		return models.CollectionInfo{ID: id, State: models.StateInvalid}
	}
}

// Collections describes every collection on disk or known to this service, ordered by id.
func (s *Service) Collections() ([]models.CollectionInfo, error) {
	ids, err := s.store.List()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	s.mu.Lock()
	for id := range s.entries {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	sort.Strings(ids)

	out := make([]models.CollectionInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.info(id))
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, id string, st storage.StatusUpdate) {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.UpdateStatus(context.WithoutCancel(ctx), id, st); err != nil && s.logger != nil {
		s.logger.Warn("failed to record collection status",
			zap.String("collection", id),
			zap.String("state", string(st.State)),
			zap.Error(err))
	}
}
