// Package storage persists collections on disk and keeps the collection/chat catalog in SQLite.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/webrag/internal/models"
	"github.com/hyperjump/webrag/internal/vector"
)

const (
	// VectorsFile holds the embedding matrix of a collection.
	VectorsFile = "vectors.bin"
	// ChunksFile holds the chunk texts and collection metadata.
	ChunksFile = "chunks.json"

	metadataVersion = 1
	stagingPrefix   = ".staging-"
	trashPrefix     = ".trash-"
)

var collectionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ErrInvalidCollectionID is returned for ids that cannot safely name a directory.
var ErrInvalidCollectionID = errors.New("invalid collection id")

// CorruptStoreError reports a persisted collection that cannot be used as is.
type CorruptStoreError struct {
	ID     string
	Reason string
	Err    error
}

func (e *CorruptStoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("collection %q is corrupt: %s: %v", e.ID, e.Reason, e.Err)
	}
	return fmt.Sprintf("collection %q is corrupt: %s", e.ID, e.Reason)
}

func (e *CorruptStoreError) Unwrap() error {
	return e.Err
}

// ValidateCollectionID returns ErrInvalidCollectionID unless id is usable as a directory name.
func ValidateCollectionID(id string) error {
	if !collectionIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionID, id)
	}
	return nil
}

type chunksFile struct {
	Version      int           `json:"version"`
	CollectionID string        `json:"collection_id"`
	Dimension    int           `json:"dimension"`
	SourceDigest string        `json:"source_digest,omitempty"`
	BuiltAt      time.Time     `json:"built_at"`
	Chunks       []chunkRecord `json:"chunks"`
}

type chunkRecord struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// CollectionStore keeps one directory per collection under a root directory.
// Each directory holds exactly a vectors file and a chunks file, replaced together.
type CollectionStore struct {
	root   string
	logger *zap.Logger
}

// CollectionStoreOption configures a CollectionStore.
type CollectionStoreOption func(*CollectionStore)

// WithLogger sets the logger for persistence events.
func WithLogger(l *zap.Logger) CollectionStoreOption {
	return func(s *CollectionStore) {
		s.logger = l
	}
}

// NewCollectionStore returns a store rooted at root, creating the directory if needed.
func NewCollectionStore(root string, opts ...CollectionStoreOption) (*CollectionStore, error) {
	if root == "" {
		return nil, errors.New("storage root is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	s := &CollectionStore{root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the storage root directory.
func (s *CollectionStore) Root() string {
	return s.root
}

// Dir returns the directory of collection id.
func (s *CollectionStore) Dir(id string) (string, error) {
	if err := ValidateCollectionID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.root, id), nil
}

// Exists reports whether a complete, consistent file pair is on disk for id.
// The vectors are not read; the chunks file is decoded in full.
func (s *CollectionStore) Exists(id string) bool {
	_, err := s.Stat(id)
	return err == nil
}

// Stat summarizes the persisted collection id from the vectors header, the vectors file
// size, and the chunks file. Vectors are not read.
// A missing collection yields an error wrapping os.ErrNotExist.
func (s *CollectionStore) Stat(id string) (models.CollectionInfo, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return models.CollectionInfo{}, err
	}
	f, err := os.Open(filepath.Join(dir, VectorsFile))
	if err != nil {
		return models.CollectionInfo{}, err
	}
	hdr, err := readVectorsHeader(f)
	f.Close()
	if err != nil {
		return models.CollectionInfo{}, &CorruptStoreError{ID: id, Reason: "unreadable vectors header", Err: err}
	}
	meta, err := readChunksFile(filepath.Join(dir, ChunksFile))
	if err != nil {
		if os.IsNotExist(err) {
			return models.CollectionInfo{}, &CorruptStoreError{ID: id, Reason: "missing chunks file", Err: err}
		}
		return models.CollectionInfo{}, &CorruptStoreError{ID: id, Reason: "unreadable chunks file", Err: err}
	}
	if meta.Version != metadataVersion || len(meta.Chunks) != hdr.Rows || meta.Dimension != hdr.Dim {
		return models.CollectionInfo{}, &CorruptStoreError{ID: id, Reason: "vectors and chunks files disagree"}
	}
	return models.CollectionInfo{
		ID:         id,
		State:      models.StateReady,
		ChunkCount: hdr.Rows,
		Dimension:  hdr.Dim,
	}, nil
}

// Load reads the collection id with its vectors. Inconsistent or unreadable files yield a
// *CorruptStoreError; Load never repairs them.
func (s *CollectionStore) Load(id string) (*models.Collection, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("collection %q: %w", id, os.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to stat collection %q: %w", id, err)
	}

	meta, err := readChunksFile(filepath.Join(dir, ChunksFile))
	if err != nil {
		return nil, &CorruptStoreError{ID: id, Reason: "unreadable chunks file", Err: err}
	}
	if meta.Version != metadataVersion {
		return nil, &CorruptStoreError{ID: id, Reason: fmt.Sprintf("unsupported chunks file version %d", meta.Version)}
	}

	f, err := os.Open(filepath.Join(dir, VectorsFile))
	if err != nil {
		return nil, &CorruptStoreError{ID: id, Reason: "unreadable vectors file", Err: err}
	}
	defer f.Close()
	if _, err := readVectorsHeader(f); err != nil {
		return nil, &CorruptStoreError{ID: id, Reason: "unreadable vectors file", Err: err}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, &CorruptStoreError{ID: id, Reason: "unreadable vectors file", Err: err}
	}
	idx, err := vector.ReadFlatIndex(f)
	if err != nil {
		return nil, &CorruptStoreError{ID: id, Reason: "unreadable vectors file", Err: err}
	}

	if idx.Len() != len(meta.Chunks) {
		return nil, &CorruptStoreError{ID: id, Reason: fmt.Sprintf("%d vectors but %d chunks", idx.Len(), len(meta.Chunks))}
	}
	if idx.Dim() != meta.Dimension {
		return nil, &CorruptStoreError{ID: id, Reason: fmt.Sprintf("vector dimension %d but metadata says %d", idx.Dim(), meta.Dimension)}
	}

	c := &models.Collection{
		ID:           id,
		Dimension:    meta.Dimension,
		SourceDigest: meta.SourceDigest,
		BuiltAt:      meta.BuiltAt,
		Chunks:       make([]models.Chunk, len(meta.Chunks)),
	}
	for i, rec := range meta.Chunks {
		if rec.ID != i {
			return nil, &CorruptStoreError{ID: id, Reason: fmt.Sprintf("chunk at position %d has id %d", i, rec.ID)}
		}
		row, _ := idx.Row(i)
		c.Chunks[i] = models.Chunk{ID: i, Text: rec.Text, Vector: row}
	}
	return c, nil
}

// Persist writes c and atomically replaces any previous pair for c.ID.
// On failure the previous pair, if any, is left as it was.
func (s *CollectionStore) Persist(c *models.Collection) error {
	dir, err := s.Dir(c.ID)
	if err != nil {
		return err
	}
	idx, err := vector.NewFlatIndex(c.Dimension)
	if err != nil {
		return err
	}
	if err := idx.Insert(c.Vectors()); err != nil {
		return fmt.Errorf("collection %q: %w", c.ID, err)
	}

	meta := chunksFile{
		Version:      metadataVersion,
		CollectionID: c.ID,
		Dimension:    c.Dimension,
		SourceDigest: c.SourceDigest,
		BuiltAt:      c.BuiltAt.UTC(),
		Chunks:       make([]chunkRecord, len(c.Chunks)),
	}
	for i, ch := range c.Chunks {
		meta.Chunks[i] = chunkRecord{ID: i, Text: ch.Text}
	}

	staging := filepath.Join(s.root, stagingPrefix+c.ID+"-"+uuid.NewString())
	if err := os.Mkdir(staging, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()

	if err := writeFileSync(filepath.Join(staging, VectorsFile), func(f *os.File) error {
		_, err := idx.WriteTo(f)
		return err
	}); err != nil {
		return fmt.Errorf("failed to write vectors: %w", err)
	}
	if err := writeFileSync(filepath.Join(staging, ChunksFile), func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetEscapeHTML(false)
		return enc.Encode(&meta)
	}); err != nil {
		return fmt.Errorf("failed to write chunks: %w", err)
	}
	if err := syncDir(staging); err != nil {
		return fmt.Errorf("failed to sync staging directory: %w", err)
	}

	var trash string
	if _, err := os.Stat(dir); err == nil {
		trash = filepath.Join(s.root, trashPrefix+c.ID+"-"+uuid.NewString())
		if err := os.Rename(dir, trash); err != nil {
			return fmt.Errorf("failed to move previous collection aside: %w", err)
		}
	}
	if err := os.Rename(staging, dir); err != nil {
		if trash != "" {
			_ = os.Rename(trash, dir)
		}
		return fmt.Errorf("failed to install collection: %w", err)
	}
	committed = true
	_ = syncDir(s.root)

	if trash != "" {
		if err := os.RemoveAll(trash); err != nil && s.logger != nil {
			s.logger.Warn("failed to remove previous collection files", zap.String("path", trash), zap.Error(err))
		}
	}
	if s.logger != nil {
		s.logger.Debug("persisted collection",
			zap.String("collection", c.ID),
			zap.Int("chunks", len(c.Chunks)),
			zap.Int("dimension", c.Dimension))
	}
	return nil
}

// Invalidate removes the collection's files. Removing a missing collection is not an error.
func (s *CollectionStore) Invalidate(id string) error {
	dir, err := s.Dir(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove collection %q: %w", id, err)
	}
	return nil
}

// List returns the ids of collection directories in lexical order.
func (s *CollectionStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage root: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if collectionIDPattern.MatchString(name) {
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// readVectorsHeader reads the header of f and checks it against the file size, so a
// corrupt header is rejected before any vector data is read.
func readVectorsHeader(f *os.File) (vector.Header, error) {
	hdr, err := vector.ReadHeader(f)
	if err != nil {
		return vector.Header{}, err
	}
	info, err := f.Stat()
	if err != nil {
		return vector.Header{}, err
	}
	if want := hdr.FileSize(); info.Size() != want {
		return vector.Header{}, fmt.Errorf("%w: file is %d bytes, header implies %d", vector.ErrBadFormat, info.Size(), want)
	}
	return hdr, nil
}

func readChunksFile(path string) (*chunksFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta chunksFile
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func writeFileSync(path string, write func(*os.File) error) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
