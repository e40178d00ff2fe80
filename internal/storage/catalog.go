package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/webrag/internal/models"
)

// ErrRecordNotFound is returned when a catalog row does not exist.
var ErrRecordNotFound = errors.New("record not found")

// Catalog records registered collections, their index status, and chat history.
type Catalog interface {
	UpsertCollection(ctx context.Context, id string, input *models.CollectionInput) (*models.CollectionRecord, error)
	GetCollection(ctx context.Context, id string) (*models.CollectionRecord, error)
	ListCollections(ctx context.Context) ([]*models.CollectionRecord, error)
	UpdateStatus(ctx context.Context, id string, status StatusUpdate) error
	DeleteCollection(ctx context.Context, id string) error

	CreateChat(ctx context.Context, chat *models.Chat) error
	ListChats(ctx context.Context, collectionID string, limit int) ([]*models.Chat, error)

	Close() error
}

// StatusUpdate is the index state of a collection as last observed by the retrieval service.
type StatusUpdate struct {
	State        models.IndexState
	ChunkCount   int
	Dimension    int
	SourceDigest string
	IndexedAt    *time.Time
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db *sql.DB
}

// NewSQLiteCatalog opens or creates the catalog database at dbPath.
// Parent directories are created if they do not exist.
func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteCatalog{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		documents_dir TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'empty',
		chunk_count INTEGER NOT NULL DEFAULT 0,
		dimension INTEGER NOT NULL DEFAULT 0,
		source_digest TEXT NOT NULL DEFAULT '',
		indexed_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		collection_id TEXT NOT NULL,
		query TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (collection_id) REFERENCES collections(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chats_collection ON chats(collection_id, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// UpsertCollection registers id or updates its title and source. Empty input fields keep
// their stored values.
func (s *SQLiteCatalog) UpsertCollection(ctx context.Context, id string, input *models.CollectionInput) (*models.CollectionRecord, error) {
	if err := ValidateCollectionID(id); err != nil {
		return nil, err
	}
	if input == nil {
		input = &models.CollectionInput{}
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (id, title, source_url, documents_dir, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = CASE WHEN excluded.title = '' THEN collections.title ELSE excluded.title END,
		   source_url = CASE WHEN excluded.source_url = '' THEN collections.source_url ELSE excluded.source_url END,
		   documents_dir = CASE WHEN excluded.documents_dir = '' THEN collections.documents_dir ELSE excluded.documents_dir END,
		   updated_at = excluded.updated_at`,
		id, input.Title, input.SourceURL, input.DocumentsDir, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert collection: %w", err)
	}
	return s.GetCollection(ctx, id)
}

const collectionColumns = `id, title, source_url, documents_dir, status, chunk_count, dimension,
	source_digest, indexed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollection(row rowScanner) (*models.CollectionRecord, error) {
	var rec models.CollectionRecord
	var status string
	var indexedAt sql.NullTime
	if err := row.Scan(&rec.ID, &rec.Title, &rec.SourceURL, &rec.DocumentsDir, &status,
		&rec.ChunkCount, &rec.Dimension, &rec.SourceDigest, &indexedAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Status = models.IndexState(status)
	if indexedAt.Valid {
		t := indexedAt.Time
		rec.IndexedAt = &t
	}
	return &rec, nil
}

// GetCollection returns the record for id, or ErrRecordNotFound.
func (s *SQLiteCatalog) GetCollection(ctx context.Context, id string) (*models.CollectionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+collectionColumns+` FROM collections WHERE id = ?`, id)
	rec, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("collection %q: %w", id, ErrRecordNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListCollections returns all records ordered by id.
func (s *SQLiteCatalog) ListCollections(ctx context.Context) ([]*models.CollectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+collectionColumns+` FROM collections ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.CollectionRecord
	for rows.Next() {
		rec, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateStatus records the index state of id, registering the collection if it is unknown.
func (s *SQLiteCatalog) UpdateStatus(ctx context.Context, id string, st StatusUpdate) error {
	if !st.State.Valid() {
		return fmt.Errorf("invalid index state %q", st.State)
	}
	var indexedAt any
	if st.IndexedAt != nil {
		indexedAt = st.IndexedAt.UTC()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (id, status, chunk_count, dimension, source_digest, indexed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   chunk_count = excluded.chunk_count,
		   dimension = excluded.dimension,
		   source_digest = excluded.source_digest,
		   indexed_at = COALESCE(excluded.indexed_at, collections.indexed_at),
		   updated_at = excluded.updated_at`,
		id, string(st.State), st.ChunkCount, st.Dimension, st.SourceDigest, indexedAt, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to update collection status: %w", err)
	}
	return nil
}

// DeleteCollection removes id and its chats.
func (s *SQLiteCatalog) DeleteCollection(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("collection %q: %w", id, ErrRecordNotFound)
	}
	return nil
}

// CreateChat stores chat, assigning an id and timestamp when unset.
func (s *SQLiteCatalog) CreateChat(ctx context.Context, chat *models.Chat) error {
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, collection_id, query, prompt, response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		chat.ID, chat.CollectionID, chat.Query, chat.Prompt, chat.Response, chat.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

// ListChats returns the newest chats of a collection first. limit <= 0 returns all.
func (s *SQLiteCatalog) ListChats(ctx context.Context, collectionID string, limit int) ([]*models.Chat, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, collection_id, query, prompt, response, created_at
		 FROM chats WHERE collection_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		collectionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		var c models.Chat
		if err := rows.Scan(&c.ID, &c.CollectionID, &c.Query, &c.Prompt, &c.Response, &c.CreatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, &c)
	}
	return chats, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteCatalog) Close() error {
	return s.db.Close()
}
