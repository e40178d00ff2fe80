package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/webrag/internal/extract"
	"github.com/hyperjump/webrag/internal/models"
	"github.com/hyperjump/webrag/internal/storage"
	"go.uber.org/zap"
)

// ErrNoSource is returned when a collection has no upstream content to build from.
var ErrNoSource = errors.New("no source available for collection")

// DefaultExtensions are the document types read from a documents directory.
var DefaultExtensions = []string{".txt", ".md", ".html", ".htm", ".pdf", ".docx", ".xlsx", ".odt", ".rtf"}

// Fetcher fetches the readable text of a web page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// RecordGetter looks up catalog records.
type RecordGetter interface {
	GetCollection(ctx context.Context, id string) (*models.CollectionRecord, error)
}

// Loader reads upstream content (web pages, document files) into plain texts.
type Loader struct {
	extractor  *extract.Extractor
	fetcher    Fetcher
	records    RecordGetter
	extensions []string
	logger     *zap.Logger // optional; when set, logs debug events
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets a logger for debug output (files read, pages fetched, etc.).
func WithLogger(l *zap.Logger) LoaderOption {
	return func(ld *Loader) { ld.logger = l }
}

// WithFetcher sets the web page fetcher used for URL sources.
func WithFetcher(f Fetcher) LoaderOption {
	return func(ld *Loader) { ld.fetcher = f }
}

// WithRecords sets the catalog used by ResolveSource.
func WithRecords(r RecordGetter) LoaderOption {
	return func(ld *Loader) { ld.records = r }
}

// WithExtensions restricts directory loading to the given extensions.
func WithExtensions(exts []string) LoaderOption {
	return func(ld *Loader) {
		if len(exts) > 0 {
			ld.extensions = exts
		}
	}
}

// NewLoader creates a loader. extractor may be nil; when nil, files are read as plain text.
func NewLoader(extractor *extract.Extractor, opts ...LoaderOption) *Loader {
	ld := &Loader{
		extractor:  extractor,
		extensions: DefaultExtensions,
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Extensions returns the extensions accepted by LoadDirectory.
func (ld *Loader) Extensions() []string {
	return ld.extensions
}

// ResolveSource returns the texts of the source registered for collection id in the
// catalog. It returns ErrNoSource when no catalog is set, the collection is not
// registered, or its record names no source.
func (ld *Loader) ResolveSource(ctx context.Context, id string) ([]string, error) {
	if ld.records == nil {
		return nil, ErrNoSource
	}
	rec, err := ld.records.GetCollection(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return nil, ErrNoSource
		}
		return nil, fmt.Errorf("get collection record: %w", err)
	}
	return ld.LoadRecord(ctx, rec)
}

// LoadRecord loads the source named by rec. A documents directory wins over a URL.
func (ld *Loader) LoadRecord(ctx context.Context, rec *models.CollectionRecord) ([]string, error) {
	switch {
	case rec.DocumentsDir != "":
		return ld.LoadDirectory(ctx, rec.DocumentsDir)
	case rec.SourceURL != "":
		return ld.LoadURL(ctx, rec.SourceURL)
	default:
		return nil, ErrNoSource
	}
}

// LoadURL fetches the page at url and returns its text as a single document.
func (ld *Loader) LoadURL(ctx context.Context, url string) ([]string, error) {
	if ld.fetcher == nil {
		return nil, fmt.Errorf("no fetcher configured for %s", url)
	}
	if ld.logger != nil {
		ld.logger.Debug("loader fetching page", zap.String("url", url))
	}
	text, err := ld.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("fetch %s: %w", url, ErrNoSource)
	}
	return []string{text}, nil
}

// LoadFile reads a document file and returns its text. The file's extension must be
// one of the loader's extensions.
func (ld *Loader) LoadFile(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if !extensionAllowed(ext, ld.extensions) {
		return "", fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file: %s", absPath)
	}
	if ld.extractor != nil {
		return ld.extractor.Extract(absPath)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// LoadDirectory walks dir recursively in lexical order and returns the text of each
// regular file with an accepted extension. Files that fail to extract are logged and
// skipped; ErrNoSource is returned when nothing readable is found.
func (ld *Loader) LoadDirectory(ctx context.Context, dir string) ([]string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var texts []string
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !extensionAllowed(filepath.Ext(path), ld.extensions) {
			return nil
		}
		text, loadErr := ld.LoadFile(path)
		if loadErr != nil {
			if ld.logger != nil {
				ld.logger.Warn("loader skipping unreadable file", zap.String("path", path), zap.Error(loadErr))
			}
			return nil
		}
		if strings.TrimSpace(text) == "" {
			return nil
		}
		if ld.logger != nil {
			ld.logger.Debug("loader read file", zap.String("path", path), zap.Int("bytes", len(text)))
		}
		texts = append(texts, text)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("%s: %w", absDir, ErrNoSource)
	}
	return texts, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
