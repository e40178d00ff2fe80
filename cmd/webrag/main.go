// Package main is the webrag CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/webrag/internal/answer"
	"github.com/hyperjump/webrag/internal/cli"
	"github.com/hyperjump/webrag/internal/config"
	"github.com/hyperjump/webrag/internal/embedding"
	"github.com/hyperjump/webrag/internal/extract"
	"github.com/hyperjump/webrag/internal/indexer"
	"github.com/hyperjump/webrag/internal/models"
	"github.com/hyperjump/webrag/internal/retrieval"
	"github.com/hyperjump/webrag/internal/scrape"
	"github.com/hyperjump/webrag/internal/server"
	"github.com/hyperjump/webrag/internal/storage"
	"github.com/hyperjump/webrag/internal/vector"
	"github.com/hyperjump/webrag/internal/watcher"
	"github.com/hyperjump/webrag/pkg/utils"
)

var version = "dev"

// loadConfig resolves and loads the config. When no path was given and no config file
// exists, built-in defaults are used. Returns the config and the path that was loaded.
func loadConfig(explicit string) (*config.Config, string, error) {
	path := config.Resolve(explicit)
	cfg, err := config.Load(path)
	if err != nil {
		if explicit == "" && errors.Is(err, os.ErrNotExist) {
			config.LoadEnv(".env")
			cfg = &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "index":
		runIndex()
	case "query":
		runQuery()
	case "ask":
		runAsk()
	case "rebuild":
		runRebuild()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("webrag version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config, builds the logger and initializes components, exiting on failure.
func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, components
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (builds, retries, file events, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []server.Option{server.WithDiskUsage(components.Store)}
	if components.Generator != nil {
		opts = append(opts, server.WithGenerator(components.Generator))
	} else {
		logger.Info("answer generation disabled", zap.String("api_key_env", cfg.Answer.APIKeyEnv))
	}
	if cfg.Watch.Enabled {
		w := newWatcher(cfg, logger, components)
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
		watchRegistered(ctx, w, components, logger)
		opts = append(opts, server.WithWatcher(w))
	}

	srv := server.NewServer(components.Service, components.Catalog, components.Loader, &cfg.Server, logger, opts...)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	waitForSignal()
	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
}

// newWatcher returns a watcher that refreshes a collection from its documents directory
// whenever the directory changes.
func newWatcher(cfg *config.Config, logger *zap.Logger, c *Components) *watcher.Watcher {
	return watcher.New(
		func(ctx context.Context, id, dir string) {
			docs, err := c.Loader.LoadDirectory(ctx, dir)
			if err != nil {
				logger.Warn("watch load directory failed", zap.String("collection", id), zap.String("dir", dir), zap.Error(err))
				return
			}
			built, err := c.Service.Refresh(ctx, id, docs)
			if err != nil {
				logger.Warn("watch refresh failed", zap.String("collection", id), zap.Error(err))
				return
			}
			if built {
				logger.Info("collection refreshed from directory", zap.String("collection", id), zap.String("dir", dir))
			}
		},
		watcher.WithLogger(logger),
		watcher.WithDebounce(cfg.Watch.Debounce),
		watcher.WithExtensions(cfg.Watch.Extensions),
		watcher.WithRecursive(cfg.Watch.RecursiveOrDefault()),
	)
}

// watchRegistered watches the documents directory of every catalog record that has one.
func watchRegistered(ctx context.Context, w *watcher.Watcher, c *Components, logger *zap.Logger) {
	records, err := c.Catalog.ListCollections(ctx)
	if err != nil {
		logger.Warn("failed to list collections for watching", zap.Error(err))
		return
	}
	for _, rec := range records {
		if rec.DocumentsDir == "" {
			continue
		}
		if err := w.Watch(rec.ID, rec.DocumentsDir, true); err != nil {
			logger.Warn("failed to watch documents directory",
				zap.String("collection", rec.ID), zap.String("dir", rec.DocumentsDir), zap.Error(err))
		}
	}
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "webrag query site what is it --k 5"
// would otherwise leave --k unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positional args with spaces so multi-word questions work the same with
// or without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	sourceURL := fs.String("url", "", "web page to scrape")
	dir := fs.String("dir", "", "documents directory to read")
	title := fs.String("title", "", "collection title")
	force := fs.Bool("force", false, "rebuild even when the source is unchanged")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: webrag index [--url URL | --dir DIR] [--title T] [--force] <collection> [file...]")
		os.Exit(1)
	}
	id := fs.Arg(0)
	files := fs.Args()[1:]

	_, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()
	ctx := context.Background()

	rec, err := components.Catalog.UpsertCollection(ctx, id, &models.CollectionInput{
		Title:        *title,
		SourceURL:    *sourceURL,
		DocumentsDir: *dir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Register failed: %v\n", err)
		os.Exit(1)
	}

	var docs []string
	for _, f := range files {
		text, err := components.Loader.LoadFile(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Read %s failed: %v\n", f, err)
			os.Exit(1)
		}
		docs = append(docs, text)
	}
	if len(docs) == 0 {
		if docs, err = components.Loader.LoadRecord(ctx, rec); err != nil {
			fmt.Fprintf(os.Stderr, "Load source failed: %v\n", err)
			os.Exit(1)
		}
	}

	if *force {
		coll, err := components.Service.Rebuild(ctx, id, docs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Indexed %s: %d chunks\n", id, coll.Len())
		return
	}
	built, err := components.Service.Refresh(ctx, id, docs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
		os.Exit(1)
	}
	info := components.Service.Info(id)
	if built {
		fmt.Printf("Indexed %s: %d chunks\n", id, info.ChunkCount)
	} else {
		fmt.Printf("Unchanged %s: %d chunks\n", id, info.ChunkCount)
	}
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	serverURL := fs.String("server", "", "server URL (empty = use local storage)")
	k := fs.Int("k", 0, "number of results (0 = configured default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 2 {
		fmt.Println("Usage: webrag query [flags] <collection> <query>")
		os.Exit(1)
	}
	id, text := fs.Arg(0), joinArgs(fs.Args()[1:])
	format := parseFormat(*outputFormat)
	req := &models.QueryRequest{Query: text, K: *k}

	var response models.QueryResponse
	if *serverURL != "" {
		if err := postJSON(collectionURL(*serverURL, id, "query"), req, &response); err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		_, logger, components := setup(*configPath, *debug)
		defer logger.Sync()
		defer components.Close()
		start := time.Now()
		hits, err := components.Service.Query(context.Background(), id, text, *k)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
		response = models.QueryResponse{CollectionID: id, Query: text, Results: hits, QueryTime: time.Since(start).Milliseconds()}
	}
	if err := cli.WriteResults(os.Stdout, &response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	serverURL := fs.String("server", "", "server URL (empty = use local storage)")
	k := fs.Int("k", 0, "number of context chunks (0 = configured default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 2 {
		fmt.Println("Usage: webrag ask [flags] <collection> <question>")
		os.Exit(1)
	}
	id, question := fs.Arg(0), joinArgs(fs.Args()[1:])
	format := parseFormat(*outputFormat)

	var response models.AskResponse
	if *serverURL != "" {
		req := &models.QueryRequest{Query: question, K: *k}
		if err := postJSON(collectionURL(*serverURL, id, "ask"), req, &response); err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, logger, components := setup(*configPath, *debug)
		defer logger.Sync()
		defer components.Close()
		if components.Generator == nil {
			fmt.Fprintf(os.Stderr, "Answer generation needs an API key in $%s\n", cfg.Answer.APIKeyEnv)
			os.Exit(1)
		}
		ctx := context.Background()
		start := time.Now()
		hits, err := components.Service.Query(ctx, id, question, *k)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
		ans, err := components.Generator.Generate(ctx, question, hits)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
		response = models.AskResponse{
			QueryResponse: models.QueryResponse{CollectionID: id, Query: question, Results: hits, QueryTime: time.Since(start).Milliseconds()},
			Answer:        ans.Text,
		}
		chat := &models.Chat{CollectionID: id, Query: question, Prompt: ans.Prompt, Response: ans.Text}
		if _, err := components.Catalog.UpsertCollection(ctx, id, nil); err == nil {
			if err := components.Catalog.CreateChat(ctx, chat); err == nil {
				response.ChatID = chat.ID
			} else {
				logger.Warn("failed to store chat", zap.Error(err))
			}
		}
	}
	if err := cli.WriteAnswer(os.Stdout, &response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: webrag rebuild [flags] <collection>")
		os.Exit(1)
	}
	id := fs.Arg(0)
	_, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()
	ctx := context.Background()

	docs, err := components.Loader.ResolveSource(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load source failed: %v\n", err)
		os.Exit(1)
	}
	coll, err := components.Service.Rebuild(ctx, id, docs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Rebuild failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Rebuilt %s: %d chunks\n", id, coll.Len())
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: webrag delete [flags] <collection>")
		os.Exit(1)
	}
	id := fs.Arg(0)
	_, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()
	ctx := context.Background()

	if err := components.Service.Invalidate(ctx, id); err != nil {
		fmt.Fprintf(os.Stderr, "Deletion failed: %v\n", err)
		os.Exit(1)
	}
	if err := components.Catalog.DeleteCollection(ctx, id); err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		fmt.Fprintf(os.Stderr, "Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Collection deleted: %s\n", id)
}

// statusResponse is the local rendition of GET /api/v1/status plus the collection list.
type statusResponse struct {
	Collections    []models.CollectionInfo `json:"collections"`
	DiskUsageBytes *int64                  `json:"disk_usage_bytes,omitempty"`
	Root           string                  `json:"root,omitempty"`
	DatabasePath   string                  `json:"database_path,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	serverURL := fs.String("server", "", "server URL (empty = use local storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var status statusResponse
	if *serverURL != "" {
		var out struct {
			Collections []models.CollectionInfo `json:"collections"`
		}
		if err := getJSON(strings.TrimRight(*serverURL, "/")+"/api/v1/collections", &out); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status.Collections = out.Collections
	} else {
		cfg, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		infos, err := components.Service.Collections()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status.Collections = infos
		status.Root = cfg.Storage.Root
		status.DatabasePath = cfg.Storage.DatabasePath
		if n, err := storage.DiskUsageBytes(cfg.Storage.Root, cfg.Storage.DatabasePath); err == nil {
			status.DiskUsageBytes = &n
		}
	}

	if format == cli.OutputJSON {
		if err := cli.WriteJSON(os.Stdout, status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	_ = cli.WriteCollections(os.Stdout, status.Collections, cli.OutputText)
	if status.DiskUsageBytes != nil {
		fmt.Println()
		fmt.Printf("disk_usage_bytes:   %d   # collections + catalog on disk\n", *status.DiskUsageBytes)
	}
	if status.Root != "" {
		fmt.Printf("root:               %s\n", status.Root)
	}
	if status.DatabasePath != "" {
		fmt.Printf("database_path:      %s\n", status.DatabasePath)
	}
}

func runWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	title := fs.String("title", "", "collection title")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 2 {
		fmt.Println("Usage: webrag watch [flags] <collection> <directory>")
		os.Exit(1)
	}
	id, dir := fs.Arg(0), fs.Arg(1)
	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := components.Catalog.UpsertCollection(ctx, id, &models.CollectionInput{Title: *title, DocumentsDir: dir}); err != nil {
		fmt.Fprintf(os.Stderr, "Register failed: %v\n", err)
		os.Exit(1)
	}
	w := newWatcher(cfg, logger, components)
	if err := w.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	defer w.Stop()
	if err := w.Watch(id, dir, true); err != nil {
		fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Watching %s for %s (Ctrl+C to stop)\n", dir, id)
	waitForSignal()
}

func collectionURL(serverURL, id, action string) string {
	return strings.TrimRight(serverURL, "/") + "/api/v1/collections/" + url.PathEscape(id) + "/" + action
}

func postJSON(u string, body, out interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(u, "application/json", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

func getJSON(u string, out interface{}) error {
	resp, err := http.Get(u)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Components holds initialized services.
type Components struct {
	Store     *storage.CollectionStore
	Catalog   storage.Catalog
	Embedder  embedding.Embedder
	Loader    *indexer.Loader
	Service   *retrieval.Service
	Generator answer.Generator
}

func (c *Components) Close() {
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	if _, err := vector.NewIndex(cfg.Retrieval.Index, 1); err != nil {
		return nil, fmt.Errorf("invalid retrieval config: %w", err)
	}
	store, err := storage.NewCollectionStore(cfg.Storage.Root, storage.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize collection store: %w", err)
	}
	catalog, err := storage.NewSQLiteCatalog(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}

	embedder, err := newEmbedder(&cfg.Embedding, logger)
	if err != nil {
		_ = catalog.Close()
		return nil, err
	}

	generator, err := newGenerator(&cfg.Answer, logger)
	if err != nil {
		_ = catalog.Close()
		_ = embedder.Close()
		return nil, err
	}

	scraper := scrape.New(
		scrape.WithHTTPClient(&http.Client{Timeout: cfg.Scrape.Timeout}),
		scrape.WithUserAgent(cfg.Scrape.UserAgent),
		scrape.WithMaxBytes(cfg.Scrape.MaxBytes),
		scrape.WithLogger(logger),
	)
	loaderOpts := []indexer.LoaderOption{
		indexer.WithFetcher(scraper),
		indexer.WithRecords(catalog),
		indexer.WithExtensions(cfg.Watch.Extensions),
	}
	if debug {
		loaderOpts = append(loaderOpts, indexer.WithLogger(logger))
	}
	loader := indexer.NewLoader(extract.NewExtractor(), loaderOpts...)

	service := retrieval.NewService(store, embedder,
		retrieval.WithChunker(indexer.NewChunker(cfg.Chunking.MaxSize)),
		retrieval.WithSourceResolver(loader),
		retrieval.WithCatalog(catalog),
		retrieval.WithK(cfg.Retrieval.DefaultK, cfg.Retrieval.MaxK),
		retrieval.WithIndexKind(cfg.Retrieval.Index),
		retrieval.WithLogger(logger),
	)

	return &Components{
		Store:     store,
		Catalog:   catalog,
		Embedder:  embedder,
		Loader:    loader,
		Service:   service,
		Generator: generator,
	}, nil
}

// newEmbedder builds the configured embedding provider, wrapped in an LRU cache when
// cache_size is positive.
func newEmbedder(cfg *config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	var inner embedding.Embedder
	switch cfg.Provider {
	case config.ProviderRemote:
		policy := embedding.DefaultRetryPolicy()
		policy.MaxAttempts = cfg.MaxAttempts
		policy.BaseDelay = cfg.BaseDelay
		policy.MaxDelay = cfg.MaxDelay
		remote, err := embedding.NewRemoteEmbedder(embedding.RemoteConfig{
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey(),
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
			Retry:      policy,
		}, embedding.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize remote embedder: %w", err)
		}
		inner = remote
	case config.ProviderONNX:
		local, err := embedding.NewLocalEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize onnx embedder: %w", err)
		}
		inner = local
	case config.ProviderMock:
		inner = embedding.NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	logger.Info("embedder initialized", zap.String("provider", cfg.Provider), zap.Int("dimensions", cfg.Dimensions))
	if cfg.CacheSize > 0 {
		return embedding.NewCachedEmbedder(inner, cfg.CacheSize), nil
	}
	return inner, nil
}

// newGenerator returns nil when no API key is available; ask is then disabled.
func newGenerator(cfg *config.AnswerConfig, logger *zap.Logger) (answer.Generator, error) {
	key := cfg.APIKey()
	if key == "" {
		return nil, nil
	}
	g, err := answer.NewOpenAIGenerator(answer.Config{
		BaseURL:     cfg.BaseURL,
		APIKey:      key,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
	}, answer.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize answer generator: %w", err)
	}
	return g, nil
}

func printUsage() {
	fmt.Println(`webrag - per-website retrieval-augmented question answering

Usage:
  webrag server [flags]                     Start the HTTP server
  webrag index [flags] <collection> [file]  Register a collection and build its index
  webrag query [flags] <collection> <query> Retrieve the closest chunks
  webrag ask [flags] <collection> <question> Answer a question from the collection
  webrag rebuild [flags] <collection>       Rebuild a collection from its source
  webrag delete [flags] <collection>        Delete a collection and its index
  webrag status [flags]                     Show collections and disk usage
  webrag watch [flags] <collection> <dir>   Keep a collection in sync with a directory
  webrag version                            Show version
  webrag help                               Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/webrag/config.yaml, else ./config.yaml)
  --debug            Enable debug logging

Index Flags:
  --url string       Web page to scrape
  --dir string       Documents directory to read
  --title string     Collection title
  --force            Rebuild even when the source is unchanged

Query/Ask Flags:
  --k int            Number of chunks (default from config)
  --server string    Server URL; empty uses local storage
  --output string    Output format: text or json (default: text)

Status Flags:
  --server string    Server URL; empty uses local storage
  --output string    Output format: text or json (default: text)

Examples:
  webrag index --url https://example.com --title "Example" example
  webrag index --dir ~/docs handbook
  webrag query example what does the company do
  webrag ask --k 5 example "Who founded the company?"
  webrag status --output json
  webrag watch handbook ~/docs`)
}
