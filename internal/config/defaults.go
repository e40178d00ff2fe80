package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 5 * time.Minute
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "/usr/local/var/webrag/data/collections"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/webrag/data/db/webrag.db"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderRemote
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "CLOUDFLARE_API_KEY"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1024
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.MaxAttempts == 0 {
		cfg.Embedding.MaxAttempts = 3
	}
	if cfg.Embedding.BaseDelay == 0 {
		cfg.Embedding.BaseDelay = time.Second
	}
	if cfg.Embedding.MaxDelay == 0 {
		cfg.Embedding.MaxDelay = 30 * time.Second
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/webrag/data/models/bge-large-en-v1.5.onnx"
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 512
	}

	if cfg.Chunking.MaxSize == 0 {
		cfg.Chunking.MaxSize = 500
	}
	if cfg.Retrieval.DefaultK == 0 {
		cfg.Retrieval.DefaultK = 3
	}
	if cfg.Retrieval.MaxK == 0 {
		cfg.Retrieval.MaxK = 50
	}
	if cfg.Retrieval.Index == "" {
		cfg.Retrieval.Index = "flat"
	}

	if cfg.Scrape.Timeout == 0 {
		cfg.Scrape.Timeout = 30 * time.Second
	}
	if cfg.Scrape.UserAgent == "" {
		cfg.Scrape.UserAgent = "webrag/1.0"
	}
	if cfg.Scrape.MaxBytes == 0 {
		cfg.Scrape.MaxBytes = 10 << 20
	}

	if cfg.Answer.BaseURL == "" {
		cfg.Answer.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.Answer.APIKeyEnv == "" {
		cfg.Answer.APIKeyEnv = "GROQ_API_KEY"
	}
	if cfg.Answer.Model == "" {
		cfg.Answer.Model = "llama-3.1-8b-instant"
	}
	if cfg.Answer.Temperature == 0 {
		cfg.Answer.Temperature = 0.7
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".html", ".htm", ".pdf", ".docx", ".xlsx", ".odt", ".rtf"}
	}
	if cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
