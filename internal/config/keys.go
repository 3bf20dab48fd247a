package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "openai.api_key", typ: kString, env: "OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.base_url", typ: kString, env: "PDFQA_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.model", typ: kString, env: "OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.Model },
	},
	{
		key: "index.default_id", typ: kString, env: "VECTOR_STORE_ID",
		apply:   func(cfg *Config, v any) { cfg.Index.DefaultID = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.DefaultID },
	},
	{
		key: "index.cache_file", typ: kString, env: "PDFQA_INDEX_CACHE_FILE",
		apply:   func(cfg *Config, v any) { cfg.Index.CacheFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.CacheFile },
	},
	{
		key: "corpus.dir", typ: kString, env: "PDFQA_CORPUS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Corpus.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Corpus.Dir },
	},
	{
		key: "corpus.max_documents", typ: kInt, env: "PDFQA_CORPUS_MAX_DOCUMENTS",
		apply:   func(cfg *Config, v any) { cfg.Corpus.MaxDocuments = v.(int) },
		extract: func(cfg Config) any { return cfg.Corpus.MaxDocuments },
	},
	{
		key: "sync.page_size", typ: kInt, env: "PDFQA_SYNC_PAGE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Sync.PageSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.PageSize },
	},
	{
		key: "sync.lookup_concurrency", typ: kInt, env: "PDFQA_SYNC_LOOKUP_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Sync.LookupConcurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.LookupConcurrency },
	},
	{
		key: "poll.interval", typ: kDuration, env: "PDFQA_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Poll.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.Interval },
	},
	{
		key: "poll.timeout", typ: kDuration, env: "PDFQA_POLL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Poll.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.Timeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PDFQA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "server.port", typ: kInt, env: "PDFQA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "PDFQA_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "watch.debounce", typ: kDuration, env: "PDFQA_WATCH_DEBOUNCE",
		apply:   func(cfg *Config, v any) { cfg.Watch.Debounce = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Watch.Debounce },
	},
	{
		key: "log.level", typ: kString, env: "PDFQA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parse converts a raw backend or environment value to the key's type.
func (s keySpec) parse(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		return i, nil
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q", raw)
		}
		return d, nil
	default:
		return raw, nil
	}
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.Lookup(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] config key %s: %v. Using default value.\n", s.key, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] env var %s: %v. Using default value.\n", s.env, err)
			continue
		}
		s.apply(cfg, v)
	}
}
