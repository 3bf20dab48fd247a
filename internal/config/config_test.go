package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface, keyed by account.
type mockKeychain map[string]string

func (m mockKeychain) Get(service, account string) (string, error) {
	if v, ok := m[account]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

// mapBackend is an in-memory Backend.
type mapBackend map[string]string

func (b mapBackend) Lookup(key string) (string, bool, error) {
	v, ok := b[key]
	return v, ok, nil
}

func (b mapBackend) Set(key, val string) error {
	b[key] = val
	return nil
}

func (b mapBackend) Unset(key string) error {
	delete(b, key)
	return nil
}

// clearEnv blanks every variable the loader reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when the backend is empty.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.OpenAI.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("OpenAI.BaseURL = %q", cfg.OpenAI.BaseURL)
	}
	if cfg.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("OpenAI.Model = %q, want gpt-4o-mini", cfg.OpenAI.Model)
	}
	if cfg.Index.CacheFile != ".pdfqa/vector_store.json" {
		t.Errorf("Index.CacheFile = %q", cfg.Index.CacheFile)
	}
	if cfg.Corpus.Dir != "./pdfs" {
		t.Errorf("Corpus.Dir = %q, want ./pdfs", cfg.Corpus.Dir)
	}
	if cfg.Corpus.MaxDocuments != 10 {
		t.Errorf("Corpus.MaxDocuments = %d, want 10", cfg.Corpus.MaxDocuments)
	}
	if cfg.Sync.PageSize != 100 || cfg.Sync.LookupConcurrency != 1 {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if cfg.Poll.Interval != 1400*time.Millisecond {
		t.Errorf("Poll.Interval = %v, want 1.4s", cfg.Poll.Interval)
	}
	if cfg.Poll.Timeout != 10*time.Minute {
		t.Errorf("Poll.Timeout = %v, want 10m", cfg.Poll.Timeout)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Watch.Debounce != 2*time.Second {
		t.Errorf("Watch.Debounce = %v, want 2s", cfg.Watch.Debounce)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	t.Setenv("VECTOR_STORE_ID", "vs_env")
	t.Setenv("PDFQA_POLL_TIMEOUT", "30s")
	t.Setenv("PDFQA_SERVER_PORT", "5000")

	b := mapBackend{"openai.model": "from-backend", "server.port": "4200"}
	cfg, err := loadWith(b, mockKeychain{"openai_api_key": "keychain-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.OpenAI.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.OpenAI.APIKey)
	}
	if cfg.OpenAI.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", cfg.OpenAI.Model)
	}
	if cfg.Index.DefaultID != "vs_env" {
		t.Errorf("Index.DefaultID = %q, want vs_env", cfg.Index.DefaultID)
	}
	if cfg.Poll.Timeout != 30*time.Second {
		t.Errorf("Poll.Timeout = %v, want 30s", cfg.Poll.Timeout)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
}

// TestInvalidEnvKeepsDefault verifies unparsable env values are ignored.
func TestInvalidEnvKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("PDFQA_POLL_INTERVAL", "soon")
	t.Setenv("PDFQA_CORPUS_MAX_DOCUMENTS", "ten")

	cfg, err := loadWith(mapBackend{}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Poll.Interval != 1400*time.Millisecond {
		t.Errorf("Poll.Interval = %v", cfg.Poll.Interval)
	}
	if cfg.Corpus.MaxDocuments != 10 {
		t.Errorf("Corpus.MaxDocuments = %d", cfg.Corpus.MaxDocuments)
	}
}

// TestBackendValues verifies that all non-secret keys are read from the backend.
func TestBackendValues(t *testing.T) {
	clearEnv(t)
	b := mapBackend{
		"openai.base_url":         "http://localhost:9999/v1",
		"index.cache_file":        "/tmp/pdfqa-test/cache.json",
		"corpus.dir":              "/srv/docs",
		"corpus.max_documents":    "25",
		"sync.lookup_concurrency": "4",
		"poll.interval":           "500ms",
		"storage.data_dir":        "/tmp/pdfqa-test",
		"watch.debounce":          "5s",
		"log.level":               "debug",
		"openai.api_key":          "secrets-are-not-read-from-backend",
	}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.OpenAI.BaseURL != "http://localhost:9999/v1" {
		t.Errorf("OpenAI.BaseURL = %q", cfg.OpenAI.BaseURL)
	}
	if cfg.Index.CacheFile != "/tmp/pdfqa-test/cache.json" {
		t.Errorf("Index.CacheFile = %q", cfg.Index.CacheFile)
	}
	if cfg.Corpus.Dir != "/srv/docs" || cfg.Corpus.MaxDocuments != 25 {
		t.Errorf("Corpus = %+v", cfg.Corpus)
	}
	if cfg.Sync.LookupConcurrency != 4 {
		t.Errorf("Sync.LookupConcurrency = %d", cfg.Sync.LookupConcurrency)
	}
	if cfg.Poll.Interval != 500*time.Millisecond {
		t.Errorf("Poll.Interval = %v", cfg.Poll.Interval)
	}
	if cfg.Storage.DataDir != "/tmp/pdfqa-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Watch.Debounce != 5*time.Second {
		t.Errorf("Watch.Debounce = %v", cfg.Watch.Debounce)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.OpenAI.APIKey != "" {
		t.Errorf("APIKey = %q, secrets must not come from the backend", cfg.OpenAI.APIKey)
	}
}

// TestKeychainFallback verifies the keychain is consulted when no secret is in env.
func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	kc := mockKeychain{"openai_api_key": "keychain-secret", "server_token": "tok"}
	cfg, err := loadWith(mapBackend{}, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.OpenAI.APIKey != "keychain-secret" {
		t.Errorf("APIKey = %q, want keychain-secret", cfg.OpenAI.APIKey)
	}
	if cfg.Server.Token != "tok" {
		t.Errorf("Server.Token = %q, want tok", cfg.Server.Token)
	}
}

// TestRequireAPIKey verifies a clear error when the API key is missing everywhere.
func TestRequireAPIKey(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = cfg.RequireAPIKey()
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q", err)
	}

	cfg.OpenAI.APIKey = "k"
	if err := cfg.RequireAPIKey(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSetKey(t *testing.T) {
	b := mapBackend{}

	if err := setKeyWith(b, "corpus.max_documents", "20"); err != nil {
		t.Fatalf("setKeyWith int: %v", err)
	}
	if b["corpus.max_documents"] != "20" {
		t.Errorf("stored %q", b["corpus.max_documents"])
	}
	if err := setKeyWith(b, "poll.timeout", "2m"); err != nil {
		t.Fatalf("setKeyWith duration: %v", err)
	}
	if err := setKeyWith(b, "poll.timeout", "forever"); err == nil {
		t.Error("expected error for invalid duration")
	}
	if err := setKeyWith(b, "corpus.max_documents", "many"); err == nil {
		t.Error("expected error for invalid integer")
	}
	if err := setKeyWith(b, "openai.api_key", "sk-123"); err == nil {
		t.Error("expected error when setting a secret")
	}
	if err := setKeyWith(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.OpenAI.APIKey = "sk-secret"
	cfg.Server.Token = "tok"

	for _, ki := range ShowAll(cfg) {
		if ki.Key == "openai.api_key" || ki.Key == "server.token" {
			t.Errorf("secret %q exposed", ki.Key)
		}
		if strings.Contains(ki.Value, "sk-secret") {
			t.Errorf("secret value exposed under %q", ki.Key)
		}
	}
	if len(ValidKeys()) != len(ShowAll(cfg)) {
		t.Errorf("ValidKeys and ShowAll disagree")
	}
}

func TestUnsetKey(t *testing.T) {
	b := mapBackend{"corpus.dir": "/srv/docs"}

	if err := unsetKeyWith(b, "corpus.dir"); err != nil {
		t.Fatalf("unsetKeyWith: %v", err)
	}
	if _, ok := b["corpus.dir"]; ok {
		t.Error("key still present")
	}
	if err := unsetKeyWith(b, "no.such.key"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestFileBackend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	b := openFileBackend(path)
	if _, ok, _ := b.Lookup("openai.model"); ok {
		t.Fatal("empty backend reported a value")
	}
	if err := setKeyWith(b, "openai.model", "gpt-4o"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := setKeyWith(b, "server.port", " 4200 "); err != nil {
		t.Fatalf("set: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if !strings.Contains(string(data), "openai:\n    model: gpt-4o") {
		t.Errorf("file is not sectioned YAML:\n%s", data)
	}

	reopened := openFileBackend(path)
	clearEnv(t)
	cfg, err := loadWith(reopened, mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.OpenAI.Model != "gpt-4o" || cfg.Server.Port != 4200 {
		t.Errorf("cfg = %+v / %+v", cfg.OpenAI, cfg.Server)
	}

	if err := reopened.Unset("server.port"); err != nil {
		t.Fatalf("unset: %v", err)
	}
	if err := reopened.Unset("server.port"); err != nil {
		t.Fatalf("second unset: %v", err)
	}
	if _, ok, _ := openFileBackend(path).Lookup("server.port"); ok {
		t.Error("unset key survived reload")
	}
}

func TestFileBackend_MalformedFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("openai: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}

	b := openFileBackend(path)
	if _, ok, err := b.Lookup("openai.model"); ok || err != nil {
		t.Errorf("Lookup = %v, %v; want nothing", ok, err)
	}
}

func TestFileBackend_BadKey(t *testing.T) {
	b := openFileBackend(filepath.Join(t.TempDir(), "config.yaml"))
	if _, _, err := b.Lookup("nodot"); err == nil {
		t.Error("expected error for key without section")
	}
}

func TestConfigFileEnv(t *testing.T) {
	t.Setenv(ConfigFileEnv, "/tmp/custom.yaml")
	if got := ConfigFile(); got != "/tmp/custom.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
}
