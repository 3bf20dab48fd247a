package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	OpenAI  OpenAIConfig
	Index   IndexConfig
	Corpus  CorpusConfig
	Sync    SyncConfig
	Poll    PollConfig
	Storage StorageConfig
	Server  ServerConfig
	Watch   WatchConfig
	Log     LogConfig
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type IndexConfig struct {
	// DefaultID is tried before the cached vector store.
	DefaultID string
	CacheFile string
}

type CorpusConfig struct {
	Dir          string
	MaxDocuments int
}

type SyncConfig struct {
	PageSize          int
	LookupConcurrency int
}

type PollConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

type StorageConfig struct {
	DataDir string
}

type ServerConfig struct {
	Port  int
	Token string
}

type WatchConfig struct {
	Debounce time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Index: IndexConfig{
			CacheFile: ".pdfqa/vector_store.json",
		},
		Corpus: CorpusConfig{
			Dir:          "./pdfs",
			MaxDocuments: 10,
		},
		Sync: SyncConfig{
			PageSize:          100,
			LookupConcurrency: 1,
		},
		Poll: PollConfig{
			Interval: 1400 * time.Millisecond,
			Timeout:  10 * time.Minute,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Watch: WatchConfig{
			Debounce: 2 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load layers configuration: defaults, then the YAML settings file
// (os.UserConfigDir()/pdfqa/config.yaml or $PDFQA_CONFIG_FILE), then
// environment variables. Secrets never come from the settings file; when
// not in the environment they fall back to the macOS Keychain, or on other
// platforms to secrets.yaml in the data directory.
//
// A missing API key is not an error here; see RequireAPIKey.
func Load() (Config, error) {
	return loadWith(openFileBackend(configFilePath()), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

const keychainService = "pdfqa"

func loadWith(b Backend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform keychain for secrets still empty.
	if cfg.OpenAI.APIKey == "" {
		if key, err := kc.Get(keychainService, "openai_api_key"); err == nil && key != "" {
			cfg.OpenAI.APIKey = key
		}
	}
	if cfg.Server.Token == "" {
		if tok, err := kc.Get(keychainService, "server_token"); err == nil && tok != "" {
			cfg.Server.Token = tok
		}
	}

	return cfg, nil
}

// RequireAPIKey fails when no OpenAI API key was found anywhere.
func (c Config) RequireAPIKey() error {
	if c.OpenAI.APIKey != "" {
		return nil
	}
	return fmt.Errorf("%s", "missing required config: OpenAI API key. "+
		"Set it via environment variable OPENAI_API_KEY (a .env file works too)"+
		apiKeyHint())
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// StoreServerToken persists a generated API token in the platform secret
// store so later `serve` runs reuse it.
func StoreServerToken(token string) error {
	return keychainSet(keychainService, "server_token", token)
}
