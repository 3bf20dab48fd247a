package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend persists settings written with `pdfqa config set`. Values are
// stored as strings and parsed through the key table on load.
type Backend interface {
	Lookup(key string) (val string, ok bool, err error)
	Set(key, val string) error
	Unset(key string) error
}

// ConfigFileEnv overrides the settings file location.
const ConfigFileEnv = "PDFQA_CONFIG_FILE"

func configFilePath() string {
	if p := os.Getenv(ConfigFileEnv); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "pdfqa", "config.yaml")
}

// fileBackend keeps one YAML mapping per key section:
//
//	openai:
//	  model: gpt-4o
//	poll:
//	  timeout: 5m
type fileBackend struct {
	path     string
	sections map[string]map[string]string
}

// openFileBackend reads path. A missing file is empty; an unreadable or
// malformed one is reported and treated as empty.
func openFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, sections: make(map[string]map[string]string)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return b
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", path, err)
		return b
	}
	if err := yaml.Unmarshal(data, &b.sections); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", path, err)
		b.sections = make(map[string]map[string]string)
	}
	if b.sections == nil {
		b.sections = make(map[string]map[string]string)
	}
	return b
}

func splitKey(key string) (section, name string, err error) {
	section, name, ok := strings.Cut(key, ".")
	if !ok || section == "" || name == "" {
		return "", "", fmt.Errorf("config key %q is not of the form section.name", key)
	}
	return section, name, nil
}

func (b *fileBackend) Lookup(key string) (string, bool, error) {
	section, name, err := splitKey(key)
	if err != nil {
		return "", false, err
	}
	v, ok := b.sections[section][name]
	return v, ok, nil
}

func (b *fileBackend) Set(key, val string) error {
	section, name, err := splitKey(key)
	if err != nil {
		return err
	}
	if b.sections[section] == nil {
		b.sections[section] = make(map[string]string)
	}
	b.sections[section][name] = val
	return b.save()
}

func (b *fileBackend) Unset(key string) error {
	section, name, err := splitKey(key)
	if err != nil {
		return err
	}
	if _, ok := b.sections[section][name]; !ok {
		return nil
	}
	delete(b.sections[section], name)
	if len(b.sections[section]) == 0 {
		delete(b.sections, section)
	}
	return b.save()
}

func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(b.sections)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(b.path, data, 0o600)
}
