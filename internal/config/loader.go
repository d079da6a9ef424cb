package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Loader reads and holds the active configuration. Get returns the current
// snapshot; Reload re-reads the file last passed to Load. Loader is safe for
// concurrent use: the config pointer is swapped atomically under the lock.
type Loader struct {
	mu       sync.RWMutex
	config   *Config
	filePath string
}

// NewLoader creates a Loader populated with DefaultConfig.
func NewLoader() *Loader {
	return &Loader{
		config: DefaultConfig(),
	}
}

// Load reads the YAML file at path, unmarshals it over a fresh default
// config, and makes it the active config. Fields absent from the file keep
// their default values.
func (l *Loader) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	l.mu.Lock()
	l.config = cfg
	l.filePath = path
	l.mu.Unlock()

	return nil
}

// Reload re-reads the previously loaded file. It is a no-op if Load has
// never been called.
func (l *Loader) Reload() error {
	l.mu.RLock()
	path := l.filePath
	l.mu.RUnlock()

	if path == "" {
		return nil
	}
	return l.Load(path)
}

// Get returns the active config. Callers must treat the result as read-only.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// FilePath returns the path of the loaded config file, or "" if defaults
// are in use.
func (l *Loader) FilePath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filePath
}
