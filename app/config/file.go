// Package config provides configuration management for the server
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

// FileConfig represents the entire configuration file structure
type FileConfig struct {
	LogLevel   *string                      `json:"log_level" yaml:"log_level"`
	Completion CompletionFileConfig         `json:"completion" yaml:"completion"`
	Screens    ScreensFileConfig            `json:"screens" yaml:"screens"`
	Ledger     LedgerFileConfig             `json:"ledger" yaml:"ledger"`
	Personas   map[string]PersonaFileConfig `json:"personas" yaml:"personas"`
}

type CompletionFileConfig struct {
	Provider      *string        `json:"provider" yaml:"provider"`
	OpenAIBaseURL *string        `json:"openai_base_url" yaml:"openai_base_url"`
	OllamaURL     *string        `json:"ollama_url" yaml:"ollama_url"`
	Model         *string        `json:"model" yaml:"model"`
	Timeout       *time.Duration `json:"timeout" yaml:"timeout"`
	RateLimit     *float64       `json:"rate_limit" yaml:"rate_limit"`
	RateBurst     *int           `json:"rate_burst" yaml:"rate_burst"`
	RetryAttempts *int           `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff  *time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
}

type ScreensFileConfig struct {
	IdleTTL        *time.Duration `json:"idle_ttl" yaml:"idle_ttl"`
	ReconnectGrace *time.Duration `json:"reconnect_grace" yaml:"reconnect_grace"`
}

type LedgerFileConfig struct {
	Retention *time.Duration `json:"retention" yaml:"retention"`
}

type PersonaFileConfig struct {
	Model string `json:"model" yaml:"model"`
}

// ReadConfig reads and parses a config file into the provided struct
func ReadConfig(filePath string, v any) error {
	ext := filepath.Ext(filePath)

	content, err := os.ReadFile(filePath) // #nosec G304 -- filePath is controlled by configuration
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(content, v); err != nil {
			return fmt.Errorf("unmarshal json: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, v); err != nil {
			return fmt.Errorf("unmarshal yaml: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

const defaultPollInterval = 30 * time.Second

// Watcher reloads the config file when it changes and notifies callbacks.
type Watcher struct {
	log          *zap.Logger
	filePath     string
	watcher      *fsnotify.Watcher
	pollInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once

	mu          sync.RWMutex
	lastModTime time.Time
	config      FileConfig
	callbacks   map[string]func(FileConfig)
}

func NewWatcher(log *zap.Logger, filePath string) (*Watcher, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("get absolute path: %w", err)
	}

	fileInfo, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	return &Watcher{
		log:          log,
		filePath:     absPath,
		lastModTime:  fileInfo.ModTime(),
		watcher:      watcher,
		pollInterval: defaultPollInterval,
		stopCh:       make(chan struct{}),
		callbacks:    make(map[string]func(FileConfig)),
	}, nil
}

// Start loads the file and begins watching it. Editors often replace the file,
// so the parent directory is watched and events are filtered by name.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.load(); err != nil {
		return fmt.Errorf("load initial config: %w", err)
	}

	if err := w.watcher.Add(filepath.Dir(w.filePath)); err != nil {
		w.log.Warn("Could not watch config file, falling back to polling only",
			zap.String("file", w.filePath),
			zap.Error(err),
		)
	}

	go w.loop(ctx)
	w.log.Debug("Config watcher started.", zap.String("config_file", w.filePath))
	return nil
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
}

// OnChange registers a callback by name, replacing any previous one with that name.
func (w *Watcher) OnChange(name string, callback func(FileConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks[name] = callback
}

func (w *Watcher) Config() FileConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

func (w *Watcher) load() error {
	var config FileConfig
	if err := ReadConfig(w.filePath, &config); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	w.mu.Lock()
	w.config = config
	w.mu.Unlock()
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkModified()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.filePath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) checkModified() {
	fileInfo, err := os.Stat(w.filePath)
	if err != nil {
		w.log.Error("Failed to stat config file", zap.String("file", w.filePath), zap.Error(err))
		return
	}
	w.mu.RLock()
	changed := !fileInfo.ModTime().Equal(w.lastModTime)
	w.mu.RUnlock()
	if changed {
		w.reload()
	}
}

func (w *Watcher) reload() {
	if fileInfo, err := os.Stat(w.filePath); err == nil {
		w.mu.Lock()
		w.lastModTime = fileInfo.ModTime()
		w.mu.Unlock()
	}

	w.log.Info("Config file changed, reloading configuration", zap.String("file", w.filePath))
	if err := w.load(); err != nil {
		// half written files are common, the next event retries
		w.log.Error("Failed to reload config", zap.Error(err))
		return
	}

	w.mu.RLock()
	config := w.config
	callbacks := make(map[string]func(FileConfig), len(w.callbacks))
	maps.Copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for name, callback := range callbacks {
		w.log.Debug("Notifying config change callback", zap.String("callback", name))
		callback(config)
	}
}
