// Package settings persists user preferences as a single JSON blob under
// one fixed key in a simple key-value file, separate from the keyed SQLite
// engine.
//
// An fsnotify watcher reloads the blob when another process writes it, so
// two concurrent sessions converge on the same preferences.
package settings

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// blobKey is the fixed key the settings blob lives under.
const blobKey = "fintrack_settings"

// DashboardSection configures one toggleable dashboard block.
type DashboardSection struct {
	ID        string `json:"id"` // stats, chart, ledger
	Label     string `json:"label"`
	IsEnabled bool   `json:"is_enabled"`
}

// UserSettings is the persisted preference blob.
type UserSettings struct {
	Currency               string             `json:"currency"`
	Theme                  string             `json:"theme"`
	HasCompletedOnboarding bool               `json:"has_completed_onboarding"`
	DashboardSections      []DashboardSection `json:"dashboard_sections"`
}

// DefaultSettings returns the settings for a fresh install.
func DefaultSettings() UserSettings {
	return UserSettings{
		Currency:               "INR",
		Theme:                  "light",
		HasCompletedOnboarding: false,
		DashboardSections: []DashboardSection{
			{ID: "stats", Label: "Summary Cards", IsEnabled: true},
			{ID: "chart", Label: "Cash Flow Chart", IsEnabled: true},
			{ID: "ledger", Label: "Recent Ledger", IsEnabled: true},
		},
	}
}

// Store reads and writes the settings blob.
type Store struct {
	path   string
	logger *log.Logger

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	observers []func(UserSettings)
	closed    bool
}

// NewStore creates a settings store backed by the KV file at path.
// If logger is nil, a default logger writing to stderr is used.
func NewStore(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[settings] ", log.LstdFlags)
	}
	return &Store{path: path, logger: logger}
}

// Load reads the blob, returning defaults when it is missing. Rows
// written by older releases without the dashboard layout get the default
// sections filled in.
func (s *Store) Load() (UserSettings, error) {
	kv, err := s.readKV()
	if err != nil {
		return UserSettings{}, err
	}

	raw, ok := kv[blobKey]
	if !ok {
		return DefaultSettings(), nil
	}

	var settings UserSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return UserSettings{}, fmt.Errorf("failed to parse settings blob: %w", err)
	}
	if len(settings.DashboardSections) == 0 {
		settings.DashboardSections = DefaultSettings().DashboardSections
	}
	return settings, nil
}

// Save writes the blob back under the fixed key.
func (s *Store) Save(settings UserSettings) error {
	kv, err := s.readKV()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	kv[blobKey] = raw

	data, err := json.MarshalIndent(kv, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	// Write atomically via temp file so a watcher never sees a torn blob.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

// Clear removes the blob. Part of full reset.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear settings: %w", err)
	}
	return nil
}

// Watch starts notifying fn whenever the settings file changes on disk.
// Call Close to stop watching.
func (s *Store) Watch(fn func(UserSettings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.observers = append(s.observers, fn)
	if s.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create settings watcher: %w", err)
	}

	// Watch the directory: editors and atomic renames replace the file
	// node, which would silently drop a direct file watch.
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch settings directory: %w", err)
	}

	s.watcher = watcher
	go s.pumpEvents(watcher)
	return nil
}

// Close stops the watcher.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	return err
}

func (s *Store) pumpEvents(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			settings, err := s.Load()
			if err != nil {
				s.logger.Printf("WARNING: failed to reload settings: %v", err)
				continue
			}

			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			observers := make([]func(UserSettings), len(s.observers))
			copy(observers, s.observers)
			s.mu.Unlock()

			for _, fn := range observers {
				fn(settings)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Printf("WARNING: settings watcher error: %v", err)
		}
	}
}

func (s *Store) readKV() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	kv := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &kv); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}
	return kv, nil
}
