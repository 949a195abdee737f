package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/compconf/pkg/parameter"
)

// DefaultParameterDebounce is the quiet period after a parameter file change
// before it is applied.
const DefaultParameterDebounce = 250 * time.Millisecond

type parameterFile struct {
	Parameters []parameter.Parameter `yaml:"parameters"`
}

// LoadParameterFile reads a YAML document with a top-level parameters list.
func LoadParameterFile(path string) ([]parameter.Parameter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter file: %w", err)
	}
	var f parameterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse parameter file %s: %w", path, err)
	}
	seen := make(map[string]bool, len(f.Parameters))
	for i, p := range f.Parameters {
		if p.Name == "" {
			return nil, fmt.Errorf("parameter %d in %s has no name", i, path)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate parameter %q in %s", p.Name, path)
		}
		seen[p.Name] = true
	}
	return f.Parameters, nil
}

// ParameterWatcher keeps a parameter context in sync with a parameter file.
// Parameters declared inline are the base; the file overrides and extends
// them. Parameters that disappear from both are removed.
type ParameterWatcher struct {
	path   string
	params *parameter.Context
	inline []parameter.Parameter
	logger zerolog.Logger

	// Debounce is the quiet period after a change before Sync runs.
	Debounce time.Duration
}

// NewParameterWatcher creates a watcher for path.
func NewParameterWatcher(path string, params *parameter.Context, inline []parameter.Parameter, logger zerolog.Logger) *ParameterWatcher {
	return &ParameterWatcher{
		path:     path,
		params:   params,
		inline:   inline,
		logger:   logger.With().Str("component", "parameter-watcher").Str("path", path).Logger(),
		Debounce: DefaultParameterDebounce,
	}
}

// Sync reads the file and applies the difference to the parameter context.
// It returns the parameters whose value or sensitivity changed.
func (w *ParameterWatcher) Sync() (map[string]parameter.Update, error) {
	fromFile, err := LoadParameterFile(w.path)
	if err != nil {
		return nil, err
	}

	desired := make(map[string]parameter.Parameter, len(w.inline)+len(fromFile))
	for _, p := range w.inline {
		desired[p.Name] = p
	}
	for _, p := range fromFile {
		desired[p.Name] = p
	}

	changes := make(map[string]*parameter.Parameter, len(desired))
	for name, p := range desired {
		changes[name] = &p
	}
	for _, name := range w.params.Snapshot().Names() {
		if _, ok := desired[name]; !ok {
			changes[name] = nil
		}
	}

	updates, err := w.params.Apply(changes)
	if err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		w.logger.Info().
			Int("changed", len(updates)).
			Int64("version", w.params.Version()).
			Msg("Parameter context updated")
	}
	return updates, nil
}

// Run watches the parameter file until ctx is done. The containing directory
// is watched so that files replaced by editors are picked up.
func (w *ParameterWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	target := filepath.Clean(w.path)
	w.logger.Info().Msg("Watching parameter file")

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.Debounce)
			} else {
				timer.Reset(w.Debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if _, err := w.Sync(); err != nil {
				w.logger.Warn().Err(err).Msg("Failed to apply parameter file, keeping current parameters")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
