package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// poolFile is the on-disk shape of the preset file:
//
//	pools:
//	  default: [llama3, mistral, qwen2]
//	  fast: [llama3]
type poolFile struct {
	Pools map[string][]string `yaml:"pools"`
}

// PoolManager serves named model-pool presets from a YAML file and reloads
// them when the file changes.
type PoolManager struct {
	path   string
	logger *zap.Logger

	mu    sync.RWMutex
	pools map[string][]string
}

// NewPoolManager loads the preset file once. The file must exist and parse.
func NewPoolManager(path string, logger *zap.Logger) (*PoolManager, error) {
	pm := &PoolManager{path: path, logger: logger, pools: make(map[string][]string)}
	if err := pm.reload(); err != nil {
		return nil, err
	}
	return pm, nil
}

// Get returns the models of a named preset.
func (pm *PoolManager) Get(name string) ([]string, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	pool, ok := pm.pools[name]
	if !ok {
		return nil, false
	}
	out := make([]string, len(pool))
	copy(out, pool)
	return out, true
}

// Names lists the available presets.
func (pm *PoolManager) Names() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	names := make([]string, 0, len(pm.pools))
	for n := range pm.pools {
		names = append(names, n)
	}
	return names
}

// Watch reloads presets when the file changes, until ctx ends. Editors
// often replace rather than write the file, so the parent directory is
// watched and events are filtered by name.
func (pm *PoolManager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(pm.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", pm.path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(pm.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := pm.reload(); err != nil {
					pm.logger.Warn("Pool preset reload failed; keeping previous presets",
						zap.Error(err))
					continue
				}
				pm.logger.Info("Pool presets reloaded", zap.Strings("names", pm.Names()))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				pm.logger.Warn("Pool preset watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (pm *PoolManager) reload() error {
	data, err := os.ReadFile(pm.path)
	if err != nil {
		return fmt.Errorf("read pool presets: %w", err)
	}
	var pf poolFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parse pool presets: %w", err)
	}
	for name, pool := range pf.Pools {
		if len(pool) == 0 {
			return fmt.Errorf("pool preset %q is empty", name)
		}
	}

	pm.mu.Lock()
	pm.pools = pf.Pools
	pm.mu.Unlock()
	return nil
}
