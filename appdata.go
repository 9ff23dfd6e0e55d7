package qudicore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// AppDataStore persists each module's Status descriptor values as a YAML
// document under <root>/<moduleName>/status-<moduleName>.cfg, mirroring
// module.py's StatusVar appdata file naming and location. Writes are
// atomic (write to a temp file, then rename) so a crash mid-write never
// leaves a half-written status file behind for the next activation to read
// (spec §8 scenario 3 concerns exactly this file's integrity).
type AppDataStore struct {
	root string
	mu   sync.Mutex

	watcher   *fsnotify.Watcher
	watchLog  *Logger
	watchOnce sync.Once
}

// NewAppDataStore roots the store at dir (spec §4.5: XDG-style default data
// dir, overridable per module via Base.DefaultDataDir).
func NewAppDataStore(dir string, log *Logger) *AppDataStore {
	return &AppDataStore{root: dir, watchLog: log}
}

func (s *AppDataStore) pathFor(moduleName string) string {
	return filepath.Join(s.root, moduleName, fmt.Sprintf("status-%s.cfg", moduleName))
}

// Load reads a module's status file into a plain map, returning an empty
// map (not an error) if the file does not yet exist, since a module's first
// activation has nothing to load.
func (s *AppDataStore) Load(moduleName string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.pathFor(moduleName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

// Save writes values atomically: marshal to YAML, write to a sibling temp
// file, then rename over the real path. Rename is atomic on the same
// filesystem, so a reader never observes a partially-written file.
func (s *AppDataStore) Save(moduleName string, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.pathFor(moduleName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(values)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// HasAppData reports whether a module currently has a persisted status
// file on disk, used by the manager's snapshot to populate has_appdata.
func (s *AppDataStore) HasAppData(moduleName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.pathFor(moduleName))
	return err == nil
}

// Clear removes a module's status file entirely, mirroring
// clear_module_appdata.
func (s *AppDataStore) Clear(moduleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.pathFor(moduleName))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// WatchExternalChanges starts an fsnotify watch over the store root and
// logs a warning whenever a status file is removed or modified by
// something other than Save/Clear while its module is activated, covering
// spec §8 scenario 3 ("operator deletes a status file out from under a
// running module"). It is best-effort: a failure to start the watcher is
// logged, not fatal, since the store remains fully usable without it.
func (s *AppDataStore) WatchExternalChanges(ctx context.Context, isActivated func(moduleName string) bool) {
	s.watchOnce.Do(func() {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			if s.watchLog != nil {
				s.watchLog.Warn("appdata watch disabled", "error", err)
			}
			return
		}
		s.watcher = w
		if err := os.MkdirAll(s.root, 0o755); err == nil {
			_ = w.Add(s.root)
		}
		go s.watchLoop(ctx, isActivated)
	})
}

func (s *AppDataStore) watchLoop(ctx context.Context, isActivated func(moduleName string) bool) {
	// Status files live one level below the root and fsnotify watches are
	// not recursive, so every module directory gets a watch of its own.
	if entries, err := os.ReadDir(s.root); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = s.watcher.Add(filepath.Join(s.root, e.Name()))
			}
		}
	}
	for {
		select {
		case <-ctx.Done():
			_ = s.watcher.Close()
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != 0 && filepath.Dir(ev.Name) == s.root {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = s.watcher.Add(ev.Name)
				}
				continue
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			moduleName := moduleNameFromStatusPath(ev.Name)
			if moduleName == "" {
				continue
			}
			if isActivated != nil && isActivated(moduleName) && s.watchLog != nil {
				s.watchLog.Warn("status file changed externally while module is activated",
					"module", moduleName, "op", ev.Op.String())
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			if s.watchLog != nil {
				s.watchLog.Warn("appdata watcher error", "error", err)
			}
		}
	}
}

func moduleNameFromStatusPath(path string) string {
	base := filepath.Base(path)
	const prefix, suffix = "status-", ".cfg"
	if len(base) <= len(prefix)+len(suffix) {
		return ""
	}
	if base[:len(prefix)] != prefix || base[len(base)-len(suffix):] != suffix {
		return ""
	}
	return base[len(prefix) : len(base)-len(suffix)]
}
