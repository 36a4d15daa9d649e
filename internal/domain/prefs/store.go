package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/appruntime/internal/shared/paths"
	"github.com/GriffinCanCode/appruntime/internal/shared/utils"
)

// DefaultFile is the preferences file opened when none is named
const DefaultFile = "config.json"

// Store is the persistent key/value preferences of one package
type Store struct {
	pkg      string
	path     string
	defaults map[string]any

	mu   sync.RWMutex
	data map[string]any
}

// Open loads data/<pkg>/<file>. A missing or unreadable file yields an empty store.
func Open(dataRoot, pkg, file string, defaults map[string]any) (*Store, error) {
	if err := utils.ValidatePackageID(pkg); err != nil {
		return nil, err
	}
	if file == "" {
		file = DefaultFile
	}
	if err := paths.ValidateSegment(file); err != nil {
		return nil, fmt.Errorf("invalid preferences file: %w", err)
	}
	dir, err := paths.Within(dataRoot, pkg)
	if err != nil {
		return nil, err
	}

	s := &Store{
		pkg:      pkg,
		path:     filepath.Join(dir, file),
		defaults: defaults,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rereads the file from disk
func (s *Store) Reload() error {
	data := make(map[string]any)
	raw, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read preferences: %w", err)
	default:
		if err := sonic.Unmarshal(raw, &data); err != nil || data == nil {
			// A corrupt file starts over rather than blocking the app
			data = make(map[string]any)
		}
	}

	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

// Path returns the backing file
func (s *Store) Path() string {
	return s.path
}

// Package returns the owning package id
func (s *Store) Package() string {
	return s.pkg
}

// lookup returns the stored value, then the store default
func (s *Store) lookup(key string) (stored any, ok bool, fallback any, hasFallback bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok = s.data[key]
	fallback, hasFallback = s.defaults[key]
	return
}

// String returns a string value. An explicit def wins over the store default.
func (s *Store) String(key, def string) string {
	v, ok, fb, hasFB := s.lookup(key)
	if ok && v != nil {
		return fmt.Sprint(v)
	}
	if def != "" || !hasFB {
		return def
	}
	return fmt.Sprint(fb)
}

// Int returns an integer value, or def when the stored value is not numeric
func (s *Store) Int(key string, def int) int {
	v, ok, fb, hasFB := s.lookup(key)
	if ok {
		if n, conv := toInt(v); conv {
			return n
		}
		return def
	}
	if def != 0 || !hasFB {
		return def
	}
	n, _ := toInt(fb)
	return n
}

// Bool returns a boolean value
func (s *Store) Bool(key string, def bool) bool {
	v, ok, fb, hasFB := s.lookup(key)
	if ok {
		return toBool(v)
	}
	if def || !hasFB {
		return def
	}
	return toBool(fb)
}

// List returns a list value, falling back to def, the store default, then empty
func (s *Store) List(key string, def []any) []any {
	v, ok, fb, hasFB := s.lookup(key)
	if l, isList := v.([]any); ok && isList {
		return l
	}
	if def != nil {
		return def
	}
	if l, isList := fb.([]any); hasFB && isList {
		return l
	}
	return []any{}
}

// Map returns a map value, falling back to def, the store default, then empty
func (s *Store) Map(key string, def map[string]any) map[string]any {
	v, ok, fb, hasFB := s.lookup(key)
	if m, isMap := v.(map[string]any); ok && isMap {
		return m
	}
	if def != nil {
		return def
	}
	if m, isMap := fb.(map[string]any); hasFB && isMap {
		return m
	}
	return map[string]any{}
}

// Get returns the stored value, then the store default
func (s *Store) Get(key string) (any, bool) {
	v, ok, fb, hasFB := s.lookup(key)
	if ok {
		return v, true
	}
	return fb, hasFB
}

// Has reports whether key is stored
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok
}

// Keys returns the stored keys in lexical order
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Edit starts a batch of changes applied by Commit
func (s *Store) Edit() *Editor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pending := make(map[string]any, len(s.data))
	for k, v := range s.data {
		pending[k] = v
	}
	return &Editor{store: s, pending: pending}
}

// write atomically replaces the file with data
func (s *Store) write(data map[string]any) error {
	raw, err := sonic.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".prefs-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace preferences: %w", err)
	}
	return nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case int:
		return b != 0
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
		return b != ""
	case nil:
		return false
	default:
		return true
	}
}
