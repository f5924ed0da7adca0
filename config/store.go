// Package config is a dotted-path settings store for svctree programs.
//
// Values are keyed by lowercase dotted paths ("metrics.listen") and may be
// loaded from nested maps or YAML files. Forced values, usually taken from
// command line flags, win over anything loaded later. Settings are typed
// handles onto a path that also report whether the value changed since they
// were last asked.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store holds setting values
type Store struct {
	mu       sync.RWMutex
	values   map[string]any
	forced   map[string]struct{}
	observed map[string]any
	defs     map[string]definition
	lastFile string
}

type definition struct {
	def  any
	help string
}

// New returns an empty store
func New() *Store {
	return &Store{
		values:   make(map[string]any),
		forced:   make(map[string]struct{}),
		observed: make(map[string]any),
		defs:     make(map[string]definition),
	}
}

// NormalizePath lowercases path and trims leading dots
func NormalizePath(path string) string {
	return strings.ToLower(strings.TrimLeft(path, "."))
}

// Get returns the value at path, or def if it is unset
func (s *Store) Get(path string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[NormalizePath(path)]; ok {
		return v
	}
	return def
}

// Lookup returns the value at path and whether it is set
func (s *Store) Lookup(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[NormalizePath(path)]
	return v, ok
}

// Set stores v at path unless the path has been forced
func (s *Store) Set(path string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(NormalizePath(path), v, false)
}

// SetForced stores v at path. Later Set and Load calls leave it alone.
func (s *Store) SetForced(path string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(NormalizePath(path), v, true)
}

func (s *Store) set(path string, v any, force bool) {
	if _, ok := s.forced[path]; ok && !force {
		return
	}
	s.values[path] = v
	if force {
		s.forced[path] = struct{}{}
	}
}

// Load merges a nested map into the store. Nested maps become dotted paths;
// keys starting with an underscore are skipped.
func (s *Store) Load(values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load("", values)
}

func (s *Store) load(prefix string, values map[string]any) {
	for key, v := range values {
		if strings.HasPrefix(key, "_") {
			continue
		}
		path := NormalizePath(prefix + "." + key)
		if nested, ok := v.(map[string]any); ok {
			s.load(path, nested)
			continue
		}
		s.set(path, v, false)
	}
}

// LoadFile loads a YAML file and remembers it for ReloadFile
func (s *Store) LoadFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}

	values := make(map[string]any)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFile = abs
	s.load("", values)
	return nil
}

// ReloadFile loads the last file given to LoadFile again. It does nothing if
// no file was loaded.
func (s *Store) ReloadFile() error {
	file := s.File()
	if file == "" {
		return nil
	}
	return s.LoadFile(file)
}

// File returns the absolute path of the last loaded file
func (s *Store) File() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFile
}

// Changed reports whether the value at path differs from the value seen by
// the previous call. The first call for a path returns false.
func (s *Store) Changed(path string) bool {
	path = NormalizePath(path)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.values[path]
	prev, seen := s.observed[path]
	s.observed[path] = cur
	return seen && !reflect.DeepEqual(prev, cur)
}

// Group returns the values below prefix, keyed by the remaining path
func (s *Store) Group(prefix string) map[string]any {
	prefix = NormalizePath(prefix)
	if prefix != "" {
		prefix += "."
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any)
	for path, v := range s.values {
		if rest, ok := strings.CutPrefix(path, prefix); ok {
			out[rest] = v
		}
	}
	return out
}

// Keys returns every set path in sorted order
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// define records a setting's default and help text for WriteHelp
func (s *Store) define(path string, def any, help string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[path] = definition{def: def, help: help}
}

// WriteHelp writes every defined setting with help text, its help and its
// current value. With onlyDefaults the default is shown instead.
func (s *Store) WriteHelp(w io.Writer, onlyDefaults bool) error {
	s.mu.RLock()
	paths := make([]string, 0, len(s.defs))
	for p, d := range s.defs {
		if d.help != "" {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	lines := make([]string, 0, len(paths))
	for _, p := range paths {
		d := s.defs[p]
		v := d.def
		if cur, ok := s.values[p]; ok && !onlyDefaults {
			v = cur
		}
		help := strings.ReplaceAll(d.help, "\n", "\n"+strings.Repeat(" ", 18))
		lines = append(lines, fmt.Sprintf("  %-15s %s [%v]", p, help, v))
	}
	s.mu.RUnlock()

	if _, err := fmt.Fprintln(w, "config settings:"); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
