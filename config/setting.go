package config

import (
	"fmt"
	"io/fs"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Setting is a typed handle onto one path of a Store
type Setting[T any] struct {
	store *Store
	path  string
	def   T
	help  string

	mu   sync.Mutex
	last *T
}

// NewSetting defines a setting at path with a default and help text
func NewSetting[T any](s *Store, path string, def T, help string) *Setting[T] {
	path = NormalizePath(path)
	s.define(path, def, help)
	return &Setting[T]{store: s, path: path, def: def, help: help}
}

// Path returns the setting's dotted path
func (s *Setting[T]) Path() string {
	return s.path
}

// Default returns the default value
func (s *Setting[T]) Default() T {
	return s.def
}

// Help returns the help text
func (s *Setting[T]) Help() string {
	return s.help
}

// Value returns the current value converted to T. A value that cannot be
// converted yields the default.
func (s *Setting[T]) Value() T {
	v, ok := s.store.Lookup(s.path)
	if !ok {
		return s.def
	}
	out, err := Convert[T](v)
	if err != nil {
		return s.def
	}
	return out
}

// Changed reports whether the value differs from the one seen by the previous
// call. It is false on first access.
func (s *Setting[T]) Changed() bool {
	cur := s.Value()
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.last
	s.last = &cur
	return prev != nil && !reflect.DeepEqual(*prev, cur)
}

// Convert converts a loaded value to T. Strings are parsed for numeric, bool,
// duration and file mode targets; bare numbers are read as seconds for
// durations and as octal digits for file modes.
func Convert[T any](v any) (T, error) {
	var zero T
	if out, ok := v.(T); ok {
		return out, nil
	}

	var (
		out any
		err error
	)
	switch any(zero).(type) {
	case string:
		out = fmt.Sprint(v)
	case int:
		out, err = toInt(v)
	case int64:
		var n int
		n, err = toInt(v)
		out = int64(n)
	case float64:
		out, err = toFloat(v)
	case bool:
		out, err = toBool(v)
	case time.Duration:
		out, err = toDuration(v)
	case fs.FileMode:
		out, err = toFileMode(v)
	default:
		return zero, fmt.Errorf("cannot convert %T to %T", v, zero)
	}
	if err != nil {
		return zero, err
	}
	return out.(T), nil
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		return int(x), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(x))
	default:
		return 0, fmt.Errorf("cannot convert %T to int", v)
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(x))
	case int:
		return x != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to bool", v)
	}
}

func toDuration(v any) (time.Duration, error) {
	switch x := v.(type) {
	case time.Duration:
		return x, nil
	case string:
		return time.ParseDuration(strings.TrimSpace(x))
	case int, int64, float64:
		f, err := toFloat(x)
		if err != nil {
			return 0, err
		}
		return time.Duration(f * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to time.Duration", v)
	}
}

func toFileMode(v any) (fs.FileMode, error) {
	switch x := v.(type) {
	case fs.FileMode:
		return x, nil
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(x), 8, 32)
		return fs.FileMode(n), err
	case int:
		// 22 in YAML means 0o022
		n, err := strconv.ParseUint(strconv.Itoa(x), 8, 32)
		return fs.FileMode(n), err
	default:
		return 0, fmt.Errorf("cannot convert %T to fs.FileMode", v)
	}
}
