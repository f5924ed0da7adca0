package svctree

import (
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// StatusRecord is a snapshot of a service tree
type StatusRecord struct {
	PID      int            `yaml:"pid,omitempty"`
	Service  string         `yaml:"service"`
	State    State          `yaml:"state"`
	Since    time.Time      `yaml:"since"`
	Children []StatusRecord `yaml:"children,omitempty"`
}

// Snapshot captures the state of the tree rooted at n
func Snapshot(n Node) StatusRecord {
	s := n.node()
	rec := StatusRecord{
		Service: s.Name(),
		State:   s.machine.Current(),
		Since:   s.machine.Since(),
	}
	for _, child := range s.Children() {
		rec.Children = append(rec.Children, Snapshot(child))
	}
	return rec
}

// Find returns the record for the named service within rec
func (rec StatusRecord) Find(name string) (StatusRecord, bool) {
	if rec.Service == name {
		return rec, true
	}
	for _, child := range rec.Children {
		if found, ok := child.Find(name); ok {
			return found, true
		}
	}
	return StatusRecord{}, false
}

// WriteStatus atomically writes rec as YAML to path
func WriteStatus(path string, rec StatusRecord) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("status %s: %w", path, err)
	}
	if err := renameio.WriteFile(path, data, FileMode); err != nil {
		return fmt.Errorf("status %s: %w", path, err)
	}
	return nil
}

// ReadStatus reads a status file written by WriteStatus
func ReadStatus(path string) (StatusRecord, error) {
	var rec StatusRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, fmt.Errorf("status %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("status %s: %w", path, err)
	}
	return rec, nil
}
