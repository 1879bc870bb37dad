// Package rules stores monitor rules in a TOML file.
package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"mapwatch/internal/domain"

	"github.com/pelletier/go-toml/v2"
)

// ErrNotFound reports a rule id with no stored rule.
var ErrNotFound = errors.New("rule not found")

// ruleFile is the on-disk TOML document shape.
// Params: rule list under the [[rules]] table array.
// Returns: round-tripped persistence document.
type ruleFile struct {
	Rules []domain.MonitorRule `toml:"rules"`
}

// FileStore keeps the rule list in memory and persists every mutation.
// Params: backing file path and mutex-guarded rule slice.
// Returns: rule store shared by the monitor and the management surface.
type FileStore struct {
	mu    sync.RWMutex
	path  string
	rules []domain.MonitorRule
}

// NewFileStore opens the store and loads existing rules.
// Params: TOML file path; a missing file yields an empty store.
// Returns: loaded store or read/decode error.
func NewFileStore(path string) (*FileStore, error) {
	store := &FileStore{path: path}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// List returns a copy of every stored rule in declaration order.
// Params: none.
// Returns: cloned rule slice safe to mutate.
func (s *FileStore) List() []domain.MonitorRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRules(s.rules)
}

// Get returns one rule by id.
// Params: rule id.
// Returns: cloned rule or ErrNotFound.
func (s *FileStore) Get(id string) (domain.MonitorRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rule := range s.rules {
		if rule.ID == id {
			return rule.Clone(), nil
		}
	}
	return domain.MonitorRule{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Upsert validates and stores one rule, replacing any rule with the same id.
// Params: rule payload.
// Returns: validation or persistence error.
func (s *FileStore) Upsert(rule domain.MonitorRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := false
	for i := range s.rules {
		if s.rules[i].ID == rule.ID {
			s.rules[i] = rule.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		s.rules = append(s.rules, rule.Clone())
	}
	return s.persistLocked()
}

// Delete removes one rule by id.
// Params: rule id.
// Returns: ErrNotFound or persistence error.
func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return s.persistLocked()
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// SetEnabled toggles one rule without touching its other fields.
// Params: rule id and desired enabled flag.
// Returns: ErrNotFound or persistence error.
func (s *FileStore) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules[i].Enabled = enabled
			return s.persistLocked()
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// load reads the TOML file into memory.
// Params: none.
// Returns: read/decode error; a missing file is not an error.
func (s *FileStore) load() error {
	body, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.rules = nil
			return nil
		}
		return fmt.Errorf("read rules file %q: %w", s.path, err)
	}
	var doc ruleFile
	if err := toml.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("parse rules file %q: %w", s.path, err)
	}
	s.rules = doc.Rules
	return nil
}

// persistLocked writes the rule list atomically via temp file and rename.
// Params: none; caller holds the write lock.
// Returns: encode or filesystem error.
func (s *FileStore) persistLocked() error {
	body, err := toml.Marshal(ruleFile{Rules: s.rules})
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create rules dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".rules-*.toml")
	if err != nil {
		return fmt.Errorf("create rules temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write rules temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close rules temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace rules file %q: %w", s.path, err)
	}
	return nil
}

// cloneRules deep-copies a rule slice.
// Params: source slice.
// Returns: independent copy.
func cloneRules(rules []domain.MonitorRule) []domain.MonitorRule {
	cloned := make([]domain.MonitorRule, 0, len(rules))
	for _, rule := range rules {
		cloned = append(cloned, rule.Clone())
	}
	return cloned
}
