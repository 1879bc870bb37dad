package domain

import (
	"errors"
	"fmt"
	"strings"
)

// MonitorRule is one user-authored map watch policy.
// Params: server scope, ordered map patterns, and notification thresholds.
// Returns: immutable rule snapshot consumed by the engine per cycle.
type MonitorRule struct {
	ID              string   `toml:"id" json:"id"`
	Name            string   `toml:"name" json:"name"`
	Enabled         bool     `toml:"enabled" json:"enabled"`
	SelectedServers []string `toml:"selected_servers" json:"selected_servers"`
	MapPatterns     []string `toml:"map_patterns" json:"map_patterns"`
	MinPlayers      int      `toml:"min_players" json:"min_players"`
	CooldownSeconds int      `toml:"cooldown_seconds" json:"cooldown_seconds"`
	RequiredMatches int      `toml:"required_matches" json:"required_matches"`
	AutoJoin        bool     `toml:"auto_join" json:"auto_join"`
}

// Validate checks one rule against the storage contract.
// Params: rule fields loaded from store or user edit.
// Returns: validation error when rule cannot be evaluated.
func (r MonitorRule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("rule id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule %q: name is required", r.ID)
	}
	if r.MinPlayers < 0 {
		return fmt.Errorf("rule %q: min_players must be >=0", r.ID)
	}
	if r.CooldownSeconds < 0 {
		return fmt.Errorf("rule %q: cooldown_seconds must be >=0", r.ID)
	}
	if r.RequiredMatches < 1 {
		return fmt.Errorf("rule %q: required_matches must be >=1", r.ID)
	}
	for _, address := range r.SelectedServers {
		if strings.TrimSpace(address) == "" {
			return fmt.Errorf("rule %q: selected server address is empty", r.ID)
		}
	}
	return nil
}

// Clone deep-copies one rule including its slices.
// Params: none.
// Returns: independent copy safe to hand across goroutines.
func (r MonitorRule) Clone() MonitorRule {
	cloned := r
	if r.SelectedServers != nil {
		cloned.SelectedServers = append([]string(nil), r.SelectedServers...)
	}
	if r.MapPatterns != nil {
		cloned.MapPatterns = append([]string(nil), r.MapPatterns...)
	}
	return cloned
}

// Evaluable reports whether the engine should consider this rule at all.
// Params: none.
// Returns: true when rule is enabled and has at least one map pattern.
func (r MonitorRule) Evaluable() bool {
	return r.Enabled && len(r.MapPatterns) > 0
}
