package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	currentFile = "session.json"
)

// CurrentSession is the session CLI commands append to when no session id
// is given.
type CurrentSession struct {
	ID    string `json:"id"`
	User  string `json:"user,omitempty"`
	Agent string `json:"agent,omitempty"`
}

// LoadCurrentSession loads the pointer from a target .strata/session.json.
// Returns nil, nil if no session is current.
func (m *Manager) LoadCurrentSession(overrideDir string) (*CurrentSession, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, currentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading current session: %w", err)
	}

	state := &CurrentSession{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parsing current session: %w", err)
	}
	return state, nil
}

// SaveCurrentSession persists the pointer to a target .strata/session.json.
func (m *Manager) SaveCurrentSession(state *CurrentSession, overrideDir string) error {
	if state == nil || state.ID == "" {
		return errors.New("cannot save an empty current session")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling current session: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, currentFile), data, 0o600); err != nil {
		return fmt.Errorf("writing current session: %w", err)
	}
	return nil
}

// ClearCurrentSession removes the pointer. Returns nil if none is set.
func (m *Manager) ClearCurrentSession(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(dir, currentFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing current session: %w", err)
	}
	return nil
}
