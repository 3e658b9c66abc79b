package connlib

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Scope is a per-session credential location owned by one orchestrator.
// The library persists its multi-file auth state inside Dir; the core never parses it.
type Scope struct {
	SessionID string
	Dir       string
}

// ScopeManager creates and destroys credential scopes under a root directory.
type ScopeManager struct {
	root   string
	prefix string
}

// DefaultScopePrefix names scope directories "<root>/auth_info_<session id>".
const DefaultScopePrefix = "auth_info_"

// NewScopeManager constructs a ScopeManager rooted at root.
func NewScopeManager(root string) (*ScopeManager, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("connlib: empty scope root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("connlib: scope root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("connlib: scope root: %w", err)
	}
	return &ScopeManager{root: abs, prefix: DefaultScopePrefix}, nil
}

func (m *ScopeManager) path(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || strings.Contains(sessionID, "..") {
		return "", fmt.Errorf("connlib: invalid session id %q", sessionID)
	}
	return filepath.Join(m.root, m.prefix+sessionID), nil
}

// Prepare discards any stale state for sessionID and creates a fresh, empty scope.
func (m *ScopeManager) Prepare(sessionID string) (Scope, error) {
	dir, err := m.path(sessionID)
	if err != nil {
		return Scope{}, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return Scope{}, fmt.Errorf("connlib: discard stale scope: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Scope{}, fmt.Errorf("connlib: create scope: %w", err)
	}
	return Scope{SessionID: sessionID, Dir: dir}, nil
}

// Destroy removes the scope and everything in it. Missing scopes are not an error.
func (m *ScopeManager) Destroy(s Scope) error {
	if s.Dir == "" {
		return nil
	}
	dir, err := m.path(s.SessionID)
	if err != nil {
		return err
	}
	if dir != filepath.Clean(s.Dir) {
		return fmt.Errorf("connlib: scope %q outside root", s.Dir)
	}
	return os.RemoveAll(dir)
}
