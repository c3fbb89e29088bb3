package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ErrAllocation is matched by every error returned from Create.
var ErrAllocation = errors.New("workspace allocation failed")

// AllocationError reports why a workspace directory could not be created.
type AllocationError struct {
	Root string
	Err  error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocating workspace under %s: %v", e.Root, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

func (e *AllocationError) Is(target error) bool { return target == ErrAllocation }

// Workspace is one execution attempt's private directory.
type Workspace struct {
	ID   string
	Path string

	once sync.Once
}

// Join returns a path inside the workspace.
func (w *Workspace) Join(elem ...string) string {
	return filepath.Join(append([]string{w.Path}, elem...)...)
}

// Manager allocates workspaces under a fixed root directory.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager creates root if needed and returns a manager for it.
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if root == "" {
		return nil, errors.New("workspace root is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	return &Manager{root: abs, logger: logger}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string { return m.root }

// Create allocates a fresh, uniquely named directory. Every successful call
// must be paired with exactly one Destroy.
func (m *Manager) Create(ctx context.Context) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AllocationError{Root: m.root, Err: err}
	}

	id := uuid.New().String()
	path := filepath.Join(m.root, id)

	// Mkdir rather than MkdirAll: an existing directory means a collision.
	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, &AllocationError{Root: m.root, Err: err}
	}

	m.logger.Debug("workspace created", "workspace_id", id, "path", path)
	return &Workspace{ID: id, Path: path}, nil
}

// Destroy removes the workspace tree. Failures are logged, not returned:
// by the time a workspace is destroyed the result has been computed.
func (m *Manager) Destroy(ws *Workspace) {
	if ws == nil {
		return
	}
	ws.once.Do(func() {
		if err := os.RemoveAll(ws.Path); err != nil {
			m.logger.Warn("workspace cleanup failed",
				"event", "workspace_cleanup_failed",
				"workspace_id", ws.ID,
				"path", ws.Path,
				"error", err,
			)
			return
		}
		m.logger.Debug("workspace destroyed", "workspace_id", ws.ID)
	})
}

// Leftovers lists entries still present under the root. A non-empty result
// while no runs are in flight means a workspace leaked.
func (m *Manager) Leftovers() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("reading workspace root: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
