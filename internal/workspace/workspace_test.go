package workspace

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestCreateAndDestroy(t *testing.T) {
	m := testManager(t)

	ws, err := m.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if filepath.Dir(ws.Path) != m.Root() {
		t.Errorf("workspace %s not under root %s", ws.Path, m.Root())
	}
	if err := os.WriteFile(ws.Join("sub", "f.txt"), nil, 0o644); err == nil {
		t.Fatal("expected error writing into missing subdir")
	}
	if err := os.MkdirAll(ws.Join("sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ws.Join("sub", "f.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	m.Destroy(ws)

	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Fatalf("workspace still exists after Destroy: %v", err)
	}
	left, err := m.Leftovers()
	if err != nil {
		t.Fatalf("Leftovers: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("leftovers = %v, want none", left)
	}
}

func TestCreateUniqueIDs(t *testing.T) {
	m := testManager(t)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		ws, err := m.Create(context.Background())
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if seen[ws.ID] {
			t.Fatalf("duplicate workspace id %s", ws.ID)
		}
		seen[ws.ID] = true
		defer m.Destroy(ws)
	}
}

func TestDestroyTwiceIsNoop(t *testing.T) {
	var buf bytes.Buffer
	m, err := NewManager(t.TempDir(), slog.New(slog.NewTextHandler(&buf, nil)))
	if err != nil {
		t.Fatal(err)
	}
	ws, err := m.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	m.Destroy(ws)
	m.Destroy(ws)
	m.Destroy(nil)

	if strings.Contains(buf.String(), "workspace_cleanup_failed") {
		t.Errorf("unexpected cleanup failure log: %s", buf.String())
	}
}

func TestCreateCanceledContext(t *testing.T) {
	m := testManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Create(ctx)
	if !errors.Is(err, ErrAllocation) {
		t.Fatalf("err = %v, want ErrAllocation", err)
	}
}

func TestCreateUnwritableRoot(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits not enforced")
	}
	m := testManager(t)
	if err := os.Chmod(m.Root(), 0o500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(m.Root(), 0o755) })

	_, err := m.Create(context.Background())
	if !errors.Is(err, ErrAllocation) {
		t.Fatalf("err = %v, want ErrAllocation", err)
	}
	var allocErr *AllocationError
	if !errors.As(err, &allocErr) {
		t.Fatalf("err is %T, want *AllocationError", err)
	}
	if allocErr.Root != m.Root() {
		t.Errorf("Root = %q, want %q", allocErr.Root, m.Root())
	}
}

func TestNewManagerRequiresRoot(t *testing.T) {
	if _, err := NewManager("", nil); err == nil {
		t.Fatal("expected error for empty root")
	}
}
