// Package app wires configuration, storage, events and the lab runner for
// the command-line entry points.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/michaelbrown/labforge/internal/config"
	"github.com/michaelbrown/labforge/internal/events"
	"github.com/michaelbrown/labforge/internal/lab"
	"github.com/michaelbrown/labforge/internal/logging"
	"github.com/michaelbrown/labforge/internal/sandbox"
	"github.com/michaelbrown/labforge/internal/scoring"
	"github.com/michaelbrown/labforge/internal/storage"
	"github.com/michaelbrown/labforge/internal/storage/postgres"
	"github.com/michaelbrown/labforge/internal/storage/sqlite"
	"github.com/michaelbrown/labforge/internal/workspace"
)

// App holds the wired components shared by the commands.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store

	publisher *events.Publisher
}

// Load reads configuration from configPath (empty for the default search
// path), sets up logging to stderr and opens the configured store.
func Load(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("configuring logging: %w", err)
	}
	slog.SetDefault(logger)

	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	return &App{Config: cfg, Logger: logger, Store: store}, nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return postgres.Open(context.Background(), cfg.Storage.DSN)
	default:
		return sqlite.Open(cfg.Storage.DBPath)
	}
}

// NewRunner builds the orchestrator. persist=false skips recording attempts.
func (a *App) NewRunner(persist bool) (*lab.Runner, error) {
	rc := a.Config.Runner

	parser, err := scoring.ParserByName(rc.Parser)
	if err != nil {
		return nil, err
	}

	workspaces, err := workspace.NewManager(rc.WorkspaceRoot, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("preparing workspace root: %w", err)
	}
	if left, err := workspaces.Leftovers(); err == nil && len(left) > 0 {
		a.Logger.Warn("stale workspaces found", "event", "workspace_leftovers", "count", len(left), "root", workspaces.Root())
	}

	policy := sandbox.DefaultPolicy()
	policy.MaxTimeout = rc.Timeout
	policy.MaxOutputBytes = rc.MaxOutputBytes
	policy.MaxMemory = rc.Docker.Memory
	policy.Network = rc.Docker.Network
	if len(rc.Docker.Images) > 0 {
		policy.Images = rc.Docker.Images
	}

	var sb sandbox.Sandbox
	switch rc.Backend {
	case "docker":
		sb = sandbox.NewDockerSandbox(policy, rc.Docker.Image, a.Logger)
	default:
		sb = sandbox.NewProcessSandbox(policy, a.Logger)
	}

	cfg := lab.Config{
		Labs:        a.Store,
		Sandbox:     sb,
		Workspaces:  workspaces,
		Parser:      parser,
		Command:     rc.Command,
		CodeFile:    rc.CodeFile,
		Env:         rc.Env,
		Timeout:     rc.Timeout,
		MaxParallel: rc.MaxParallel,
		Logger:      a.Logger,
	}
	if persist {
		cfg.Submissions = a.Store
		if a.Config.Events.Enabled() {
			a.publisher, err = events.NewPublisher(events.Config{
				Brokers: a.Config.Events.Brokers,
				Topic:   a.Config.Events.Topic,
			})
			if err != nil {
				return nil, fmt.Errorf("creating event publisher: %w", err)
			}
			cfg.Publisher = a.publisher
		}
	}
	return lab.NewRunner(cfg)
}

// Close releases the publisher and the store.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.Logger.Warn("closing event publisher", "error", err)
		}
	}
	a.Store.Close()
}
