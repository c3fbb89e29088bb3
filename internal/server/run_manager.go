package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRunExists is returned when a client reuses an in-flight run ID.
	ErrRunExists = errors.New("run already in progress")

	// ErrInvalidRunID is returned for client-supplied IDs that are too long.
	ErrInvalidRunID = errors.New("invalid run id")
)

const maxRunIDLen = 128

// ActiveRun tracks one in-flight lab execution.
type ActiveRun struct {
	ID          string    `json:"run_id"`
	LabID       int64     `json:"lab_id"`
	SubmitterID string    `json:"submitter_id"`
	StartedAt   time.Time `json:"started_at"`

	cancel context.CancelFunc
}

// RunManager tracks in-flight runs so they can be cancelled by ID.
type RunManager struct {
	mu   sync.RWMutex
	runs map[string]*ActiveRun
}

// NewRunManager creates a new RunManager.
func NewRunManager() *RunManager {
	return &RunManager{
		runs: make(map[string]*ActiveRun),
	}
}

// Start registers a run and returns the context it must execute under.
// An empty runID gets a generated one. Callers must call Finish.
func (rm *RunManager) Start(parent context.Context, runID string, labID int64, submitterID string) (*ActiveRun, context.Context, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	if len(runID) > maxRunIDLen {
		return nil, nil, fmt.Errorf("%w: longer than %d characters", ErrInvalidRunID, maxRunIDLen)
	}

	ctx, cancel := context.WithCancel(parent)
	run := &ActiveRun{
		ID:          runID,
		LabID:       labID,
		SubmitterID: submitterID,
		StartedAt:   time.Now().UTC(),
		cancel:      cancel,
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, ok := rm.runs[runID]; ok {
		cancel()
		return nil, nil, fmt.Errorf("%w: %s", ErrRunExists, runID)
	}
	rm.runs[runID] = run
	return run, ctx, nil
}

// Finish releases a run's context and forgets it.
func (rm *RunManager) Finish(run *ActiveRun) {
	run.cancel()
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.runs[run.ID] == run {
		delete(rm.runs, run.ID)
	}
}

// Get returns an in-flight run if it exists.
func (rm *RunManager) Get(runID string) (*ActiveRun, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	run, ok := rm.runs[runID]
	return run, ok
}

// List returns the submitter's in-flight runs, oldest first.
func (rm *RunManager) List(submitterID string) []ActiveRun {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	runs := []ActiveRun{}
	for _, run := range rm.runs {
		if run.SubmitterID == submitterID {
			runs = append(runs, *run)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs
}

// Cancel stops the submitter's run. It reports whether such a run existed.
func (rm *RunManager) Cancel(runID, submitterID string) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	run, ok := rm.runs[runID]
	if !ok || run.SubmitterID != submitterID {
		return false
	}
	run.cancel()
	return true
}

// CloseAll cancels all in-flight runs.
func (rm *RunManager) CloseAll() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for id, run := range rm.runs {
		run.cancel()
		delete(rm.runs, id)
	}
}
