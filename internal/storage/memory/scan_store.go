// Package memory provides an in-memory scan.Store for development and
// testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oversightlabs/parlscan/internal/scan"
)

// ScanStore keeps everything in maps under one RWMutex. Suitable for dev
// runs and tests; nothing survives a restart.
type ScanStore struct {
	mu        sync.RWMutex
	runs      map[string]*scan.Run
	results   map[string]map[string]*scan.Result
	audits    map[string][]scan.Audit
	snapshots map[string]scan.Snapshot
}

// NewScanStore constructs an empty ScanStore.
func NewScanStore() *ScanStore {
	return &ScanStore{
		runs:      make(map[string]*scan.Run),
		results:   make(map[string]map[string]*scan.Result),
		audits:    make(map[string][]scan.Audit),
		snapshots: make(map[string]scan.Snapshot),
	}
}

// CreateRun stores a new run.
func (s *ScanStore) CreateRun(_ context.Context, run *scan.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

// SetRunStatus updates the run lifecycle, stamping the transition times.
func (s *ScanStore) SetRunStatus(_ context.Context, runID string, status scan.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return scan.ErrRunNotFound
	}
	run.Status = status
	run.Error = errMsg
	now := time.Now().UTC()
	switch status {
	case scan.StatusRunning:
		if run.StartedAt.IsZero() {
			run.StartedAt = now
		}
	case scan.StatusCompleted, scan.StatusCancelled, scan.StatusError:
		if run.FinishedAt.IsZero() {
			run.FinishedAt = now
		}
	}
	return nil
}

// GetRun returns a copy of the run.
func (s *ScanStore) GetRun(_ context.Context, runID string) (*scan.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, scan.ErrRunNotFound
	}
	copied := *run
	return &copied, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *ScanStore) ListRuns(_ context.Context, limit int) ([]*scan.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]*scan.Run, 0, len(s.runs))
	for _, run := range s.runs {
		copied := *run
		runs = append(runs, &copied)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// SaveResult upserts keyed on (run, dedup key); replays are no-ops.
func (s *ScanStore) SaveResult(_ context.Context, res *scan.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.results[res.RunID]
	if !ok {
		byKey = make(map[string]*scan.Result)
		s.results[res.RunID] = byKey
	}
	if _, exists := byKey[res.DedupKey]; exists {
		return nil
	}
	copied := *res
	byKey[res.DedupKey] = &copied
	return nil
}

// Results returns every result for a run ordered by creation time.
func (s *ScanStore) Results(_ context.Context, runID string) ([]*scan.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*scan.Result
	for _, res := range s.results[runID] {
		copied := *res
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SaveAudits appends the audit rows.
func (s *ScanStore) SaveAudits(_ context.Context, rows []scan.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.audits[row.RunID] = append(s.audits[row.RunID], row)
	}
	return nil
}

// Audits returns the audit rows for a run.
func (s *ScanStore) Audits(_ context.Context, runID string) ([]scan.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]scan.Audit(nil), s.audits[runID]...), nil
}

// SaveSnapshot keeps only the latest snapshot per run.
func (s *ScanStore) SaveSnapshot(_ context.Context, runID string, snap scan.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[runID] = snap
	return nil
}

// GetSnapshot returns the last snapshot stored for a run.
func (s *ScanStore) GetSnapshot(_ context.Context, runID string) (scan.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[runID]
	if !ok {
		return scan.Snapshot{}, scan.ErrRunNotFound
	}
	return snap, nil
}
