package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrRunNotFound is returned for unknown or expired run ids.
var ErrRunNotFound = errors.New("run not found")

// Store is an in-memory run store with TTL support. It hands out clones so
// readers never observe a run mid-update.
type Store struct {
	runs           map[string]*Run
	idempotencyMap map[string]idempotencyEntry
	idempotencyTTL time.Duration
	mu             sync.RWMutex
	logger         *zap.Logger
	stopCleanup    chan struct{}
	stopOnce       sync.Once
}

type idempotencyEntry struct {
	runID     string
	expiresAt time.Time
}

// NewStore creates a store and starts its hourly cleanup.
func NewStore(idempotencyTTL time.Duration, logger *zap.Logger) *Store {
	if idempotencyTTL <= 0 {
		idempotencyTTL = 24 * time.Hour
	}
	s := &Store{
		runs:           make(map[string]*Run),
		idempotencyMap: make(map[string]idempotencyEntry),
		idempotencyTTL: idempotencyTTL,
		logger:         logger,
		stopCleanup:    make(chan struct{}),
	}
	go s.cleanupLoop(time.Hour)
	return s
}

func (s *Store) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.cleanupExpired(); n > 0 {
				s.logger.Info("Cleaned up expired runs", zap.Int("count", n))
			}
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupExpired removes expired runs and idempotency keys.
func (s *Store) cleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, run := range s.runs {
		if run.IsExpired() {
			delete(s.runs, id)
			deleted++
		}
	}
	now := time.Now()
	for key, e := range s.idempotencyMap {
		if now.After(e.expiresAt) {
			delete(s.idempotencyMap, key)
		}
	}
	return deleted
}

// Stop stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// Save stores a new run and its idempotency key.
func (s *Store) Save(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run.Clone()
	if run.IdempotencyKey != "" {
		s.idempotencyMap[run.IdempotencyKey] = idempotencyEntry{
			runID:     run.ID,
			expiresAt: time.Now().Add(s.idempotencyTTL),
		}
	}
	return nil
}

// GetByIdempotencyKey returns the run created with key, if it is still live.
func (s *Store) GetByIdempotencyKey(key string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.idempotencyMap[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	run, ok := s.runs[e.runID]
	if !ok || run.IsExpired() {
		return nil, false
	}
	return run.Clone(), true
}

// Get retrieves a run by ID
func (s *Store) Get(runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok || run.IsExpired() {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run.Clone(), nil
}

// Update replaces a stored run
func (s *Store) Update(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// Delete removes a run from the store
func (s *Store) Delete(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
}

// List returns all live runs
func (s *Store) List() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		if !run.IsExpired() {
			runs = append(runs, run.Clone())
		}
	}
	return runs
}

// UpdateActive replaces a stored run unless it was canceled in the
// meantime. It reports whether the update was applied.
func (s *Store) UpdateActive(run *Run) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.runs[run.ID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	if current.Status == RunStatusCanceled {
		return false, nil
	}
	s.runs[run.ID] = run.Clone()
	return true, nil
}

// Cancel marks a live run as canceled and returns it.
func (s *Store) Cancel(runID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok || run.IsExpired() {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: status is %s", ErrNotCancelable, run.Status)
	}
	run.SetStatus(RunStatusCanceled)
	run.Message = "Run canceled"
	return run.Clone(), nil
}
