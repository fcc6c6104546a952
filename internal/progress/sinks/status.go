package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/listing-crawler/internal/progress"
)

// RunState is the lifecycle position of a crawl run.
type RunState string

// Run states.
const (
	RunStateIdle     RunState = "idle"
	RunStateRunning  RunState = "running"
	RunStateFinished RunState = "finished"
	RunStateFailed   RunState = "failed"
)

// RunStatus is a point-in-time view of the most recent run.
type RunStatus struct {
	RunID     string    `json:"run_id,omitempty"`
	State     RunState  `json:"state"`
	Pages     int       `json:"pages"`
	Inserted  int       `json:"inserted"`
	Skipped   int       `json:"skipped"`
	LastURL   string    `json:"last_url,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	Stop      string    `json:"stop,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// StatusSink folds progress events into a RunStatus. A RUN_START for a new
// run resets the counters.
type StatusSink struct {
	mu     sync.RWMutex
	status RunStatus
}

// NewStatusSink returns a sink in the idle state.
func NewStatusSink() *StatusSink {
	return &StatusSink{status: RunStatus{State: RunStateIdle}}
}

// Consume applies the batch in order.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *StatusSink) apply(evt progress.Event) {
	if evt.Stage == progress.StageRunStart {
		s.status = RunStatus{
			RunID:     evt.RunID,
			State:     RunStateRunning,
			LastURL:   evt.URL,
			StartedAt: evt.TS,
			UpdatedAt: evt.TS,
		}
		return
	}
	if evt.RunID != s.status.RunID {
		return
	}
	s.status.UpdatedAt = evt.TS
	switch evt.Stage {
	case progress.StagePageDone:
		s.status.Pages = evt.Page
		s.status.Inserted += evt.Inserted
		s.status.Skipped += evt.Skipped
		s.status.LastURL = evt.URL
	case progress.StageRunDone:
		s.status.State = RunStateFinished
		s.status.Pages = evt.Page
		s.status.Stop = evt.Note
	case progress.StageRunError:
		s.status.State = RunStateFailed
		s.status.Pages = evt.Page
		s.status.Error = evt.Note
	}
}

// Snapshot returns a copy of the current status.
func (s *StatusSink) Snapshot() RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Close is a no-op; the last status stays readable.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
