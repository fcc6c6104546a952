package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported stages.
const (
	StageRunStart Stage = "RUN_START"
	StagePageDone Stage = "PAGE_DONE"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
)

// Event is one milestone of a crawl run.
type Event struct {
	RunID string
	// TS is the UTC time the emitter observed the milestone.
	TS    time.Time
	Stage Stage
	// Page is the 1-based page number for PAGE_DONE, or the page count for
	// RUN_DONE and RUN_ERROR.
	Page int
	URL  string
	// Inserted and Skipped are per-page deltas on PAGE_DONE.
	Inserted int
	Skipped  int
	Dur      time.Duration
	// Note holds the stop reason or error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePageDone:
		if e.Page <= 0 {
			return errors.New("page done requires a page number")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Inserted < 0 || e.Skipped < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}
