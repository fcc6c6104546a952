package api

import (
	"net/http"

	"github.com/JakeFAU/listing-crawler/internal/progress/sinks"
)

// StatusReader exposes the latest run status. sinks.StatusSink satisfies it.
type StatusReader interface {
	Snapshot() sinks.RunStatus
}

// StatusHandler serves read-only run progress.
type StatusHandler struct {
	reader StatusReader
}

// NewStatusHandler wires reader to the handler.
func NewStatusHandler(reader StatusReader) *StatusHandler {
	return &StatusHandler{reader: reader}
}

// Status handles GET /v1/status. It returns 503 when no reader is wired.
func (h *StatusHandler) Status(w http.ResponseWriter, _ *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "run status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": h.reader.Snapshot()})
}

// ready reports whether a run has started.
func (h *StatusHandler) ready() bool {
	if h.reader == nil {
		return false
	}
	return h.reader.Snapshot().State != sinks.RunStateIdle
}
