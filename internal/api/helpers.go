// Package api implements the local HTTP status surface of the dashboard.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/brianhealey/inkdash/internal/dashboard"
	"github.com/brianhealey/inkdash/internal/display"
	"github.com/brianhealey/inkdash/internal/events"
	"github.com/brianhealey/inkdash/internal/host"
	"github.com/brianhealey/inkdash/internal/models"
	"github.com/brianhealey/inkdash/internal/render"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	backend Backend
	jobs    JobRunner
	events  EventBus
	host    HostReporter
}

// Backend is the dashboard state the handlers report on.
type Backend interface {
	Status() []dashboard.SourceStatus
	DisplayStatus() display.Status
	CachedFrame() (*render.Frame, error)
	Force(source string)
}

// JobRunner triggers jobs outside their schedule.
type JobRunner interface {
	Run(name string) error
	Next() map[string]time.Time
}

// HostReporter describes the machine; optional.
type HostReporter interface {
	Info() host.Info
}

// EventBus is the interface for subscribing to dashboard events.
type EventBus interface {
	Subscribe(id string) <-chan events.Event
	Unsubscribe(id string)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an AppError as a JSON response. Other errors are
// reported as internal.
func writeError(w http.ResponseWriter, err error) {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		appErr = models.ErrInternal(err.Error())
	}
	writeJSON(w, appErr.Status, appErr)
}
