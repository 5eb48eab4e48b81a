package api

import (
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/disintegration/imaging"

	"github.com/brianhealey/inkdash/internal/dashboard"
	"github.com/brianhealey/inkdash/internal/display"
	"github.com/brianhealey/inkdash/internal/host"
	"github.com/brianhealey/inkdash/internal/jobs"
	"github.com/brianhealey/inkdash/internal/models"
	"github.com/brianhealey/inkdash/internal/render"
)

// Status is the body of GET /api/status.
type Status struct {
	Sources  []dashboard.SourceStatus `json:"sources"`
	Display  display.Status           `json:"display"`
	NextRuns map[string]time.Time     `json:"next_runs,omitempty"`
	Host     *host.Info               `json:"host,omitempty"`
}

func (h *Handlers) status() Status {
	st := Status{
		Sources: h.backend.Status(),
		Display: h.backend.DisplayStatus(),
	}
	if h.jobs != nil {
		st.NextRuns = h.jobs.Next()
	}
	if h.host != nil {
		info := h.host.Info()
		st.Host = &info
	}
	return st
}

func (h *Handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

// getFrame serves the cached frame as a PNG, red ink shown in red.
func (h *Handlers) getFrame(w http.ResponseWriter, r *http.Request) {
	f, err := h.backend.CachedFrame()
	if errors.Is(err, display.ErrNoCache) {
		writeError(w, models.ErrNotFound("no frame has been displayed yet"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := imaging.Encode(w, render.Preview(f), imaging.PNG); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// refresh runs a job now. ?job= picks tick, main or deep (default main);
// ?source= marks a source due first so the gated refresh fetches it.
func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeError(w, models.ErrUnavailable("job clock not running"))
		return
	}
	job := r.URL.Query().Get("job")
	if job == "" {
		job = jobs.JobMain
	}
	if src := r.URL.Query().Get("source"); src != "" {
		if !slices.Contains(models.AllSources, src) {
			writeError(w, models.ErrBadRequest("unknown source "+src))
			return
		}
		h.backend.Force(src)
	}
	if err := h.jobs.Run(job); err != nil {
		if errors.Is(err, jobs.ErrUnknownJob) {
			writeError(w, models.ErrBadRequest(err.Error()))
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job": job})
}
