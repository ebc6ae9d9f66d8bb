package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clipscribe/backend/internal/job"
)

type JobHandler struct {
	queue *job.JobQueue
}

func NewJobHandler(queue *job.JobQueue) *JobHandler {
	return &JobHandler{queue: queue}
}

// ListJobs returns all jobs
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.queue.ListJobs()
	if err != nil {
		jsonError(w, "failed to list jobs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

// GetJob returns a single job by ID
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(j)
}

// ListEvents returns the progress log of a job
func (h *JobHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	events, err := h.queue.ListEvents(j.ID)
	if err != nil {
		jsonError(w, "failed to list events: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// Transcript serves the transcript of a completed job as plain text.
// Transcripts are held in memory only, so after a restart completed jobs
// report 410 and the media has to be submitted again.
func (h *JobHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if j.Status != job.StatusCompleted {
		jsonError(w, fmt.Sprintf("job is %s, the transcript is available once it completes", j.Status), http.StatusConflict)
		return
	}

	text, ok := h.queue.Transcript(j.ID)
	if !ok {
		jsonError(w, "transcript no longer available (server restarted); submit the media again", http.StatusGone)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(text))
}

// CancelJob cancels a pending or running job
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.queue.CancelJob(j.ID); err != nil {
		jsonError(w, "failed to cancel job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RetryJob re-queues a failed or cancelled job
func (h *JobHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	retried, err := h.queue.RetryJob(j.ID)
	if err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(retried)
}

// DeleteJob removes a finished job and its staged media
func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.queue.DeleteJob(j.ID); err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// lookup resolves the {id} route param to a job, writing the error
// response itself when the job cannot be served.
func (h *JobHandler) lookup(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, "missing job ID", http.StatusBadRequest)
		return nil, false
	}
	j, err := h.queue.GetJob(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			jsonError(w, "job not found", http.StatusNotFound)
		} else {
			jsonError(w, "failed to load job: "+err.Error(), http.StatusInternalServerError)
		}
		return nil, false
	}
	return j, true
}
