package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/clipscribe/backend/internal/captions"
	"github.com/clipscribe/backend/internal/chunk"
	"github.com/clipscribe/backend/internal/config"
	"github.com/clipscribe/backend/internal/db"
	"github.com/clipscribe/backend/internal/job"
	"github.com/clipscribe/backend/internal/transcribe"
)

// TranscriptionsHandler accepts new transcription requests. Uploaded media
// is staged under the data path and handed to the job queue; video links
// only get a caption lookup, downloading remote media is not supported.
type TranscriptionsHandler struct {
	queue    *job.JobQueue
	service  *transcribe.Service
	remote   captions.Fetcher
	database *db.Database
	cfg      *config.Config
	uploads  string
}

func NewTranscriptionsHandler(queue *job.JobQueue, service *transcribe.Service, remote captions.Fetcher, database *db.Database, cfg *config.Config) *TranscriptionsHandler {
	uploads := filepath.Join(cfg.DataPath, "uploads")
	if err := os.MkdirAll(uploads, 0o755); err != nil {
		log.Printf("[api] create upload dir %s: %v", uploads, err)
	}
	return &TranscriptionsHandler{
		queue:    queue,
		service:  service,
		remote:   remote,
		database: database,
		cfg:      cfg,
		uploads:  uploads,
	}
}

// Create starts a transcription from a multipart media upload or a JSON
// video link.
func (h *TranscriptionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		h.createFromUpload(w, r)
		return
	}
	h.createFromLink(w, r)
}

func (h *TranscriptionsHandler) createFromUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)

	file, header, err := r.FormFile("media")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			jsonError(w, fmt.Sprintf("upload exceeds the %d byte limit", maxErr.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "missing media file: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	engineName := r.FormValue("engine")
	if engineName == "" {
		engineName = h.database.GetSetting("default_engine", "gemini")
	}
	if _, err := h.service.Engine(engineName); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	staged := filepath.Join(h.uploads, uuid.New().String()+filepath.Ext(header.Filename))
	out, err := os.Create(staged)
	if err != nil {
		jsonError(w, "failed to stage upload: "+err.Error(), http.StatusInternalServerError)
		return
	}
	size, err := io.Copy(out, file)
	out.Close()
	if err != nil {
		os.Remove(staged)
		jsonError(w, "failed to stage upload: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if size == 0 {
		os.Remove(staged)
		jsonError(w, "media file is empty", http.StatusBadRequest)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Part count drives the progress estimate. Only the chunked engine
	// splits; the others send the media in one piece.
	parts := 1
	milestones := 3
	if engineName == "gemini" {
		unit := h.cfg.ChunkMaxBytes
		if unit == 0 {
			unit = chunk.DefaultMaxUnitBytes
		}
		if n := chunk.Count(uint64(size), unit); n > 0 {
			parts = n
		}
		milestones = 4*parts + 2
	}

	j, err := h.queue.Enqueue(job.JobTranscribe, header.Filename, job.TranscribeParams{
		Engine:      engineName,
		ContentType: contentType,
		MediaPath:   staged,
		SizeBytes:   uint64(size),
		Parts:       parts,
		Milestones:  milestones,
	})
	if err != nil {
		os.Remove(staged)
		jsonError(w, "failed to enqueue job: "+err.Error(), http.StatusInternalServerError)
		return
	}

	log.Printf("[api] queued transcription %s for %s (%d bytes, %d part(s), engine %s)",
		j.ID, header.Filename, size, parts, engineName)
	jsonResponse(w, j, http.StatusAccepted)
}

func (h *TranscriptionsHandler) createFromLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		jsonError(w, "either a multipart media file or a url is required", http.StatusBadRequest)
		return
	}

	text, found, err := h.remote.Lookup(r.Context(), req.URL)
	if err != nil {
		jsonError(w, "caption lookup failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	if !found {
		jsonError(w, "no caption track available for this link; downloading remote media is not supported, upload the file instead", http.StatusUnprocessableEntity)
		return
	}

	jsonResponse(w, map[string]string{
		"source":     req.URL,
		"transcript": text,
	}, http.StatusOK)
}
