package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipscribe/backend/internal/metrics"
)

// JobQueue manages job persistence and dispatching. Jobs run one at a time;
// transcripts of completed jobs are kept in memory only.
type JobQueue struct {
	db          *sql.DB
	metrics     *metrics.Metrics
	mu          sync.RWMutex
	pending     chan string // job IDs to process
	cancels     map[string]context.CancelFunc
	handlers    map[JobType]JobHandler
	transcripts map[string]string
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewJobQueue creates and starts a new job queue
func NewJobQueue(db *sql.DB, m *metrics.Metrics) *JobQueue {
	if m == nil {
		m = metrics.New(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &JobQueue{
		db:          db,
		metrics:     m,
		pending:     make(chan string, 100),
		cancels:     make(map[string]context.CancelFunc),
		handlers:    make(map[JobType]JobHandler),
		transcripts: make(map[string]string),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start worker
	go q.worker()

	return q
}

// Resume re-queues jobs interrupted by a restart. Call it after all
// handlers are registered, resumed jobs would otherwise fail as unhandled.
func (q *JobQueue) Resume() {
	go q.resumeJobs()
}

// RegisterHandler registers a handler for a job type
func (q *JobQueue) RegisterHandler(jobType JobType, handler JobHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

// Enqueue creates a new job and adds it to the queue
func (q *JobQueue) Enqueue(jobType JobType, source string, params interface{}) (*Job, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	job := &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    StatusPending,
		Source:    source,
		Params:    paramsJSON,
		Progress:  0,
		CreatedAt: time.Now(),
	}

	_, err = q.db.Exec(`
		INSERT INTO jobs (id, type, status, source, params, progress, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, job.Status, job.Source, string(job.Params), job.Progress, job.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	q.metrics.JobsEnqueued.Inc()

	// Push to worker channel
	select {
	case q.pending <- job.ID:
	default:
		log.Printf("[job] queue full, job %s will be picked up on restart", job.ID)
	}

	return job, nil
}

// GetJob retrieves a job by ID
func (q *JobQueue) GetJob(id string) (*Job, error) {
	row := q.db.QueryRow(`
		SELECT id, type, status, source, params, progress, result, error, created_at, started_at, completed_at
		FROM jobs WHERE id = ?`, id)
	return scanJob(row.Scan)
}

// ListJobs returns all jobs ordered by creation time (newest first)
func (q *JobQueue) ListJobs() ([]*Job, error) {
	rows, err := q.db.Query(`
		SELECT id, type, status, source, params, progress, result, error, created_at, started_at, completed_at
		FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(scan func(dest ...any) error) (*Job, error) {
	job := &Job{}
	var params, result, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := scan(&job.ID, &job.Type, &job.Status, &job.Source, &params, &job.Progress,
		&result, &errMsg, &job.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if params.Valid {
		job.Params = json.RawMessage(params.String)
	}
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}

// ListEvents returns the progress log of a job in delivery order.
func (q *JobQueue) ListEvents(jobID string) ([]Event, error) {
	rows, err := q.db.Query(`
		SELECT seq, message, created_at FROM job_events
		WHERE job_id = ? ORDER BY seq ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Seq, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Transcript returns the in-memory transcript of a completed job.
func (q *JobQueue) Transcript(jobID string) (string, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	text, ok := q.transcripts[jobID]
	return text, ok
}

// CancelJob cancels a pending or running job
func (q *JobQueue) CancelJob(id string) error {
	q.mu.Lock()
	if cancelFn, ok := q.cancels[id]; ok {
		cancelFn()
		delete(q.cancels, id)
	}
	q.mu.Unlock()

	res, err := q.db.Exec(`
		UPDATE jobs SET status = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		StatusCancelled, time.Now(), id, StatusPending, StatusRunning,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		q.metrics.JobsFinished.WithLabelValues(string(StatusCancelled)).Inc()
	}
	return nil
}

// RetryJob puts a failed or cancelled job back in the queue. The staged
// media is kept on disk until a job is deleted, so a retry reprocesses the
// original bytes.
func (q *JobQueue) RetryJob(id string) (*Job, error) {
	job, err := q.GetJob(id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusFailed && job.Status != StatusCancelled {
		return nil, fmt.Errorf("job %s is %s, only failed or cancelled jobs can be retried", id, job.Status)
	}

	_, err = q.db.Exec(`
		UPDATE jobs SET status = ?, progress = 0, error = '', result = NULL, started_at = NULL, completed_at = NULL
		WHERE id = ?`, StatusPending, id)
	if err != nil {
		return nil, fmt.Errorf("reset job: %w", err)
	}
	q.db.Exec("DELETE FROM job_events WHERE job_id = ?", id)

	select {
	case q.pending <- id:
	default:
		log.Printf("[job] queue full, retried job %s will be picked up on restart", id)
	}
	return q.GetJob(id)
}

// DeleteJob removes a terminal job, its events, its transcript and its
// staged media file.
func (q *JobQueue) DeleteJob(id string) error {
	job, err := q.GetJob(id)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		return fmt.Errorf("job %s is %s, cancel it before deleting", id, job.Status)
	}

	var params TranscribeParams
	if len(job.Params) > 0 {
		json.Unmarshal(job.Params, &params)
	}
	if params.MediaPath != "" {
		if err := os.Remove(params.MediaPath); err != nil && !os.IsNotExist(err) {
			log.Printf("[job] remove staged media for %s: %v", id, err)
		}
	}

	q.db.Exec("DELETE FROM job_events WHERE job_id = ?", id)
	if _, err := q.db.Exec("DELETE FROM jobs WHERE id = ?", id); err != nil {
		return err
	}

	q.mu.Lock()
	delete(q.transcripts, id)
	q.mu.Unlock()
	return nil
}

// Stop shuts down the queue
func (q *JobQueue) Stop() {
	q.cancel()
}

// worker processes jobs from the pending channel one at a time
func (q *JobQueue) worker() {
	for {
		select {
		case <-q.ctx.Done():
			return
		case jobID := <-q.pending:
			q.processJob(jobID)
		}
	}
}

// processJob runs a single job
func (q *JobQueue) processJob(jobID string) {
	job, err := q.GetJob(jobID)
	if err != nil {
		log.Printf("[job] failed to load job %s: %v", jobID, err)
		return
	}

	// Skip if not pending (cancelled while queued, or already picked up)
	if job.Status != StatusPending {
		return
	}

	q.mu.RLock()
	handler, ok := q.handlers[job.Type]
	q.mu.RUnlock()

	if !ok {
		log.Printf("[job] no handler for job type %s", job.Type)
		q.failJob(job, fmt.Sprintf("no handler for job type: %s", job.Type))
		return
	}

	var params TranscribeParams
	if len(job.Params) > 0 {
		json.Unmarshal(job.Params, &params)
	}

	// Mark as running
	now := time.Now()
	job.StartedAt = &now
	job.Status = StatusRunning
	q.db.Exec("UPDATE jobs SET status = ?, started_at = ? WHERE id = ?",
		StatusRunning, now, job.ID)
	q.metrics.JobsActive.Inc()
	defer q.metrics.JobsActive.Dec()

	// Create cancellable context
	ctx, cancelFn := context.WithCancel(q.ctx)
	q.mu.Lock()
	q.cancels[job.ID] = cancelFn
	q.mu.Unlock()

	// Event callback: append to the log and derive numeric progress from
	// how far through the expected milestones the run is.
	startSeq := q.lastEventSeq(job.ID)
	var seen int
	emitEvent := func(message string) {
		seen++
		q.db.Exec("INSERT INTO job_events (job_id, seq, message, created_at) VALUES (?, ?, ?, ?)",
			job.ID, startSeq+seen, message, time.Now())
		if params.Milestones > 0 {
			progress := float64(seen) / float64(params.Milestones)
			if progress > 0.95 {
				progress = 0.95
			}
			q.db.Exec("UPDATE jobs SET progress = ? WHERE id = ?", progress, job.ID)
		}
	}

	// Run handler in a goroutine with context awareness
	done := make(chan error, 1)
	var transcript string
	go func() {
		text, err := handler(ctx, job, emitEvent)
		if err == nil {
			transcript = text
		}
		done <- err
	}()

	select {
	case <-ctx.Done():
		log.Printf("[job] job %s cancelled", job.ID)
	case err := <-done:
		switch {
		case err == nil:
			q.completeJob(job, params, transcript)
		case errors.Is(err, context.Canceled):
			// CancelJob already wrote the terminal status
			log.Printf("[job] job %s cancelled", job.ID)
		default:
			q.failJob(job, err.Error())
		}
	}

	// Cleanup cancel func
	q.mu.Lock()
	delete(q.cancels, job.ID)
	q.mu.Unlock()
	cancelFn()
}

func (q *JobQueue) completeJob(job *Job, params TranscribeParams, transcript string) {
	q.mu.Lock()
	q.transcripts[job.ID] = transcript
	q.mu.Unlock()

	duration := 0.0
	if job.StartedAt != nil {
		duration = time.Since(*job.StartedAt).Seconds()
	}
	resultJSON, _ := json.Marshal(TranscribeResult{
		Engine:     params.Engine,
		Parts:      params.Parts,
		Characters: len(transcript),
		Duration:   duration,
	})

	now := time.Now()
	q.db.Exec("UPDATE jobs SET status = ?, progress = 1.0, result = ?, completed_at = ? WHERE id = ?",
		StatusCompleted, string(resultJSON), now, job.ID)
	q.metrics.JobsFinished.WithLabelValues(string(StatusCompleted)).Inc()

	// The staged upload is no longer needed once the transcript exists
	if params.MediaPath != "" {
		if err := os.Remove(params.MediaPath); err != nil && !os.IsNotExist(err) {
			log.Printf("[job] remove staged media for %s: %v", job.ID, err)
		}
	}

	log.Printf("[job] job %s completed (%d characters)", job.ID, len(transcript))
}

func (q *JobQueue) failJob(job *Job, errMsg string) {
	now := time.Now()
	q.db.Exec("UPDATE jobs SET status = ?, error = ?, completed_at = ? WHERE id = ?",
		StatusFailed, errMsg, now, job.ID)
	q.metrics.JobsFinished.WithLabelValues(string(StatusFailed)).Inc()
	log.Printf("[job] job %s failed: %s", job.ID, errMsg)
}

func (q *JobQueue) lastEventSeq(jobID string) int {
	var seq sql.NullInt64
	q.db.QueryRow("SELECT MAX(seq) FROM job_events WHERE job_id = ?", jobID).Scan(&seq)
	return int(seq.Int64)
}

// resumeJobs re-queues any pending jobs found in DB after a restart
func (q *JobQueue) resumeJobs() {
	// Mark any previously "running" jobs as pending (server restarted)
	q.db.Exec("UPDATE jobs SET status = ? WHERE status = ?", StatusPending, StatusRunning)

	rows, err := q.db.Query("SELECT id FROM jobs WHERE status = ? ORDER BY created_at ASC", StatusPending)
	if err != nil {
		log.Printf("[job] failed to resume jobs: %v", err)
		return
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		select {
		case q.pending <- id:
			count++
		default:
		}
	}

	if count > 0 {
		log.Printf("[job] resumed %d pending jobs", count)
	}
}
