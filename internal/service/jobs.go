package service

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a background job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobType names the kind of work a job performs.
type JobType string

const (
	JobTypeFile      JobType = "file"
	JobTypeCrawl     JobType = "crawl"
	JobTypeRecording JobType = "recording"
	JobTypeSnapshot  JobType = "snapshot"
	JobTypeMap       JobType = "map"
)

// Stage is the orchestrator state of an ingestion job.
type Stage string

const (
	StageQueued      Stage = "queued"
	StageExtracting  Stage = "extracting"
	StageIndexing    Stage = "indexing"
	StageSummarizing Stage = "summarizing"
	StageReady       Stage = "ready"
	StageFailed      Stage = "failed"
)

// JobInfo is the observable state of a job.
type JobInfo struct {
	ID          string     `json:"id"`
	Type        JobType    `json:"type"`
	Status      JobStatus  `json:"status"`
	Stage       Stage      `json:"stage"`
	TenantID    string     `json:"tenantId"`
	ItemID      string     `json:"itemId"`
	Source      string     `json:"source"`
	Progress    int        `json:"progress"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Job is one dispatched unit of pipeline work.
type Job struct {
	JobInfo
	mu sync.RWMutex
}

// JobManager tracks jobs in memory. Finished jobs beyond the retention
// limit are evicted oldest first.
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	retain int
	logger *slog.Logger
}

// NewJobManager creates a job manager keeping at most retain finished jobs.
func NewJobManager(retain int, logger *slog.Logger) *JobManager {
	if retain <= 0 {
		retain = 500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobManager{
		jobs:   make(map[string]*Job),
		retain: retain,
		logger: logger,
	}
}

// CreateJob registers a new pending job.
func (m *JobManager) CreateJob(jobType JobType, tenantID, itemID, source string) *Job {
	job := &Job{JobInfo: JobInfo{
		ID:        uuid.New().String()[:8],
		Type:      jobType,
		Status:    JobStatusPending,
		Stage:     StageQueued,
		TenantID:  tenantID,
		ItemID:    itemID,
		Source:    source,
		StartedAt: time.Now(),
	}}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.logger.Debug("job created", "job_id", job.ID, "type", jobType, "item", itemID)
	return job
}

// Remove forgets a job that was never dispatched.
func (m *JobManager) Remove(id string) {
	m.mu.Lock()
	delete(m.jobs, id)
	m.mu.Unlock()
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns snapshots of all jobs, most recent first. An empty
// tenantID lists every tenant.
func (m *JobManager) ListJobs(tenantID string) []JobInfo {
	m.mu.RLock()
	jobs := make([]JobInfo, 0, len(m.jobs))
	for _, job := range m.jobs {
		snap := job.Snapshot()
		if tenantID == "" || snap.TenantID == tenantID {
			jobs = append(jobs, snap)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b JobInfo) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return jobs
}

// Advance moves a job to stage, recording the latest progress.
func (m *JobManager) Advance(job *Job, stage Stage, progress int) {
	job.mu.Lock()
	defer job.mu.Unlock()

	if job.Status == JobStatusPending {
		job.Status = JobStatusRunning
	}
	job.Stage = stage
	if progress > job.Progress {
		job.Progress = progress
	}
}

// Complete marks job as completed.
func (m *JobManager) Complete(job *Job) {
	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.Stage = StageReady
	job.Progress = 100
	now := time.Now()
	job.CompletedAt = &now
	elapsed := now.Sub(job.StartedAt)
	job.mu.Unlock()

	m.logger.Info("job completed", "job_id", job.ID, "type", job.Type, "item", job.ItemID, "elapsed", elapsed)
	m.prune()
}

// Fail marks job as failed with error.
func (m *JobManager) Fail(job *Job, err error) {
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Stage = StageFailed
	job.Error = err.Error()
	now := time.Now()
	job.CompletedAt = &now
	job.mu.Unlock()

	m.logger.Error("job failed", "job_id", job.ID, "type", job.Type, "item", job.ItemID, "error", err)
	m.prune()
}

func (m *JobManager) prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var finished []*Job
	for _, job := range m.jobs {
		job.mu.RLock()
		done := job.CompletedAt != nil
		job.mu.RUnlock()
		if done {
			finished = append(finished, job)
		}
	}
	if len(finished) <= m.retain {
		return
	}
	slices.SortFunc(finished, func(a, b *Job) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	for _, job := range finished[:len(finished)-m.retain] {
		delete(m.jobs, job.ID)
	}
}

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() JobInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.JobInfo
}
