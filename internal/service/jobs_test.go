package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobManagerLifecycle(t *testing.T) {
	m := NewJobManager(0, nil)

	job := m.CreateJob(JobTypeFile, tenant, "item-1", "a.md")
	assert.Len(t, job.ID, 8)
	assert.Equal(t, JobStatusPending, job.Snapshot().Status)

	m.Advance(job, StageIndexing, 50)
	m.Advance(job, StageSummarizing, 30)
	snap := job.Snapshot()
	assert.Equal(t, JobStatusRunning, snap.Status)
	assert.Equal(t, StageSummarizing, snap.Stage)
	assert.Equal(t, 50, snap.Progress)

	m.Complete(job)
	snap = m.GetJob(job.ID).Snapshot()
	assert.Equal(t, JobStatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	require.NotNil(t, snap.CompletedAt)

	failed := m.CreateJob(JobTypeCrawl, "other", "item-2", "https://example.com")
	m.Fail(failed, errors.New("crawl failed"))
	assert.Equal(t, "crawl failed", failed.Snapshot().Error)
	assert.Equal(t, StageFailed, failed.Snapshot().Stage)

	assert.Len(t, m.ListJobs(""), 2)
	only := m.ListJobs("other")
	require.Len(t, only, 1)
	assert.Equal(t, failed.ID, only[0].ID)

	m.Remove(failed.ID)
	assert.Nil(t, m.GetJob(failed.ID))
}

func TestJobManagerRetention(t *testing.T) {
	m := NewJobManager(2, nil)

	for range 4 {
		m.Complete(m.CreateJob(JobTypeFile, tenant, "item", "a.md"))
	}
	running := m.CreateJob(JobTypeFile, tenant, "item", "b.md")

	jobs := m.ListJobs(tenant)
	assert.Len(t, jobs, 3)
	assert.NotNil(t, m.GetJob(running.ID))
}
