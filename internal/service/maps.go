package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/contextbase/internal/metrics"
	"github.com/raphaelgruber/contextbase/internal/models"
	"github.com/raphaelgruber/contextbase/internal/registry"
)

// CreateMap starts building the embedding map of a ready structured item.
func (o *Orchestrator) CreateMap(ctx context.Context, tenantID, itemID string) (JobInfo, error) {
	item, err := o.owned(ctx, tenantID, itemID)
	if err != nil {
		return JobInfo{}, err
	}
	switch {
	case !item.Ready():
		return JobInfo{}, fmt.Errorf("map %s: %w", itemID, registry.ErrNotReady)
	case !item.Structured || !item.AllowMap:
		return JobInfo{}, fmt.Errorf("map %s: %w", itemID, ErrMapNotAllowed)
	case item.Length > o.maxMapBytes:
		return JobInfo{}, fmt.Errorf("map %s: %d bytes: %w", itemID, item.Length, ErrFileTooLarge)
	case item.MapCreated:
		return JobInfo{}, fmt.Errorf("map %s: %w", itemID, ErrMapExists)
	}
	if _, err := o.Guard.AuthorizeEntitlement(ctx, tenantID, models.FeatureUploadFiles); err != nil {
		return JobInfo{}, err
	}

	job, err := o.submitMap(item)
	if err != nil {
		return JobInfo{}, err
	}
	return job.Snapshot(), nil
}

// submitMap dispatches a map job. Map jobs report through the job list
// only; the item's progress events ended with its 100.
func (o *Orchestrator) submitMap(item *models.ContentItem) (*Job, error) {
	if o.Maps == nil || o.Tables == nil {
		return nil, fmt.Errorf("%w: maps are not configured", ErrMapNotAllowed)
	}
	if _, busy := o.mapping.LoadOrStore(item.ID, struct{}{}); busy {
		return nil, fmt.Errorf("map %s: %w", item.ID, ErrMapExists)
	}

	job := o.jobs.CreateJob(JobTypeMap, item.TenantID, item.ID, item.Source)
	err := o.dispatch(job, func(ctx context.Context) {
		defer o.mapping.Delete(item.ID)
		o.runMap(ctx, job, item)
	}, func(_ context.Context, err error) {
		o.mapping.Delete(item.ID)
		o.jobs.Fail(job, err)
		o.Metrics.RecordOutcome(string(JobTypeMap), metrics.OutcomeFailed)
	})
	if err != nil {
		o.mapping.Delete(item.ID)
		return nil, err
	}
	return job, nil
}

func (o *Orchestrator) runMap(ctx context.Context, job *Job, item *models.ContentItem) {
	defer o.Metrics.Time(metrics.OpMap)()
	o.jobs.Advance(job, StageExtracting, models.ProgressQueued)

	failed := func(err error) {
		o.logger.Warn("map generation failed", "item", item.ID, "tenant", item.TenantID, "error", err)
		o.jobs.Fail(job, err)
		o.Metrics.RecordOutcome(string(JobTypeMap), metrics.OutcomeFailed)
	}

	frame, err := o.Tables.ReadRows(ctx, item.TableName, o.mapRows)
	if err != nil {
		failed(err)
		return
	}
	o.jobs.Advance(job, StageIndexing, models.ProgressExtracted)

	ref, err := o.Maps.Generate(ctx, item.TenantID, item, frame)
	if err != nil {
		failed(err)
		return
	}
	if err := o.Registry.SetMapArtifact(ctx, item.ID, ref); err != nil {
		// The item was deleted or reopened meanwhile and will never
		// reference the stored map.
		if o.Artifacts != nil {
			if derr := o.Artifacts.Delete(ctx, ref); derr != nil {
				o.logger.Warn("failed to delete unclaimed map", "item", item.ID, "ref", ref, "error", derr)
			}
		}
		failed(err)
		return
	}

	o.jobs.Complete(job)
	o.Metrics.RecordOutcome(string(JobTypeMap), metrics.OutcomeReady)
	o.logger.Info("map created", "item", item.ID, "tenant", item.TenantID, "ref", ref)
}

// DeleteMap removes an item's map so it can be built again.
func (o *Orchestrator) DeleteMap(ctx context.Context, tenantID, itemID string) error {
	item, err := o.owned(ctx, tenantID, itemID)
	if err != nil {
		return err
	}
	if !item.MapCreated {
		return fmt.Errorf("map of %s: %w", itemID, registry.ErrNotFound)
	}
	return o.Registry.ClearMapArtifact(ctx, itemID)
}

// MapImage returns the stored PNG of an item's map.
func (o *Orchestrator) MapImage(ctx context.Context, tenantID, itemID string) ([]byte, error) {
	item, err := o.owned(ctx, tenantID, itemID)
	if err != nil {
		return nil, err
	}
	if !item.MapCreated || item.MapArtifactRef == "" || o.Artifacts == nil {
		return nil, fmt.Errorf("map of %s: %w", itemID, registry.ErrNotFound)
	}
	data, err := o.Artifacts.Get(ctx, item.MapArtifactRef)
	if err != nil {
		return nil, fmt.Errorf("read map of %s: %w", itemID, err)
	}
	return data, nil
}

// owned loads an item and hides it from other tenants.
func (o *Orchestrator) owned(ctx context.Context, tenantID, itemID string) (*models.ContentItem, error) {
	item, err := o.Registry.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.TenantID != tenantID {
		return nil, fmt.Errorf("get item %s: %w", itemID, registry.ErrNotFound)
	}
	return item, nil
}

// isNotFound is shared by callers mapping lookups to 404.
func isNotFound(err error) bool {
	return errors.Is(err, registry.ErrNotFound)
}
