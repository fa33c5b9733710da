package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/raphaelgruber/contextbase/internal/metrics"
	"github.com/raphaelgruber/contextbase/internal/models"
	"github.com/raphaelgruber/contextbase/internal/parser"
	"github.com/raphaelgruber/contextbase/internal/registry"
)

// FileUpload is an uploaded document or table.
type FileUpload struct {
	TenantID string
	Filename string
	Data     []byte
	Room     string
}

// SubmitFile admits an upload and dispatches its ingestion. Re-uploading a
// tabular file with the same name reopens the existing item.
func (o *Orchestrator) SubmitFile(ctx context.Context, up FileUpload) (*models.ContentItem, error) {
	format, err := parser.DetectFormat(up.Filename)
	if err != nil {
		return nil, err
	}

	var existing *models.ContentItem
	if format.Tabular() {
		existing, err = o.findTable(ctx, up.TenantID, models.QualifiedTableName(up.TenantID, up.Filename))
		if err != nil {
			return nil, err
		}
	}

	var snap *models.QuotaSnapshot
	if existing != nil {
		snap, err = o.Guard.AuthorizeEntitlement(ctx, up.TenantID, models.FeatureUploadFiles)
	} else {
		snap, err = o.Guard.Authorize(ctx, up.TenantID, models.FeatureUploadFiles)
	}
	if err != nil {
		return nil, err
	}

	var item *models.ContentItem
	var rollback func(context.Context)
	if existing != nil {
		if !existing.Ready() {
			return nil, fmt.Errorf("re-upload %s: %w", up.Filename, registry.ErrItemInFlight)
		}
		item, err = o.Registry.Reopen(ctx, existing.ID, int64(len(up.Data)))
		if err != nil {
			return nil, err
		}
		rollback = func(ctx context.Context) {
			if _, err := o.Registry.MarkReady(ctx, existing.ID, existing.Summary, existing.ContextString); err != nil {
				o.logger.Warn("failed to restore reopened item", "item", existing.ID, "error", err)
			}
		}
		o.logger.Info("tabular source reopened", "item", item.ID, "tenant", up.TenantID, "source", up.Filename)
	} else {
		fileType := parser.FileType(up.Filename)
		p := registry.Placeholder{
			TenantID:   up.TenantID,
			Source:     up.Filename,
			Kind:       models.KindFile,
			IsFile:     true,
			Structured: format.Tabular(),
			FileType:   fileType,
			Length:     int64(len(up.Data)),
			AllowMap:   parser.AllowsMap(fileType),
		}
		if p.Structured {
			p.TableName = models.QualifiedTableName(up.TenantID, up.Filename)
		}
		item, err = o.Registry.CreatePlaceholder(ctx, p)
		if err != nil {
			return nil, err
		}
		rollback = func(ctx context.Context) {
			if err := o.Registry.Delete(ctx, item.ID); err != nil {
				o.logger.Warn("failed to remove undispatched item", "item", item.ID, "error", err)
			}
		}
	}

	t := targetOf(item, up.Room)
	job := o.jobs.CreateJob(JobTypeFile, up.TenantID, item.ID, up.Filename)
	err = o.dispatch(job, func(ctx context.Context) {
		o.runFile(ctx, job, item, t, format, up.Data, snap.AutoCreateMap)
	}, func(ctx context.Context, err error) {
		o.abort(ctx, job, t, err)
	})
	if err != nil {
		rollback(ctx)
		return nil, err
	}
	return item, nil
}

func (o *Orchestrator) runFile(ctx context.Context, job *Job, item *models.ContentItem, t target, format parser.Format, data []byte, autoMap bool) {
	o.progress(ctx, t, models.ProgressQueued, "")
	o.jobs.Advance(job, StageExtracting, models.ProgressQueued)

	done := o.Metrics.Time(metrics.OpExtract)
	res, err := parser.Extract(ctx, parser.Input{Format: format, Name: item.Source, Data: data}, func(p int) {
		o.progress(ctx, t, p, "")
	})
	done()
	if err != nil {
		o.abort(ctx, job, t, err)
		return
	}
	if res.Frame != nil {
		o.progress(ctx, t, models.ProgressEarly, "")
	}
	o.progress(ctx, t, models.ProgressExtracted, "")

	o.jobs.Advance(job, StageIndexing, models.ProgressExtracted)
	var firstBatch []string
	if res.Frame != nil {
		done := o.Metrics.Time(metrics.OpIndex)
		err = o.Tables.CreateOrReplaceTable(ctx, item.TableName, res.Frame)
		done()
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrIndexingFailed, err)
		}
	} else {
		firstBatch, err = o.index(ctx, item.TenantID, ownUnits(item.ID, res.Units))
	}
	if err != nil {
		o.abort(ctx, job, t, err)
		return
	}
	o.progress(ctx, t, models.ProgressIndexed, "")

	o.jobs.Advance(job, StageSummarizing, models.ProgressIndexed)
	var summary, contextString string
	if res.Frame != nil {
		summary = o.summarizeTable(ctx, item.ID, res.Frame)
		contextString = TableContext(res.Frame.Columns, item.Source)
	} else {
		summary = o.summarizeDocuments(ctx, item.ID, firstBatch)
	}

	applied, err := o.ready(ctx, t, summary, contextString, "File upload finished")
	if err != nil {
		o.abort(ctx, job, t, err)
		return
	}
	o.finish(job, applied)

	if applied && autoMap && item.AllowMap {
		item.Progress = models.ProgressReady
		if _, err := o.submitMap(item); err != nil {
			o.logger.Warn("automatic map not started", "item", item.ID, "error", err)
		}
	}
}

// findTable returns the tenant's structured item stored under tableName.
// Filenames differing only in case or punctuation share a table, so the
// lookup goes by table name rather than source.
func (o *Orchestrator) findTable(ctx context.Context, tenantID, tableName string) (*models.ContentItem, error) {
	items, err := o.Registry.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Structured && items[i].TableName == tableName {
			return &items[i], nil
		}
	}
	return nil, nil
}

// TableContext is the one-line description stored with structured items.
func TableContext(columns []string, source string) string {
	return fmt.Sprintf("This table gives information regarding: %s from the document: %s",
		strings.Join(columns, ", "), models.FormatTableName(source))
}

// ownedUnit is an extracted unit with the item that will own its vector.
type ownedUnit struct {
	itemID string
	unit   models.Unit
}

func ownUnits(itemID string, units []models.Unit) []ownedUnit {
	out := make([]ownedUnit, len(units))
	for i, u := range units {
		out[i] = ownedUnit{itemID: itemID, unit: u}
	}
	return out
}

// index embeds units in batches and stores them in the tenant's vector
// collection. It returns the texts of the first batch for summarization.
func (o *Orchestrator) index(ctx context.Context, tenantID string, units []ownedUnit) ([]string, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: nothing to index", ErrIndexingFailed)
	}

	var first []string
	for start := 0; start < len(units); start += o.batchSize {
		end := min(start+o.batchSize, len(units))
		batch := units[start:end]

		texts := make([]string, len(batch))
		for i, u := range batch {
			texts[i] = u.unit.Text
		}
		if first == nil {
			first = texts
		}

		done := o.Metrics.Time(metrics.OpEmbedding)
		vectors, err := o.Embedder.EmbedBatch(ctx, texts)
		done()
		if err != nil {
			return nil, fmt.Errorf("%w: embed batch at %d: %w", ErrIndexingFailed, start, err)
		}

		entries := make([]models.VectorEntry, len(batch))
		for i, u := range batch {
			meta := maps.Clone(u.unit.Metadata)
			if meta == nil {
				meta = map[string]any{}
			}
			meta["item"] = u.itemID
			entries[i] = models.VectorEntry{
				TenantID:  tenantID,
				ItemID:    u.itemID,
				Content:   u.unit.Text,
				Position:  start + i,
				Metadata:  meta,
				Embedding: vectors[i],
			}
		}

		done = o.Metrics.Time(metrics.OpIndex)
		err = o.Vectors.PutChunks(ctx, tenantID, entries)
		done()
		if err != nil {
			return nil, fmt.Errorf("%w: store batch at %d: %w", ErrIndexingFailed, start, err)
		}
	}
	return first, nil
}

// summarizeDocuments degrades to an empty summary on failure.
func (o *Orchestrator) summarizeDocuments(ctx context.Context, itemID string, texts []string) string {
	if o.Summarizer == nil || len(texts) == 0 {
		return ""
	}
	defer o.Metrics.Time(metrics.OpSummarize)()
	summary, err := o.Summarizer.SummarizeDocuments(ctx, texts)
	if err != nil {
		o.logger.Warn("summary skipped", "item", itemID, "error", err)
		return ""
	}
	return summary
}

func (o *Orchestrator) summarizeTable(ctx context.Context, itemID string, frame *models.Frame) string {
	if o.Summarizer == nil {
		return ""
	}
	defer o.Metrics.Time(metrics.OpSummarize)()
	summary, err := o.Summarizer.SummarizeTable(ctx, frame)
	if err != nil {
		o.logger.Warn("summary skipped", "item", itemID, "error", err)
		return ""
	}
	return summary
}

// abort fails the job and rolls its item back.
func (o *Orchestrator) abort(ctx context.Context, job *Job, t target, err error) {
	o.fail(ctx, t, err)
	o.jobs.Fail(job, err)
	o.Metrics.RecordOutcome(string(job.Type), metrics.OutcomeFailed)
}

func (o *Orchestrator) finish(job *Job, applied bool) {
	if !applied {
		o.jobs.Fail(job, errors.New("item was removed before completion"))
		o.Metrics.RecordOutcome(string(job.Type), metrics.OutcomeFailed)
		return
	}
	o.jobs.Complete(job)
	o.Metrics.RecordOutcome(string(job.Type), metrics.OutcomeReady)
}
