package service

import (
	"context"
	"fmt"
	"net/url"

	"github.com/raphaelgruber/contextbase/internal/models"
	"github.com/raphaelgruber/contextbase/internal/parser"
	"github.com/raphaelgruber/contextbase/internal/registry"
)

// RecordingRequest carries one recorded API exchange from a page.
type RecordingRequest struct {
	TenantID string
	URL      string
	Payload  string
	Response string
	Room     string
}

// SnapshotRequest carries the captured DOM of a page.
type SnapshotRequest struct {
	TenantID string
	URL      string
	HTML     string
	Room     string
}

// webSubmission is a recording or snapshot ready for admission.
type webSubmission struct {
	jobType JobType
	kind    models.Kind
	tenant  string
	pageURL string
	room    string
	input   parser.Input
}

// SubmitRecording indexes an API exchange under the page's website root,
// overwriting an earlier recording of the same url.
func (o *Orchestrator) SubmitRecording(ctx context.Context, req RecordingRequest) (*models.ContentItem, error) {
	return o.submitWeb(ctx, webSubmission{
		jobType: JobTypeRecording,
		kind:    models.KindAPIRecording,
		tenant:  req.TenantID,
		pageURL: req.URL,
		room:    req.Room,
		input: parser.Input{
			Format:   parser.FormatRecording,
			Name:     req.URL,
			Payload:  req.Payload,
			Response: req.Response,
		},
	})
}

// SubmitSnapshot indexes a page's visible text under its website root,
// overwriting an earlier snapshot of the same url.
func (o *Orchestrator) SubmitSnapshot(ctx context.Context, req SnapshotRequest) (*models.ContentItem, error) {
	return o.submitWeb(ctx, webSubmission{
		jobType: JobTypeSnapshot,
		kind:    models.KindDOMSnapshot,
		tenant:  req.TenantID,
		pageURL: req.URL,
		room:    req.Room,
		input: parser.Input{
			Format: parser.FormatDOM,
			Name:   req.URL,
			Data:   []byte(req.HTML),
		},
	})
}

func pageRoot(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q needs a scheme and host", ErrInvalidURL, raw)
	}
	return RootURL(u), nil
}

func (o *Orchestrator) submitWeb(ctx context.Context, sub webSubmission) (*models.ContentItem, error) {
	rootURL, err := pageRoot(sub.pageURL)
	if err != nil {
		return nil, err
	}

	root, err := o.Registry.FindBySource(ctx, sub.tenant, rootURL, models.KindWebsiteRoot)
	if err != nil {
		return nil, err
	}
	createdRoot := root == nil
	if createdRoot {
		_, err = o.Guard.Authorize(ctx, sub.tenant, models.FeatureCrawlWebsite)
	} else {
		_, err = o.Guard.AuthorizeEntitlement(ctx, sub.tenant, models.FeatureCrawlWebsite)
	}
	if err != nil {
		return nil, err
	}

	if createdRoot {
		root, err = o.Registry.CreatePlaceholder(ctx, registry.Placeholder{
			TenantID: sub.tenant,
			Source:   rootURL,
			Kind:     models.KindWebsiteRoot,
		})
		if err != nil {
			return nil, err
		}
	}

	child, reopened, err := o.webChild(ctx, root, sub)
	if err != nil {
		if createdRoot {
			_ = o.Registry.Delete(ctx, root.ID)
		}
		return nil, err
	}

	rootTarget := targetOf(root, sub.room)
	childTarget := targetOf(child, sub.room)
	job := o.jobs.CreateJob(sub.jobType, sub.tenant, child.ID, sub.pageURL)
	err = o.dispatch(job, func(ctx context.Context) {
		o.runWeb(ctx, job, child, childTarget, sub.input, createdRoot, rootTarget)
	}, func(ctx context.Context, err error) {
		o.abortWeb(ctx, job, childTarget, createdRoot, rootTarget, err)
	})
	if err != nil {
		// A reopened page has already lost its vectors, so it goes too.
		rollback := child.ID
		if createdRoot {
			rollback = root.ID
		}
		if delErr := o.Registry.Delete(ctx, rollback); delErr != nil {
			o.logger.Warn("failed to remove undispatched item", "item", rollback, "reopened", reopened, "error", delErr)
		}
		return nil, err
	}
	return child, nil
}

// webChild finds or creates the item for the exact page url under root.
func (o *Orchestrator) webChild(ctx context.Context, root *models.ContentItem, sub webSubmission) (*models.ContentItem, bool, error) {
	existing, err := o.Registry.FindChild(ctx, root.ID, sub.pageURL)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if !existing.Ready() {
			return nil, false, fmt.Errorf("capture %s: %w", sub.pageURL, registry.ErrItemInFlight)
		}
		child, err := o.Registry.Reopen(ctx, existing.ID, inputLength(sub.input))
		if err != nil {
			return nil, false, err
		}
		return child, true, nil
	}

	child, err := o.Registry.CreatePlaceholder(ctx, registry.Placeholder{
		TenantID: root.TenantID,
		Source:   sub.pageURL,
		Kind:     sub.kind,
		ParentID: root.ID,
		Length:   inputLength(sub.input),
	})
	return child, false, err
}

func inputLength(in parser.Input) int64 {
	return int64(len(in.Data) + len(in.Payload) + len(in.Response))
}

func (o *Orchestrator) runWeb(ctx context.Context, job *Job, child *models.ContentItem, t target, in parser.Input, createdRoot bool, rootTarget target) {
	if createdRoot {
		o.progress(ctx, rootTarget, models.ProgressQueued, "")
	}
	o.progress(ctx, t, models.ProgressQueued, "")
	o.jobs.Advance(job, StageExtracting, models.ProgressQueued)

	res, err := parser.Extract(ctx, in, nil)
	if err != nil {
		o.abortWeb(ctx, job, t, createdRoot, rootTarget, err)
		return
	}
	o.progress(ctx, t, models.ProgressExtracted, "")

	o.jobs.Advance(job, StageIndexing, models.ProgressExtracted)
	firstBatch, err := o.index(ctx, child.TenantID, ownUnits(child.ID, res.Units))
	if err != nil {
		o.abortWeb(ctx, job, t, createdRoot, rootTarget, err)
		return
	}
	o.progress(ctx, t, models.ProgressIndexed, "")

	o.jobs.Advance(job, StageSummarizing, models.ProgressIndexed)
	applied, err := o.ready(ctx, t, "", "", "Website upload finished")
	if err != nil {
		o.abortWeb(ctx, job, t, createdRoot, rootTarget, err)
		return
	}

	if createdRoot {
		summary := o.summarizeDocuments(ctx, rootTarget.itemID, firstBatch)
		if _, err := o.ready(ctx, rootTarget, summary, "", "Website upload finished"); err != nil {
			o.logger.Warn("failed to complete website root", "item", rootTarget.itemID, "error", err)
		}
	}
	o.finish(job, applied)
}

// abortWeb fails the page; a root created for it goes with it.
func (o *Orchestrator) abortWeb(ctx context.Context, job *Job, t target, createdRoot bool, rootTarget target, err error) {
	o.abort(ctx, job, t, err)
	if createdRoot {
		o.fail(ctx, rootTarget, err)
	}
}
