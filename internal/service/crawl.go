package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/raphaelgruber/contextbase/internal/crawler"
	"github.com/raphaelgruber/contextbase/internal/metrics"
	"github.com/raphaelgruber/contextbase/internal/models"
	"github.com/raphaelgruber/contextbase/internal/notify"
	"github.com/raphaelgruber/contextbase/internal/parser"
	"github.com/raphaelgruber/contextbase/internal/registry"
)

// CrawlRequest asks for a website to be crawled and indexed.
type CrawlRequest struct {
	TenantID string
	URL      string
	Room     string
}

// ValidateCrawlURL checks that raw is a base URL (scheme and host, no
// query, fragment or trailing slash) and returns its root.
func ValidateCrawlURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q needs a scheme and host", ErrInvalidURL, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.RawQuery != "" || u.Fragment != "" || strings.HasSuffix(raw, "?") || strings.HasSuffix(raw, "#") {
		return "", fmt.Errorf("%w: %q must not carry a query or fragment", ErrInvalidURL, raw)
	}
	if strings.HasSuffix(raw, "/") {
		return "", fmt.Errorf("%w: %q must not end with a slash", ErrInvalidURL, raw)
	}
	return RootURL(u), nil
}

// RootURL is scheme://host of u.
func RootURL(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

// SubmitCrawl admits a crawl. An existing root for the same site is
// replaced before the new job starts.
func (o *Orchestrator) SubmitCrawl(ctx context.Context, req CrawlRequest) (*models.ContentItem, error) {
	if o.Crawler == nil {
		return nil, fmt.Errorf("%w: crawling is not configured", crawler.ErrCrawlFailed)
	}
	root, err := ValidateCrawlURL(req.URL)
	if err != nil {
		return nil, err
	}
	if _, err := o.Guard.Authorize(ctx, req.TenantID, models.FeatureCrawlWebsite); err != nil {
		return nil, err
	}

	if _, err := o.Registry.ReplaceRoot(ctx, req.TenantID, root); err != nil {
		return nil, err
	}
	item, err := o.Registry.CreatePlaceholder(ctx, registry.Placeholder{
		TenantID: req.TenantID,
		Source:   root,
		Kind:     models.KindWebsiteRoot,
	})
	if err != nil {
		return nil, err
	}

	t := targetOf(item, req.Room)
	job := o.jobs.CreateJob(JobTypeCrawl, req.TenantID, item.ID, req.URL)
	err = o.dispatch(job, func(ctx context.Context) {
		o.runCrawl(ctx, job, item, t, req.URL)
	}, func(ctx context.Context, err error) {
		o.abort(ctx, job, t, err)
	})
	if err != nil {
		if delErr := o.Registry.Delete(ctx, item.ID); delErr != nil {
			o.logger.Warn("failed to remove undispatched item", "item", item.ID, "error", delErr)
		}
		return nil, err
	}
	return item, nil
}

func (o *Orchestrator) runCrawl(ctx context.Context, job *Job, item *models.ContentItem, t target, startURL string) {
	o.progress(ctx, t, models.ProgressQueued, "Web crawl started")
	o.jobs.Advance(job, StageExtracting, models.ProgressQueued)

	pages, err := o.crawl(ctx, item, t, startURL)
	if err != nil {
		o.abort(ctx, job, t, err)
		return
	}

	var units []ownedUnit
	var children []string
	// A recrawl may delete the root while this job runs; whatever the job
	// wrote for its pages goes with it. Pages are deleted one by one since
	// the root's cascade no longer reaches them, and vectors are discarded
	// again for pages the cascade removed before indexing wrote them.
	abandon := func(err error) {
		for _, id := range children {
			if derr := o.Registry.Delete(ctx, id); derr != nil && !errors.Is(derr, registry.ErrNotFound) {
				o.logger.Warn("failed to delete page", "item", item.ID, "page", id, "error", derr)
			}
		}
		if derr := o.Registry.DiscardVectors(ctx, item.TenantID, children); derr != nil {
			o.logger.Warn("failed to discard page vectors", "item", item.ID, "error", derr)
		}
		o.abort(ctx, job, t, err)
	}
	for _, page := range pages {
		res, err := parser.Extract(ctx, parser.Input{Format: parser.FormatWebPage, Name: page.URL, Data: []byte(page.Text)}, nil)
		if err != nil {
			o.logger.Debug("page skipped", "item", item.ID, "url", page.URL, "error", err)
			continue
		}
		child, err := o.Registry.CreatePlaceholder(ctx, registry.Placeholder{
			TenantID: item.TenantID,
			Source:   page.URL,
			Kind:     models.KindWebsitePage,
			ParentID: item.ID,
		})
		if err != nil {
			abandon(err)
			return
		}
		children = append(children, child.ID)
		units = append(units, ownUnits(child.ID, res.Units)...)
	}
	if len(units) == 0 {
		abandon(fmt.Errorf("%w: no readable pages", crawler.ErrCrawlFailed))
		return
	}
	o.progress(ctx, t, models.ProgressExtracted, "")

	o.jobs.Advance(job, StageIndexing, models.ProgressExtracted)
	firstBatch, err := o.index(ctx, item.TenantID, units)
	if err != nil {
		abandon(err)
		return
	}
	if _, err := o.Registry.Get(ctx, item.ID); err != nil {
		abandon(fmt.Errorf("website root was replaced: %w", err))
		return
	}
	o.progress(ctx, t, models.ProgressIndexed, "")

	// Pages become ready with their root; they carry no events of their own.
	for _, id := range children {
		if _, err := o.Registry.MarkReady(ctx, id, "", ""); err != nil {
			abandon(err)
			return
		}
	}

	o.jobs.Advance(job, StageSummarizing, models.ProgressIndexed)
	summary := o.summarizeDocuments(ctx, item.ID, firstBatch)
	applied, err := o.ready(ctx, t, summary, "", "Website upload finished")
	if err != nil {
		o.abort(ctx, job, t, err)
		return
	}
	o.finish(job, applied)
}

// crawl starts the external run, waits for its terminal webhook within the
// crawl budget and returns the crawled pages.
func (o *Orchestrator) crawl(ctx context.Context, item *models.ContentItem, t target, startURL string) ([]crawler.Page, error) {
	defer o.Metrics.Time(metrics.OpCrawl)()

	run, err := o.Crawler.StartRun(ctx, crawler.RunRequest{
		StartURL: startURL,
		MaxPages: o.crawlPages,
		MaxDepth: o.crawlDepth,
		ItemID:   item.ID,
		TenantID: item.TenantID,
		Room:     t.room,
	}, o.webhookURL)
	if err != nil {
		return nil, err
	}

	if o.Pending != nil {
		if err := o.Pending.Put(crawler.Pending{
			RunID:     run.ID,
			ItemID:    item.ID,
			TenantID:  item.TenantID,
			Room:      t.room,
			RootURL:   item.Source,
			StartedAt: time.Now().UTC(),
		}); err != nil {
			o.logger.Warn("failed to persist pending crawl", "run", run.ID, "error", err)
		}
		defer func() {
			if err := o.Pending.Delete(run.ID); err != nil {
				o.logger.Warn("failed to clear pending crawl", "run", run.ID, "error", err)
			}
		}()
	}
	defer o.Correlator.Forget(run.ID)

	waitCtx, cancel := context.WithTimeout(ctx, o.crawlTimeout)
	defer cancel()
	res, err := o.Correlator.Await(waitCtx, run.ID)
	if err != nil {
		return nil, err
	}
	if !res.Succeeded {
		return nil, fmt.Errorf("%w: %s", crawler.ErrCrawlFailed, res.Message)
	}

	datasetID := res.DatasetID
	if datasetID == "" {
		datasetID = run.DatasetID
	}
	return o.Crawler.DatasetItems(ctx, datasetID)
}

// HandleCrawlerEvent forwards a crawler webhook to the item's room and
// wakes the job waiting on a finished run.
func (o *Orchestrator) HandleCrawlerEvent(ctx context.Context, ev notify.CrawlerEvent) error {
	tr, ok := notify.Translate(ev.EventType)
	if !ok {
		o.logger.Info("ignoring crawler event", "event", ev.EventType, "item", ev.ItemID)
		return nil
	}
	runID := ev.Run()
	if tr.Outcome != notify.OutcomeNone && runID == "" {
		return fmt.Errorf("%w: %s without a run id", ErrInvalidWebhook, ev.EventType)
	}

	item, err := o.Registry.Get(ctx, ev.ItemID)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		o.logger.Debug("crawler event for unknown item", "event", ev.EventType, "item", ev.ItemID)
	case err != nil:
		return err
	default:
		if ev.TenantID != "" && ev.TenantID != item.TenantID {
			return fmt.Errorf("%w: tenant mismatch for item %s", ErrInvalidWebhook, ev.ItemID)
		}
		o.progress(ctx, targetOf(item, ev.Room), tr.Progress, tr.Message)
	}

	if tr.Outcome != notify.OutcomeNone {
		o.Correlator.Resolve(runID, crawler.Result{
			Succeeded: tr.Outcome == notify.OutcomeSucceeded,
			DatasetID: ev.DatasetID(),
			Message:   tr.Message,
		})
	}
	return nil
}

// Recover fails items a previous process left in flight. Nothing waits on
// them any more; pending crawl runs are cleared as well. It assumes a single
// server instance per item store.
func (o *Orchestrator) Recover(ctx context.Context) error {
	if o.Pending != nil {
		pending, err := o.Pending.List()
		if err != nil {
			return err
		}
		for _, p := range pending {
			if o.Correlator.Waiting(p.RunID) {
				continue
			}
			if err := o.Pending.Delete(p.RunID); err != nil {
				o.logger.Warn("failed to clear pending crawl", "run", p.RunID, "error", err)
			}
			o.logger.Info("abandoned crawl cleared", "run", p.RunID, "item", p.ItemID, "root", p.RootURL)
		}
	}

	items, err := o.Registry.InFlight(ctx)
	if err != nil {
		return err
	}
	for i := range items {
		item := &items[i]
		if _, err := o.Registry.Get(ctx, item.ID); errors.Is(err, registry.ErrNotFound) {
			continue
		}
		if item.ParentID != "" {
			// Handled with the parent when it is in flight too.
			parent, err := o.Registry.Get(ctx, item.ParentID)
			if err == nil && !parent.Terminal() {
				continue
			}
		}
		o.logger.Info("failing interrupted item", "item", item.ID, "tenant", item.TenantID, "source", item.Source)
		o.fail(ctx, targetOf(item, ""), errors.New("interrupted by server restart"))
	}
	return nil
}
