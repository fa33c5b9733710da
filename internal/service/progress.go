package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/raphaelgruber/contextbase/internal/models"
	"github.com/raphaelgruber/contextbase/internal/registry"
)

// target identifies the item and room a job reports progress for.
type target struct {
	itemID   string
	tenantID string
	source   string
	room     string
	isFile   bool
}

func targetOf(item *models.ContentItem, room string) target {
	if room == "" {
		room = item.TenantID
	}
	return target{
		itemID:   item.ID,
		tenantID: item.TenantID,
		source:   item.Source,
		room:     room,
		isFile:   item.IsFile,
	}
}

func (t target) event(progress int, message string) models.ProgressEvent {
	return models.ProgressEvent{
		ItemID:   t.itemID,
		TenantID: t.tenantID,
		Source:   t.source,
		Progress: progress,
		IsFile:   t.isFile,
		Message:  message,
		Room:     t.room,
		At:       time.Now().UTC(),
	}
}

// gateSet serializes persistence and publication per item, so subscribers
// see non-decreasing progress and nothing after a terminal event.
type gateSet struct {
	mu sync.Mutex
	m  map[string]*itemGate
}

type itemGate struct {
	mu     sync.Mutex
	last   int
	closed bool
}

func newGateSet() *gateSet {
	return &gateSet{m: make(map[string]*itemGate)}
}

func (g *gateSet) lock(id string) *itemGate {
	g.mu.Lock()
	gt, ok := g.m[id]
	if !ok {
		gt = &itemGate{last: models.ProgressQueued - 1}
		g.m[id] = gt
	}
	g.mu.Unlock()
	gt.mu.Lock()
	return gt
}

func (g *gateSet) forget(id string) {
	g.mu.Lock()
	delete(g.m, id)
	g.mu.Unlock()
}

// progress persists an in-flight checkpoint and publishes it when the
// registry accepted it.
func (o *Orchestrator) progress(ctx context.Context, t target, p int, message string) {
	gt := o.gates.lock(t.itemID)
	defer gt.mu.Unlock()

	if gt.closed || p < gt.last {
		return
	}
	applied, err := o.Registry.MarkProgress(ctx, t.itemID, p)
	if err != nil {
		o.logger.Warn("failed to record progress", "item", t.itemID, "progress", p, "error", err)
		return
	}
	if !applied {
		// Late checkpoints for finished or deleted items must not pin a gate.
		if o.settled(ctx, t.itemID) {
			gt.closed = true
			o.gates.forget(t.itemID)
		}
		return
	}
	gt.last = p
	o.Notifier.Publish(t.room, t.event(p, message))
}

// settled reports whether the item is terminal or gone.
func (o *Orchestrator) settled(ctx context.Context, id string) bool {
	item, err := o.Registry.Get(ctx, id)
	if err != nil {
		return errors.Is(err, registry.ErrNotFound)
	}
	return item.Terminal()
}

// ready completes the item and publishes 100. It reports false when the
// item was already terminal or gone.
func (o *Orchestrator) ready(ctx context.Context, t target, summary, contextString, message string) (bool, error) {
	gt := o.gates.lock(t.itemID)
	defer o.gates.forget(t.itemID)
	defer gt.mu.Unlock()

	if gt.closed {
		return false, nil
	}
	applied, err := o.Registry.MarkReady(ctx, t.itemID, summary, contextString)
	if err != nil {
		return false, err
	}
	gt.closed = true
	if applied {
		o.Notifier.Publish(t.room, t.event(models.ProgressReady, message))
	}
	return applied, nil
}

// fail publishes -1 and then removes the item with everything it owns.
func (o *Orchestrator) fail(ctx context.Context, t target, cause error) {
	gt := o.gates.lock(t.itemID)
	already := gt.closed
	if !already {
		gt.closed = true
		o.Notifier.Publish(t.room, t.event(models.ProgressFailed, failureMessage(t, cause)))
	}
	gt.mu.Unlock()
	defer o.gates.forget(t.itemID)

	if already {
		return
	}
	if err := o.Registry.MarkFailed(ctx, t.itemID, cause.Error()); err != nil {
		o.logger.Error("failed to roll back item", "item", t.itemID, "error", err)
	}
}

func failureMessage(t target, cause error) string {
	if t.isFile {
		return "Document upload failed. Error: " + cause.Error()
	}
	return "Website upload failed. Error: " + cause.Error()
}
