package memory

import (
	"context"
	"strings"
	"time"

	"github.com/agenthands/tavern/internal/core/model"
	"go.uber.org/zap"
)

// Store is the slice of storage the compactor needs.
type Store interface {
	LoadMemory(ctx context.Context, adventureID string) (model.MemoryState, error)
	SaveMemory(ctx context.Context, adventureID string, m model.MemoryState) error
}

type SummaryAgent interface {
	Summarize(ctx context.Context, prior string, event model.ResolvedEvent) (string, error)
}

// Compactor folds each resolved event into the adventure's memory. It never
// fails a turn: every error is logged and the previous summary stays.
type Compactor struct {
	store    Store
	agent    SummaryAgent
	maxChars int
	now      func() time.Time
	logger   *zap.Logger
}

func NewCompactor(store Store, agent SummaryAgent, maxChars int, now func() time.Time, logger *zap.Logger) *Compactor {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compactor{store: store, agent: agent, maxChars: maxChars, now: now, logger: logger}
}

// Compact merges notes (last writer wins) and re-derives the summary from the
// prior summary and event alone. It returns the memory as stored afterwards.
func (c *Compactor) Compact(ctx context.Context, adventureID string, event model.ResolvedEvent, notes map[string]string) model.MemoryState {
	log := c.logger.With(zap.String("adventure", adventureID), zap.String("event", event.ID))

	current, err := c.store.LoadMemory(ctx, adventureID)
	if err != nil {
		log.Warn("compaction skipped: failed to load memory", zap.Error(err))
		return current
	}

	next := current.Clone()
	changed := false
	for topic, note := range notes {
		if next.Notes[topic] != note {
			next.Notes[topic] = note
			changed = true
		}
	}

	summary, err := c.agent.Summarize(ctx, current.StorySummary, event)
	switch {
	case err != nil:
		log.Warn("summarization failed, keeping previous summary", zap.Error(err))
	case summary != current.StorySummary:
		next.StorySummary = Cap(summary, c.maxChars)
		changed = true
	}

	if !changed {
		return current
	}
	next.Revision = current.Revision + 1
	next.UpdatedAt = c.now()
	if err := c.store.SaveMemory(ctx, adventureID, next); err != nil {
		log.Warn("failed to save memory", zap.Error(err))
		return current
	}
	log.Debug("memory compacted", zap.Int("revision", next.Revision), zap.Int("notes", len(next.Notes)))
	return next
}

// Cap bounds a summary to maxChars runes, preferring to cut after a sentence.
func Cap(summary string, maxChars int) string {
	runes := []rune(summary)
	if maxChars <= 0 || len(runes) <= maxChars {
		return summary
	}
	cut := string(runes[:maxChars])
	if i := strings.LastIndexAny(cut, ".!?"); i > len(cut)/2 {
		return cut[:i+1]
	}
	return strings.TrimSpace(cut)
}
