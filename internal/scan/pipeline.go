package scan

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oversightlabs/parlscan/internal/classifier"
	"github.com/oversightlabs/parlscan/internal/metrics"
	"github.com/oversightlabs/parlscan/internal/parliament"
)

const auditSnippetRunes = 200

// pipeline drains the classification queue with a bounded worker pool,
// persisting relevant results and audit rows as it goes. It owns the
// outage pause/retry machinery: a persistent classifier failure pauses
// everything, the remaining queue diverts into the deferred list, and
// after the queue empties the deferred items are retried in backoff
// rounds before the run is allowed to finish.
type pipeline struct {
	store   Store
	labeler Labeler
	members memberLookup
	tracker *Tracker
	outage  *outage
	logger  *zap.Logger

	runID       string
	concurrency int
	sleep       func(ctx context.Context, d time.Duration) error

	// keywords, when set, returns the registry's merged keyword union for a
	// dedup key. Duplicates merge there while items sit in the queue, so the
	// contribution itself is read-only by the time a worker sees it.
	keywords func(dedupKey string) []string
}

type memberLookup interface {
	LookupMember(ctx context.Context, memberID string) (parliament.MemberInfo, error)
}

func newPipeline(store Store, labeler Labeler, members memberLookup, tracker *Tracker, logger *zap.Logger, runID string, concurrency int) *pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	return &pipeline{
		store:       store,
		labeler:     labeler,
		members:     members,
		tracker:     tracker,
		outage:      &outage{},
		logger:      logger,
		runID:       runID,
		concurrency: concurrency,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// run consumes the queue until it closes, then drains deferred items
// through the retry rounds. It returns once every queued contribution has
// been resolved as a result, an audit row, or a permanent failure.
func (p *pipeline) run(ctx context.Context, cancel *CancelToken, queue <-chan *parliament.Contribution) {
	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for contrib := range queue {
				if cancel.Cancelled() {
					continue
				}
				p.handle(ctx, contrib)
			}
		}()
	}
	wg.Wait()

	if cancel.Cancelled() {
		return
	}
	p.drainDeferred(ctx, cancel)
}

func (p *pipeline) handle(ctx context.Context, contrib *parliament.Contribution) {
	if p.outage.Paused() {
		p.outage.Defer(contrib)
		return
	}

	outcome, err := p.labeler.Classify(ctx, contrib)
	if err != nil {
		p.deferOnFailure(contrib, err)
		return
	}
	p.persistOutcome(ctx, contrib, outcome)
}

// deferOnFailure parks the item for retry and, on the first failure,
// pauses the whole run so remaining workers stop calling a dead service.
func (p *pipeline) deferOnFailure(contrib *parliament.Contribution, err error) {
	reason := "classifier unavailable"
	if apiErr, ok := classifier.AsAPIError(err); ok {
		reason = "classifier " + string(apiErr.Kind)
	}
	if !p.outage.Paused() {
		p.outage.Pause(reason)
		p.tracker.EnterOutage(reason)
		metrics.ObserveOutagePause()
		p.logger.Warn("classification paused",
			zap.String("run_id", p.runID),
			zap.String("reason", reason),
			zap.Error(err))
	}
	p.outage.Defer(contrib)
	metrics.ObserveClassification("deferred")
}

func (p *pipeline) persistOutcome(ctx context.Context, contrib *parliament.Contribution, outcome classifier.Outcome) {
	if !outcome.Relevant {
		p.auditDiscard(ctx, contrib, outcome)
		p.tracker.RecordDiscard(string(outcome.DiscardCategory))
		metrics.ObserveClassification("discarded")
		metrics.ObserveDiscard(string(outcome.DiscardCategory))
		p.maybeSnapshot(ctx)
		return
	}

	res := &Result{
		RunID:          p.runID,
		DedupKey:       contrib.DedupKey(),
		Contribution:   *contrib,
		Forum:          contrib.ForumLabel(),
		Confidence:     outcome.Confidence,
		Topics:         outcome.Topics,
		Summary:        outcome.Summary,
		PositionSignal: outcome.PositionSignal,
		VerbatimQuote:  outcome.VerbatimQuote,
		CreatedAt:      time.Now().UTC(),
	}
	if p.keywords != nil {
		res.Contribution.MatchedKeywords = p.keywords(res.DedupKey)
	}
	if contrib.MemberID != "" {
		info, err := p.members.LookupMember(ctx, contrib.MemberID)
		if err != nil {
			p.logger.Debug("member enrichment failed",
				zap.String("member_id", contrib.MemberID),
				zap.Error(err))
			info = parliament.MemberInfo{ID: contrib.MemberID, Name: contrib.MemberName}
		}
		res.Member = info
	} else {
		res.Member = parliament.MemberInfo{Name: contrib.MemberName}
	}

	if err := p.store.SaveResult(ctx, res); err != nil {
		p.logger.Error("result save failed",
			zap.String("run_id", p.runID),
			zap.String("dedup_key", res.DedupKey),
			zap.Error(err))
		return
	}
	p.tracker.RecordRelevant(string(contrib.Source))
	metrics.ObserveClassification("relevant")
	p.maybeSnapshot(ctx)
}

func (p *pipeline) auditDiscard(ctx context.Context, contrib *parliament.Contribution, outcome classifier.Outcome) {
	row := Audit{
		RunID:     p.runID,
		DedupKey:  contrib.DedupKey(),
		Source:    contrib.Source,
		Member:    contrib.MemberName,
		Reason:    outcome.DiscardReason,
		Category:  outcome.DiscardCategory,
		Snippet:   snippet(contrib.Text),
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.SaveAudits(ctx, []Audit{row}); err != nil {
		p.logger.Warn("audit save failed",
			zap.String("run_id", p.runID),
			zap.Error(err))
	}
}

// drainDeferred retries deferred items in rounds with doubling waits.
// Items still failing after the last round become permanent-failure audit
// rows so the run completes instead of hanging.
func (p *pipeline) drainDeferred(ctx context.Context, cancel *CancelToken) {
	for round := 0; round < maxRetryRounds; round++ {
		pending := p.outage.TakeDeferred()
		if len(pending) == 0 {
			p.tracker.ExitOutage()
			return
		}

		p.tracker.SetPhase(PhaseDraining)
		wait := retryWait(round)
		p.logger.Info("retrying deferred classifications",
			zap.String("run_id", p.runID),
			zap.Int("round", round),
			zap.Int("pending", len(pending)),
			zap.Duration("wait", wait))
		if err := p.sleepCancellable(ctx, cancel, wait); err != nil {
			// Re-park so cancellation accounting stays truthful.
			for _, c := range pending {
				p.outage.Defer(c)
			}
			return
		}

		p.outage.Resume()
		for _, contrib := range pending {
			if cancel.Cancelled() {
				p.outage.Defer(contrib)
				continue
			}
			p.handle(ctx, contrib)
		}
	}

	leftovers := p.outage.TakeDeferred()
	if len(leftovers) == 0 {
		p.tracker.ExitOutage()
		return
	}
	p.logger.Error("giving up on deferred classifications",
		zap.String("run_id", p.runID),
		zap.Int("count", len(leftovers)))
	rows := make([]Audit, 0, len(leftovers))
	now := time.Now().UTC()
	for _, contrib := range leftovers {
		rows = append(rows, Audit{
			RunID:     p.runID,
			DedupKey:  contrib.DedupKey(),
			Source:    contrib.Source,
			Member:    contrib.MemberName,
			Reason:    "classification failed after all retries",
			Category:  classifier.DiscardGeneric,
			Snippet:   snippet(contrib.Text),
			CreatedAt: now,
		})
		p.tracker.RecordDiscard(string(classifier.DiscardGeneric))
	}
	if err := p.store.SaveAudits(ctx, rows); err != nil {
		p.logger.Error("permanent failure audit save failed",
			zap.String("run_id", p.runID),
			zap.Error(err))
	}
	p.tracker.ExitOutage()
}

func (p *pipeline) sleepCancellable(ctx context.Context, cancel *CancelToken, d time.Duration) error {
	waitCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-cancel.Done():
			stop()
		case <-waitCtx.Done():
		}
	}()
	return p.sleep(waitCtx, d)
}

func (p *pipeline) maybeSnapshot(ctx context.Context) {
	if !p.tracker.ShouldPersist() {
		return
	}
	if err := p.store.SaveSnapshot(ctx, p.runID, p.tracker.Snapshot()); err != nil {
		p.logger.Debug("snapshot save failed", zap.Error(err))
	}
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= auditSnippetRunes {
		return text
	}
	return string(runes[:auditSnippetRunes]) + "…"
}
