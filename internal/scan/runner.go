package scan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oversightlabs/parlscan/internal/classifier"
	"github.com/oversightlabs/parlscan/internal/metrics"
	"github.com/oversightlabs/parlscan/internal/parliament"
)

// ErrEmptyConfig rejects runs with nothing to search for.
var ErrEmptyConfig = errors.New("scan config needs at least one topic keyword or member")

// ErrRunNotFound reports an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// RunnerConfig bounds the per-run fan-out.
type RunnerConfig struct {
	// KeywordConcurrency caps simultaneous keyword searches (default 12).
	KeywordConcurrency int
	// ClassifierConcurrency caps simultaneous classification calls
	// (default 10).
	ClassifierConcurrency int
	// QueueSize is the classification queue buffer (default 256).
	QueueSize int
}

func (c *RunnerConfig) applyDefaults() {
	if c.KeywordConcurrency <= 0 {
		c.KeywordConcurrency = 12
	}
	if c.ClassifierConcurrency <= 0 {
		c.ClassifierConcurrency = 10
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

// Notifier publishes run lifecycle events for downstream consumers.
type Notifier interface {
	RunFinished(ctx context.Context, runID string, status Status) error
}

// Runner owns the whole life of a scan: admission, search fan-out, dedup,
// classification, outage handling and terminal status. One Runner serves
// the whole process; each submitted run gets its own cancel token, tracker
// and registry.
type Runner struct {
	cfg        RunnerConfig
	store      Store
	search     Searcher
	newLabeler LabelerFactory
	admission  *Admission
	notifier   Notifier
	logger     *zap.Logger

	mu     sync.Mutex
	active map[string]*runHandle
}

type runHandle struct {
	token   *CancelToken
	tracker *Tracker
}

// NewRunner wires a Runner. notifier may be nil.
func NewRunner(cfg RunnerConfig, store Store, search Searcher, newLabeler LabelerFactory, admission *Admission, notifier Notifier, logger *zap.Logger) *Runner {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		store:      store,
		search:     search,
		newLabeler: newLabeler,
		admission:  admission,
		notifier:   notifier,
		logger:     logger,
		active:     make(map[string]*runHandle),
	}
}

// Submit validates and admits a run. Invalid configs are persisted with
// status error so the attempt is visible, and ErrEmptyConfig is returned.
// Otherwise the run is created pending and either starts immediately or
// waits for a slot; the returned AdmitResult says which.
func (r *Runner) Submit(ctx context.Context, cfg RunConfig) (*Run, AdmitResult, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Config:    cfg,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if len(cfg.Keywords()) == 0 && len(cfg.Members) == 0 {
		run.Status = StatusError
		run.Error = ErrEmptyConfig.Error()
		if err := r.store.CreateRun(ctx, run); err != nil {
			return nil, Started, err
		}
		return run, Started, ErrEmptyConfig
	}

	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, Started, err
	}

	handle := &runHandle{
		token:   NewCancelToken(),
		tracker: NewTracker(run.ID, r.trackerLabels(cfg)),
	}
	r.mu.Lock()
	r.active[run.ID] = handle
	r.mu.Unlock()

	decision := r.admission.TryStart(run.ID, func() { r.execute(run, handle) })
	metrics.SetQueuedRuns(r.admission.WaitingCount())
	return run, decision, nil
}

// trackerLabels picks the fan-out units shown in progress: keywords for
// topic runs, member names for member-only runs.
func (r *Runner) trackerLabels(cfg RunConfig) []string {
	if cfg.Mode() == ModeMembers {
		labels := make([]string, 0, len(cfg.Members))
		for _, m := range cfg.Members {
			name := m.Name
			if name == "" {
				name = m.ID
			}
			labels = append(labels, name)
		}
		return labels
	}
	return cfg.Keywords()
}

// Cancel requests cooperative cancellation. Queued runs are withdrawn
// without ever starting; running ones wind down at their next checkpoint.
func (r *Runner) Cancel(ctx context.Context, runID string) error {
	r.mu.Lock()
	handle, ok := r.active[runID]
	r.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}

	if r.admission.Withdraw(runID) {
		r.forget(runID)
		metrics.SetQueuedRuns(r.admission.WaitingCount())
		metrics.ObserveRunFinished(string(StatusCancelled))
		return r.store.SetRunStatus(ctx, runID, StatusCancelled, "")
	}

	handle.token.Cancel()
	return nil
}

// Progress returns the live snapshot for an active run.
func (r *Runner) Progress(runID string) (Snapshot, bool) {
	r.mu.Lock()
	handle, ok := r.active[runID]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return handle.tracker.Snapshot(), true
}

func (r *Runner) forget(runID string) {
	r.mu.Lock()
	delete(r.active, runID)
	r.mu.Unlock()
}

// execute runs on its own goroutine under an admission slot.
func (r *Runner) execute(run *Run, handle *runHandle) {
	ctx := context.Background()
	metrics.IncActiveRuns()
	defer func() {
		metrics.DecActiveRuns()
		r.admission.Complete(run.ID)
		metrics.SetQueuedRuns(r.admission.WaitingCount())
		r.forget(run.ID)
	}()

	logger := r.logger.With(zap.String("run_id", run.ID), zap.String("mode", string(run.Config.Mode())))
	logger.Info("run starting")
	if err := r.store.SetRunStatus(ctx, run.ID, StatusRunning, ""); err != nil {
		logger.Error("status update failed", zap.Error(err))
	}

	var runErr error
	switch run.Config.Mode() {
	case ModeMembers:
		runErr = r.runMembers(ctx, run, handle, logger)
	case ModeMemberTopics:
		runErr = r.runTopics(ctx, run, handle, memberFilter(run.Config.Members), logger)
	default:
		runErr = r.runTopics(ctx, run, handle, nil, logger)
	}

	status := StatusCompleted
	errMsg := ""
	switch {
	case handle.token.Cancelled():
		status = StatusCancelled
	case runErr != nil:
		status = StatusError
		errMsg = runErr.Error()
	}

	handle.tracker.Complete(errMsg)
	if err := r.store.SaveSnapshot(ctx, run.ID, handle.tracker.Snapshot()); err != nil {
		logger.Warn("final snapshot save failed", zap.Error(err))
	}
	if err := r.store.SetRunStatus(ctx, run.ID, status, errMsg); err != nil {
		logger.Error("terminal status update failed", zap.Error(err))
	}
	metrics.ObserveRunFinished(string(status))
	if r.notifier != nil {
		if err := r.notifier.RunFinished(ctx, run.ID, status); err != nil {
			logger.Warn("run notification failed", zap.Error(err))
		}
	}
	logger.Info("run finished", zap.String("status", string(status)))
}

// runTopics executes the keyword fan-out with the classification pipeline
// consuming concurrently. filter, when non-nil, drops contributions not
// attributable to a requested member before they reach dedup.
func (r *Runner) runTopics(ctx context.Context, run *Run, handle *runHandle, filter func(*parliament.Contribution) bool, logger *zap.Logger) error {
	cfg := run.Config
	keywords := cfg.Keywords()
	registry := NewRegistry()
	labeler := r.newLabeler(cfg.TopicCatalog())

	queue := make(chan *parliament.Contribution, r.cfg.QueueSize)
	pipe := newPipeline(r.store, labeler, r.search, handle.tracker, logger, run.ID, r.cfg.ClassifierConcurrency)
	pipe.keywords = registry.Keywords
	pipeDone := make(chan struct{})
	go func() {
		defer close(pipeDone)
		pipe.run(ctx, handle.token, queue)
	}()

	sem := make(chan struct{}, r.cfg.KeywordConcurrency)
	var wg sync.WaitGroup
	for _, kw := range keywords {
		if handle.token.Cancelled() {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(kw string) {
			defer wg.Done()
			defer func() { <-sem }()
			handle.tracker.StartKeyword(kw)
			found := r.search.SearchAll(ctx, handle.token, kw, cfg.DateRange, cfg.Sources, nil)
			handle.tracker.FinishKeyword(kw, len(found))
			r.admitBatch(ctx, run.ID, handle, registry, filter, found, queue)
		}(kw)
	}
	wg.Wait()

	handle.tracker.SetPhase(PhaseClassifying)
	if err := r.store.SaveSnapshot(ctx, run.ID, handle.tracker.Snapshot()); err != nil {
		logger.Debug("snapshot save failed", zap.Error(err))
	}
	close(queue)
	<-pipeDone
	return nil
}

// admitBatch routes one keyword's results through the registry, feeding
// survivors into the classification queue and auditing procedural drops.
func (r *Runner) admitBatch(ctx context.Context, runID string, handle *runHandle, registry *Registry, filter func(*parliament.Contribution) bool, found []parliament.Contribution, queue chan<- *parliament.Contribution) {
	var procedural []Audit
	for i := range found {
		c := &found[i]
		handle.tracker.RecordFetched(string(c.Source), 1)
		metrics.ObserveContributions(string(c.Source), 1)
		if filter != nil && !filter(c) {
			continue
		}

		decision := registry.Admit(c)
		handle.tracker.RecordAdmit(decision)
		switch decision {
		case Enqueued:
			select {
			case queue <- c:
			case <-handle.token.Done():
				return
			}
		case DiscardedProcedural:
			procedural = append(procedural, proceduralAudit(runID, c))
		}
	}
	if len(procedural) > 0 {
		if err := r.store.SaveAudits(ctx, procedural); err != nil {
			r.logger.Warn("procedural audit save failed",
				zap.String("run_id", runID),
				zap.Error(err))
		}
	}
}

// runMembers fetches each member's activity directly and stores it without
// classification. Every fetched item is kept: dedup applies, the procedural
// prefilter does not. Results carry raw confidence; when Summarise is set an
// AI summary is attached per contribution.
func (r *Runner) runMembers(ctx context.Context, run *Run, handle *runHandle, logger *zap.Logger) error {
	cfg := run.Config
	registry := NewRegistry()
	var summariser Labeler
	if cfg.Summarise {
		summariser = r.newLabeler(nil)
	}

	for _, member := range cfg.Members {
		if handle.token.Cancelled() {
			break
		}
		label := member.Name
		if label == "" {
			label = member.ID
		}
		handle.tracker.StartKeyword(label)
		found := r.search.FetchMemberAll(ctx, handle.token, member.ID, member.Name, cfg.DateRange, cfg.Sources)
		handle.tracker.FinishKeyword(label, len(found))

		for i := range found {
			if handle.token.Cancelled() {
				break
			}
			c := &found[i]
			handle.tracker.RecordFetched(string(c.Source), 1)
			metrics.ObserveContributions(string(c.Source), 1)

			decision := registry.AdmitAll(c)
			handle.tracker.RecordAdmit(decision)
			if decision == MergedDuplicate {
				continue
			}

			if err := r.saveMemberResult(ctx, run.ID, member, c, summariser); err != nil {
				logger.Error("member result save failed",
					zap.String("dedup_key", c.DedupKey()),
					zap.Error(err))
				continue
			}
			handle.tracker.RecordRelevant(string(c.Source))
			if handle.tracker.ShouldPersist() {
				if err := r.store.SaveSnapshot(ctx, run.ID, handle.tracker.Snapshot()); err != nil {
					logger.Debug("snapshot save failed", zap.Error(err))
				}
			}
		}
	}
	return nil
}

func (r *Runner) saveMemberResult(ctx context.Context, runID string, member MemberRef, c *parliament.Contribution, summariser Labeler) error {
	res := &Result{
		RunID:        runID,
		DedupKey:     c.DedupKey(),
		Contribution: *c,
		Forum:        c.ForumLabel(),
		Confidence:   classifier.ConfidenceRaw,
		CreatedAt:    time.Now().UTC(),
	}

	memberID := c.MemberID
	if memberID == "" {
		memberID = member.ID
	}
	if memberID != "" {
		info, err := r.search.LookupMember(ctx, memberID)
		if err != nil {
			r.logger.Debug("member enrichment failed",
				zap.String("member_id", memberID),
				zap.Error(err))
			info = parliament.MemberInfo{ID: memberID, Name: c.MemberName}
		}
		res.Member = info
	} else {
		res.Member = parliament.MemberInfo{Name: c.MemberName}
	}

	if summariser != nil {
		summary, quote := summariser.Summarise(ctx, c)
		res.Summary = summary
		res.VerbatimQuote = quote
	}
	return r.store.SaveResult(ctx, res)
}

// memberFilter matches contributions to the requested members by ID when
// present, falling back to a case-insensitive name comparison. Unmatched
// contributions are dropped, never reassigned to another member.
func memberFilter(members []MemberRef) func(*parliament.Contribution) bool {
	ids := make(map[string]struct{}, len(members))
	names := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m.ID != "" {
			ids[m.ID] = struct{}{}
		}
		if m.Name != "" {
			names[strings.ToLower(strings.TrimSpace(m.Name))] = struct{}{}
		}
	}
	return func(c *parliament.Contribution) bool {
		if c.MemberID != "" {
			if _, ok := ids[c.MemberID]; ok {
				return true
			}
		}
		if c.MemberName != "" {
			if _, ok := names[strings.ToLower(strings.TrimSpace(c.MemberName))]; ok {
				return true
			}
		}
		return false
	}
}

func proceduralAudit(runID string, c *parliament.Contribution) Audit {
	return Audit{
		RunID:     runID,
		DedupKey:  c.DedupKey(),
		Source:    c.Source,
		Member:    c.MemberName,
		Reason:    "filtered before classification",
		Category:  classifier.DiscardProcedural,
		Snippet:   snippet(c.Text),
		CreatedAt: time.Now().UTC(),
	}
}
