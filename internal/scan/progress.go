package scan

import (
	"sync"
	"time"
)

// Phase is the coarse stage a run is in, driving the percent mapping.
type Phase string

// Run phases.
const (
	PhaseSearching   Phase = "searching"
	PhaseClassifying Phase = "classifying"
	PhaseDraining    Phase = "draining"
	PhaseDone        Phase = "done"
)

// KeywordState tracks one keyword through the search fan-out.
type KeywordState string

// Keyword states.
const (
	KeywordPending KeywordState = "pending"
	KeywordActive  KeywordState = "active"
	KeywordDone    KeywordState = "done"
)

// KeywordStatus is the per-keyword entry in a Snapshot.
type KeywordStatus struct {
	State   KeywordState `json:"state"`
	Results int          `json:"results"`
}

// Snapshot is a point-in-time copy of a run's progress. All maps and
// slices are owned by the snapshot; callers may retain it freely.
type Snapshot struct {
	RunID   string  `json:"run_id"`
	Phase   Phase   `json:"phase"`
	Percent float64 `json:"percent"`

	SourceTotals   map[string]int `json:"source_totals"`
	SourceRelevant map[string]int `json:"source_relevant"`

	TotalFetched int `json:"total_fetched"`
	Unique       int `json:"unique"`
	Prefiltered  int `json:"prefiltered"`
	Queued       int `json:"queued"`

	Classified        int            `json:"classified"`
	Relevant          int            `json:"relevant"`
	Discarded         int            `json:"discarded"`
	DiscardCategories map[string]int `json:"discard_categories"`

	Keywords map[string]KeywordStatus `json:"keywords"`

	OutagePaused bool   `json:"outage_paused"`
	OutageReason string `json:"outage_reason,omitempty"`

	Completed bool      `json:"completed"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker accumulates run progress under a single mutex. Every mutation is
// a method; readers only ever see value copies via Snapshot.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
	// totalKeywords is fixed at construction for the percent mapping.
	totalKeywords int
	keywordsDone  int
	now           func() time.Time
}

// NewTracker initializes a tracker with every keyword pending.
func NewTracker(runID string, keywords []string) *Tracker {
	t := &Tracker{
		snap: Snapshot{
			RunID:             runID,
			Phase:             PhaseSearching,
			SourceTotals:      make(map[string]int),
			SourceRelevant:    make(map[string]int),
			DiscardCategories: make(map[string]int),
			Keywords:          make(map[string]KeywordStatus, len(keywords)),
		},
		totalKeywords: len(keywords),
		now:           time.Now,
	}
	for _, kw := range keywords {
		t.snap.Keywords[kw] = KeywordStatus{State: KeywordPending}
	}
	return t
}

// StartKeyword marks a keyword active.
func (t *Tracker) StartKeyword(kw string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.snap.Keywords[kw]
	st.State = KeywordActive
	t.snap.Keywords[kw] = st
}

// FinishKeyword marks a keyword done and records its raw result count.
func (t *Tracker) FinishKeyword(kw string, results int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.snap.Keywords[kw]
	if st.State != KeywordDone {
		t.keywordsDone++
	}
	st.State = KeywordDone
	st.Results = results
	t.snap.Keywords[kw] = st
}

// RecordFetched adds n raw API results attributed to a source.
func (t *Tracker) RecordFetched(source string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.SourceTotals[source] += n
	t.snap.TotalFetched += n
}

// RecordAdmit folds one registry decision into the counters.
func (t *Tracker) RecordAdmit(d AdmitDecision) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch d {
	case Enqueued:
		t.snap.Unique++
		t.snap.Queued++
	case DiscardedProcedural:
		t.snap.Prefiltered++
	case MergedDuplicate:
		// counted in TotalFetched only
	}
}

// RecordRelevant counts one stored result for a source.
func (t *Tracker) RecordRelevant(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Classified++
	t.snap.Relevant++
	t.snap.SourceRelevant[source]++
}

// RecordDiscard counts one discarded classification.
func (t *Tracker) RecordDiscard(category string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Classified++
	t.snap.Discarded++
	t.snap.DiscardCategories[category]++
}

// SetPhase moves the run to a new phase.
func (t *Tracker) SetPhase(p Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Phase = p
}

// EnterOutage flags the run paused with a human-readable reason.
func (t *Tracker) EnterOutage(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.OutagePaused = true
	t.snap.OutageReason = reason
}

// ExitOutage clears the paused flag.
func (t *Tracker) ExitOutage() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.OutagePaused = false
	t.snap.OutageReason = ""
}

// Complete marks the run finished. A non-empty errMsg records a terminal
// error without losing the counters accumulated so far.
func (t *Tracker) Complete(errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Completed = true
	t.snap.Error = errMsg
	t.snap.Phase = PhaseDone
}

// ShouldPersist throttles snapshot writes during classification: the first
// few items stream through so the UI moves immediately, then every second
// item. Call it after RecordRelevant or RecordDiscard.
func (t *Tracker) ShouldPersist() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.Classified <= 5 || t.snap.Classified%2 == 0
}

// Snapshot returns a deep copy of the current state with the percent
// computed from the phase: search covers 0-60, classification 60-95, the
// outage drain and finalize 95-100.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.snap
	out.SourceTotals = copyIntMap(t.snap.SourceTotals)
	out.SourceRelevant = copyIntMap(t.snap.SourceRelevant)
	out.DiscardCategories = copyIntMap(t.snap.DiscardCategories)
	out.Keywords = make(map[string]KeywordStatus, len(t.snap.Keywords))
	for k, v := range t.snap.Keywords {
		out.Keywords[k] = v
	}
	out.Percent = t.percentLocked()
	out.UpdatedAt = t.now()
	return out
}

func (t *Tracker) percentLocked() float64 {
	if t.snap.Completed {
		return 100
	}
	switch t.snap.Phase {
	case PhaseSearching:
		if t.totalKeywords == 0 {
			return 0
		}
		return 60 * float64(t.keywordsDone) / float64(t.totalKeywords)
	case PhaseClassifying:
		if t.snap.Queued == 0 {
			return 95
		}
		frac := float64(t.snap.Classified) / float64(t.snap.Queued)
		if frac > 1 {
			frac = 1
		}
		return 60 + 35*frac
	case PhaseDraining:
		return 95
	case PhaseDone:
		return 100
	}
	return 0
}

func copyIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
