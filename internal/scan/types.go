package scan

import (
	"context"
	"strings"
	"time"

	"github.com/oversightlabs/parlscan/internal/classifier"
	"github.com/oversightlabs/parlscan/internal/parliament"
)

// Status is the lifecycle state of a run.
type Status string

// Run statuses. Pending runs are admitted but waiting for a slot.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Mode selects which of the three scan shapes a run executes.
type Mode string

// Scan modes, derived from the run config rather than requested directly.
const (
	// ModeTopics fans keywords out across all sources and classifies
	// everything that survives dedup and prefiltering.
	ModeTopics Mode = "topics"
	// ModeMembers fetches each member's activity directly and stores it
	// unclassified with raw confidence.
	ModeMembers Mode = "members"
	// ModeMemberTopics runs the keyword fan-out, then keeps only
	// contributions attributable to the requested members.
	ModeMemberTopics Mode = "member_topics"
)

// Topic is a named group of search keywords.
type Topic struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

// MemberRef identifies a member being tracked. ID is the Members API
// identifier; Name is used where an endpoint filters by attribution text.
type MemberRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RunConfig is everything a run needs to execute, fixed at submission.
type RunConfig struct {
	Topics    []Topic              `json:"topics,omitempty"`
	Members   []MemberRef          `json:"members,omitempty"`
	DateRange parliament.DateRange `json:"date_range"`
	// Sources limits the run to the named source keys; empty means all six.
	Sources []string `json:"sources,omitempty"`
	// Summarise asks member-mode runs to generate AI summaries for each
	// stored contribution. Ignored outside member mode.
	Summarise bool `json:"summarise,omitempty"`
}

// Mode derives the scan shape from which config fields are populated.
func (c RunConfig) Mode() Mode {
	hasTopics := len(c.Topics) > 0
	hasMembers := len(c.Members) > 0
	switch {
	case hasTopics && hasMembers:
		return ModeMemberTopics
	case hasMembers:
		return ModeMembers
	default:
		return ModeTopics
	}
}

// Keywords returns the union of all topic keywords, trimmed and
// de-duplicated case-insensitively, preserving first-seen order.
func (c RunConfig) Keywords() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range c.Topics {
		for _, kw := range t.Keywords {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			key := strings.ToLower(kw)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, kw)
		}
	}
	return out
}

// TopicCatalog returns topic name -> keywords for building the
// classification prompt.
func (c RunConfig) TopicCatalog() map[string][]string {
	catalog := make(map[string][]string, len(c.Topics))
	for _, t := range c.Topics {
		if t.Name == "" {
			continue
		}
		catalog[t.Name] = append(catalog[t.Name], t.Keywords...)
	}
	return catalog
}

// Run is the persisted record of a scan.
type Run struct {
	ID         string    `json:"id"`
	Config     RunConfig `json:"config"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Result is one stored relevant (or raw, in member mode) contribution.
type Result struct {
	RunID          string                  `json:"run_id"`
	DedupKey       string                  `json:"dedup_key"`
	Contribution   parliament.Contribution `json:"contribution"`
	Member         parliament.MemberInfo   `json:"member"`
	Forum          string                  `json:"forum"`
	Confidence     classifier.Confidence   `json:"confidence"`
	Topics         []string                `json:"topics,omitempty"`
	Summary        string                  `json:"summary,omitempty"`
	PositionSignal string                  `json:"position_signal,omitempty"`
	VerbatimQuote  string                  `json:"verbatim_quote,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
}

// Audit records why a contribution was not stored as a result.
type Audit struct {
	RunID    string                     `json:"run_id"`
	DedupKey string                     `json:"dedup_key"`
	Source   parliament.SourceType      `json:"source"`
	Member   string                     `json:"member,omitempty"`
	Reason   string                     `json:"reason"`
	Category classifier.DiscardCategory `json:"category"`
	// Snippet keeps the head of the discarded text for later review.
	Snippet   string    `json:"snippet,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists runs, results, audit rows and progress snapshots.
type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	SetRunStatus(ctx context.Context, runID string, status Status, errMsg string) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// SaveResult upserts keyed on (run, dedup key); replaying the same
	// contribution is a no-op.
	SaveResult(ctx context.Context, res *Result) error
	Results(ctx context.Context, runID string) ([]*Result, error)

	SaveAudits(ctx context.Context, rows []Audit) error
	SaveSnapshot(ctx context.Context, runID string, snap Snapshot) error
}

// Searcher is the slice of the Parliament client the runner consumes.
type Searcher interface {
	SearchAll(ctx context.Context, cancel parliament.CancelCheck, keyword string, dr parliament.DateRange, enabled []string, onSourceStart func(source string, index, total int)) []parliament.Contribution
	FetchMemberAll(ctx context.Context, cancel parliament.CancelCheck, memberID, memberName string, dr parliament.DateRange, enabled []string) []parliament.Contribution
	LookupMember(ctx context.Context, memberID string) (parliament.MemberInfo, error)
}

// Labeler classifies contributions against a run's topic catalog.
type Labeler interface {
	Classify(ctx context.Context, contrib *parliament.Contribution) (classifier.Outcome, error)
	Summarise(ctx context.Context, contrib *parliament.Contribution) (summary, quote string)
}

// LabelerFactory builds a run-scoped Labeler from the run's topics.
type LabelerFactory func(topics map[string][]string) Labeler
