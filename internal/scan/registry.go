package scan

import (
	"sort"
	"strings"
	"sync"

	"github.com/oversightlabs/parlscan/internal/parliament"
)

// AdmitDecision is the registry's verdict on one incoming contribution.
type AdmitDecision int

// Admit outcomes.
const (
	// Enqueued means the contribution is new and should flow onward.
	Enqueued AdmitDecision = iota
	// MergedDuplicate means the identity was seen before; its matched
	// keywords were folded into the first copy and nothing is enqueued.
	MergedDuplicate
	// DiscardedProcedural means the contribution failed the prefilter and
	// should be audited, not classified.
	DiscardedProcedural
)

// Registry is the run-scoped dedup and prefilter gate. Keyword searches
// overlap heavily (the same speech matches several keywords, and sources
// overlap across pages), so every fetched contribution passes through Admit
// before it may be queued. One mutex guards all state; concurrent keyword
// workers call Admit directly.
type Registry struct {
	mu sync.Mutex
	// keywords maps dedup key -> the union of matched keywords across every
	// copy seen so far. The union lives here, not on the contribution:
	// classification workers read admitted contributions without the
	// registry lock, so an admitted contribution is never mutated again.
	// The merged set is fetched with Keywords at persist time.
	keywords map[string][]string
	// dropped holds keys already rejected by the prefilter so their
	// duplicates merge silently instead of producing repeat audit rows.
	dropped map[string]struct{}
}

// NewRegistry returns an empty registry for one run.
func NewRegistry() *Registry {
	return &Registry{
		keywords: make(map[string][]string),
		dropped:  make(map[string]struct{}),
	}
}

// Admit decides the fate of one contribution. At most one contribution per
// identity is ever Enqueued for the life of the registry; later copies only
// contribute their matched keywords.
func (r *Registry) Admit(c *parliament.Contribution) AdmitDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admit(c, true)
}

// AdmitAll dedups without the procedural gate, for member runs that store
// every fetched item.
func (r *Registry) AdmitAll(c *parliament.Contribution) AdmitDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admit(c, false)
}

func (r *Registry) admit(c *parliament.Contribution, prefilter bool) AdmitDecision {
	key := c.DedupKey()
	if kws, ok := r.keywords[key]; ok {
		r.keywords[key] = mergeKeywords(kws, c.MatchedKeywords)
		return MergedDuplicate
	}
	if _, ok := r.dropped[key]; ok {
		return MergedDuplicate
	}

	if prefilter && IsProcedural(c.Text, c.Source) {
		r.dropped[key] = struct{}{}
		return DiscardedProcedural
	}

	r.keywords[key] = mergeKeywords(nil, c.MatchedKeywords)
	return Enqueued
}

// Keywords returns a copy of the merged keyword union for one identity.
func (r *Registry) Keywords(key string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keywords[key]...)
}

// UniqueCount reports how many contributions have been enqueued.
func (r *Registry) UniqueCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keywords)
}

// DroppedCount reports how many identities the prefilter rejected.
func (r *Registry) DroppedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dropped)
}

func mergeKeywords(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]string, 0, len(a)+len(b))
	for _, kw := range append(append([]string(nil), a...), b...) {
		key := strings.ToLower(strings.TrimSpace(kw))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, kw)
	}
	sort.Strings(merged)
	return merged
}
