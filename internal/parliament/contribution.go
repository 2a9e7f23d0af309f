// Package parliament implements rate-limited clients for the UK Parliament
// APIs and normalizes their records into Contributions.
package parliament

import (
	"fmt"
	"time"
)

// SourceType identifies which Parliament API a contribution came from.
type SourceType string

// Source types persisted with every contribution and result row.
const (
	SourceDebate           SourceType = "debate"
	SourceWrittenQuestion  SourceType = "written_question"
	SourceWrittenStatement SourceType = "written_statement"
	SourceMotion           SourceType = "motion"
	SourceBill             SourceType = "bill"
	SourceDivision         SourceType = "division"
)

// SourceKeys lists the config/API keys accepted in a run's enabled-sources
// filter, in fan-out order.
var SourceKeys = []string{
	"debates",
	"written_questions",
	"written_statements",
	"motions",
	"bills",
	"divisions",
}

// DateRange bounds a search, inclusive on both ends. Dates are ISO
// (YYYY-MM-DD) because that is what every Parliament API accepts.
type DateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Contribution is one normalized unit of parliamentary activity: a speech,
// written question or statement, motion, bill sponsorship, or division vote.
type Contribution struct {
	// NativeID is the source-native identifier, unique within SourceType.
	NativeID   string
	MemberName string
	// MemberID may be empty; some sources attribute by name only.
	MemberID string
	Text     string
	Date     time.Time
	House    string
	Source   SourceType
	// Context is a human label, e.g. the debate title or question heading.
	Context string
	URL     string
	// MatchedKeywords holds the keywords whose search returned this copy.
	// The dedup registry keeps the union across copies; nothing mutates a
	// contribution after it has been admitted.
	MatchedKeywords []string
}

// DedupKey returns the stable identity used for deduplication and for
// idempotent result persistence: "sourceType:nativeID".
func (c *Contribution) DedupKey() string {
	return fmt.Sprintf("%s:%s", c.Source, c.NativeID)
}

// ForumLabel renders the human-readable forum shown alongside stored results.
func (c *Contribution) ForumLabel() string {
	switch c.Source {
	case SourceDebate:
		if c.Context != "" {
			return "Debate: " + c.Context
		}
		return "Parliamentary debate"
	case SourceWrittenQuestion:
		if c.Context != "" {
			return "Written Question: " + c.Context
		}
		return "Written Question"
	case SourceWrittenStatement:
		if c.Context != "" {
			return "Written Statement: " + c.Context
		}
		return "Written Statement"
	case SourceMotion:
		if c.Context != "" {
			return c.Context
		}
		return "Early Day Motion"
	case SourceBill:
		if c.Context != "" {
			return c.Context
		}
		return "Bill"
	case SourceDivision:
		if c.Context != "" {
			return c.Context
		}
		return "Division vote"
	default:
		return string(c.Source)
	}
}

// SourceLabel is the short description handed to the classifier so it knows
// what kind of activity it is judging.
func (c *Contribution) SourceLabel() string {
	switch c.Source {
	case SourceDebate:
		return "Oral contribution in debate"
	case SourceWrittenQuestion:
		return "Written parliamentary question"
	case SourceWrittenStatement:
		return "Written ministerial statement"
	case SourceMotion:
		return "Early Day Motion"
	case SourceBill:
		return "Bill sponsorship"
	case SourceDivision:
		return "Division vote"
	default:
		return string(c.Source)
	}
}

// MemberInfo is the enrichment record returned by the Members API.
type MemberInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Party        string `json:"party"`
	MemberType   string `json:"member_type"`
	Constituency string `json:"constituency"`
}
