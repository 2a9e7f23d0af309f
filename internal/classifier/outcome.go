// Package classifier wraps the Anthropic Messages API as a relevance
// classifier for parliamentary contributions.
package classifier

import (
	"errors"
	"fmt"
)

// Confidence is an ordinal engagement level, not a score.
type Confidence string

// Confidence levels, strongest first.
const (
	// ConfidenceHigh marks direct, substantive engagement: leading a
	// debate, sponsoring a bill, a detailed question, an explicit position.
	ConfidenceHigh Confidence = "High"
	// ConfidenceMedium marks indirect but clear engagement: a supplementary
	// question, a brief but clear reference, co-signing a motion.
	ConfidenceMedium Confidence = "Medium"
	// ConfidenceLow marks peripheral activity: a related vote, a passing
	// mention, a connection that requires inference.
	ConfidenceLow Confidence = "Low"
	// ConfidenceRaw marks unclassified member-mode results stored without a
	// relevance judgement.
	ConfidenceRaw Confidence = "raw"
)

// DiscardCategory is the fixed taxonomy for non-relevant outcomes.
type DiscardCategory string

// Discard categories.
const (
	DiscardProcedural DiscardCategory = "procedural"
	DiscardNoPosition DiscardCategory = "no_position"
	DiscardOffTopic   DiscardCategory = "off_topic"
	DiscardGeneric    DiscardCategory = "generic"
)

func validCategory(c DiscardCategory) bool {
	switch c {
	case DiscardProcedural, DiscardNoPosition, DiscardOffTopic, DiscardGeneric:
		return true
	}
	return false
}

// Outcome is the definitive result of classifying one contribution: either
// relevant with the extracted fields populated, or discarded with a reason
// and category. A transient API failure is never an Outcome; it surfaces as
// an *APIError so callers can route it to the retry path instead of silently
// treating an outage as "not relevant".
type Outcome struct {
	Relevant bool

	// Populated when Relevant.
	Confidence     Confidence
	Topics         []string
	Summary        string
	PositionSignal string
	VerbatimQuote  string

	// Populated when not Relevant.
	DiscardReason   string
	DiscardCategory DiscardCategory

	// InternalError flags a discard produced by repeated malformed model
	// output rather than a real judgement.
	InternalError bool
}

// ErrorKind partitions persistent classifier failures.
type ErrorKind string

// Failure kinds carried by APIError. All of them route the pipeline to the
// outage pause/retry path.
const (
	ErrRateLimited ErrorKind = "rate_limited"
	ErrTimeout     ErrorKind = "timeout"
	ErrAuth        ErrorKind = "auth"
	ErrTransient   ErrorKind = "transient"
)

// APIError reports that the classifier service failed persistently for one
// call; the item should be retried later rather than discarded.
type APIError struct {
	Kind ErrorKind
	Err  error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("classifier api %s: %v", e.Kind, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// AsAPIError unwraps err into an *APIError when one is in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
