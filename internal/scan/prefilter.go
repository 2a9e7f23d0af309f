package scan

import (
	"regexp"
	"strings"

	"github.com/oversightlabs/parlscan/internal/parliament"
)

// Word-count floors below which a contribution carries no classifiable
// substance. Debate interjections ("Hear, hear.") run shorter than written
// material, so they get a lower floor.
const (
	minWordsDebate = 5
	minWordsOther  = 8
)

// proceduralPatterns match the boilerplate Hansard records alongside real
// speech: questions being put, bills being read, the chair speaking.
// Anchored at the start so substantive speeches quoting procedure survive.
var proceduralPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(the|this) (question|bill|motion) (is|was) (put|agreed|negatived|read)`),
	regexp.MustCompile(`(?i)^i refer the (honourable|right honourable|hon\.) (member|gentleman|lady)`),
	regexp.MustCompile(`(?i)^(ordered|resolved),? that`),
	regexp.MustCompile(`(?i)^(question|bill) (accordingly|put) (and )?agreed`),
	regexp.MustCompile(`(?i)^the (deputy )?(speaker|chairman|chair) `),
	regexp.MustCompile(`(?i)^i beg to move`),
	regexp.MustCompile(`(?i)^(clause|amendment|new clause) \d+ (read|ordered)`),
}

// IsProcedural reports whether text is administrative noise not worth
// sending to the classifier: too short to carry a position, or matching a
// known procedural formula.
func IsProcedural(text string, source parliament.SourceType) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}

	minWords := minWordsOther
	if source == parliament.SourceDebate {
		minWords = minWordsDebate
	}
	if len(strings.Fields(trimmed)) < minWords {
		return true
	}

	for _, pat := range proceduralPatterns {
		if pat.MatchString(trimmed) {
			return true
		}
	}
	return false
}
