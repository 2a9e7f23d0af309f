package classifier

import (
	"fmt"
	"sort"
	"strings"
)

const systemPromptTemplate = `You are an expert analyst supporting a policy research organisation's parliamentary engagement work. You are classifying UK parliamentary contributions to identify MPs and Peers whose activity signals a position or interest on the policy topics being monitored. These results determine which parliamentarians to approach with new research and who to brief ahead of debates and questions.

Topics being monitored:
%s
Classify each contribution and respond ONLY with valid JSON (no markdown, no code fences):
{
  "is_relevant": true or false,
  "discard_category": "If not relevant, one of: 'procedural' (administrative or procedural mention, e.g. referring to a previous answer, boilerplate headers), 'no_position' (topic mentioned but no substantive stance expressed), 'off_topic' (keywords matched but content does not relate to the monitored topics), 'generic' (reference too vague to extract a clear position). Set to null if relevant.",
  "discard_reason": "Brief explanation if not relevant, null if relevant.",
  "confidence": "High" or "Medium" or "Low",
  "topics": ["topic1", "topic2"],
  "summary": "One sentence summarising the member's position or action. Use surname only.",
  "position_signal": "What this reveals about the member's stance on the topic.",
  "verbatim_quote": "Up to 3 sentences verbatim from the text, or a description of the action."
}

Confidence levels:
- "High": the member is directly and substantively engaging with the topic: leading or speaking in a debate, sponsoring a bill, tabling a motion, asking a detailed policy question, or making a clear statement of position.
- "Medium": the member engages with the topic but less directly: a supplementary question, a brief contribution in a broader debate, co-signing a motion, or a clear but passing reference.
- "Low": the contribution is relevant but peripheral: voting in a related division, a brief mention without elaboration, or a connection that requires inference.

Rules:
- Only mark relevant if the contribution reveals a substantive position or interest, asks a meaningful policy question, or takes a notable action (signing a motion, sponsoring a bill, voting in a relevant division). This may be implicit as well as explicit.
- Procedural mentions are NOT relevant (bill titles read by the Speaker, "I refer the honourable member to...", boilerplate question headers).
- Generic keyword mentions without a position are NOT relevant.
- The summary must capture the member's POSITION or VIEW, not merely that they mentioned the topic.
- The verbatim_quote must be copied exactly from the provided text, never paraphrased. For actions, describe the action instead.
- If not relevant, set is_relevant to false, discard_reason to a brief explanation, and the relevant-only fields to null.`

const summariseSystemPrompt = `You are an expert parliamentary analyst. Summarise each UK parliamentary contribution in a single sentence capturing what the member said, asked, or did. Use surname only. Focus on the substance: the position expressed, the question asked, or the action taken.

Respond ONLY with valid JSON (no markdown, no code fences):
{
  "summary": "One sentence summary using the speaker's surname only.",
  "verbatim_quote": "Up to 2 sentences verbatim from the text, or a description of the action."
}`

// buildSystemPrompt renders the monitored-topic catalog into the template.
// Topics are sorted so the prompt is deterministic and cacheable.
func buildSystemPrompt(topics map[string][]string) string {
	names := make([]string, 0, len(topics))
	for name := range topics {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "- %s: %s\n", name, strings.Join(topics[name], ", "))
	}
	return fmt.Sprintf(systemPromptTemplate, b.String())
}

// truncateText bounds classifier input to maxWords, keeping the first 300 and
// last 200 words of longer texts so both the opening and the closing position
// survive.
func truncateText(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	head := strings.Join(words[:300], " ")
	tail := strings.Join(words[len(words)-200:], " ")
	return head + "\n[...]\n" + tail
}
