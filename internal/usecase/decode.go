package usecase

import (
	"encoding/json"
	"fmt"
	"strings"
)

// missingAnswerFallback is used when a structured reply parses but carries no
// usable answer text.
const missingAnswerFallback = "I apologize, but I couldn't generate a proper response."

// structuredReply is the JSON contract the run instructions ask the assistant
// to honor. Steps and bullets are tolerated extras the decoder folds into the
// answer body; unknown keys (category, question, keywords) are ignored.
type structuredReply struct {
	Answer    string   `json:"answer"`
	Steps     []string `json:"steps"`
	Bullets   []string `json:"bullets"`
	Shortcuts []string `json:"shortcuts"`
}

// decodedReply is the tagged result of decoding a raw assistant reply:
// either a structured answer with follow-up shortcuts, or normalized plain
// text with none.
type decodedReply struct {
	Answer     string
	Shortcuts  []string
	Structured bool
}

// decodeReply parses the raw reply JSON-first. Any text that does not decode
// as a structuredReply object falls back to the plain-text path; that is not
// an error condition.
func decodeReply(raw string) decodedReply {
	var reply structuredReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &reply); err != nil {
		return decodedReply{Answer: normalizeReply(raw), Shortcuts: []string{}}
	}
	return decodedReply{
		Answer:     composeAnswer(reply),
		Shortcuts:  compactStrings(reply.Shortcuts),
		Structured: true,
	}
}

// composeAnswer renders the answer body followed by a numbered steps block
// and a bulleted block, each separated by a blank line when present. Every
// fragment is normalized individually so the block structure survives.
func composeAnswer(reply structuredReply) string {
	answer := strings.TrimSpace(reply.Answer)
	if answer == "" {
		answer = missingAnswerFallback
	}
	parts := []string{normalizeReply(answer)}

	if steps := compactStrings(reply.Steps); len(steps) > 0 {
		lines := make([]string, len(steps))
		for i, step := range steps {
			lines[i] = fmt.Sprintf("%d) %s", i+1, step)
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}
	if bullets := compactStrings(reply.Bullets); len(bullets) > 0 {
		lines := make([]string, len(bullets))
		for i, bullet := range bullets {
			lines[i] = "• " + bullet
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

// compactStrings normalizes each entry and drops the empty ones.
func compactStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = normalizeReply(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
