package usecase

import (
	"regexp"
	"strings"
)

// Assistant replies grounded on uploaded documents carry retrieval artifacts
// like "【4:15†source】" or a bare "4:15†source" suffix. Ordinary square
// brackets and parentheses are legitimate answer text and must survive.
var (
	citationPattern     = regexp.MustCompile(`【[^】]*】`)
	sourceMarkerPattern = regexp.MustCompile(`\d+:\d+†source|†source`)
	whitespaceRun       = regexp.MustCompile(`\s{2,}`)

	decorativeEmoji = strings.NewReplacer(
		"🌟", "",
		"🌼", "",
		"🙏", "",
		"😊", "",
		"✨", "",
		"💫", "",
	)
)

// normalizeReply strips provider citation artifacts and decorative glyphs
// from a reply fragment and collapses whitespace runs. It is idempotent; a
// single interior newline is one whitespace character, not a run, and is
// kept.
func normalizeReply(text string) string {
	text = citationPattern.ReplaceAllString(text, "")
	text = sourceMarkerPattern.ReplaceAllString(text, "")
	text = decorativeEmoji.Replace(text)
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
