package usecase

import (
	"fmt"
	"strings"
)

// buildUserMessage prepends the guide context to the literal user question.
func buildUserMessage(guideContext, question string) string {
	return fmt.Sprintf("Context: %s\n\nUser Question: %s", strings.TrimSpace(guideContext), question)
}

// runInstructions is the output contract sent with every run. The decoder
// depends on the assistant honoring the two top-level keys.
func runInstructions() string {
	return strings.Join([]string{
		"INSTRUCTIONS:",
		"- Respond with valid JSON only. No prose outside the JSON value.",
		"- The JSON object has exactly two top-level keys:",
		`  "answer": a string with the response text (markdown permitted),`,
		`  "shortcuts": an array of up to 4 follow-up questions the user may want to ask next.`,
		"- Do not include citations, file names, timestamps, or emojis in the answer.",
		"- First try to match the question against the FAQ-style knowledge base; if nothing",
		"  matches, consult the uploaded documents and generate the best possible answer.",
		"- Generate shortcuts from semantically adjacent topics in the knowledge base or documents.",
		`- If the sources are insufficient to answer, still return the same JSON shape with a`,
		`  brief, honest "answer" and an empty "shortcuts" array.`,
	}, "\n")
}
