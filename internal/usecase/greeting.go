package usecase

import (
	"math/rand"
	"strings"
)

// Greeting-like questions short-circuit before any remote call or state
// mutation.
var greetingKeywords = []string{
	"hello",
	"hi",
	"hey",
	"good morning",
	"good afternoon",
	"good evening",
}

var greetingAnswers = []string{
	"Hello there! How can I help you today?",
	"Hi! What's on your mind?",
	"Hey! Ask me anything about The School of Breath.",
}

var greetingShortcuts = []string{
	"How do I start meditation?",
	"What breathing techniques do you recommend?",
	"Tell me about your courses",
}

// isGreeting reports whether the trimmed question starts with a greeting
// keyword, case-insensitively.
func isGreeting(question string) bool {
	q := strings.ToLower(strings.TrimSpace(question))
	for _, keyword := range greetingKeywords {
		if strings.HasPrefix(q, keyword) {
			return true
		}
	}
	return false
}

var pickGreeting = func() string {
	return greetingAnswers[rand.Intn(len(greetingAnswers))]
}
