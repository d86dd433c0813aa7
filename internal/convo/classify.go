package convo

import (
	"regexp"
	"strings"
)

// Classifier turns raw (actor, text) pairs into intents. The transition
// table never inspects text; swapping pattern matching for a scored or
// learned classifier must not touch transition logic.
type Classifier interface {
	Classify(actor Actor, text string, current State) Intent
}

// PatternClassifier is the lightweight regex implementation.
//
// Known simplification, kept deliberately: while a command is awaiting
// input, every user turn is classified as an answer — even text that
// reads like a brand-new instruction. A future classifier that can tell
// the two apart replaces this type, not the state machine.
type PatternClassifier struct{}

var (
	completionRe = regexp.MustCompile(`(?i)^\s*(✅|done\b|completed?\b|finished\b|all tests pass)`)
	questionRe   = regexp.MustCompile(`(?i)(\?\s*$|^(should|do you|would you|which|can i|may i)\b)`)
)

// Classify implements Classifier.
func (PatternClassifier) Classify(actor Actor, text string, current State) Intent {
	if actor == ActorUser {
		if current == StateAwaitingInput {
			return IntentAnswer
		}
		return IntentCommand
	}

	trimmed := strings.TrimSpace(text)
	switch {
	case completionRe.MatchString(trimmed):
		return IntentCompletion
	case questionRe.MatchString(trimmed):
		return IntentQuestion
	}
	return IntentProgress
}
