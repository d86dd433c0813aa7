package convo

import "testing"

func TestPatternClassifierAgent(t *testing.T) {
	c := PatternClassifier{}
	tests := []struct {
		text string
		want Intent
	}{
		{"Done. All three bugs fixed.", IntentCompletion},
		{"✅ migration finished", IntentCompletion},
		{"Completed the refactor", IntentCompletion},
		{"Which database should I target?", IntentQuestion},
		{"Should I delete the old table?", IntentQuestion},
		{"Do you want verbose output?", IntentQuestion},
		{"Running the test suite now", IntentProgress},
		{"Edited parser.go", IntentProgress},
	}
	for _, tt := range tests {
		if got := c.Classify(ActorAgent, tt.text, StateProcessing); got != tt.want {
			t.Errorf("Classify(agent, %q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestPatternClassifierUser(t *testing.T) {
	c := PatternClassifier{}

	if got := c.Classify(ActorUser, "fix the login bug", StateIdle); got != IntentCommand {
		t.Errorf("idle user turn = %s, want command", got)
	}
	// Every user turn while awaiting input is an answer, even one that
	// reads like a new instruction.
	if got := c.Classify(ActorUser, "fix the login bug", StateAwaitingInput); got != IntentAnswer {
		t.Errorf("awaiting-input user turn = %s, want answer", got)
	}
}
