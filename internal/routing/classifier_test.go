package routing

import (
	"math"
	"testing"

	"github.com/vrikshahq/vriksha/pkg/models"
)

func input(text string, hasTools bool) Input {
	return InputFrom([]models.Message{models.NewTextMessage(models.RoleUser, text)}, hasTools)
}

func TestClassifyTaskTable(t *testing.T) {
	cases := []struct {
		text     string
		hasTools bool
		want     TaskType
	}{
		{"ping", false, TaskHeartbeat},
		{"hi there", false, TaskSmalltalk},
		{"search for the latest go release", false, TaskSearch},
		{"summarize this article for me", false, TaskSummarize},
		{"translate this to french", false, TaskTranslate},
		{"write a function to parse json", false, TaskCodeGen},
		{"prove why this tradeoff holds", false, TaskReasoning},
		{"please run the backup now", true, TaskToolExec},
		{"look at this screenshot and tell me what went wrong", false, TaskVision},
		{"remember that my birthday is in june", false, TaskMemory},
		{"compact the conversation before we continue", false, TaskCompaction},
		{"compute an embedding for this paragraph", false, TaskEmbedding},
	}

	for _, tc := range cases {
		got := ClassifyTask(input(tc.text, tc.hasTools))
		if got.Type != tc.want {
			t.Errorf("ClassifyTask(%q) = %s (score %.1f), want %s", tc.text, got.Type, got.Score, tc.want)
		}
		if got.Confidence < 0.5 || got.Confidence > 1.0 {
			t.Errorf("ClassifyTask(%q) confidence = %.2f, out of [0.5, 1.0]", tc.text, got.Confidence)
		}
	}
}

func TestClassifyTaskDefaultsToChat(t *testing.T) {
	got := ClassifyTask(input("what a lovely day for gardening and long walks", false))
	if got.Type != TaskChat {
		t.Fatalf("task = %s, want chat", got.Type)
	}
	if got.Confidence != 0.5 {
		t.Errorf("default confidence = %.2f, want 0.5", got.Confidence)
	}
}

func TestClassifyComplexityTiers(t *testing.T) {
	cases := []struct {
		text     string
		hasTools bool
		want     Complexity
	}{
		{"hi", false, ComplexityTrivial},
		{"what is a goroutine", false, ComplexitySimple},
		{"write a function to reverse a string", false, ComplexityMedium},
		{"analyze the tradeoffs and then implement the fix", false, ComplexityComplex},
		{"prove the theorem about distributed consensus with a formal proof", false, ComplexityExpert},
	}

	for _, tc := range cases {
		got := ClassifyComplexity(input(tc.text, tc.hasTools))
		if got.Level != tc.want {
			t.Errorf("ClassifyComplexity(%q) = %s (score %.1f), want %s", tc.text, got.Level, got.Score, tc.want)
		}
		if got.Confidence < 0.5 || got.Confidence > 1.0 {
			t.Errorf("ClassifyComplexity(%q) confidence = %.2f, out of [0.5, 1.0]", tc.text, got.Confidence)
		}
	}
}

func TestClassifyComplexityToolPresenceRaisesScore(t *testing.T) {
	without := ClassifyComplexity(input("hello", false))
	with := ClassifyComplexity(input("hello", true))
	if with.Score <= without.Score {
		t.Errorf("tool presence should raise the score: %.1f vs %.1f", with.Score, without.Score)
	}
	if without.Level != ComplexityTrivial || with.Level != ComplexitySimple {
		t.Errorf("levels = %s / %s, want trivial / simple", without.Level, with.Level)
	}
}

func TestRangeConfidence(t *testing.T) {
	r := scoreRange{0, 1}

	// Score at the tier center is fully confident.
	if got := rangeConfidence(0.5, r); got != 1.0 {
		t.Errorf("center confidence = %.2f, want 1.0", got)
	}
	// Score at the tier edge clamps to the floor.
	if got := rangeConfidence(0.0, r); got != 0.5 {
		t.Errorf("edge confidence = %.2f, want 0.5", got)
	}
	// Known intermediate value.
	if got := rangeConfidence(0.7, r); math.Abs(got-0.8) > 1e-9 {
		t.Errorf("confidence(0.7) = %.2f, want 0.8", got)
	}
}

func TestInputFromUsesLastUserMessage(t *testing.T) {
	msgs := []models.Message{
		models.NewTextMessage(models.RoleUser, "first question"),
		models.NewTextMessage(models.RoleAssistant, "an answer"),
		models.NewTextMessage(models.RoleUser, "second question here"),
	}
	in := InputFrom(msgs, true)
	if in.Text != "second question here" {
		t.Errorf("text = %q, want last user message", in.Text)
	}
	if in.WordCount != 3 {
		t.Errorf("word count = %d, want 3", in.WordCount)
	}
	if !in.HasTools {
		t.Error("has-tools flag lost")
	}
}
