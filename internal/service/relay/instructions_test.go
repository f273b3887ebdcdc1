package relay

import (
	"strings"
	"testing"

	"github.com/sanyaden/smartyme-voice-input-sub000/internal/model/session"
)

func TestScenarioForLessonRanges(t *testing.T) {
	cases := []struct {
		lessonID string
		title    string
	}{
		{"1", "Small Talk Coach"},
		{"12", "Small Talk Coach"},
		{"13", "Active Listening Coach"},
		{"28", "Active Listening Coach"},
		{"29", "Workplace Communication Coach"},
		{"45", "Workplace Communication Coach"},
		{"46", "Persuasion Coach"},
		{"60", "Persuasion Coach"},
		{"61", "Public Speaking Coach"},
		{"68", "Public Speaking Coach"},
		{"69", "Communication Coach"},
		{"0", "Communication Coach"},
		{"", "Communication Coach"},
		{"not-a-number", "Communication Coach"},
	}
	for _, tc := range cases {
		got := ScenarioForLesson(tc.lessonID)
		if got.Title != tc.title {
			t.Errorf("lesson %q: expected %q, got %q", tc.lessonID, tc.title, got.Title)
		}
		if got.Instructions == "" {
			t.Errorf("lesson %q: instructions should never be empty", tc.lessonID)
		}
	}
}

func TestInstructionsForOverrideWins(t *testing.T) {
	sess := session.New("s", "u", "5", "alloy")
	sess.Instructions = "Pretend to be a pirate."

	if got := InstructionsFor(sess); got != "Pretend to be a pirate." {
		t.Fatalf("expected override instructions, got %q", got)
	}
	if !strings.HasPrefix(ScenarioTitleFor(sess), "Custom scenario") {
		t.Fatalf("expected custom scenario title, got %q", ScenarioTitleFor(sess))
	}
}

func TestInstructionsForLessonDerived(t *testing.T) {
	sess := session.New("s", "u", "30", "alloy")

	if got := InstructionsFor(sess); !strings.Contains(got, "workplace conversations") {
		t.Fatalf("expected workplace instructions, got %q", got)
	}
	if got := ScenarioTitleFor(sess); got != "Workplace Communication Coach" {
		t.Fatalf("unexpected title %q", got)
	}
}
