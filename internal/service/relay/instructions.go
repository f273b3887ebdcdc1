package relay

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sanyaden/smartyme-voice-input-sub000/internal/model/session"
)

// Scenario pairs a coaching persona title with its system instructions.
type Scenario struct {
	Title        string
	Instructions string
}

const instructionsPreamble = "You are a friendly, encouraging communication coach inside the SmartyMe app. " +
	"Keep replies short and conversational, suitable for spoken delivery. " +
	"Always respond in English. "

// ScenarioForLesson maps a lesson id to its coaching persona. Lesson ids are
// numeric; ranges correspond to the course sections of the 68-lesson catalog.
// Unknown or non-numeric ids get the generic coach.
func ScenarioForLesson(lessonID string) Scenario {
	n, err := strconv.Atoi(strings.TrimSpace(lessonID))
	if err != nil {
		return genericScenario()
	}

	switch {
	case n >= 1 && n <= 12:
		return Scenario{
			Title: "Small Talk Coach",
			Instructions: instructionsPreamble +
				"You are helping the learner practice small talk and first impressions. " +
				"Play a stranger they just met, keep the exchange light, and gently point out " +
				"one thing they could improve after every few turns.",
		}
	case n >= 13 && n <= 28:
		return Scenario{
			Title: "Active Listening Coach",
			Instructions: instructionsPreamble +
				"You are helping the learner practice active listening and empathy. " +
				"Share a short personal story, then evaluate how well they reflect, paraphrase " +
				"and ask open questions. Encourage them to dig deeper instead of switching topics.",
		}
	case n >= 29 && n <= 45:
		return Scenario{
			Title: "Workplace Communication Coach",
			Instructions: instructionsPreamble +
				"You are helping the learner practice workplace conversations: giving feedback, " +
				"speaking up in meetings and handling disagreement. Play a colleague or manager " +
				"and keep the scenario realistic but low-stakes.",
		}
	case n >= 46 && n <= 60:
		return Scenario{
			Title: "Persuasion Coach",
			Instructions: instructionsPreamble +
				"You are helping the learner practice persuasion and storytelling. " +
				"Play a skeptical but fair listener. Ask for concrete examples and point out " +
				"when their argument lacks structure or an emotional hook.",
		}
	case n >= 61 && n <= 68:
		return Scenario{
			Title: "Public Speaking Coach",
			Instructions: instructionsPreamble +
				"You are helping the learner rehearse short spoken presentations. " +
				"Listen to their delivery, then give focused feedback on clarity, pacing and " +
				"confidence. Invite them to retry the weakest part.",
		}
	default:
		return genericScenario()
	}
}

func genericScenario() Scenario {
	return Scenario{
		Title: "Communication Coach",
		Instructions: instructionsPreamble +
			"Hold a natural practice conversation with the learner and help them express " +
			"themselves clearly and confidently.",
	}
}

// InstructionsFor resolves the effective instructions of a session: an
// explicit per-session override wins over the lesson-derived scenario.
func InstructionsFor(sess *session.Session) string {
	if strings.TrimSpace(sess.Instructions) != "" {
		return sess.Instructions
	}
	return ScenarioForLesson(sess.LessonID).Instructions
}

// ScenarioTitleFor resolves the persisted scenario title of a session.
func ScenarioTitleFor(sess *session.Session) string {
	if strings.TrimSpace(sess.Instructions) != "" {
		return fmt.Sprintf("Custom scenario (lesson %s)", sess.LessonID)
	}
	return ScenarioForLesson(sess.LessonID).Title
}
