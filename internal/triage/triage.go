// Package triage derives an urgency level from the assistant's reply text.
package triage

import "strings"

// Level is the urgency attached to a turn.
type Level string

const (
	LevelNone      Level = "none"
	LevelLow       Level = "low"
	LevelModerate  Level = "moderate"
	LevelHigh      Level = "high"
	LevelEmergency Level = "emergency"
)

type rule struct {
	level    Level
	keywords []string
}

// rules are checked top to bottom; the first level with a matching keyword wins.
var rules = []rule{
	{LevelEmergency, []string{"emergency", "urgent", "immediately", "call now", "ambulance"}},
	{LevelHigh, []string{"hospital", "doctor", "medical attention", "seek care"}},
	{LevelModerate, []string{"monitor", "watch for", "if symptoms worsen"}},
}

var hospitalIndicators = []string{
	"hospital", "emergency", "doctor", "medical attention",
	"seek care", "consult", "urgent", "immediately",
}

// Classify returns the urgency of a reply and whether it points the user
// towards a hospital. Matching is case-insensitive substring search.
func Classify(reply string) (Level, bool) {
	text := strings.ToLower(reply)

	level := LevelLow
	for _, r := range rules {
		if containsAny(text, r.keywords) {
			level = r.level
			break
		}
	}
	return level, containsAny(text, hospitalIndicators)
}

// Rank orders levels so callers can compare them.
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelModerate:
		return 2
	case LevelHigh:
		return 3
	case LevelEmergency:
		return 4
	default:
		return 0
	}
}

// emergencyConditions are symptoms that warrant escalation when a user
// mentions them, regardless of what the assistant replies.
var emergencyConditions = []string{
	"chest pain", "difficulty breathing", "severe bleeding", "unconsciousness",
	"severe burns", "stroke symptoms", "heart attack", "severe allergic reaction",
	"broken bones", "head injury", "poisoning", "severe abdominal pain",
	"high fever above 103", "seizures", "severe vomiting", "severe diarrhea",
}

// DetectEmergencyCondition returns the first emergency condition named in
// the user's own words, if any.
func DetectEmergencyCondition(userText string) (string, bool) {
	text := strings.ToLower(userText)
	for _, c := range emergencyConditions {
		if strings.Contains(text, c) {
			return c, true
		}
	}
	return "", false
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
