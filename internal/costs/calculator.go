// Package costs estimates provider spend per conversation turn.
package costs

import (
	"os"
	"strconv"
)

// Pricing in US dollars, overridable via environment variables.
var (
	// STTDollarsPerMinute covers pre-recorded transcription (Deepgram Nova-2: $0.0043/min).
	STTDollarsPerMinute = getEnvFloat("COST_STT_DOLLARS_PER_MIN", 0.0043)

	// LLMDollarsPerMillionInputTokens covers dialogue prompts (gpt-4o-mini: $0.15/1M).
	LLMDollarsPerMillionInputTokens = getEnvFloat("COST_LLM_INPUT_DOLLARS_PER_1M", 0.15)

	// LLMDollarsPerMillionOutputTokens covers dialogue replies (gpt-4o-mini: $0.60/1M).
	LLMDollarsPerMillionOutputTokens = getEnvFloat("COST_LLM_OUTPUT_DOLLARS_PER_1M", 0.60)

	// TTSDollarsPerThousandChars covers speech synthesis (ElevenLabs: $0.18/1K chars).
	TTSDollarsPerThousandChars = getEnvFloat("COST_TTS_DOLLARS_PER_1K_CHARS", 0.18)

	// CharsPerToken is the rough conversion used when providers do not report tokens.
	CharsPerToken = getEnvInt("COST_CHARS_PER_TOKEN", 4)
)

// TurnUsage is what one turn consumed.
type TurnUsage struct {
	AudioSeconds float64 // utterance length sent to STT
	PromptChars  int     // system prompt, history and user text sent to the dialogue model
	ReplyChars   int     // reply text generated
	SynthChars   int     // characters sent to TTS, including retries
}

// TurnCosts holds estimated spend in micro-dollars.
type TurnCosts struct {
	STTMicros   int64
	LLMMicros   int64
	TTSMicros   int64
	TotalMicros int64
}

// Dollars returns the total as a float for display.
func (c TurnCosts) Dollars() float64 {
	return float64(c.TotalMicros) / 1e6
}

// CalculateTurnCosts estimates the spend of one turn.
func CalculateTurnCosts(u TurnUsage) TurnCosts {
	cpt := CharsPerToken
	if cpt <= 0 {
		cpt = 4
	}
	inputTokens := float64(u.PromptChars) / float64(cpt)
	outputTokens := float64(u.ReplyChars) / float64(cpt)

	stt := u.AudioSeconds / 60.0 * STTDollarsPerMinute
	llm := inputTokens/1e6*LLMDollarsPerMillionInputTokens + outputTokens/1e6*LLMDollarsPerMillionOutputTokens
	tts := float64(u.SynthChars) / 1000.0 * TTSDollarsPerThousandChars

	c := TurnCosts{
		STTMicros: toMicros(stt),
		LLMMicros: toMicros(llm),
		TTSMicros: toMicros(tts),
	}
	c.TotalMicros = c.STTMicros + c.LLMMicros + c.TTSMicros
	return c
}

func toMicros(dollars float64) int64 {
	return roundToInt(dollars * 1e6)
}

// roundToInt rounds half away from zero.
func roundToInt(f float64) int64 {
	if f < 0 {
		return int64(f - 0.5)
	}
	return int64(f + 0.5)
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
