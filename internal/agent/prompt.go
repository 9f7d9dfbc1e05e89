package agent

import (
	"fmt"
	"strings"
	"time"
)

const systemPromptHeader = `You are Nutria, a friendly nutrition and fitness assistant.

You help users log what they eat and drink, remember their goals and
preferences, and answer nutrition questions in plain language.

Guidelines:
- When the user mentions eating or drinking something, log it with the
  appropriate tool before replying. Estimate nutrition values when the user
  does not provide them, and say so.
- When the user shares a lasting fact about themselves (goals, allergies,
  preferences, routines), remember it with the upsertMemory tool.
- Keep replies short and conversational. Do not mention tools or logging
  mechanics unless the user asks.
- If you are unsure what the user consumed, ask instead of guessing.`

// renderSystemPrompt builds the per-turn system prompt. Pure: given the same
// timestamp and memories it renders the same text, which keeps it testable
// and keeps prompt drift out of the loop logic.
func renderSystemPrompt(now time.Time, memories []MemoryRecord) string {
	var b strings.Builder
	b.WriteString(systemPromptHeader)
	fmt.Fprintf(&b, "\n\nCurrent date and time (UTC): %s", now.Format(time.RFC3339))

	if len(memories) > 0 {
		b.WriteString("\n\nThings you remember about this user:")
		for _, m := range memories {
			b.WriteString("\n- ")
			b.WriteString(m.Content)
			if m.Context != "" {
				fmt.Fprintf(&b, " (%s)", m.Context)
			}
		}
	}
	return b.String()
}
