package prompt

import (
	"context"
	"strconv"
	"strings"

	"github.com/theamal11z/Rex68/internal/memory"
)

const triggerHistoryTurns = 10

var responseRequirements = []string{
	"Adopt the identity and personality defined above for this response.",
	"Follow every guideline exactly.",
	"Match the calibration to the audience described.",
	"Stay within the execution parameters.",
	"Use the exemplars for tone and structure, never copy them verbatim.",
	"Draw on the supporting information only where it is relevant.",
}

func (a *Assembler) buildTriggerPrompt(ctx context.Context, in Input) string {
	t := in.Trigger
	var b strings.Builder

	b.WriteString("# TRIGGER MODE: " + strings.ToUpper(t.Phrase) + "\n\n")
	section(&b, "GUIDELINES", t.Guidelines)
	section(&b, "PERSONALITY FRAMEWORK", t.Personality)
	section(&b, "IDENTITY DEFINITION", t.Identity)
	section(&b, "PRIMARY PURPOSE", t.Purpose)
	if aud := strings.TrimSpace(t.Audience); aud != "" {
		section(&b, "AUDIENCE ANALYSIS", aud+`

Calibrate for this audience:
- Vocabulary and complexity level
- Emotional register and warmth
- Depth of explanation
- Cultural references and examples`)
	}
	section(&b, "EXECUTION PARAMETERS", t.Task)
	section(&b, "RESPONSE EXEMPLARS", t.Examples)

	b.WriteString("## SUPPORTING INFORMATION\n\n")
	section(&b, "MEMORY CONTEXT", memory.RelevantMemories(in.Memory, in.CurrentMessage))
	if hist := triggerHistory(in.PreviousMessages); hist != "" {
		section(&b, "CONVERSATION HISTORY", "CONVERSATION CONTEXT:\n"+hist)
	}
	if content := a.contentSection(ctx, in); content != "" {
		section(&b, "KNOWLEDGE BASE", content)
	}

	b.WriteString("## RESPONSE REQUIREMENTS\n")
	for i, r := range responseRequirements {
		b.WriteString(strconv.Itoa(i+1) + ". " + r + "\n")
	}
	b.WriteString("\nUser message: " + in.CurrentMessage)
	return b.String()
}

func section(b *strings.Builder, title, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	b.WriteString("## " + title + "\n" + body + "\n\n")
}

func triggerHistory(msgs []memory.Message) string {
	if len(msgs) > triggerHistoryTurns {
		msgs = msgs[len(msgs)-triggerHistoryTurns:]
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		role := "Assistant"
		if m.IsFromUser {
			role = "User"
		}
		lines = append(lines, role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
