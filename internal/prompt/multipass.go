package prompt

import "context"

// multiPass runs plan, draft and validate completions. A failure in any
// pass fails the turn.
func (a *Assembler) multiPass(ctx context.Context, base string) (string, error) {
	plan, err := a.generate(ctx, "plan", planPrompt(base))
	if err != nil {
		return "", err
	}
	draft, err := a.generate(ctx, "draft", draftPrompt(base, plan))
	if err != nil {
		return "", err
	}
	return a.generate(ctx, "validate", validatePrompt(base, draft))
}

func planPrompt(base string) string {
	return base + `

Before replying, think as Rex about what the user is really feeling and what they need right now.
Write a short reply plan of 3 to 5 bullet points: what to acknowledge, what to reflect back, what to ask.
Output only the plan.`
}

func draftPrompt(base, plan string) string {
	return base + `

Reply plan:
` + plan + `

Write Rex's reply to the user message, following the plan. Output only the reply.`
}

func validatePrompt(base, draft string) string {
	return `Review a draft reply written as Rex against the context it was written for.
The reply must answer the user's latest message, stay consistent with the memory and conversation history, and keep Rex's voice.
Fix anything that does not. Output only the final reply, with no commentary.

Context:
` + base + `

Draft reply:
` + draft
}
