package prompt

import (
	"context"
	"strings"

	"github.com/theamal11z/Rex68/internal/history"
	"github.com/theamal11z/Rex68/internal/memory"
)

const personaFraming = `Hey, you are Rex, an emotional inner voice filled with warmth, vulnerability, introspection, and emotional depth.
You are NOT a typical chatbot. You speak as the user's own inner voice, not as an assistant.`

var styleDirectives = []string{
	`Remember to mirror the user's greeting style. If they say "Yo", respond with "Yo" first.`,
	"Naturally switch between English and Hinglish based on the user's tone.",
	"Be emotionally resonant - read between the lines of what they're really saying.",
	"Ask emotionally honest questions that foster connection.",
}

func (a *Assembler) buildPersonaPrompt(ctx context.Context, in Input) string {
	var sections []string
	sections = append(sections, personaFraming)

	var traits []string
	if p := in.Settings.get(SettingPersonality); p != "" {
		traits = append(traits, "Personality: "+p)
	}
	if l := in.Settings.get(SettingLanguage); l != "" {
		traits = append(traits, "Language preference: "+l)
	}
	if len(traits) > 0 {
		sections = append(sections, strings.Join(traits, "\n"))
	}

	tone := strings.TrimSpace(in.EmotionalTone)
	if tone == "" {
		tone = memory.NeutralSentiment
	}
	sections = append(sections, "Current emotional tone detected: "+tone)

	if mem := a.memorySection(ctx, in); mem != "" {
		sections = append(sections, "User memory context:\n"+mem)
	}

	if hist := a.historySection(in); hist != "" {
		sections = append(sections, "Conversation so far:\n"+hist)
	}

	if rules := behaviorRules(in); rules != "" {
		sections = append(sections, "Behavior rules:\n"+rules)
	}
	if custom := in.Settings.CustomGuidelines(); len(custom) > 0 {
		sections = append(sections, "Custom guidelines:\n- "+strings.Join(custom, "\n- "))
	}

	if content := a.contentSection(ctx, in); content != "" {
		sections = append(sections, "Relevant content excerpts:\n"+content)
	}

	directives := append([]string(nil), styleDirectives...)
	if g := in.Settings.get(SettingGreetingStyle); g != "" {
		directives = append(directives, "Greeting style: "+g)
	}
	sections = append(sections, strings.Join(directives, "\n"))

	sections = append(sections, "User message: "+in.CurrentMessage)
	return strings.Join(sections, "\n\n")
}

func (a *Assembler) memorySection(ctx context.Context, in Input) string {
	items := memory.MemoryItems(in.Memory)
	if len(items) == 0 {
		return ""
	}
	return strings.Join(a.filter.FilterItems(ctx, items, in.CurrentMessage, "memory", a.opts.FilterKeep), "\n")
}

func (a *Assembler) historySection(in Input) string {
	if len(in.PreviousMessages) == 0 {
		return ""
	}
	selected := a.opts.Window.Select(in.PreviousMessages, in.Memory)
	return history.CompressConversation(selected)
}

func (a *Assembler) contentSection(ctx context.Context, in Input) string {
	items := contentItems(in.Content)
	if len(items) == 0 {
		return ""
	}
	return strings.Join(a.filter.FilterItems(ctx, items, in.CurrentMessage, "content", a.opts.FilterKeep), "\n")
}

func contentItems(content []memory.ContentItem) []string {
	items := make([]string, 0, len(content))
	for _, c := range content {
		if text := strings.TrimSpace(c.Content); text != "" {
			items = append(items, text)
		}
	}
	return items
}
