// Package prompt composes the persona prompt from memory, history, settings
// and the content library, and drives single or multi-pass generation.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/theamal11z/Rex68/internal/history"
	"github.com/theamal11z/Rex68/internal/llm"
	"github.com/theamal11z/Rex68/internal/memory"
	"github.com/theamal11z/Rex68/internal/relevance"
)

// ErrGenerationFailed means no reply could be produced for the turn.
var ErrGenerationFailed = errors.New("generation failed")

const (
	// FallbackReply is shown to the user when generation fails.
	FallbackReply = "I seem to be having trouble connecting with my thoughts right now. Can you give me a moment?"
	// TriggerFallbackReply is the trigger-mode equivalent of FallbackReply.
	TriggerFallbackReply = "I'm having trouble processing this request in trigger mode. Can we try again?"
)

// Input is everything one turn's prompt is built from. Settings and Content
// are snapshots taken by the caller; nil means unavailable.
type Input struct {
	CurrentMessage   string
	EmotionalTone    string
	Memory           *memory.StructuredMemory
	BehaviorRules    string
	PreviousMessages []memory.Message
	Settings         Settings
	Content          []memory.ContentItem
	Trigger          *memory.TriggerPhrase
}

type Options struct {
	MultiPass         bool
	EnforceGuidelines bool
	FilterKeep        int
	Window            history.Window
}

// Assembler builds persona prompts and generates replies.
type Assembler struct {
	completer llm.Completer
	filter    *relevance.Filter
	opts      Options
}

func NewAssembler(c llm.Completer, f *relevance.Filter, opts Options) *Assembler {
	if opts.FilterKeep <= 0 {
		opts.FilterKeep = relevance.DefaultKeep
	}
	if f == nil {
		f = relevance.New(nil)
	}
	return &Assembler{completer: c, filter: f, opts: opts}
}

func (a *Assembler) Options() Options { return a.opts }

// BuildPrompt returns the full prompt text for in. It never fails; missing
// enrichment sources leave their section out.
func (a *Assembler) BuildPrompt(ctx context.Context, in Input) string {
	if in.Trigger != nil {
		return a.buildTriggerPrompt(ctx, in)
	}
	return a.buildPersonaPrompt(ctx, in)
}

// Respond generates the reply for in. Any generation failure is reported as
// ErrGenerationFailed; callers show FallbackReply instead.
func (a *Assembler) Respond(ctx context.Context, in Input) (string, error) {
	if a.completer == nil {
		return "", ErrGenerationFailed
	}
	base := a.BuildPrompt(ctx, in)

	var (
		reply string
		err   error
	)
	switch {
	case in.Trigger != nil:
		reply, err = a.generate(ctx, "trigger", base)
	case a.opts.MultiPass:
		reply, err = a.multiPass(ctx, base)
	default:
		reply, err = a.generate(ctx, "reply", base)
	}
	if err != nil {
		return "", err
	}

	if a.opts.EnforceGuidelines && in.Trigger == nil {
		reply = a.enforce(ctx, in, reply)
	}
	return reply, nil
}

func (a *Assembler) generate(ctx context.Context, pass, prompt string) (string, error) {
	out, err := a.completer.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrGenerationFailed, pass, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: %s: empty output", ErrGenerationFailed, pass)
	}
	return out, nil
}

func (a *Assembler) enforce(ctx context.Context, in Input, reply string) string {
	guidelines := guidelineLines(in)
	if len(guidelines) == 0 {
		return reply
	}
	checklist := a.filter.ArrangeGuidelines(ctx, guidelines, in.CurrentMessage)
	result := a.filter.EnforceGuidelines(ctx, checklist, reply)
	if strings.TrimSpace(result.Improved) == "" {
		return reply
	}
	return result.Improved
}

func guidelineLines(in Input) []string {
	var lines []string
	if rules := behaviorRules(in); rules != "" {
		for _, l := range strings.Split(rules, "\n") {
			if l = strings.TrimSpace(l); l != "" {
				lines = append(lines, l)
			}
		}
	}
	return append(lines, in.Settings.CustomGuidelines()...)
}

func behaviorRules(in Input) string {
	if r := strings.TrimSpace(in.BehaviorRules); r != "" {
		return r
	}
	return in.Settings.get(SettingBehaviorRules)
}
