package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a model answers without usable text.
var ErrEmptyResponse = errors.New("empty model response")

// Completer turns a prompt into generated text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
