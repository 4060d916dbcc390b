package llm

import (
	"context"
	"fmt"
)

// Generator produces free-form text for one system + user exchange.
type Generator struct {
	completer   Completer
	capability  string
	temperature *float64
	maxTokens   int
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithCapability overrides the capability used for generation.
func WithCapability(c string) GeneratorOption {
	return func(g *Generator) {
		g.capability = c
	}
}

// WithTemperature fixes the sampling temperature.
func WithTemperature(t float64) GeneratorOption {
	return func(g *Generator) {
		g.temperature = &t
	}
}

// WithMaxTokens limits the generated length.
func WithMaxTokens(n int) GeneratorOption {
	return func(g *Generator) {
		g.maxTokens = n
	}
}

// NewGenerator returns a Generator on completer using the "coding" capability.
func NewGenerator(completer Completer, opts ...GeneratorOption) *Generator {
	g := &Generator{completer: completer, capability: "coding"}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns the model's reply verbatim. It makes one Complete call.
func (g *Generator) Generate(ctx context.Context, system, user string) (string, error) {
	messages := make([]Message, 0, 2)
	if system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, Message{Role: "user", Content: user})

	resp, err := g.completer.Complete(ctx, Request{
		Capability:  g.capability,
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return resp.Content, nil
}
