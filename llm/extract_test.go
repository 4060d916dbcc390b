package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/c360studio/appforge/llm"
	"github.com/c360studio/appforge/llm/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recipe struct {
	Title string   `json:"title"`
	Steps []string `json:"steps"`
}

func (r *recipe) SchemaName() string { return "Recipe" }

func (r *recipe) FormatInstructions() string {
	return `Respond with JSON: {"title": string, "steps": [string]}`
}

func (r *recipe) Validate() error {
	if r.Title == "" {
		return errors.New("title is required")
	}
	return nil
}

func TestExtract(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{{
		Content: "Here you go:\n```json\n{\"title\": \"Toast\", \"steps\": [\"slice\", \"toast\",], \"extra\": 1}\n```",
	}}}

	var got recipe
	err := llm.Extract(context.Background(), mock, llm.ExtractRequest{
		System: "You are a chef.",
		Prompt: "Make toast.",
	}, &got)
	require.NoError(t, err)

	assert.Equal(t, recipe{Title: "Toast", Steps: []string{"slice", "toast"}}, got)
	assert.Equal(t, 1, mock.GetCallCount())

	req := mock.LastRequest()
	assert.Equal(t, "planning", req.Capability)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[1].Content, "Make toast.")
	assert.Contains(t, req.Messages[1].Content, `"title": string`)
}

func TestExtractReturnsValidRecordUnchanged(t *testing.T) {
	step := "const ops = ['+', '-', ]; render({a: 1, })"
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{{
		Content: `{"title": "Calc", "steps": ["const ops = ['+', '-', ]; render({a: 1, })"]}`,
	}}}

	var got recipe
	require.NoError(t, llm.Extract(context.Background(), mock, llm.ExtractRequest{Prompt: "p"}, &got))
	assert.Equal(t, []string{step}, got.Steps)
}

func TestExtractFailures(t *testing.T) {
	callErr := llm.NewFatalError(errors.New("unauthorized"))

	tests := []struct {
		name    string
		mock    *testutil.MockLLMClient
		wantErr error
		wantRaw bool
	}{
		{
			name:    "service error",
			mock:    &testutil.MockLLMClient{Err: callErr},
			wantErr: callErr,
		},
		{
			name:    "no json",
			mock:    &testutil.MockLLMClient{Responses: []*llm.Response{{Content: "I'd rather not."}}},
			wantErr: llm.ErrNoJSON,
			wantRaw: true,
		},
		{
			name:    "malformed",
			mock:    &testutil.MockLLMClient{Responses: []*llm.Response{{Content: `{"title": "x", "steps": "nope"}`}}},
			wantErr: llm.ErrInvalidRecord,
			wantRaw: true,
		},
		{
			name:    "missing required field",
			mock:    &testutil.MockLLMClient{Responses: []*llm.Response{{Content: `{"steps": ["a"]}`}}},
			wantErr: llm.ErrInvalidRecord,
			wantRaw: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recipe{Title: "unchanged"}
			err := llm.Extract(context.Background(), tt.mock, llm.ExtractRequest{Prompt: "p"}, &got)

			var extractErr *llm.ExtractionError
			require.ErrorAs(t, err, &extractErr)
			assert.Equal(t, "Recipe", extractErr.Schema)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantRaw, extractErr.Raw != "")
			assert.Equal(t, recipe{Title: "unchanged"}, got, "target must not be modified")
			assert.Equal(t, 1, tt.mock.GetCallCount(), "exactly one call, no retries")
		})
	}
}

func TestGenerate(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{{Content: "  <html></html>\n"}}}
	g := llm.NewGenerator(mock, llm.WithTemperature(0.2), llm.WithMaxTokens(1000))

	out, err := g.Generate(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "  <html></html>\n", out, "output is returned verbatim")

	req := mock.LastRequest()
	assert.Equal(t, "coding", req.Capability)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.2, *req.Temperature, 1e-9)
	assert.Equal(t, 1000, req.MaxTokens)
	assert.Len(t, req.Messages, 2)
}

func TestGenerateError(t *testing.T) {
	mock := &testutil.MockLLMClient{Err: llm.NewTransientError(errors.New("timeout"))}
	g := llm.NewGenerator(mock, llm.WithCapability("fast"))

	_, err := g.Generate(context.Background(), "", "user")
	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
	assert.Equal(t, "fast", mock.LastRequest().Capability)
	assert.Len(t, mock.LastRequest().Messages, 1)
}
