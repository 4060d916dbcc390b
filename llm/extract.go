package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Schema is a record shape that can be requested from a model. Implementations
// are pointer types so Extract can fill them.
type Schema interface {
	// SchemaName identifies the record in errors and logs.
	SchemaName() string

	// FormatInstructions describes the expected JSON shape for the prompt.
	FormatInstructions() string

	// Validate reports whether a decoded record satisfies the shape's
	// required fields.
	Validate() error
}

// ExtractRequest describes a single structured extraction.
type ExtractRequest struct {
	// Capability selects the model. Defaults to "planning".
	Capability string

	// System is the system instruction. Optional.
	System string

	// Prompt is the user message. The schema's format instructions are
	// appended to it.
	Prompt string

	// Temperature is passed through to the model. nil uses the endpoint default.
	Temperature *float64

	// MaxTokens limits the response length. 0 uses the endpoint default.
	MaxTokens int
}

// Extract asks the model for one record of target's shape and fills target.
// It makes exactly one Complete call. On any failure it returns an
// *ExtractionError and target is left untouched.
func Extract(ctx context.Context, completer Completer, req ExtractRequest, target Schema) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return &ExtractionError{Schema: schemaName(target), Err: errors.New("target must be a non-nil pointer")}
	}
	name := target.SchemaName()

	capability := req.Capability
	if capability == "" {
		capability = "planning"
	}

	messages := make([]Message, 0, 2)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, Message{
		Role:    "user",
		Content: strings.TrimRight(req.Prompt, "\n") + "\n\n" + target.FormatInstructions(),
	})

	resp, err := completer.Complete(ctx, Request{
		Capability:  capability,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return &ExtractionError{Schema: name, Err: err}
	}

	raw := ExtractJSON(resp.Content)
	if raw == "" {
		return &ExtractionError{Schema: name, Raw: resp.Content, Err: ErrNoJSON}
	}

	// Decode into a fresh value so a failed decode or validation never leaks
	// into the caller's record.
	fresh := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal([]byte(raw), fresh.Interface()); err != nil {
		return &ExtractionError{Schema: name, Raw: resp.Content, Err: fmt.Errorf("%w: %v", ErrInvalidRecord, err)}
	}
	decoded, ok := fresh.Interface().(Schema)
	if !ok {
		return &ExtractionError{Schema: name, Raw: resp.Content, Err: fmt.Errorf("%w: %T is not a schema", ErrInvalidRecord, fresh.Interface())}
	}
	if err := decoded.Validate(); err != nil {
		return &ExtractionError{Schema: name, Raw: resp.Content, Err: fmt.Errorf("%w: %v", ErrInvalidRecord, err)}
	}

	rv.Elem().Set(fresh.Elem())
	return nil
}

func schemaName(s Schema) string {
	if s == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", s)
}
