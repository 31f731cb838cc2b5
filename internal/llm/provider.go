package llm

import (
	"context"
	"encoding/json"
)

// Provider is the generation engine abstraction the lecture core talks to.
// It accepts a text prompt, an optional binary attachment (a slide page),
// and an optional structured output schema.
type Provider interface {
	// Generate sends the request to the model. When Schema is set the
	// response Content is JSON validated against it; otherwise Content is
	// the raw text wrapped as a JSON string.
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID returns the configured model identifier.
	ModelID() string
}

// Request describes a single generation call.
type Request struct {
	// System sets the model's role and constraints.
	System string

	// Prompt is the user-turn text.
	Prompt string

	// Attachment is an optional binary document sent alongside the prompt,
	// e.g. a single-page PDF extracted from the slide deck.
	Attachment *Attachment

	// Schema, when set, requests native structured output conforming to it.
	Schema *Schema

	// MaxTokens bounds the response length. Zero means provider default.
	MaxTokens int

	// Temperature in [0, 1]. Zero means deterministic.
	Temperature float64
}

// Attachment is a binary document passed with a generation request.
type Attachment struct {
	MIMEType string
	Data     []byte
}

// Schema defines the JSON structure expected from the model.
type Schema struct {
	// Name identifies the schema, kebab-case, e.g. "lecture-step".
	Name string

	// Description guides the model on what the schema represents.
	Description string

	// Definition is the JSON Schema definition as a map.
	Definition map[string]any
}

// Response holds the model's output.
type Response struct {
	// Content is the generated output. Validated JSON when a Schema was
	// provided.
	Content json.RawMessage

	// Usage reports token consumption for this request.
	Usage Usage

	// Model is the model that actually served the request.
	Model string

	// StopReason is normalized to "end", "max_tokens" or "error".
	StopReason string
}

// Usage tracks token consumption for a single request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
