// Package ai integrates the generative gear-health collaborator. The service
// is advisory and untrusted: every response is schema-checked before anything
// is attached to an equipment record, and a failure here never mutates the
// record or its status.
package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	messagesPath = "/v1/messages"
	apiVersion   = "2023-06-01"
	maxTokens    = 1024
)

const systemPrompt = `You are an assistant that analyzes the condition of climbing safety gear (ropes, harnesses, helmets, carabiners) from a photo, a usage description, and the manufacturer's guidance, and determines whether the gear needs to be replaced.

Respond with ONLY a JSON object with this exact structure:
{
  "needs_replacement": true or false,
  "reason": "why the gear does or does not need replacement",
  "confidence": a number between 0 and 1,
  "recommendation": "what the owner should do next"
}

Base your verdict on visible wear (fraying, sheath damage, deformation, corrosion, UV fading), the reported usage history, and the manufacturer's retirement guidance. Be conservative: when in doubt about load-bearing gear, lean toward replacement.`

// Verdict is the validated output of a gear-health analysis.
type Verdict struct {
	NeedsReplacement bool    `json:"needs_replacement"`
	Reason           string  `json:"reason"`
	Confidence       float64 `json:"confidence"`
	Recommendation   string  `json:"recommendation"`
}

// Input describes one piece of gear for analysis. PhotoDataURI must be a
// base64 data URI; conversion happens locally before any network call.
type Input struct {
	PhotoDataURI     string
	Description      string
	ManufacturerData string
}

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("gear-health analysis is not configured")

// SchemaError reports a response that did not match the expected verdict
// schema. It is distinct from transport errors so callers can surface it
// separately.
type SchemaError struct {
	Detail string
}

func (e *SchemaError) Error() string {
	return "gear-health response failed schema validation: " + e.Detail
}

// Analyzer performs a single-shot gear-health check. Each invocation is
// independent; there is no retry policy (at-most-once best effort).
type Analyzer interface {
	Analyze(ctx context.Context, in Input) (*Verdict, error)
}

type client struct {
	http  *resty.Client
	model string
}

// NewClient creates a configured analysis client against an Anthropic-style
// messages endpoint.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) Analyzer {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("x-api-key", apiKey).
		SetHeader("anthropic-version", apiVersion).
		SetHeader("content-type", "application/json").
		SetTimeout(timeout)

	return &client{http: httpClient, model: model}
}

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (c *client) Analyze(ctx context.Context, in Input) (*Verdict, error) {
	mediaType, data, err := splitDataURI(in.PhotoDataURI)
	if err != nil {
		return nil, fmt.Errorf("photo data URI: %w", err)
	}

	userText := fmt.Sprintf("Description: %s\n\nManufacturer data: %s", in.Description, in.ManufacturerData)
	reqBody := messageRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    systemPrompt,
		Messages: []message{
			{
				Role: "user",
				Content: []contentBlock{
					{Type: "image", Source: &imageSource{Type: "base64", MediaType: mediaType, Data: data}},
					{Type: "text", Text: userText},
				},
			},
			// Prefill the opening brace to force a JSON reply.
			{Role: "assistant", Content: []contentBlock{{Type: "text", Text: "{"}}},
		},
	}

	var respBody messageResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(reqBody).
		SetResult(&respBody).
		Post(messagesPath)
	if err != nil {
		return nil, fmt.Errorf("gear-health api call: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gear-health api error: %s", resp.Status())
	}
	if len(respBody.Content) == 0 || strings.TrimSpace(respBody.Content[0].Text) == "" {
		return nil, &SchemaError{Detail: "empty response from service"}
	}

	// Reconstruct the full JSON since the opening brace was prefilled.
	return parseVerdict("{" + respBody.Content[0].Text)
}

// parseVerdict decodes and schema-checks the raw model output. Required
// fields are decoded through pointers so a missing field is distinguishable
// from a zero value.
func parseVerdict(text string) (*Verdict, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var raw struct {
		NeedsReplacement *bool    `json:"needs_replacement"`
		Reason           *string  `json:"reason"`
		Confidence       *float64 `json:"confidence"`
		Recommendation   string   `json:"recommendation"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, &SchemaError{Detail: "not valid JSON: " + err.Error()}
	}

	switch {
	case raw.NeedsReplacement == nil:
		return nil, &SchemaError{Detail: "missing needs_replacement"}
	case raw.Reason == nil || strings.TrimSpace(*raw.Reason) == "":
		return nil, &SchemaError{Detail: "missing reason"}
	case raw.Confidence == nil:
		return nil, &SchemaError{Detail: "missing confidence"}
	case *raw.Confidence < 0 || *raw.Confidence > 1:
		return nil, &SchemaError{Detail: fmt.Sprintf("confidence %v outside [0,1]", *raw.Confidence)}
	}

	return &Verdict{
		NeedsReplacement: *raw.NeedsReplacement,
		Reason:           *raw.Reason,
		Confidence:       *raw.Confidence,
		Recommendation:   raw.Recommendation,
	}, nil
}

func splitDataURI(uri string) (mediaType, data string, err error) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", errors.New("not a data URI")
	}
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return "", "", errors.New("missing payload")
	}
	meta := uri[len("data:"):comma]
	if !strings.HasSuffix(meta, ";base64") {
		return "", "", errors.New("expected base64 encoding")
	}
	payload := uri[comma+1:]
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return "", "", fmt.Errorf("invalid base64 payload: %w", err)
	}
	return strings.TrimSuffix(meta, ";base64"), payload, nil
}

// Disabled returns an Analyzer whose calls always fail with
// ErrNotConfigured. Used when no API key is present so the rest of the
// service keeps working.
func Disabled() Analyzer {
	return disabled{}
}

type disabled struct{}

func (disabled) Analyze(context.Context, Input) (*Verdict, error) {
	return nil, ErrNotConfigured
}
