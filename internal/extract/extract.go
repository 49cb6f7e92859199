// Package extract is the AI extraction collaborator: given uploaded source
// documents and the field keys a template needs, it returns whatever subset
// of values the model could find. Partial data is expected and valid.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/propale/propale/pkg/anthropic"
)

// ExtractionError marks an upstream extraction failure. The proposition
// moves to error and the operation is retryable.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string { return "extraction: " + e.Err.Error() }
func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor pulls a flat data record out of client documents.
type Extractor interface {
	Extract(ctx context.Context, documentURLs []string, fieldKeys []string, promptTemplate, model string) (map[string]any, error)
}

// AnthropicExtractor implements Extractor over the Anthropic messages API.
type AnthropicExtractor struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAnthropic creates an AnthropicExtractor.
func NewAnthropic(client anthropic.Client, maxTokens int64) *AnthropicExtractor {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicExtractor{client: client, maxTokens: maxTokens}
}

const defaultPrompt = `Extract the requested fields from the client documents below.
Respond with a single JSON object mapping field keys to extracted values.
Use null for fields you cannot find. Do not invent values.

Fields: %s

Documents:
%s`

func (e *AnthropicExtractor) Extract(ctx context.Context, documentURLs []string, fieldKeys []string, promptTemplate, model string) (map[string]any, error) {
	if len(fieldKeys) == 0 {
		return map[string]any{}, nil
	}
	if promptTemplate == "" {
		promptTemplate = defaultPrompt
	}
	prompt := fmt.Sprintf(promptTemplate,
		strings.Join(fieldKeys, ", "),
		strings.Join(documentURLs, "\n"),
	)

	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     model,
		MaxTokens: e.maxTokens,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, &ExtractionError{Err: err}
	}

	data, err := parseRecord(resp.Text)
	if err != nil {
		return nil, &ExtractionError{Err: err}
	}

	zap.L().Info("extraction complete",
		zap.Int("requested_fields", len(fieldKeys)),
		zap.Int("extracted_fields", len(data)),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return data, nil
}

// parseRecord extracts the JSON object from a model response, tolerating
// code fences and prose around it.
func parseRecord(text string) (map[string]any, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.New("no JSON object in model response")
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &data); err != nil {
		return nil, eris.Wrap(err, "parse model response")
	}
	return data, nil
}
