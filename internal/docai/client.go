package docai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const DefaultModel = "gpt-4o"

// completionService is the slice of the OpenAI chat API we depend on
type completionService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client talks to the document-understanding model. Every response is decoded
// once here and validated against a fixed JSON schema; anything else is an error.
type Client struct {
	completions completionService
	model       string
	schemas     map[string]*jsonschema.Schema
}

// NewClient creates a client for an OpenAI-compatible endpoint.
// baseURL and model may be empty.
func NewClient(apiKey, baseURL, model string) (*Client, error) {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return newClient(&client.Chat.Completions, model)
}

func newClient(completions completionService, model string) (*Client, error) {
	if model == "" {
		model = DefaultModel
	}

	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	return &Client{
		completions: completions,
		model:       model,
		schemas:     schemas,
	}, nil
}

// complete sends one chat request constrained to the named schema and decodes
// the validated answer into out
func (c *Client) complete(ctx context.Context, schemaName string, messages []openai.ChatCompletionMessageParamUnion, out interface{}) error {
	schema, ok := c.schemas[schemaName]
	if !ok {
		return fmt.Errorf("unknown schema %s", schemaName)
	}

	var schemaDoc map[string]interface{}
	if err := json.Unmarshal([]byte(schemaSources[schemaName]), &schemaDoc); err != nil {
		return fmt.Errorf("failed to decode schema %s: %w", schemaName, err)
	}

	resp, err := c.completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schemaName,
					Schema: schemaDoc,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to call model: %w", err)
	}

	if len(resp.Choices) == 0 {
		return fmt.Errorf("no response from model")
	}

	content := cleanJSONResponse(resp.Choices[0].Message.Content)

	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("failed to parse model JSON: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("model response violates %s schema: %w", schemaName, err)
	}

	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("failed to decode model response: %w", err)
	}
	return nil
}

// cleanJSONResponse removes markdown code blocks and extra whitespace from model response
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	// Find the first { and last } to extract just the JSON object
	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")

	if startIdx == -1 || endIdx == -1 || startIdx > endIdx {
		// Let the JSON parser fail with a proper error
		return content
	}

	return strings.TrimSpace(content[startIdx : endIdx+1])
}
