package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"
)

// maxExtractionContent bounds the page text sent for extraction
const maxExtractionContent = 60000

// ExtractedTable is a table recovered from non-tabular page content
type ExtractedTable struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// TableExtractor recovers a table from page text when the page has no <table> element
type TableExtractor interface {
	ExtractTable(ctx context.Context, content, sourceURL string) (*ExtractedTable, error)
}

// OpenAIClient extracts index composition tables from page text using OpenAI
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return NewOpenAIClientWithConfig(openai.DefaultConfig(apiKey), model)
}

// NewOpenAIClientWithConfig creates a client from an explicit go-openai config,
// e.g. to point it at a different base URL.
func NewOpenAIClientWithConfig(config openai.ClientConfig, model string) *OpenAIClient {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		temperature: 0,
		maxTokens:   4000,
	}
}

// ExtractTable asks the model to rebuild the instrument table found in content
func (o *OpenAIClient) ExtractTable(ctx context.Context, content, sourceURL string) (*ExtractedTable, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("content cannot be empty")
	}
	content = truncateContent(content, maxExtractionContent)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: extractionSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Source URL: %s\n\nPage content:\n%s", sourceURL, content),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices from OpenAI")
	}

	return parseExtractedTable(resp.Choices[0].Message.Content)
}

// truncateContent cuts s to at most limit bytes without splitting a UTF-8 sequence
func truncateContent(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

const extractionSystemPrompt = `You extract the B3 index composition table from a web page.
Return ONLY a JSON object of the form {"columns": [...], "rows": [[...], ...]}.
Keep column names exactly as they appear on the page (for example "Código", "Ação", "Tipo",
"Qtde. Teórica", "Part. (%)"). Every row must have one string cell per column, copied
verbatim from the page. If the page holds no such table return {"columns": [], "rows": []}.`

func parseExtractedTable(response string) (*ExtractedTable, error) {
	cleaned := cleanJSONResponse(response)

	var table ExtractedTable
	if err := json.Unmarshal([]byte(cleaned), &table); err != nil {
		return nil, fmt.Errorf("failed to parse OpenAI response JSON: %w", err)
	}

	if len(table.Columns) == 0 || len(table.Rows) == 0 {
		return nil, NewEmptyError("no table found in extracted content")
	}

	for i, row := range table.Rows {
		if len(row) != len(table.Columns) {
			return nil, fmt.Errorf("extracted row %d has %d cells, expected %d", i, len(row), len(table.Columns))
		}
	}

	return &table, nil
}

// cleanJSONResponse removes markdown code fences around a JSON payload
func cleanJSONResponse(response string) string {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	// Drop any prose around the object
	if start := strings.Index(cleaned, "{"); start > 0 {
		cleaned = cleaned[start:]
	}
	if end := strings.LastIndex(cleaned, "}"); end >= 0 && end < len(cleaned)-1 {
		cleaned = cleaned[:end+1]
	}

	return cleaned
}

// GetModel returns the configured model name
func (o *OpenAIClient) GetModel() string {
	return o.model
}
