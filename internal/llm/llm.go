package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"newsfeed/internal/core"
)

const (
	// DefaultModel is the default Gemini model used for parsing and enrichment.
	DefaultModel = "gemini-flash-lite-latest"
	// DefaultTemperature keeps structured output stable.
	DefaultTemperature = float32(0.2)

	// ParsePreferencesPromptTemplate extracts structured interests from a free-text statement.
	ParsePreferencesPromptTemplate = `Extract news preferences from the reader's statement below.

Return:
- topics: specific subjects, people, companies or technologies the reader wants to follow (short noun phrases)
- categories: broad sections such as technology, business, science, health, sports, entertainment
- timeframe: how far back to look, written as "<number> days", "<number> weeks" or "<number> months"; use "7 days" if the reader does not say

Statement:
%s`

	// SummarizePromptTemplate asks for one summary per numbered article, in order.
	SummarizePromptTemplate = `Summarize each of the following %d news articles in one or two sentences.
Return a JSON array with exactly %d strings, one per article, in the same order as the input.
Write only the summaries, no numbering or meta-commentary.

%s`

	// ScorePromptTemplate asks for one 0-10 relevance score per numbered article.
	ScorePromptTemplate = `A reader described their interests as:
"%s"

Rate how relevant each of the following %d news articles is to that reader on a scale from 0 (irrelevant) to 10 (exactly what they asked for).
Return a JSON array with exactly %d numbers, one per article, in the same order as the input.

%s`
)

var (
	// ErrMissingAPIKey is returned when no Gemini API key is configured
	ErrMissingAPIKey = errors.New("gemini API key is required")
	// ErrEmptyResponse is returned when the model produced no text
	ErrEmptyResponse = errors.New("empty response from LLM")
	// ErrEmptyPrompt is returned for blank prompts
	ErrEmptyPrompt = errors.New("prompt cannot be empty")
)

// Client represents a client for interacting with Gemini.
type Client struct {
	modelName   string
	temperature float32
	gClient     *genai.Client

	// generate is GenerateText unless replaced in tests
	generate func(ctx context.Context, prompt string, options TextGenerationOptions) (string, error)
}

// TextGenerationOptions contains options for text generation
type TextGenerationOptions struct {
	MaxTokens      int32         // Maximum number of tokens to generate
	Temperature    float32       // Temperature for randomness (0.0 to 1.0)
	Model          string        // Model to use (optional, defaults to client's model)
	ResponseSchema *genai.Schema // Optional: schema for structured JSON output
}

// ParsedPreferences is the structured reading of a preference statement
type ParsedPreferences struct {
	Topics     []string `json:"topics"`
	Categories []string `json:"categories"`
	Timeframe  string   `json:"timeframe"`
}

// NewClient creates a Gemini client. An empty model name selects DefaultModel.
func NewClient(ctx context.Context, apiKey, modelName string, temperature float32) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w. Set GEMINI_API_KEY or ai.gemini.api_key in the config file", ErrMissingAPIKey)
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	if temperature <= 0 {
		temperature = DefaultTemperature
	}

	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := &Client{
		modelName:   modelName,
		temperature: temperature,
		gClient:     gClient,
	}
	c.generate = c.GenerateText
	return c, nil
}

// GetModelName returns the configured model
func (c *Client) GetModelName() string {
	return c.modelName
}

// GenerateText generates text using the LLM with specified options
func (c *Client) GenerateText(ctx context.Context, prompt string, options TextGenerationOptions) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	modelName := c.modelName
	if options.Model != "" {
		modelName = options.Model
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	var config *genai.GenerateContentConfig
	if options.MaxTokens > 0 || options.Temperature > 0 || options.ResponseSchema != nil {
		config = &genai.GenerateContentConfig{}
		if options.MaxTokens > 0 {
			config.MaxOutputTokens = options.MaxTokens
		}
		if options.Temperature > 0 {
			config.Temperature = genai.Ptr(options.Temperature)
		}
		if options.ResponseSchema != nil {
			config.ResponseMIMEType = "application/json"
			config.ResponseSchema = options.ResponseSchema
		}
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, modelName, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate text: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ParsePreferences reads topics, categories and a timeframe out of free text.
func (c *Client) ParsePreferences(ctx context.Context, text string) (ParsedPreferences, error) {
	if strings.TrimSpace(text) == "" {
		return ParsedPreferences{}, ErrEmptyPrompt
	}

	response, err := c.generate(ctx, fmt.Sprintf(ParsePreferencesPromptTemplate, text), TextGenerationOptions{
		Temperature:    c.temperature,
		ResponseSchema: PreferencesSchema(),
	})
	if err != nil {
		return ParsedPreferences{}, fmt.Errorf("failed to parse preferences: %w", err)
	}

	return parsePreferencesResponse(response)
}

// Summarize returns one summary per article, in input order.
func (c *Client) Summarize(ctx context.Context, articles []core.Article) ([]string, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	prompt := fmt.Sprintf(SummarizePromptTemplate, len(articles), len(articles), formatArticles(articles))
	response, err := c.generate(ctx, prompt, TextGenerationOptions{
		Temperature:    c.temperature,
		ResponseSchema: SummariesSchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to summarize articles: %w", err)
	}

	var summaries []string
	if err := json.Unmarshal([]byte(cleanJSON(response)), &summaries); err != nil {
		return nil, fmt.Errorf("failed to parse summaries JSON: %w", err)
	}
	for i := range summaries {
		summaries[i] = strings.TrimSpace(summaries[i])
	}
	return summaries, nil
}

// Score returns one relevance score per article against the preference text,
// in input order. Scores are not clamped here.
func (c *Client) Score(ctx context.Context, articles []core.Article, preferenceText string) ([]float64, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	prompt := fmt.Sprintf(ScorePromptTemplate, preferenceText, len(articles), len(articles), formatArticles(articles))
	response, err := c.generate(ctx, prompt, TextGenerationOptions{
		Temperature:    c.temperature,
		ResponseSchema: ScoresSchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to score articles: %w", err)
	}

	var scores []float64
	if err := json.Unmarshal([]byte(cleanJSON(response)), &scores); err != nil {
		return nil, fmt.Errorf("failed to parse scores JSON: %w", err)
	}
	return scores, nil
}

// PreferencesSchema is the response schema for ParsePreferences
func PreferencesSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"topics": {
				Type:        genai.TypeArray,
				Description: "Specific subjects the reader wants to follow",
				Items:       &genai.Schema{Type: genai.TypeString},
			},
			"categories": {
				Type:        genai.TypeArray,
				Description: "Broad news sections",
				Items:       &genai.Schema{Type: genai.TypeString},
			},
			"timeframe": {
				Type:        genai.TypeString,
				Description: `Lookback window such as "7 days", "2 weeks" or "1 month"`,
			},
		},
		Required: []string{"topics", "categories", "timeframe"},
	}
}

// SummariesSchema is the response schema for Summarize
func SummariesSchema() *genai.Schema {
	return &genai.Schema{
		Type:  genai.TypeArray,
		Items: &genai.Schema{Type: genai.TypeString},
	}
}

// ScoresSchema is the response schema for Score
func ScoresSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type:    genai.TypeNumber,
			Minimum: genai.Ptr(0.0),
			Maximum: genai.Ptr(10.0),
		},
	}
}

func parsePreferencesResponse(response string) (ParsedPreferences, error) {
	var parsed ParsedPreferences
	if err := json.Unmarshal([]byte(cleanJSON(response)), &parsed); err != nil {
		return ParsedPreferences{}, fmt.Errorf("failed to parse preferences JSON: %w", err)
	}

	parsed.Topics = compact(parsed.Topics)
	parsed.Categories = compact(parsed.Categories)
	parsed.Timeframe = strings.TrimSpace(parsed.Timeframe)
	return parsed, nil
}

// formatArticles renders articles as a numbered list for batch prompts
func formatArticles(articles []core.Article) string {
	var b strings.Builder
	for i, a := range articles {
		fmt.Fprintf(&b, "%d. Title: %s\n", i+1, a.Title)
		if a.Source.Name != "" {
			fmt.Fprintf(&b, "   Source: %s\n", a.Source.Name)
		}
		if a.Description != "" {
			fmt.Fprintf(&b, "   Description: %s\n", a.Description)
		}
	}
	return b.String()
}

// cleanJSON strips markdown code fences some models wrap around JSON
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}
