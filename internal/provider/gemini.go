package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient calls the Gemini generateContent REST endpoint.
type GeminiClient struct {
	apiKey      string
	baseURL     string
	temperature float64
	httpClient  *http.Client
}

// GeminiOption configures a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithBaseURL overrides the API endpoint, used by tests.
func WithBaseURL(url string) GeminiOption {
	return func(c *GeminiClient) { c.baseURL = url }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) GeminiOption {
	return func(c *GeminiClient) { c.httpClient = hc }
}

// NewGeminiClient creates a Gemini provider. callTimeout bounds each
// generateContent call so a hung provider cannot stall the loop forever.
func NewGeminiClient(apiKey string, callTimeout time.Duration, opts ...GeminiOption) *GeminiClient {
	c := &GeminiClient{
		apiKey:      apiKey,
		baseURL:     defaultGeminiBaseURL,
		temperature: 0.1,
		httpClient:  &http.Client{Timeout: callTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wire shapes for the generateContent request/response.

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiSchema struct {
	Type        string                  `json:"type"`
	Description string                  `json:"description,omitempty"`
	Properties  map[string]geminiSchema `json:"properties,omitempty"`
	Required    []string                `json:"required,omitempty"`
}

type geminiFunctionDeclaration struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Parameters  geminiSchema `json:"parameters"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiGenerationConfig struct {
	Temperature float64 `json:"temperature"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	Tools             []geminiTool           `json:"tools,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type geminiCandidate struct {
	Content *geminiContent `json:"content"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata"`
}

// Generate calls generateContent and validates the response shape. A
// structurally empty response (no candidates, no content, no parts) is a
// provider failure, returned as one of the distinguished sentinel errors.
func (c *GeminiClient) Generate(ctx context.Context, model string, turns []Turn, tools []ToolSchema) (*Completion, error) {
	system, rest := splitSystemTurn(turns)
	reqBody := geminiRequest{
		SystemInstruction: system,
		Contents:          encodeTurns(rest),
		Tools:             encodeTools(tools),
		GenerationConfig:  geminiGenerationConfig{Temperature: c.temperature},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("provider.GeminiClient.Generate: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("provider.GeminiClient.Generate: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider.GeminiClient.Generate: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("provider.GeminiClient.Generate: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// The status code and body text feed the string-matching error
		// classifier; a 429 body mentioning quota selects the quota message.
		log.Warn().Int("status", resp.StatusCode).Str("model", model).Msg("gemini call failed")
		return nil, fmt.Errorf("provider.GeminiClient.Generate: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed geminiResponse
	if err = json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("provider.GeminiClient.Generate: decode: %w", err)
	}

	completion, err := decodeResponse(&parsed)
	if err != nil {
		return nil, fmt.Errorf("provider.GeminiClient.Generate: %w", err)
	}

	return completion, nil
}

// splitSystemTurn peels a leading system turn into the systemInstruction
// slot; the Gemini contents array only accepts user and model roles.
func splitSystemTurn(turns []Turn) (*geminiContent, []Turn) {
	if len(turns) == 0 || turns[0].Role != RoleSystem {
		return nil, turns
	}
	return &geminiContent{Parts: []geminiPart{{Text: turns[0].Text}}}, turns[1:]
}

func encodeTurns(turns []Turn) []geminiContent {
	contents := make([]geminiContent, 0, len(turns))
	for _, t := range turns {
		var part geminiPart
		switch {
		case t.ToolCall != nil:
			part.FunctionCall = &geminiFunctionCall{Name: t.ToolCall.Name, Args: t.ToolCall.Args}
		case t.ToolResponse != nil:
			part.FunctionResponse = &geminiFunctionResponse{
				Name:     t.ToolResponse.Name,
				Response: map[string]any{"result": t.ToolResponse.Result},
			}
		default:
			part.Text = t.Text
		}
		contents = append(contents, geminiContent{Role: string(t.Role), Parts: []geminiPart{part}})
	}
	return contents
}

func encodeTools(tools []ToolSchema) []geminiTool {
	if len(tools) == 0 {
		return nil
	}

	decls := make([]geminiFunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]geminiSchema, len(t.Parameters))
		for name, p := range t.Parameters {
			props[name] = geminiSchema{Type: p.Type, Description: p.Description}
		}
		decls = append(decls, geminiFunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters: geminiSchema{
				Type:       "object",
				Properties: props,
				Required:   t.Required,
			},
		})
	}

	return []geminiTool{{FunctionDeclarations: decls}}
}

func decodeResponse(resp *geminiResponse) (*Completion, error) {
	if len(resp.Candidates) == 0 {
		return nil, ErrNoCandidates
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return nil, ErrEmptyContent
	}
	if len(candidate.Content.Parts) == 0 {
		return nil, ErrEmptyParts
	}

	completion := &Completion{}
	if resp.UsageMetadata != nil {
		completion.InputTokens = resp.UsageMetadata.PromptTokenCount
		completion.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	}

	part := candidate.Content.Parts[0]
	switch {
	case part.FunctionCall != nil:
		completion.ToolCall = &ToolCall{Name: part.FunctionCall.Name, Args: part.FunctionCall.Args}
	default:
		completion.Text = part.Text
	}

	return completion, nil
}
