// Package oracle wraps the JSON-mode chat model behind a small capability
// boundary: topic hierarchy classification, pairwise relation judgment, and
// optional parent-topic routing. An in-process fake satisfies the Client
// interface for tests.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microknowledge/atlas/internal/model"
)

// Hierarchy is a three-level topic assignment. Names are trimmed,
// stance-free, and capped at 80/80/120 runes.
type Hierarchy struct {
	Level1 string
	Level2 string
	Level3 string
}

// TopicCandidate is an existing topic offered to the parent-topic router.
type TopicCandidate struct {
	Name       string
	Similarity float64
}

// ParentNew is the router verdict meaning "create a new topic".
const ParentNew = "NEW"

// Client answers the classifier prompts the topic layer depends on.
type Client interface {
	// ClassifyHierarchy returns three topic names for the idea text.
	ClassifyHierarchy(ctx context.Context, text string) (Hierarchy, error)

	// ClassifyRelation judges whether candidate supports, opposes, or is
	// neutral toward seed, given the topic path for context.
	ClassifyRelation(ctx context.Context, seedText, candidateText string, topicPath []string) (model.RelationLabel, float64, error)

	// SelectParentTopic picks one candidate name, or ParentNew when none
	// clearly matches (confidence below 0.45, or a name off the list).
	SelectParentTopic(ctx context.Context, text, label string, candidates []TopicCandidate) (string, error)
}

// chatTimeout caps a single chat completion call.
const chatTimeout = 90 * time.Second

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint in
// JSON mode.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIClient creates an oracle backed by the chat completions API.
func NewOpenAIClient(baseURL, apiKey, chatModel string) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      chatModel,
		httpClient: &http.Client{Timeout: chatTimeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	ResponseFormat map[string]any `json:"response_format"`
	Temperature    float64        `json:"temperature"`
	Messages       []chatMessage  `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ChatJSON sends a system+user prompt pair and decodes the JSON object the
// model returns.
func (c *OpenAIClient) ChatJSON(ctx context.Context, systemPrompt, userPrompt string) (map[string]any, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model:          c.model,
		ResponseFormat: map[string]any{"type": "json_object"},
		Temperature:    0.2,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("oracle: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("oracle: read response: %w", err)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("oracle: unmarshal response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("oracle: openai error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("oracle: no choices in response")
	}

	return ParseJSONObject(result.Choices[0].Message.Content)
}

// ParseJSONObject decodes a JSON object, tolerating prose around it by
// extracting the outermost braces when a direct parse fails.
func ParseJSONObject(raw string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out, nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("oracle: model did not return JSON")
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("oracle: model did not return JSON: %w", err)
	}
	return out, nil
}

// ClassifyHierarchy asks for three stance-free topic names. Empty fields
// fall back to the prior level's name, bottoming out at "general".
func (c *OpenAIClient) ClassifyHierarchy(ctx context.Context, text string) (Hierarchy, error) {
	result, err := c.ChatJSON(ctx, topicExtractionPrompt, hierarchyUserPrompt(text))
	if err != nil {
		return Hierarchy{}, err
	}
	return hierarchyFromResult(result), nil
}

func hierarchyFromResult(result map[string]any) Hierarchy {
	level1 := strings.TrimSpace(stringField(result, "level1"))
	if level1 == "" {
		level1 = "general"
	}
	level2 := strings.TrimSpace(stringField(result, "level2"))
	if level2 == "" {
		level2 = level1
	}
	level3 := strings.TrimSpace(stringField(result, "level3"))
	if level3 == "" {
		level3 = level2
	}
	return Hierarchy{
		Level1: truncate(level1, 80),
		Level2: truncate(level2, 80),
		Level3: truncate(level3, 120),
	}
}

// ClassifyRelation labels the candidate relative to the seed. The label is
// clamped to {support, oppose, neutral} and confidence to [0,1].
func (c *OpenAIClient) ClassifyRelation(ctx context.Context, seedText, candidateText string, topicPath []string) (model.RelationLabel, float64, error) {
	result, err := c.ChatJSON(ctx, relationPrompt, relationUserPrompt(seedText, candidateText, topicPath))
	if err != nil {
		return model.RelationNeutral, 0, err
	}
	label := model.NormalizeRelation(strings.ToLower(strings.TrimSpace(stringField(result, "relation_label"))))
	confidence := clamp01(floatField(result, "confidence"))
	return label, confidence, nil
}

// SelectParentTopic routes an idea to an existing topic name, or ParentNew.
func (c *OpenAIClient) SelectParentTopic(ctx context.Context, text, label string, candidates []TopicCandidate) (string, error) {
	if len(candidates) == 0 {
		return ParentNew, nil
	}
	result, err := c.ChatJSON(ctx, parentRouterPrompt, parentRouterUserPrompt(text, label, candidates))
	if err != nil {
		return ParentNew, err
	}
	selected := strings.TrimSpace(stringField(result, "selected_topic_name"))
	if floatField(result, "confidence") < 0.45 {
		return ParentNew, nil
	}
	for _, c := range candidates {
		if c.Name == selected {
			return selected, nil
		}
	}
	return ParentNew, nil
}

// StaticClient answers every prompt with the degenerate fallback: the
// "general" hierarchy, neutral relations, and NEW parent routing. Used
// when no chat API key is configured so the pipeline still runs locally.
type StaticClient struct{}

// ClassifyHierarchy returns the catch-all hierarchy.
func (StaticClient) ClassifyHierarchy(context.Context, string) (Hierarchy, error) {
	return Hierarchy{Level1: "general", Level2: "general", Level3: "general"}, nil
}

// ClassifyRelation treats every pair as neutral.
func (StaticClient) ClassifyRelation(context.Context, string, string, []string) (model.RelationLabel, float64, error) {
	return model.RelationNeutral, 0, nil
}

// SelectParentTopic always routes to a new topic.
func (StaticClient) SelectParentTopic(context.Context, string, string, []TopicCandidate) (string, error) {
	return ParentNew, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func floatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f
		}
	}
	return 0
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// truncate caps s at n runes, never cutting inside a multi-byte sequence.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
