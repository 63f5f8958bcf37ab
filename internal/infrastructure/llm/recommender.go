// Package llm asks a hosted chat model for clone-improvement suggestions.
// The collaborator is opaque: whatever text comes back is resolved into one of
// three shapes and attached to the run report, never to the scores.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Cyb3rEchos/trend-scout/internal/config"
	"github.com/Cyb3rEchos/trend-scout/internal/domain"
	"github.com/Cyb3rEchos/trend-scout/internal/ports"
)

// HFClient implements ports.Recommender backed by an OpenAI-compatible chat
// completions endpoint (Hugging Face router by default).
type HFClient struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ ports.Recommender = (*HFClient)(nil)

// NewHFClient builds a client from configuration.
func NewHFClient(cfg config.RecommenderConfig) *HFClient {
	return &HFClient{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Recommend asks the model about one scored app and resolves whatever comes
// back. A transport or status error is returned to the caller; a response that
// merely fails to parse is not an error, it becomes an unparsed recommendation.
func (c *HFClient) Recommend(ctx context.Context, entry domain.ScoredEntry) (domain.Recommendation, error) {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return domain.Recommendation{}, fmt.Errorf("recommender misconfigured")
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: buildPrompt(entry)},
		},
		MaxTokens:   400,
		Temperature: 0.7,
	})
	if err != nil {
		return domain.Recommendation{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Recommendation{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Recommendation{}, fmt.Errorf("recommend %s: %w", entry.AppID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Recommendation{}, fmt.Errorf("recommend %s: %s: %s",
			entry.AppID, resp.Status, strings.TrimSpace(string(detail)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.Recommendation{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return domain.Recommendation{}, fmt.Errorf("recommend %s: empty choices", entry.AppID)
	}

	return ResolveResponse(entry.AppID, parsed.Choices[0].Message.Content), nil
}

func buildPrompt(entry domain.ScoredEntry) string {
	var b strings.Builder
	b.WriteString("You are an expert app developer and business strategist. ")
	b.WriteString("Analyze this App Store app and suggest how an indie developer could build a better clone in one night.\n\n")
	fmt.Fprintf(&b, "App: %s\nCategory: %s\nCountry: %s\nPrice: $%.2f\nIn-app purchases: %t\n",
		entry.Name, entry.Category, entry.Country, entry.Price, entry.HasIAP)
	fmt.Fprintf(&b, "Rating: %.1f stars (%d ratings)\nCompetitive score: %.2f/5.0\n\n",
		entry.RatingAvg, entry.RatingCount, entry.Total)
	b.WriteString("Prefer answering with a single JSON object with keys: title, subtitle, key_features, ")
	b.WriteString("revenue_model, build_estimate, market_gap, competitive_edge, risks, ios_features, confidence.\n")
	b.WriteString("If you cannot produce JSON, answer with lines in this format:\n")
	b.WriteString("IMPROVEMENT: [one sentence]\nFEATURES: [feature | feature | feature]\nMONETIZATION: [tip | tip]\n")
	b.WriteString("BUILD_TIME: [estimate]\nMARKET_GAP: [one sentence]\nRISKS: [risk | risk]\n")
	return b.String()
}

// Recognized section headers, in the order the model is asked to emit them.
var sectionHeaders = []string{
	"IMPROVEMENT", "FEATURES", "MONETIZATION", "BUILD_TIME", "MARKET_GAP", "RISKS",
}

// ResolveResponse dispatches the model output to exactly one recommendation
// shape: embedded JSON first, labeled sections second, raw text last. It never
// fails; an unrecognizable answer is still a usable recommendation.
func ResolveResponse(appID, text string) domain.Recommendation {
	if structured, ok := parseStructured(text); ok {
		return domain.Recommendation{
			AppID:      appID,
			Kind:       domain.RecommendationStructured,
			Structured: structured,
		}
	}

	if sections, ok := parseLabeledText(text); ok {
		return domain.Recommendation{
			AppID:    appID,
			Kind:     domain.RecommendationLabeledText,
			Sections: sections,
		}
	}

	return domain.Recommendation{
		AppID: appID,
		Kind:  domain.RecommendationUnparsed,
		Raw:   strings.TrimSpace(text),
	}
}

// parseStructured extracts the outermost JSON object, tolerating prose or
// markdown fences around it.
func parseStructured(text string) (*domain.StructuredRecommendation, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var structured domain.StructuredRecommendation
	if err := json.Unmarshal([]byte(text[start:end+1]), &structured); err != nil {
		return nil, false
	}
	if structured.Title == "" && len(structured.KeyFeatures) == 0 {
		return nil, false
	}
	return &structured, true
}

func parseLabeledText(text string) (map[string]string, bool) {
	sections := make(map[string]string)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		for _, header := range sectionHeaders {
			prefix := header + ":"
			if strings.HasPrefix(line, prefix) {
				value := strings.TrimSpace(strings.TrimPrefix(line, prefix))
				if value != "" {
					sections[header] = value
				}
				break
			}
		}
	}

	if len(sections) == 0 {
		return nil, false
	}
	return sections, true
}
