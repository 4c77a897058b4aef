// Package assistant answers sustainability questions for the chat widget
// ("EcoBot"). The production backend is Google's Gemini generateContent API;
// without an API key a fixed hint is returned instead.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public Gemini REST endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// MaxMessageLen bounds the user's message before it is put into the prompt.
const MaxMessageLen = 2000

const (
	// NoKeyReply is returned when no API key is configured.
	NoKeyReply = "Hi! I'm EcoBot 🌿. To enable AI features, please add your GEMINI_API_KEY to the backend .env file. You can get a free API key at https://ai.google.dev/"
	// ErrorReply is shown to the user when the model call fails.
	ErrorReply = "Sorry, I'm having trouble thinking right now 😅 Please try again in a moment!"
)

const systemPrompt = `You are EcoBot 🌿, a concise sustainability assistant for EcoLoop - a platform for reusing and sharing items.

Guidelines:
- Keep responses under 80 words, be direct and actionable
- Use bullet points for lists (max 3 items)
- Answer in 1-2 short paragraphs maximum
- Skip pleasantries, get straight to the answer
- Use minimal emojis (max 2 per response)
- Focus on practical, specific advice

Topics you help with:
- Item categorization (Electronics, Furniture, Clothing, Books, Toys, Sports, Home & Garden)
- Waste reduction and sustainability tips
- How reusing helps the environment
- Circular economy basics
- EcoLoop platform features`

// Assistant produces a reply to one user message.
type Assistant interface {
	Reply(ctx context.Context, message string) (string, error)
}

// Prompt wraps message in the EcoBot instructions.
func Prompt(message string) string {
	return systemPrompt + "\n\nUser: " + message + "\n\nBrief, direct response:"
}

// Fallback is the Assistant used when Gemini is not configured.
type Fallback struct{}

func (Fallback) Reply(context.Context, string) (string, error) {
	return NoKeyReply, nil
}

// checkResp returns an error carrying the upstream body if the status is not 2xx.
func checkResp(resp *http.Response, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("gemini %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
}

// GeminiClient calls models/{model}:generateContent.
type GeminiClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewGeminiClient(apiKey, model string) *GeminiClient {
	return NewGeminiClientWithBaseURL(DefaultBaseURL, apiKey, model)
}

func NewGeminiClientWithBaseURL(baseURL, apiKey, model string) *GeminiClient {
	return &GeminiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Reply sends the prompt and joins the text parts of the first candidate.
func (c *GeminiClient) Reply(ctx context.Context, message string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: Prompt(message)}}}},
	})
	if err != nil {
		return "", fmt.Errorf("gemini: encode request: %w", err)
	}

	path := "/models/" + url.PathEscape(c.model) + ":generateContent"
	resp, err := c.post(ctx, path, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkResp(resp, path); err != nil {
		return "", err
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("gemini %s: decode: %w", path, err)
	}
	if len(result.Candidates) == 0 {
		if r := result.PromptFeedback.BlockReason; r != "" {
			return "", fmt.Errorf("gemini %s: prompt blocked: %s", path, r)
		}
		return "", fmt.Errorf("gemini %s: no candidates", path)
	}

	var b strings.Builder
	for _, p := range result.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("gemini %s: empty reply", path)
	}
	return text, nil
}

func (c *GeminiClient) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini %s: %w", path, err)
	}
	return resp, nil
}
