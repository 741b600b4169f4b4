package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/observability"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultTextModel   = "gpt-4o-mini"
	defaultVisionModel = "gpt-4o"
)

// Options configures the client. Zero values fall back to defaults.
type Options struct {
	BaseURL           string
	TextModel         string
	VisionModel       string
	TextMaxTokens     int
	VisionMaxTokens   int
	TextTemperature   float64
	VisionTemperature float64
	Timeout           time.Duration
	MaxImageBytes     int64
	Retry             *RetryConfig
	HTTPClient        *http.Client
	Logger            *observability.Logger
}

// Client handles communication with an OpenAI-compatible chat completions API
type Client struct {
	apiKey     string
	opts       Options
	httpClient *http.Client
	logger     *observability.Logger
}

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ResponseFormat asks the service for a specific output format
type ResponseFormat struct {
	Type string `json:"type"`
}

// Request represents the API request structure
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Response represents the API response structure
type Response struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

// Choice represents a single completion choice
type Choice struct {
	Message      Delta  `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// Delta represents the message body of a choice
type Delta struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// NewClient creates a new inference client
func NewClient(apiKey string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.TextModel == "" {
		opts.TextModel = defaultTextModel
	}
	if opts.VisionModel == "" {
		opts.VisionModel = defaultVisionModel
	}
	if opts.TextMaxTokens == 0 {
		opts.TextMaxTokens = 4000
	}
	if opts.VisionMaxTokens == 0 {
		opts.VisionMaxTokens = 1500
	}
	if opts.MaxImageBytes == 0 {
		opts.MaxImageBytes = 20 * 1024 * 1024
	}
	if opts.Retry == nil {
		opts.Retry = NoRetryConfig()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = observability.Nop()
	}

	return &Client{
		apiKey:     apiKey,
		opts:       opts,
		httpClient: httpClient,
		logger:     logger.WithComponent("llm"),
	}
}

// ExtractText sends cleaned page text and returns the candidate records
func (c *Client) ExtractText(ctx context.Context, text string) ([]domain.Candidate, error) {
	req := &Request{
		Model: c.opts.TextModel,
		Messages: []Message{
			{Role: "system", Content: []ContentPart{{Type: "text", Text: textSystemPrompt}}},
			{Role: "user", Content: []ContentPart{{Type: "text", Text: textUserPrompt(CleanText(text))}}},
		},
		MaxTokens:      c.opts.TextMaxTokens,
		Temperature:    c.opts.TextTemperature,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}

	content, err := c.complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return ParseTextProducts(content)
}

// ExtractImage sends a photographed list and returns product/expiry pairs
func (c *Client) ExtractImage(ctx context.Context, imagePath string) ([]domain.VisionCandidate, error) {
	req, err := c.buildImageRequest(imagePath)
	if err != nil {
		return nil, err
	}

	content, err := c.complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return ParseVisionProducts(content)
}

// buildImageRequest constructs the vision request with the encoded image
func (c *Client) buildImageRequest(imagePath string) (*Request, error) {
	info, err := os.Stat(imagePath)
	if err != nil {
		return nil, domain.ValidationError(fmt.Sprintf("cannot access image: %s", imagePath), err)
	}
	if info.Size() > c.opts.MaxImageBytes {
		return nil, domain.ValidationError(fmt.Sprintf("image is too large (%d MB, limit %d MB)",
			info.Size()/(1024*1024), c.opts.MaxImageBytes/(1024*1024)), nil)
	}

	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, domain.IOError("failed to read image", err)
	}

	imageURL := fmt.Sprintf("data:%s;base64,%s", mimeType(imagePath), base64.StdEncoding.EncodeToString(imageData))

	msg := Message{
		Role: "user",
		Content: []ContentPart{
			{
				Type: "text",
				Text: visionPrompt,
			},
			{
				Type: "image_url",
				ImageURL: &ImageURL{
					URL:    imageURL,
					Detail: "high",
				},
			},
		},
	}

	return &Request{
		Model:       c.opts.VisionModel,
		Messages:    []Message{msg},
		MaxTokens:   c.opts.VisionMaxTokens,
		Temperature: c.opts.VisionTemperature,
	}, nil
}

// complete posts a chat completion and returns the first choice's content
func (c *Client) complete(ctx context.Context, req *Request) (string, error) {
	if c.apiKey == "" {
		return "", domain.ConfigError("inference API key is not set", nil)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", domain.APIError("Failed to marshal request", err)
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.retryWithBackoff(ctx, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		return "", domain.APIError("Failed to send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", domain.APIError(fmt.Sprintf("API returned status %d: %s", resp.StatusCode, string(bodyBytes)), nil)
	}

	var parsed Response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", domain.APIError("Failed to decode response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", domain.APIError("response contained no choices", nil)
	}

	c.logger.Debug().Str("model", req.Model).Dur("elapsed", time.Since(start)).Msg("completion received")
	return parsed.Choices[0].Message.Content, nil
}

// CleanText prepares page text for the text-mode prompt
func CleanText(text string) string {
	r := strings.NewReplacer(`"`, "'", "\r\n", " ", "\n", " ", "\r", " ")
	return strings.TrimSpace(r.Replace(text))
}

func mimeType(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		return "image/png"
	}
	return "image/jpeg"
}
