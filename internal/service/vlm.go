package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/wardrobe/internal/domain"
	"github.com/timmy/wardrobe/internal/logger"
	"github.com/timmy/wardrobe/internal/prompts"
)

// VLMService annotates apparel photos through an OpenAI-compatible vision model.
type VLMService struct {
	client   *resty.Client
	model    string
	endpoint string
	throttle *Throttle
}

// VLMConfig holds configuration for VLM service.
type VLMConfig struct {
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	Throttle *Throttle
}

// NewVLMService creates a new VLM service.
// Parameters:
//   - cfg: VLM configuration including model, API key and optional throttle.
//
// Returns:
//   - *VLMService: initialized VLM client wrapper.
func NewVLMService(cfg *VLMConfig) *VLMService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &VLMService{
		client:   client,
		model:    cfg.Model,
		endpoint: baseURL + "/chat/completions",
		throttle: cfg.Throttle,
	}
}

// GetModel returns the model name being used.
func (s *VLMService) GetModel() string {
	return s.model
}

// OpenAI-compatible Chat Completion API request/response structures
type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type openAITextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type openAIImageContent struct {
	Type     string         `json:"type"`
	ImageURL openAIImageURL `json:"image_url"`
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Describe returns a one-line identifying description of the item.
func (s *VLMService) Describe(ctx context.Context, image []byte, format string) (string, error) {
	text, err := s.ask(ctx, prompts.DescribePrompt, image, format, 300)
	if err != nil {
		return "", fmt.Errorf("failed to describe image: %w", err)
	}
	return text, nil
}

// Title returns a short 2-4 word title.
func (s *VLMService) Title(ctx context.Context, image []byte, format string) (string, error) {
	text, err := s.ask(ctx, prompts.TitlePrompt, image, format, 30)
	if err != nil {
		return "", fmt.Errorf("failed to title image: %w", err)
	}
	return text, nil
}

// Classify returns the apparel category. Unknown labels fall back to top.
func (s *VLMService) Classify(ctx context.Context, image []byte, format string) (domain.ApparelType, error) {
	text, err := s.ask(ctx, prompts.ClassifyPrompt, image, format, 10)
	if err != nil {
		return "", fmt.Errorf("failed to classify image: %w", err)
	}

	category, ok := domain.ParseApparelType(text)
	if !ok {
		logger.FromContext(ctx).WithFields(logger.Fields{
			"label":   text,
			"default": domain.ApparelTop,
		}).Warn("Unrecognized category label, using default")
		return domain.ApparelTop, nil
	}
	return category, nil
}

// ask sends one prompt with the image as a base64 data URL.
func (s *VLMService) ask(ctx context.Context, prompt string, image []byte, format string, maxTokens int) (string, error) {
	if err := s.throttle.Wait(ctx); err != nil {
		return "", err
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", getMIMEType(format), base64.StdEncoding.EncodeToString(image))

	req := openAIRequest{
		Model: s.model,
		Messages: []openAIMessage{
			{
				Role: "user",
				Content: []interface{}{
					openAITextContent{Type: "text", Text: prompt},
					openAIImageContent{
						Type:     "image_url",
						ImageURL: openAIImageURL{URL: dataURL, Detail: "auto"},
					},
				},
			},
		},
		MaxTokens: maxTokens,
	}

	var resp openAIResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: failed to call VLM API: %v", domain.ErrUpstream, err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		if resp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		}
		return "", fmt.Errorf("%w: VLM API returned error: %s", domain.ErrUpstream, errorMsg)
	}

	if resp.Error != nil {
		return "", fmt.Errorf("%w: VLM API error: %s", domain.ErrUpstream, resp.Error.Message)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in VLM response (status: %d)", domain.ErrUpstream, httpResp.StatusCode())
	}

	text := prompts.CleanLine(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty VLM response", domain.ErrUpstream)
	}
	return text, nil
}

func getMIMEType(format string) string {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
