package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/timmy/wardrobe/internal/domain"
	"github.com/timmy/wardrobe/internal/logger"
	"github.com/timmy/wardrobe/internal/prompts"
)

const (
	stylistTimeout          = 30 * time.Second
	defaultStylistMaxTokens = 200
)

// StylistService asks a chat model for the description of a complementary piece.
type StylistService struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	throttle    *Throttle
}

// StylistConfig holds configuration for the stylist service.
type StylistConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Throttle    *Throttle
}

// NewStylistService creates a new stylist service.
func NewStylistService(cfg *StylistConfig) *StylistService {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultStylistMaxTokens
	}

	return &StylistService{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		throttle:    cfg.Throttle,
	}
}

// Suggest returns the model's single-line answer to prompt.
func (s *StylistService) Suggest(ctx context.Context, prompt string) (string, error) {
	if err := s.throttle.Wait(ctx); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, stylistTimeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: prompts.StylistSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	}

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		logger.Since(start).With(logger.Fields{"model": s.model}).
			Error(ctx, "Stylist request failed: %v", err)
		return "", fmt.Errorf("%w: stylist request failed: %v", domain.ErrUpstream, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response from stylist", domain.ErrUpstream)
	}

	text := prompts.CleanLine(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: blank suggestion from stylist", domain.ErrUpstream)
	}

	logger.Since(start).With(logger.Fields{"model": s.model}).
		Debug(ctx, "Stylist suggestion: %s", text)
	return text, nil
}
