package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/wardrobe/internal/domain"
)

const (
	jinaEndpoint = "https://api.jina.ai/v1/embeddings"
)

// EmbeddingService embeds item photos and outfit descriptions with a
// multimodal CLIP model so both land in the same vector space.
type EmbeddingService struct {
	client     *resty.Client
	endpoint   string
	model      string
	dimensions int
	throttle   *Throttle
}

// EmbeddingConfig holds configuration for embedding service
type EmbeddingConfig struct {
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	Throttle   *Throttle
}

// NewEmbeddingService creates a new embedding service
func NewEmbeddingService(cfg *EmbeddingConfig) *EmbeddingService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	endpoint := jinaEndpoint
	if cfg.BaseURL != "" {
		endpoint = strings.TrimSuffix(cfg.BaseURL, "/") + "/embeddings"
	}

	return &EmbeddingService{
		client:     client,
		endpoint:   endpoint,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		throttle:   cfg.Throttle,
	}
}

// GetModel returns the model name being used
func (s *EmbeddingService) GetModel() string {
	return s.model
}

// Jina multimodal API request/response structures.
// Each input is either {"text": ...} or {"image": <url or base64>}.
type jinaRequest struct {
	Model         string              `json:"model"`
	Dimensions    int                 `json:"dimensions,omitempty"`
	Normalized    bool                `json:"normalized"`
	Input         []map[string]string `json:"input"`
	EmbeddingType string              `json:"embedding_type,omitempty"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Detail string `json:"detail,omitempty"`
}

// EmbedImage embeds raw image bytes.
func (s *EmbeddingService) EmbedImage(ctx context.Context, image []byte, _ string) ([]float32, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", domain.ErrInvalidInput)
	}
	return s.embed(ctx, map[string]string{"image": base64.StdEncoding.EncodeToString(image)})
}

// EmbedText embeds a description.
func (s *EmbeddingService) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", domain.ErrInvalidInput)
	}
	return s.embed(ctx, map[string]string{"text": text})
}

func (s *EmbeddingService) embed(ctx context.Context, input map[string]string) ([]float32, error) {
	if err := s.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	req := jinaRequest{
		Model:         s.model,
		Dimensions:    s.dimensions,
		Input:         []map[string]string{input},
		EmbeddingType: "float",
	}

	var resp jinaResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to call embedding API: %v", domain.ErrUpstream, err)
	}

	if httpResp.StatusCode() != 200 {
		if resp.Detail != "" {
			return nil, fmt.Errorf("%w: embedding API error: %s", domain.ErrUpstream, resp.Detail)
		}
		return nil, fmt.Errorf("%w: embedding API error: status %d", domain.ErrUpstream, httpResp.StatusCode())
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", domain.ErrUpstream)
	}

	vec := resp.Data[0].Embedding
	if s.dimensions > 0 && len(vec) != s.dimensions {
		return nil, fmt.Errorf("%w: embedding has %d dimensions, expected %d", domain.ErrUpstream, len(vec), s.dimensions)
	}
	return vec, nil
}
