package provider

import (
	"context"
	"errors"
	"os"
	"time"

	openai_provider "github.com/soulo-online/insight/provider/openai"
)

// Client names an embedding backend.
type Client string

const (
	OpenAI Client = "openai"
)

// Provider turns text into fixed-length embedding vectors.
type Provider interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// NewProvider creates an embedding client for the named backend. An empty
// api key falls back to the OPENAI_API_KEY environment variable.
func NewProvider(client Client, apiKey, embeddingModel string, timeout time.Duration) (Provider, error) {
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	switch client {
	case OpenAI:
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("OPENAI_API_KEY not set")
		}
		return openai_provider.NewOpenAIClient(apiKey, embeddingModel, timeout), nil
	default:
		return nil, errors.New("unsupported embedding provider")
	}
}
