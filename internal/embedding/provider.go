package embedding

import (
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/canonkeeper/internal/domain"
)

// Provider constants
const (
	ProviderNone   = "none"
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// ErrNotConfigured means no embedding provider was selected; callers fall
// back to keyword matching.
var ErrNotConfigured = errors.New("embedding provider not configured")

// NewClient creates an embedding client based on the provider name.
// Returns ErrNotConfigured for "none" or an empty provider, and an error if the
// provider is unknown or the API key is empty (except for mock).
func NewClient(provider, apiKey string, timeout time.Duration) (domain.EmbeddingClient, error) {
	switch provider {
	case "", ProviderNone:
		return nil, ErrNotConfigured

	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI embedding provider")
		}
		return NewOpenAIClient(apiKey, timeout), nil

	case ProviderMock:
		return NewMockClient(), nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid options: none, openai, mock)", provider)
	}
}
