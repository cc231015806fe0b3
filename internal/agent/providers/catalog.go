package providers

import (
	"fmt"
	"strings"

	"github.com/operantlabs/operant/internal/config"
)

// Detail describes one hosting backend for the discovery endpoints.
type Detail struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
	// RequiredCredentials lists the credential keys New needs before this
	// hosting can serve requests. Empty means no key is required.
	RequiredCredentials []string `json:"requiredCredentials,omitempty"`
}

// Catalog lists the hosting backends New accepts, in a stable order. The
// mock hosting is a test fixture and stays out of discovery.
func Catalog() []Detail {
	return []Detail{
		{
			ID:                  HostingAnthropic,
			Name:                "Anthropic",
			Description:         "Claude models through the Anthropic API",
			URL:                 "https://www.anthropic.com/",
			RequiredCredentials: []string{config.CredAnthropic},
		},
		{
			ID:                  HostingOpenAI,
			Name:                "OpenAI",
			Description:         "GPT models through the OpenAI API",
			URL:                 "https://platform.openai.com/",
			RequiredCredentials: []string{config.CredOpenAI},
		},
		{
			ID:                  HostingOpenRouter,
			Name:                "OpenRouter",
			Description:         "Multi-vendor models through the OpenRouter aggregation API",
			URL:                 "https://openrouter.ai/",
			RequiredCredentials: []string{config.CredOpenRouter},
		},
		{
			ID:          HostingOllama,
			Name:        "Ollama",
			Description: "Local models through an Ollama runtime",
			URL:         "https://ollama.com/",
		},
		{
			ID:                  HostingGoogle,
			Name:                "Google",
			Description:         "Gemini models through the Google AI API",
			URL:                 "https://ai.google.dev/",
			RequiredCredentials: []string{config.CredGoogle},
		},
	}
}

// CatalogModels returns the static model catalog for a hosting without
// constructing a client, so discovery works before credentials exist.
func CatalogModels(hosting string) ([]Model, error) {
	switch strings.ToLower(strings.TrimSpace(hosting)) {
	case HostingAnthropic:
		return cloneModels(anthropicCatalog), nil
	case HostingOpenAI:
		return cloneModels(openAICatalog), nil
	case HostingOpenRouter:
		return cloneModels(openRouterCatalog), nil
	case HostingOllama:
		return cloneModels(ollamaCatalog), nil
	case HostingGoogle, "gemini":
		return cloneModels(googleCatalog), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedHosting, hosting)
	}
}

func cloneModels(catalog []Model) []Model {
	out := make([]Model, len(catalog))
	copy(out, catalog)
	return out
}
