package openai

import "strings"

// Capabilities describes what a given OpenAI-compatible endpoint accepts.
// They are populated by detectCapabilities but can be overridden via
// [OpenAIProvider.WithCapabilities] for non-standard hosts.
type Capabilities struct {
	RequiresAPIKey     bool // reject requests without a bearer key
	SupportsStreaming  bool // SSE on /chat/completions
	SupportsUsage      bool // stream_options.include_usage
	SupportsCandidates bool // honours n > 1
	SupportsImageURLs  bool // remote image_url values; otherwise images are inlined
}

// detectCapabilities guesses host capabilities from baseURL.
func detectCapabilities(baseURL string) Capabilities {
	baseURL = strings.ToLower(baseURL)

	switch {
	case strings.Contains(baseURL, "api.openai.com"):
		return Capabilities{
			RequiresAPIKey:     true,
			SupportsStreaming:  true,
			SupportsUsage:      true,
			SupportsCandidates: true,
			SupportsImageURLs:  true,
		}

	case strings.Contains(baseURL, "azure.com") || strings.Contains(baseURL, "openai.azure"):
		return Capabilities{
			RequiresAPIKey:     true,
			SupportsStreaming:  true,
			SupportsUsage:      true,
			SupportsCandidates: true,
			SupportsImageURLs:  true,
		}

	case strings.Contains(baseURL, "localhost:11434") || strings.Contains(baseURL, "127.0.0.1:11434"):
		// Ollama ignores n and cannot download images itself.
		return Capabilities{
			SupportsStreaming: true,
		}

	case strings.Contains(baseURL, "openrouter.ai"):
		return Capabilities{
			RequiresAPIKey:    true,
			SupportsStreaming: true,
			SupportsUsage:     true,
			SupportsImageURLs: true,
		}
	}

	// Conservative defaults for unknown providers
	return Capabilities{
		SupportsStreaming: true,
		SupportsImageURLs: true,
	}
}
