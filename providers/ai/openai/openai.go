package openai

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/leofalp/polychat/internal/utils"
	"github.com/leofalp/polychat/providers/ai"
	"github.com/leofalp/polychat/providers/ratelimit"
)

const (
	providerName            = "openai"
	defaultBaseURL          = "https://api.openai.com/v1"
	chatCompletionsEndpoint = "/chat/completions"
)

// OpenAIProvider implements ai.Backend for OpenAI-compatible APIs.
type OpenAIProvider struct {
	apiKey       string
	baseURL      string
	client       *http.Client
	capabilities Capabilities
	limiter      *ratelimit.Limiter
	counter      ai.TokenCounter
	logger       *slog.Logger
}

var _ ai.Backend = (*OpenAIProvider)(nil)

// New creates a provider configured from OPENAI_API_KEY and
// OPENAI_API_BASE_URL, with capabilities detected from the base URL.
func New() *OpenAIProvider {
	baseURL := os.Getenv("OPENAI_API_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &OpenAIProvider{
		apiKey:       os.Getenv("OPENAI_API_KEY"),
		baseURL:      baseURL,
		client:       &http.Client{},
		capabilities: detectCapabilities(baseURL),
	}
}

// WithAPIKey sets the bearer key for the provider.
func (p *OpenAIProvider) WithAPIKey(apiKey string) *OpenAIProvider {
	p.apiKey = apiKey
	return p
}

// WithBaseURL sets the base URL and re-detects capabilities.
func (p *OpenAIProvider) WithBaseURL(baseURL string) *OpenAIProvider {
	p.baseURL = baseURL
	p.capabilities = detectCapabilities(baseURL)
	return p
}

// WithHttpClient sets a custom HTTP client.
func (p *OpenAIProvider) WithHttpClient(httpClient *http.Client) *OpenAIProvider {
	p.client = httpClient
	return p
}

// WithCapabilities overrides the detected capabilities.
func (p *OpenAIProvider) WithCapabilities(capabilities Capabilities) *OpenAIProvider {
	p.capabilities = capabilities
	return p
}

// WithLimiter sets the cooldown limiter consulted before every request.
func (p *OpenAIProvider) WithLimiter(limiter *ratelimit.Limiter) *OpenAIProvider {
	p.limiter = limiter
	return p
}

// WithTokenCounter sets the collaborator used by CountTokens.
func (p *OpenAIProvider) WithTokenCounter(counter ai.TokenCounter) *OpenAIProvider {
	p.counter = counter
	return p
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func (p *OpenAIProvider) WithLogger(logger *slog.Logger) *OpenAIProvider {
	p.logger = logger
	return p
}

// Capabilities returns the capabilities requests are built against.
func (p *OpenAIProvider) Capabilities() Capabilities {
	return p.capabilities
}

func (p *OpenAIProvider) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// RequestChatComplete implements ai.Backend.
func (p *OpenAIProvider) RequestChatComplete(ctx context.Context, model string, turns []ai.Turn, options ai.ChatOptions, onChunk ai.ChunkHandler) (*ai.Response, error) {
	if p.capabilities.RequiresAPIKey && p.apiKey == "" {
		return nil, ai.NewConfigurationError("OPENAI_API_KEY is not set")
	}
	if err := ai.ValidateConversation(turns); err != nil {
		return nil, err
	}

	if !p.capabilities.SupportsImageURLs {
		inlined, err := ai.InlineImages(ctx, p.client, turns)
		if err != nil {
			return nil, ai.WrapProviderError(providerName, err)
		}
		turns = inlined
	}

	request, err := buildRequest(model, turns, options, p.capabilities)
	if err != nil {
		return nil, err
	}

	if err := p.limiter.Wait(ctx, p.apiKey, model); err != nil {
		return nil, err
	}

	p.log().DebugContext(ctx, "openai request",
		"model", model,
		"messages", len(request.Messages),
		"tools", len(request.Tools),
		"streaming", p.capabilities.SupportsStreaming,
	)

	var stream *ai.ChatStream
	if p.capabilities.SupportsStreaming {
		stream, err = p.openStream(ctx, request)
	} else {
		stream, err = p.requestSync(ctx, request)
	}
	if err != nil {
		return nil, ai.WrapProviderError(providerName, err)
	}

	responses, err := stream.Collect(onChunk)
	if err != nil {
		return nil, ai.WrapProviderError(providerName, err)
	}

	selected, err := ai.SelectCandidate(providerName, responses)
	if err != nil {
		return nil, err
	}
	selected.Model = model
	return selected, nil
}

// RequestCompletion sends text as a single user Turn.
func (p *OpenAIProvider) RequestCompletion(ctx context.Context, model string, text string, options ai.ChatOptions, onChunk ai.ChunkHandler) (*ai.Response, error) {
	return p.RequestChatComplete(ctx, model, []ai.Turn{ai.TextTurn(ai.RoleUser, text)}, options, onChunk)
}

// CountTokens delegates to the configured TokenCounter; the chat completions
// API has no counting endpoint.
func (p *OpenAIProvider) CountTokens(ctx context.Context, model string, turns []ai.Turn) (int, error) {
	if p.counter == nil {
		return 0, ai.NewConfigurationError("openai: no token counter configured")
	}
	return p.counter.CountTokens(ctx, model, turns)
}

// requestSync performs a non-streaming request and replays the choices as a
// stream so both paths share the same collection logic.
func (p *OpenAIProvider) requestSync(ctx context.Context, request chatCompletionRequest) (*ai.ChatStream, error) {
	_, response, err := utils.DoPostSync[chatCompletionResponse](ctx, p.client, p.baseURL+chatCompletionsEndpoint, p.apiKey, request)
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return nil, &ai.ProviderError{Provider: providerName, Message: response.Error.Message}
	}

	raw, err := json.Marshal(response)
	if err != nil {
		return nil, err
	}

	candidates := make([]ai.Response, 0, len(response.Choices))
	for _, choice := range response.Choices {
		candidate, err := choiceToResponse(choice, raw)
		if err != nil {
			return nil, err
		}
		candidate.Usage = usageFromWire(response.Usage)
		candidates = append(candidates, candidate)
	}

	return ai.NewSingleEventStream(candidates), nil
}
