package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/leofalp/polychat/providers/ai"
	"github.com/leofalp/polychat/providers/ratelimit"
)

const (
	providerName   = "gemini"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// GeminiProvider implements ai.Backend for Google's Gemini API.
type GeminiProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

var _ ai.Backend = (*GeminiProvider)(nil)

// New creates a new Gemini provider instance with default values from environment.
func New() *GeminiProvider {
	baseURL := os.Getenv("GEMINI_API_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &GeminiProvider{
		apiKey:  os.Getenv("GEMINI_API_KEY"),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// WithAPIKey sets the API key for the provider.
func (p *GeminiProvider) WithAPIKey(apiKey string) *GeminiProvider {
	p.apiKey = apiKey
	return p
}

// WithBaseURL sets the base URL for the API, including its version segment.
func (p *GeminiProvider) WithBaseURL(baseURL string) *GeminiProvider {
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

// WithHttpClient sets a custom HTTP client.
func (p *GeminiProvider) WithHttpClient(httpClient *http.Client) *GeminiProvider {
	p.client = httpClient
	return p
}

// WithLimiter sets the cooldown limiter consulted before every request.
func (p *GeminiProvider) WithLimiter(limiter *ratelimit.Limiter) *GeminiProvider {
	p.limiter = limiter
	return p
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func (p *GeminiProvider) WithLogger(logger *slog.Logger) *GeminiProvider {
	p.logger = logger
	return p
}

func (p *GeminiProvider) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// RequestChatComplete implements ai.Backend.
func (p *GeminiProvider) RequestChatComplete(ctx context.Context, model string, turns []ai.Turn, options ai.ChatOptions, onChunk ai.ChunkHandler) (*ai.Response, error) {
	if p.apiKey == "" {
		return nil, ai.NewConfigurationError("GEMINI_API_KEY is not set")
	}
	if err := ai.ValidateConversation(turns); err != nil {
		return nil, err
	}

	inlined, err := ai.InlineImages(ctx, p.client, turns)
	if err != nil {
		return nil, ai.WrapProviderError(providerName, err)
	}

	request, err := buildRequest(inlined, options, detectCapabilities(model))
	if err != nil {
		return nil, err
	}

	if err := p.limiter.Wait(ctx, p.apiKey, model); err != nil {
		return nil, err
	}

	p.log().DebugContext(ctx, "gemini request",
		"model", model,
		"contents", len(request.Contents),
		"system_instruction", request.SystemInstruction != nil,
		"functions", len(options.Functions),
	)

	stream, err := p.openStream(ctx, model, request)
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
func (p *GeminiProvider) RequestCompletion(ctx context.Context, model string, text string, options ai.ChatOptions, onChunk ai.ChunkHandler) (*ai.Response, error) {
	return p.RequestChatComplete(ctx, model, []ai.Turn{ai.TextTurn(ai.RoleUser, text)}, options, onChunk)
}

// CountTokens asks the countTokens endpoint through the genai SDK. The system
// prompt is counted as part of the first user turn.
func (p *GeminiProvider) CountTokens(ctx context.Context, model string, turns []ai.Turn) (int, error) {
	if p.apiKey == "" {
		return 0, ai.NewConfigurationError("GEMINI_API_KEY is not set")
	}

	request, err := buildRequest(turns, ai.ChatOptions{}, Capabilities{})
	if err != nil {
		return 0, err
	}
	contents, err := toGenaiContents(request.Contents)
	if err != nil {
		return 0, err
	}

	root, version := splitBaseURL(p.baseURL)
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     p.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.client,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    root,
			APIVersion: version,
		},
	})
	if err != nil {
		return 0, ai.NewConfigurationError("creating genai client: %v", err)
	}

	response, err := client.Models.CountTokens(ctx, model, contents, nil)
	if err != nil {
		return 0, ai.WrapProviderError(providerName, err)
	}
	return int(response.TotalTokens), nil
}

// toGenaiContents converts wire contents to SDK contents. Both share the
// REST JSON shape, so a JSON round trip is lossless.
func toGenaiContents(contents []content) ([]*genai.Content, error) {
	encoded, err := json.Marshal(contents)
	if err != nil {
		return nil, err
	}
	var out []*genai.Content
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("converting contents for genai: %w", err)
	}
	return out, nil
}

// splitBaseURL separates a trailing API version segment such as /v1beta.
func splitBaseURL(baseURL string) (root, version string) {
	idx := strings.LastIndex(baseURL, "/")
	if idx < 0 {
		return baseURL, ""
	}
	if segment := baseURL[idx+1:]; strings.HasPrefix(segment, "v1") {
		return baseURL[:idx+1], segment
	}
	return baseURL + "/", ""
}
