package webfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/leofalp/polychat/core/broker"
	"github.com/leofalp/polychat/internal/utils"
)

// Name is the function name advertised to the model.
const Name = "fetch_url"

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "polychat-webfetch/1.0"
	// DefaultMaxChars bounds the Markdown handed to the model.
	DefaultMaxChars = 20000
	// MaxBodySize is the largest body read, in bytes.
	MaxBodySize  = 10 * 1024 * 1024
	maxRedirects = 10
)

// Page is what the model receives.
type Page struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Markdown string `json:"markdown"`
}

// Fetcher downloads pages. The zero value is not usable; see New.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxChars  int
	logger    *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHttpClient replaces the default client. Its redirect policy is kept.
func WithHttpClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(f *Fetcher) { f.userAgent = userAgent }
}

// WithMaxChars sets the default Markdown length limit.
func WithMaxChars(n int) Option {
	return func(f *Fetcher) { f.maxChars = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// New returns a Fetcher with a client that bounds dialing, the TLS handshake
// and the wait for response headers.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 10 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				ForceAttemptHTTP2:     true,
			},
			CheckRedirect: checkRedirect,
		},
		userAgent: DefaultUserAgent,
		maxChars:  DefaultMaxChars,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func checkRedirect(_ *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("too many redirects (>%d)", maxRedirects)
	}
	return nil
}

// Register declares fetch_url on b, backed by f.
func (f *Fetcher) Register(b *broker.Broker) error {
	return b.Declare(Name, "Fetches a web page and returns its content as Markdown. Accepts partial URLs such as example.com.").
		Param("url", "string", "The page URL").
		OptionalParam("max_chars", "integer", "Maximum number of Markdown characters to return", f.maxChars).
		Handle(f.handle)
}

// Register declares fetch_url on b with a default Fetcher.
func Register(b *broker.Broker) error {
	return New().Register(b)
}

func (f *Fetcher) handle(ctx context.Context, args []any) (any, error) {
	url, err := broker.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	maxChars, err := broker.Arg[int](args, 1)
	if err != nil {
		return nil, err
	}

	page, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if maxChars > 0 {
		page.Markdown = utils.TruncateString(page.Markdown, maxChars)
	}
	return page, nil
}

// Fetch downloads url and converts the body to Markdown. URLs without a
// scheme get https://. Only 200 responses are accepted.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("URL cannot be empty")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", url, err)
	}
	request.Header.Set("User-Agent", f.userAgent)

	start := time.Now()
	response, err := f.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer utils.CloseWithLog(response.Body)

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", url, response.Status)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("%s: body exceeds %d bytes", url, MaxBodySize)
	}

	html := string(body)
	markdown, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return nil, fmt.Errorf("converting %s to Markdown: %w", url, err)
	}

	finalURL := response.Request.URL.String()
	f.logger.DebugContext(ctx, "page fetched", "url", finalURL, "bytes", len(body), "elapsed", time.Since(start))
	return &Page{URL: finalURL, Title: title(html), Markdown: strings.TrimSpace(markdown)}, nil
}

// title returns the text of the first <title> element, if any.
func title(html string) string {
	lower := strings.ToLower(html)
	start := strings.Index(lower, "<title")
	if start < 0 {
		return ""
	}
	open := strings.IndexByte(lower[start:], '>')
	if open < 0 {
		return ""
	}
	start += open + 1
	end := strings.Index(lower[start:], "</title>")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(html[start : start+end])
}
