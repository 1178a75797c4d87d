package duckduckgo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/leofalp/polychat/core/broker"
	"github.com/leofalp/polychat/internal/utils"
)

// Name is the function name advertised to the model.
const Name = "web_search"

const (
	defaultBaseURL   = "https://api.duckduckgo.com/"
	defaultUserAgent = "polychat-duckduckgo/1.0"
	defaultTopics    = 5
)

// Answer is what the model receives.
type Answer struct {
	Query      string   `json:"query"`
	Heading    string   `json:"heading,omitempty"`
	Abstract   string   `json:"abstract,omitempty"`
	Source     string   `json:"source,omitempty"`
	Answer     string   `json:"answer,omitempty"`
	Definition string   `json:"definition,omitempty"`
	Related    []Topic  `json:"related,omitempty"`
	Redirect   string   `json:"redirect,omitempty"`
	Notes      []string `json:"notes,omitempty"`
}

// Topic is one related entry.
type Topic struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

// Searcher queries the Instant Answer API.
type Searcher struct {
	client  *http.Client
	baseURL string
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithHttpClient replaces http.DefaultClient.
func WithHttpClient(client *http.Client) Option {
	return func(s *Searcher) { s.client = client }
}

// WithBaseURL points the Searcher at another endpoint, for tests.
func WithBaseURL(baseURL string) Option {
	return func(s *Searcher) { s.baseURL = baseURL }
}

// New returns a Searcher for the public endpoint.
func New(opts ...Option) *Searcher {
	s := &Searcher{client: http.DefaultClient, baseURL: defaultBaseURL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register declares web_search on b, backed by s.
func (s *Searcher) Register(b *broker.Broker) error {
	return b.Declare(Name, "Looks up a topic on DuckDuckGo and returns its abstract, instant answer, definition and related topics. Best for facts about well known entities.").
		Param("query", "string", "What to look up").
		OptionalParam("max_topics", "integer", "Maximum number of related topics", defaultTopics).
		Handle(s.handle)
}

// Register declares web_search on b with a default Searcher.
func Register(b *broker.Broker) error {
	return New().Register(b)
}

func (s *Searcher) handle(ctx context.Context, args []any) (any, error) {
	query, err := broker.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	maxTopics, err := broker.Arg[int](args, 1)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, query, maxTopics)
}

// Search runs query. maxTopics bounds Related; zero or less keeps them all.
func (s *Searcher) Search(ctx context.Context, query string, maxTopics int) (*Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query cannot be empty")
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	request.Header.Set("User-Agent", defaultUserAgent)

	response, err := s.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	defer utils.CloseWithLog(response.Body)

	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("duckduckgo: unexpected status %s", response.Status)
	}

	// DuckDuckGo serves JSON as application/x-javascript.
	var wire wireResponse
	if err := json.NewDecoder(response.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("duckduckgo: decoding response: %w", err)
	}
	return wire.toAnswer(query, maxTopics), nil
}

type wireResponse struct {
	Heading        string      `json:"Heading"`
	AbstractText   string      `json:"AbstractText"`
	AbstractSource string      `json:"AbstractSource"`
	AbstractURL    string      `json:"AbstractURL"`
	Answer         flexString  `json:"Answer"`
	Definition     string      `json:"Definition"`
	Redirect       string      `json:"Redirect"`
	RelatedTopics  []wireTopic `json:"RelatedTopics"`
}

// wireTopic is either a topic or a named group of topics.
type wireTopic struct {
	Text     string      `json:"Text"`
	FirstURL string      `json:"FirstURL"`
	Name     string      `json:"Name"`
	Topics   []wireTopic `json:"Topics"`
}

func (w wireResponse) toAnswer(query string, maxTopics int) *Answer {
	answer := &Answer{
		Query:      query,
		Heading:    w.Heading,
		Abstract:   w.AbstractText,
		Answer:     string(w.Answer),
		Definition: w.Definition,
		Redirect:   absoluteURL(w.Redirect),
	}
	if w.AbstractURL != "" {
		answer.Source = strings.TrimSpace(w.AbstractSource + " " + w.AbstractURL)
	}

	for _, topic := range flatten(w.RelatedTopics) {
		if maxTopics > 0 && len(answer.Related) == maxTopics {
			break
		}
		answer.Related = append(answer.Related, Topic{Text: topic.Text, URL: absoluteURL(topic.FirstURL)})
	}

	if answer.Abstract == "" && answer.Answer == "" && answer.Definition == "" && len(answer.Related) == 0 && answer.Redirect == "" {
		answer.Notes = append(answer.Notes, "No instant answer for this query. Try a shorter query naming a single entity.")
	}
	return answer
}

func flatten(topics []wireTopic) []wireTopic {
	var flat []wireTopic
	for _, topic := range topics {
		if len(topic.Topics) > 0 {
			flat = append(flat, flatten(topic.Topics)...)
			continue
		}
		if topic.Text != "" {
			flat = append(flat, topic)
		}
	}
	return flat
}

// absoluteURL resolves the site-relative links the API returns.
func absoluteURL(path string) string {
	if strings.HasPrefix(path, "/") {
		return "https://duckduckgo.com" + path
	}
	return path
}

// flexString accepts a JSON string or number; the API uses both for
// Answer.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexString(strconv.FormatBool(b))
		return nil
	}
	*f = ""
	return nil
}
