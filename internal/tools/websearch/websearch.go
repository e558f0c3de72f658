// Package websearch implements the webSearch tool: a keyword search against
// the DuckDuckGo HTML endpoint, used to check the spelling of names, places and
// domain terms the recognizer may have mangled.
//
// The endpoint needs no API key. Results are scraped from the returned HTML
// with golang.org/x/net/html.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/MrWong99/scribefix/internal/tools"
)

// ToolName is the name the model uses to call the search.
const ToolName = "webSearch"

const (
	// DefaultEndpoint is the DuckDuckGo HTML search endpoint.
	DefaultEndpoint = "https://html.duckduckgo.com/html/"

	// MaxResults is the hard upper bound on returned results.
	MaxResults = 5

	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "Mozilla/5.0 (compatible; scribefix/1.0)"
	defaultCacheTTL  = 24 * time.Hour

	// maxBody bounds how much of the response is parsed.
	maxBody = 2 << 20
)

// languageSites narrows searches to sites in the transcript language.
var languageSites = map[string]string{
	"et": "site:.ee OR site:et.wikipedia.org",
	"fi": "site:.fi OR site:fi.wikipedia.org",
	"en": "",
}

// Result is one search hit.
type Result struct {
	Title   string
	Snippet string
	URL     string
}

// Searcher queries the search endpoint. It is safe for concurrent use.
type Searcher struct {
	endpoint   string
	maxResults int
	userAgent  string
	timeout    time.Duration
	cacheTTL   time.Duration
	httpClient *http.Client
}

// Option configures a [Searcher].
type Option func(*Searcher)

// WithEndpoint overrides the search endpoint.
func WithEndpoint(u string) Option {
	return func(s *Searcher) { s.endpoint = u }
}

// WithMaxResults sets the number of results returned, capped at [MaxResults].
func WithMaxResults(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.maxResults = min(n, MaxResults)
		}
	}
}

// WithTimeout sets the tool's MaxDuration. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(s *Searcher) { s.timeout = d }
}

// WithCacheTTL sets how long results may be cached. Zero disables caching.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Searcher) { s.cacheTTL = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Searcher) { s.httpClient = c }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *Searcher) { s.userAgent = ua }
}

// New returns a Searcher.
func New(opts ...Option) *Searcher {
	s := &Searcher{
		endpoint:   DefaultEndpoint,
		maxResults: MaxResults,
		userAgent:  defaultUserAgent,
		timeout:    defaultTimeout,
		cacheTTL:   defaultCacheTTL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Search runs query restricted to language (et, fi or en).
func (s *Searcher) Search(ctx context.Context, query, language string) ([]Result, error) {
	sites, ok := languageSites[language]
	if !ok {
		return nil, fmt.Errorf("unsupported language %q (want et, fi or en)", language)
	}
	q := query
	if sites != "" {
		q = query + " " + sites
	}

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("websearch: invalid endpoint: %w", err)
	}
	params := u.Query()
	params.Set("q", q)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websearch: create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: GET: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("websearch: search returned status %d", resp.StatusCode)
	}

	return parseResults(io.LimitReader(resp.Body, maxBody), s.maxResults)
}

// Spec implements [tools.Tool].
func (s *Searcher) Spec() tools.Spec {
	return tools.Spec{
		Name:        ToolName,
		Description: "Searches the web and returns the top result titles and snippets.",
		Params: []tools.Param{
			{Name: "query", Type: "string", Description: "the term or phrase to look up"},
			{Name: "language", Type: "string", Description: "et, fi or en"},
		},
		UseFor:      "verifying the spelling of names, places and technical terms",
		MaxDuration: s.timeout,
		CacheTTL:    s.cacheTTL,
	}
}

// Execute implements [tools.Tool]. The language defaults to the transcript
// language when it is supported, otherwise to English.
func (s *Searcher) Execute(ctx context.Context, params map[string]any, tc tools.Context) (string, error) {
	query, err := tools.StringParam(params, "query")
	if err != nil {
		return "", err
	}
	def := "en"
	if _, ok := languageSites[tc.Language]; ok {
		def = tc.Language
	}
	lang := strings.ToLower(tools.OptionalStringParam(params, "language", def))

	results, err := s.Search(ctx, query, lang)
	if err != nil {
		return "", err
	}
	return formatResults(query, results), nil
}

var _ tools.Tool = (*Searcher)(nil)

func formatResults(query string, results []Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("no results for %q", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d results for %q:", len(results), query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s", i+1, r.Title)
		if r.Snippet != "" {
			b.WriteString(": " + r.Snippet)
		}
		if host := hostOf(r.URL); host != "" {
			b.WriteString(" (" + host + ")")
		}
	}
	return b.String()
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Host, "www.")
}

// parseResults extracts up to limit results from a DuckDuckGo HTML page.
// Each result is a "result__a" link followed by a "result__snippet" element.
func parseResults(r io.Reader, limit int) ([]Result, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("websearch: parse html: %w", err)
	}

	var results []Result
	errDone := errors.New("done")
	var walk func(n *html.Node) error
	walk = func(n *html.Node) error {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result__a"):
				if len(results) == limit {
					return errDone
				}
				results = append(results, Result{
					Title: textOf(n),
					URL:   resolveURL(attr(n, "href")),
				})
				return nil
			case hasClass(n, "result__snippet") && len(results) > 0:
				last := &results[len(results)-1]
				if last.Snippet == "" {
					last.Snippet = textOf(n)
				}
				return nil
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(doc); err != nil && !errors.Is(err, errDone) {
		return nil, err
	}
	return results, nil
}

// resolveURL unwraps DuckDuckGo redirect links ("//duckduckgo.com/l/?uddg=...").
func resolveURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// textOf returns the whitespace-normalised text content of n.
func textOf(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
