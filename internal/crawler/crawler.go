// Package crawler fetches blog pages and extracts their readable content.
package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Error types recorded on the queue entry when a crawl attempt fails.
const (
	ErrTypeClientError = "CRAWL_CLIENT_ERROR" // 4xx, permanent
	ErrTypeServerError = "CRAWL_SERVER_ERROR" // 5xx, retryable
	ErrTypeNetwork     = "CRAWL_NETWORK"      // connect/timeout, retryable
	ErrTypeEmpty       = "CRAWL_EMPTY"        // no or too little text, retryable
)

// Error is a crawl failure with its retry classification.
type Error struct {
	Type      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Page is the extracted content of one fetched blog post.
type Page struct {
	Title     string
	Author    string
	Content   string
	Language  string
	WordCount int
}

// Crawler fetches pages over HTTP and extracts readable text.
type Crawler struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
	minWords     int
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Crawler) { c.client.Timeout = d }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Crawler) { c.userAgent = ua }
}

// WithMinWords sets the minimum extracted word count. Pages below it are
// rejected the same way as empty ones.
func WithMinWords(n int) Option {
	return func(c *Crawler) { c.minWords = n }
}

// New creates a Crawler with a 30s timeout, a 10MB body cap, and a 10-word
// content minimum.
func New(opts ...Option) *Crawler {
	c := &Crawler{
		client:       &http.Client{Timeout: 30 * time.Second},
		userAgent:    "quizhub-crawler/1.0",
		maxBodyBytes: 10 << 20,
		minWords:     10,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch downloads the page at url and extracts its content. Failures carry a
// crawl error type so the caller can decide between retry and permanent
// failure.
func (c *Crawler) Fetch(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, &Error{Type: ErrTypeClientError, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Type: ErrTypeNetwork, Retryable: true, Err: fmt.Errorf("fetch failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		return nil, &Error{Type: ErrTypeServerError, Retryable: true,
			Err: fmt.Errorf("fetch returned HTTP %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &Error{Type: ErrTypeClientError,
			Err: fmt.Errorf("fetch returned HTTP %d", resp.StatusCode)}
	}

	page, err := Extract(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if page.WordCount < c.minWords {
		return nil, &Error{Type: ErrTypeEmpty, Retryable: true,
			Err: fmt.Errorf("page yielded %d words, need at least %d", page.WordCount, c.minWords)}
	}
	return page, nil
}

// Extract parses HTML and pulls out the title, author, language, and body
// text. Boilerplate elements are stripped before text extraction.
func Extract(r io.Reader) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, &Error{Type: ErrTypeEmpty, Retryable: true, Err: fmt.Errorf("parse failed: %w", err)}
	}

	p := &Page{
		Title:    extractTitle(doc),
		Author:   extractAuthor(doc),
		Language: strings.TrimSpace(doc.Find("html").AttrOr("lang", "")),
	}

	doc.Find("script, style, nav, header, footer, aside, noscript, iframe, form").Remove()

	// Prefer semantic containers; fall back to the whole body.
	for _, sel := range []string{"article", "main", "body"} {
		if text := collapseWhitespace(doc.Find(sel).First().Text()); text != "" {
			p.Content = text
			break
		}
	}
	if p.Content == "" {
		return nil, &Error{Type: ErrTypeEmpty, Retryable: true, Err: fmt.Errorf("page yielded no text content")}
	}
	p.WordCount = len(strings.Fields(p.Content))
	return p, nil
}

func extractTitle(doc *goquery.Document) string {
	if t, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func extractAuthor(doc *goquery.Document) string {
	if a, ok := doc.Find(`meta[name="author"]`).Attr("content"); ok {
		return strings.TrimSpace(a)
	}
	if a, ok := doc.Find(`meta[property="article:author"]`).Attr("content"); ok {
		return strings.TrimSpace(a)
	}
	return ""
}

// collapseWhitespace folds runs of whitespace into single spaces, keeping
// paragraph breaks as newlines.
func collapseWhitespace(s string) string {
	var sb strings.Builder
	lines := strings.Split(s, "\n")
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(strings.Join(fields, " "))
	}
	return sb.String()
}
