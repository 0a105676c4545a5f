package loaders

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html"

	"ragserver/internal/schema"
	"ragserver/pkg/errs"
	"ragserver/pkg/logger"
)

const (
	defaultUserAgent = "ragserver/0.1 (+web ingest)"
	defaultTimeout   = 25 * time.Second
	defaultMinLength = 200
	maxResponseBytes = 10 << 20 // 10 MiB
)

var blankLines = regexp.MustCompile(`\n{3,}`)

// WebLoader fetches a URL and extracts readable text from its content.
// HTML is converted to markdown; pages that yield less than MinTextLength
// characters are rejected as unreadable.
type WebLoader struct {
	client        *http.Client
	log           *logger.Logger
	UserAgent     string
	MinTextLength int
}

// NewWebLoader creates a loader with a shared HTTP client.
func NewWebLoader(log *logger.Logger) *WebLoader {
	return &WebLoader{
		client:        &http.Client{Timeout: defaultTimeout},
		log:           log,
		UserAgent:     defaultUserAgent,
		MinTextLength: defaultMinLength,
	}
}

// Fetch downloads the URL and returns a document with extracted title and
// text. Network and HTTP status problems surface as fetch errors; pages
// whose extraction comes up empty or too short surface as normalization
// errors.
func (l *WebLoader) Fetch(ctx context.Context, url string) (schema.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return schema.Document{}, errs.Stage("fetch", errs.ErrFetchFailed, fmt.Errorf("invalid url %q: %w", url, err))
	}
	req.Header.Set("User-Agent", l.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := l.client.Do(req)
	if err != nil {
		return schema.Document{}, errs.Stage("fetch", errs.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return schema.Document{}, errs.Stage("fetch", errs.ErrFetchFailed,
			fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return schema.Document{}, errs.Stage("fetch", errs.ErrFetchFailed, err)
	}

	kind := mimetype.Detect(body)
	l.log.WithField("url", url).WithField("content_type", kind.String()).Debug("page fetched")

	var title, text string
	switch {
	case kind.Is("text/html"):
		title, text = extractHTML(string(body))
	case strings.HasPrefix(kind.String(), "text/"):
		text = strings.TrimSpace(string(body))
	default:
		return schema.Document{}, errs.Stage("normalize", errs.ErrNormalizationFailed,
			fmt.Errorf("unsupported content type %s for %s", kind.String(), url))
	}

	if len([]rune(text)) < l.MinTextLength {
		return schema.Document{}, errs.Stage("normalize", errs.ErrNormalizationFailed,
			fmt.Errorf("extracted %d characters from %s, below minimum %d (page may be script-rendered)",
				len([]rune(text)), url, l.MinTextLength))
	}

	return schema.Document{
		Source:    schema.SourceURL,
		Title:     title,
		URL:       url,
		Text:      text,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// extractHTML converts an HTML page to readable text. Markdown conversion is
// tried first; when it comes up empty the tokenizer fallback strips tags
// directly.
func extractHTML(page string) (title, text string) {
	title = pageTitle(page)

	md, err := htmltomarkdown.ConvertString(page)
	if err == nil {
		text = strings.TrimSpace(blankLines.ReplaceAllString(md, "\n\n"))
	}
	if text == "" {
		text = strings.TrimSpace(extractText(page))
	}
	return title, text
}

// pageTitle pulls the <title> element, best effort.
func pageTitle(page string) string {
	z := html.NewTokenizer(strings.NewReader(page))
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := z.TagName()
			inTitle = string(tn) == "title"
		case html.EndTagToken:
			inTitle = false
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(z.Text()))
			}
		}
	}
}

// extractText walks the HTML token stream and collects human-readable text,
// skipping script and style bodies.
func extractText(page string) string {
	z := html.NewTokenizer(strings.NewReader(page))
	var sb strings.Builder
	var inScript, inStyle bool

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return sb.String()
		case html.StartTagToken, html.EndTagToken:
			tn, _ := z.TagName()
			switch string(tn) {
			case "script":
				inScript = tt == html.StartTagToken
			case "style":
				inStyle = tt == html.StartTagToken
			}
		case html.TextToken:
			if !inScript && !inStyle {
				t := strings.TrimSpace(string(z.Text()))
				if len(t) > 0 {
					sb.WriteString(t)
					sb.WriteString(" ")
				}
			}
		}
	}
}
