package loaders

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ragserver/pkg/errs"
	"ragserver/pkg/logger"
)

func testLoader(t *testing.T) *WebLoader {
	t.Helper()
	logger.Init(logger.ParseLevel("error"))
	return NewWebLoader(logger.New("loaders-test", ""))
}

func htmlPage(title, body string) string {
	return "<html><head><title>" + title + "</title></head><body>" + body + "</body></html>"
}

func TestFetchExtractsTitleAndText(t *testing.T) {
	body := "<h1>Attention</h1><p>" + strings.Repeat("Self-attention relates tokens to each other. ", 10) + "</p>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); !strings.HasPrefix(got, "ragserver/") {
			t.Errorf("unexpected user agent %q", got)
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(htmlPage("Attention Is All You Need", body)))
	}))
	defer srv.Close()

	doc, err := testLoader(t).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if doc.Title != "Attention Is All You Need" {
		t.Errorf("title = %q", doc.Title)
	}
	if !strings.Contains(doc.Text, "Self-attention relates tokens") {
		t.Errorf("extracted text missing content: %q", doc.Text)
	}
	if doc.URL != srv.URL {
		t.Errorf("url = %q, want %q", doc.URL, srv.URL)
	}
}

func TestFetchStripsScriptAndStyle(t *testing.T) {
	body := "<script>var secret = 1;</script><style>.x{color:red}</style><p>" +
		strings.Repeat("Visible paragraph content for extraction. ", 10) + "</p>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(htmlPage("t", body)))
	}))
	defer srv.Close()

	doc, err := testLoader(t).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if strings.Contains(doc.Text, "var secret") || strings.Contains(doc.Text, "color:red") {
		t.Errorf("script/style leaked into text: %q", doc.Text)
	}
}

func TestFetchHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testLoader(t).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, errs.ErrFetchFailed) {
		t.Fatalf("want ErrFetchFailed, got %v", err)
	}
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := testLoader(t).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, errs.ErrFetchFailed) {
		t.Fatalf("want ErrFetchFailed, got %v", err)
	}
}

func TestFetchTooShortIsNormalizationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(htmlPage("empty", "<p>tiny</p>")))
	}))
	defer srv.Close()

	_, err := testLoader(t).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, errs.ErrNormalizationFailed) {
		t.Fatalf("want ErrNormalizationFailed, got %v", err)
	}
}

func TestFetchPlainText(t *testing.T) {
	content := strings.Repeat("Plain text corpus line with enough length to pass the guard. ", 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(content))
	}))
	defer srv.Close()

	doc, err := testLoader(t).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if doc.Text != strings.TrimSpace(content) {
		t.Errorf("plain text not passed through: %q", doc.Text)
	}
}

func TestFetchInvalidURL(t *testing.T) {
	_, err := testLoader(t).Fetch(context.Background(), "://not-a-url")
	if !errors.Is(err, errs.ErrFetchFailed) {
		t.Fatalf("want ErrFetchFailed, got %v", err)
	}
}
