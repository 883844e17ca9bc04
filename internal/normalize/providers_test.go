package normalize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

const samplePage = `<html><head><title>Tower facts</title></head>
<body>
<nav><a href="/">Home</a> <a href="/about">About</a></nav>
<main><h1>The Eiffel Tower</h1><p>The tower was built for the 1889 World's Fair and stood as the tallest man-made structure for 41 years.</p></main>
<footer>Copyright</footer>
</body></html>`

func TestWebExtractorExtractsMainContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	ex := NewWebExtractor(WebConfig{Timeout: 5 * time.Second, AllowPrivate: true})
	page, err := ex.Extract(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Tower facts", page.Title)
	assert.Contains(t, page.Text, "tallest man-made structure")
	assert.NotContains(t, page.Text, "About")
	assert.NotContains(t, page.Text, "Copyright")
}

func TestWebExtractorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	ex := NewWebExtractor(WebConfig{Timeout: 5 * time.Second, AllowPrivate: true})
	_, err := ex.Extract(context.Background(), srv.URL)
	assert.Error(t, err)

	_, err = ex.Extract(context.Background(), "ftp://example.com/file")
	assert.Error(t, err)

	guarded := NewWebExtractor(WebConfig{Timeout: 5 * time.Second})
	_, err = guarded.Extract(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestWebExtractorSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 2048)))
	}))
	defer srv.Close()

	ex := NewWebExtractor(WebConfig{MaxBytes: 1024, AllowPrivate: true})
	_, err := ex.Extract(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestYouTubeResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("id") != "dQw4w9WgXcQ" {
			_, _ = w.Write([]byte(`{"items":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"id":"dQw4w9WgXcQ","snippet":{"title":"A talk","channelTitle":"Chan"}}]}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	r, err := NewYouTubeResolver(ctx, "", option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)

	meta, err := r.Resolve(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "A talk", meta.Title)
	assert.Equal(t, "Chan", meta.Channel)

	_, err = r.Resolve(ctx, "xxxxxxxxxxx")
	assert.ErrorIs(t, err, ErrVideoNotFound)
}

func TestTranscriptClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("videoId") == "empty" {
			_, _ = w.Write([]byte(`{"content":[]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"text": "hello"}, {"text": " world "}},
			"lang":    "en",
		})
	}))
	defer srv.Close()

	c := NewTranscriptClient(srv.URL, "secret", time.Second)
	text, err := c.Transcript(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	_, err = c.Transcript(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrTranscriptEmpty)

	_, err = NewTranscriptClient(srv.URL, "wrong", time.Second).Transcript(context.Background(), "abc")
	assert.Error(t, err)
}
