package generate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"factcheck-challenge-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	out    string
	err    error
	prompt string
}

func (s *stubProvider) Complete(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.out, s.err
}

var corpus = domain.Corpus{Text: "The solar system", Source: domain.SourcePrompt, Title: "The solar system"}

func TestGenerateParsesFencedPayload(t *testing.T) {
	p := &stubProvider{out: "Here you go:\n```json\n[\n" +
		`{"statement":"Mars has two moons","isTrue":true,"explanation":"Phobos and Deimos"},` + "\n" +
		`{"statement":"Venus is the coldest planet","isTrue":false,"explanation":"It is the hottest"},` + "\n" +
		"]\n```"}

	set := New(p, nil).Generate(context.Background(), corpus, 2, domain.DifficultyHard)

	require.Len(t, set.Items, 2)
	assert.False(t, set.Degraded)
	assert.Equal(t, 20, set.TimeLimit)
	assert.Equal(t, domain.BoolAnswer(true), set.Items[0].Answer)
	assert.Equal(t, domain.BoolAnswer(false), set.Items[1].Answer)
	assert.NotEmpty(t, set.Items[0].ID)
	assert.NotEqual(t, set.Items[0].ID, set.Items[1].ID)
	assert.Contains(t, p.prompt, "Generate 2 advanced difficulty")
	assert.Contains(t, p.prompt, "within 20 seconds")
}

func TestGenerateTruncatesExtraItems(t *testing.T) {
	p := &stubProvider{out: `[{"statement":"a","isTrue":true},{"statement":"b","isTrue":false},{"statement":"c","isTrue":true}]`}
	set := New(p, nil).Generate(context.Background(), corpus, 2, domain.DifficultyEasy)
	require.Len(t, set.Items, 2)
	assert.Equal(t, 30, set.TimeLimit)
}

func TestGenerateAcceptsFewerItems(t *testing.T) {
	p := &stubProvider{out: `[{"question":"Capital of France?","options":["Paris","Rome"],"answer":"Paris"}]`}
	set := New(p, nil).Generate(context.Background(), corpus, 5, domain.DifficultyMedium)
	require.Len(t, set.Items, 1)
	assert.False(t, set.Degraded)
	assert.Equal(t, domain.Answer("Paris"), set.Items[0].Answer)
	assert.Equal(t, []string{"Paris", "Rome"}, set.Items[0].Options)
}

func TestGenerateFallsBack(t *testing.T) {
	cases := map[string]*stubProvider{
		"provider error":  {err: errors.New("quota exceeded")},
		"not json":        {out: "I cannot help with that."},
		"empty array":     {out: "[]"},
		"missing answer":  {out: `[{"statement":"a"}]`},
		"missing content": {out: `[{"isTrue":true}]`},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			set := New(p, nil).Generate(context.Background(), corpus, 5, domain.DifficultyHard)
			require.Len(t, set.Items, 2)
			assert.True(t, set.Degraded)
			assert.Equal(t, 30, set.TimeLimit)
			assert.Equal(t, "This is a sample The solar system fact 1", set.Items[0].Statement)
			assert.Equal(t, domain.BoolAnswer(true), set.Items[0].Answer)
			assert.Equal(t, domain.BoolAnswer(false), set.Items[1].Answer)
		})
	}
}

func TestGenerateWithoutProvider(t *testing.T) {
	set := New(nil, nil).Generate(context.Background(), corpus, 3, domain.DifficultyMedium)
	assert.True(t, set.Degraded)
	assert.Len(t, set.Items, 2)
}

type blockingProvider struct{}

func (blockingProvider) Complete(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestGenerateTimeoutFallsBack(t *testing.T) {
	start := time.Now()
	set := New(blockingProvider{}, nil).WithTimeout(20*time.Millisecond).
		Generate(context.Background(), corpus, 3, domain.DifficultyMedium)
	assert.True(t, set.Degraded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestBuildPromptQuotesNonPromptCorpus(t *testing.T) {
	doc := domain.Corpus{Text: "Long article body", Source: domain.SourceWebPage, Title: "Article"}
	prompt := BuildPrompt(doc, 4, domain.DifficultyEasy)
	assert.Contains(t, prompt, "about the following content:")
	assert.Contains(t, prompt, "Long article body")
	assert.Contains(t, prompt, "4 basic difficulty")
}

func TestExtractJSONArray(t *testing.T) {
	assert.Equal(t, `[1,2]`, ExtractJSONArray("```json\n[1,2,]\n```"))
	assert.Equal(t, `[{"a":1}]`, ExtractJSONArray(`prefix [{"a":1,}] suffix`))
	assert.Equal(t, "", ExtractJSONArray("no array here"))
}

func TestOpenAIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "test-model" || len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "ping") {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "pong"},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider("key", srv.URL+"/v1", "test-model")
	out, err := p.Complete(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", out)

	_, err = NewOpenAIProvider("key", srv.URL+"/v1", "other").Complete(context.Background(), "ping")
	assert.Error(t, err)
}
