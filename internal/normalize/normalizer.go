// Package normalize turns heterogeneous creator content into a single text corpus.
//
// Each source kind is served by a narrow capability injected at construction:
// documents by a DocumentExtractor, web pages by a PageExtractor, videos by a
// VideoResolver plus a TranscriptSource. The Normalizer performs no retries;
// callers own timeouts through ctx.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"factcheck-challenge-service/internal/domain"
)

const (
	MinPromptRunes   = 3
	MaxPromptRunes   = 5000
	MinCorpusRunes   = 100
	MaxDocumentBytes = 10 << 20
	titleRunes       = 50
)

// ErrVideoNotFound is returned by resolvers when the id resolves to nothing.
var ErrVideoNotFound = errors.New("video not found")

// DocumentExtractor pulls plain text out of a binary document.
type DocumentExtractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}

// Page is the main textual content of a fetched web page.
type Page struct {
	Title string
	Text  string
}

// PageExtractor fetches a URL and extracts its main content.
type PageExtractor interface {
	Extract(ctx context.Context, rawURL string) (Page, error)
}

// VideoMetadata is the subset of video details the corpus needs.
type VideoMetadata struct {
	ID      string
	Title   string
	Channel string
}

// VideoResolver looks up metadata for a video id.
type VideoResolver interface {
	Resolve(ctx context.Context, videoID string) (VideoMetadata, error)
}

// TranscriptSource returns the spoken text of a video.
type TranscriptSource interface {
	Transcript(ctx context.Context, videoID string) (string, error)
}

// Normalizer dispatches a ContentSource to the matching capability.
type Normalizer struct {
	documents   DocumentExtractor
	pages       PageExtractor
	videos      VideoResolver
	transcripts TranscriptSource
}

type Option func(*Normalizer)

func WithDocuments(d DocumentExtractor) Option {
	return func(n *Normalizer) { n.documents = d }
}

func WithPages(p PageExtractor) Option {
	return func(n *Normalizer) { n.pages = p }
}

func WithVideos(resolver VideoResolver, transcripts TranscriptSource) Option {
	return func(n *Normalizer) {
		n.videos = resolver
		n.transcripts = transcripts
	}
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts src into a Corpus or fails with a *domain.NormalizationError.
func (n *Normalizer) Normalize(ctx context.Context, src domain.ContentSource) (domain.Corpus, error) {
	switch src.Kind {
	case domain.SourcePrompt:
		return n.prompt(src.Text)
	case domain.SourceDocument:
		return n.document(ctx, src.Data)
	case domain.SourceWebPage:
		return n.webPage(ctx, src.URL)
	case domain.SourceVideo:
		return n.video(ctx, src.VideoRef)
	default:
		return domain.Corpus{}, domain.NewNormalizationError(src.Kind, domain.InvalidReference,
			fmt.Errorf("unknown source kind %q", src.Kind))
	}
}

func (n *Normalizer) prompt(text string) (domain.Corpus, error) {
	text = strings.TrimSpace(text)
	switch size := utf8.RuneCountInString(text); {
	case size < MinPromptRunes:
		return domain.Corpus{}, domain.NewNormalizationError(domain.SourcePrompt, domain.InsufficientContent, nil)
	case size > MaxPromptRunes:
		return domain.Corpus{}, domain.NewNormalizationError(domain.SourcePrompt, domain.ContentTooLarge, nil)
	}
	return domain.Corpus{Text: text, Source: domain.SourcePrompt, Title: Truncate(text, titleRunes)}, nil
}

func (n *Normalizer) document(ctx context.Context, data []byte) (domain.Corpus, error) {
	if len(data) > MaxDocumentBytes {
		return domain.Corpus{}, domain.NewNormalizationError(domain.SourceDocument, domain.ContentTooLarge, nil)
	}
	if n.documents == nil || len(data) == 0 {
		return domain.Corpus{}, domain.NewNormalizationError(domain.SourceDocument, domain.UnreadableDocument, nil)
	}
	text, err := n.documents.ExtractText(ctx, data)
	if err != nil {
		return domain.Corpus{}, domain.NewNormalizationError(domain.SourceDocument, domain.UnreadableDocument, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Corpus{}, domain.NewNormalizationError(domain.SourceDocument, domain.UnreadableDocument, nil)
	}
	return finish(domain.SourceDocument, "document", text)
}

func (n *Normalizer) webPage(ctx context.Context, rawURL string) (domain.Corpus, error) {
	if n.pages == nil {
		return domain.Corpus{}, domain.NewNormalizationError(domain.SourceWebPage, domain.UnreachableSource,
			errors.New("no page extractor configured"))
	}
	page, err := n.pages.Extract(ctx, rawURL)
	if err != nil {
		return domain.Corpus{}, domain.NewNormalizationError(domain.SourceWebPage, domain.UnreachableSource, err)
	}
	title := page.Title
	if title == "" {
		title = rawURL
	}
	return finish(domain.SourceWebPage, title, strings.TrimSpace(page.Text))
}

func (n *Normalizer) video(ctx context.Context, ref string) (domain.Corpus, error) {
	id, ok := ParseVideoID(ref)
	if !ok {
		return domain.Corpus{}, domain.NewNormalizationError(domain.SourceVideo, domain.InvalidReference, nil)
	}
	if n.videos == nil || n.transcripts == nil {
		return domain.Corpus{}, domain.NewNormalizationError(domain.SourceVideo, domain.MetadataUnavailable,
			errors.New("no video collaborators configured"))
	}
	meta, err := n.videos.Resolve(ctx, id)
	if err != nil {
		return domain.Corpus{}, domain.NewNormalizationError(domain.SourceVideo, domain.MetadataUnavailable, err)
	}
	transcript, err := n.transcripts.Transcript(ctx, id)
	if err != nil {
		return domain.Corpus{}, domain.NewNormalizationError(domain.SourceVideo, domain.TranscriptUnavailable, err)
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return domain.Corpus{}, domain.NewNormalizationError(domain.SourceVideo, domain.TranscriptUnavailable, nil)
	}
	title := meta.Title
	if title == "" {
		title = id
	}
	return finish(domain.SourceVideo, title, transcript)
}

func finish(kind domain.SourceKind, title, text string) (domain.Corpus, error) {
	if utf8.RuneCountInString(text) < MinCorpusRunes {
		return domain.Corpus{}, domain.NewNormalizationError(kind, domain.InsufficientContent, nil)
	}
	return domain.Corpus{Text: text, Source: kind, Title: Truncate(title, titleRunes)}, nil
}

// Truncate shortens s to n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
