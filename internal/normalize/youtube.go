package normalize

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ParseVideoID accepts a bare id or any of the common YouTube URL shapes.
func ParseVideoID(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if videoIDRe.MatchString(ref) {
		return ref, true
	}
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")

	var id string
	switch {
	case host == "youtu.be":
		id = strings.Trim(u.Path, "/")
	case host == "youtube.com" || host == "music.youtube.com":
		if v := u.Query().Get("v"); v != "" {
			id = v
			break
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 && (parts[0] == "shorts" || parts[0] == "embed" || parts[0] == "live") {
			id = parts[1]
		}
	}
	if !videoIDRe.MatchString(id) {
		return "", false
	}
	return id, true
}

// YouTubeResolver resolves video metadata through the YouTube Data API.
type YouTubeResolver struct {
	svc *youtube.Service
}

// NewYouTubeResolver builds a resolver. An empty apiKey leaves authentication
// to the extra client options.
func NewYouTubeResolver(ctx context.Context, apiKey string, opts ...option.ClientOption) (*YouTubeResolver, error) {
	if apiKey != "" {
		opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &YouTubeResolver{svc: svc}, nil
}

func (r *YouTubeResolver) Resolve(ctx context.Context, videoID string) (VideoMetadata, error) {
	resp, err := r.svc.Videos.List([]string{"snippet"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return VideoMetadata{}, fmt.Errorf("videos.list: %w", err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return VideoMetadata{}, ErrVideoNotFound
	}
	snippet := resp.Items[0].Snippet
	return VideoMetadata{
		ID:      videoID,
		Title:   snippet.Title,
		Channel: snippet.ChannelTitle,
	}, nil
}
