package normalize

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// WebConfig tunes the page fetcher.
type WebConfig struct {
	Timeout   time.Duration
	UserAgent string
	MaxBytes  int64
	// AllowPrivate permits loopback and private-network targets.
	AllowPrivate bool
}

// WebExtractor fetches a page and converts its main content to markdown text.
type WebExtractor struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	converter *md.Converter
}

func NewWebExtractor(cfg WebConfig) *WebExtractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 5 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "factcheck-challenge-service/1.0"
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	dial := dialer.DialContext
	if !cfg.AllowPrivate {
		dial = publicOnlyDial(dialer)
	}

	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	return &WebExtractor{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext:           dial,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: cfg.Timeout,
				MaxIdleConns:          10,
				IdleConnTimeout:       90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (max 5)")
				}
				return validateURL(req.URL)
			},
		},
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
		converter: converter,
	}
}

func (w *WebExtractor) Extract(ctx context.Context, rawURL string) (Page, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Page{}, fmt.Errorf("parse url: %w", err)
	}
	if err := validateURL(u); err != nil {
		return Page{}, err
	}

	body, err := w.fetch(ctx, u.String())
	if err != nil {
		return Page{}, err
	}

	title := htmlTitle(body)
	markdown, err := w.converter.ConvertString(mainContent(body))
	if err != nil {
		return Page{}, fmt.Errorf("convert page: %w", err)
	}
	return Page{Title: title, Text: cleanMarkdown(markdown)}, nil
}

func (w *WebExtractor) fetch(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", w.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, w.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > w.maxBytes {
		return "", fmt.Errorf("page exceeds %d bytes", w.maxBytes)
	}
	return string(body), nil
}

func validateURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func publicOnlyDial(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup: %w", err)
		}
		for _, ip := range ips {
			if isPrivateIP(ip.IP) {
				return nil, fmt.Errorf("connection to private address %s is not allowed", ip.IP)
			}
		}
		var lastErr error
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, fmt.Errorf("dial %s: %w", host, lastErr)
	}
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

func htmlTitle(content string) string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return ""
	}
	if n := findElement(doc, "title"); n != nil && n.FirstChild != nil {
		return strings.TrimSpace(n.FirstChild.Data)
	}
	return ""
}

// mainContent prefers <main>, <article> or [role=main]; otherwise it strips
// page chrome from <body>.
func mainContent(content string) string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return content
	}
	removeElements(doc, "script", "style", "noscript", "iframe", "form")
	for _, selector := range []string{"main", "article", "[role=main]"} {
		if n := findElement(doc, selector); n != nil {
			return render(n)
		}
	}
	removeElements(doc, "nav", "header", "footer", "aside")
	if body := findElement(doc, "body"); body != nil {
		return render(body)
	}
	return render(doc)
}

func findElement(n *html.Node, selector string) *html.Node {
	if n.Type == html.ElementNode && matches(n, selector) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, selector); found != nil {
			return found
		}
	}
	return nil
}

func matches(n *html.Node, selector string) bool {
	if strings.HasPrefix(selector, "[") && strings.HasSuffix(selector, "]") {
		key, val, ok := strings.Cut(strings.Trim(selector, "[]"), "=")
		if !ok {
			return false
		}
		for _, a := range n.Attr {
			if a.Key == key && a.Val == val {
				return true
			}
		}
		return false
	}
	return n.Data == selector
}

func removeElements(root *html.Node, tags ...string) {
	drop := make(map[string]bool, len(tags))
	for _, t := range tags {
		drop[t] = true
	}
	var doomed []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && drop[n.Data] {
			doomed = append(doomed, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	for _, n := range doomed {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
}

func render(n *html.Node) string {
	var sb strings.Builder
	_ = html.Render(&sb, n)
	return sb.String()
}

func cleanMarkdown(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	content = strings.Join(lines, "\n")
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}
