package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/paperflow/config"
	"github.com/mohammad-safakhou/paperflow/internal/httpclient"
	"github.com/mohammad-safakhou/paperflow/internal/logging"
)

var ErrUnsupportedContent = errors.New("unsupported content type")

// Page is the readable text extracted from a paper or landing page.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Byline      string `json:"byline,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	Excerpt     string `json:"excerpt,omitempty"`
	Text        string `json:"text"`
	Truncated   bool   `json:"truncated,omitempty"`
	Rendered    bool   `json:"rendered,omitempty"`
	ContentHash string `json:"content_hash"`
	FetchMS     int    `json:"fetch_ms"`
}

// Renderer returns the HTML of a page.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// HTTPRenderer downloads the raw HTML.
type HTTPRenderer struct {
	Client    *httpclient.Client
	UserAgent string
}

func (r HTTPRenderer) Render(ctx context.Context, link string) (string, error) {
	headers := map[string]string{"Accept": "text/html,application/xhtml+xml"}
	if r.UserAgent != "" {
		headers["User-Agent"] = r.UserAgent
	}
	raw, err := r.Client.Do(ctx, "GET", link, headers, nil)
	if err != nil {
		return "", err
	}
	if bytes.HasPrefix(raw, []byte("%PDF")) {
		return "", fmt.Errorf("%w: %s is a PDF, fetch its landing page instead", ErrUnsupportedContent, link)
	}
	return string(raw), nil
}

// ChromeRenderer loads the page in headless Chrome so script-built pages
// have their final DOM.
type ChromeRenderer struct {
	UserAgent string
}

func (r ChromeRenderer) Render(ctx context.Context, link string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(r.UserAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(link),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

// Fetcher renders a page and extracts its readable text.
type Fetcher struct {
	renderer Renderer
	rendered bool
	timeout  time.Duration
	maxChars int
	logger   *zap.Logger
}

func New(renderer Renderer, timeout time.Duration, maxChars int, logger *zap.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	_, rendered := renderer.(ChromeRenderer)
	return &Fetcher{renderer: renderer, rendered: rendered, timeout: timeout, maxChars: maxChars, logger: logging.OrNop(logger)}
}

// FromConfig picks headless Chrome when fetch.use_browser is set.
func FromConfig(cfg config.FetchConfig, logger *zap.Logger) *Fetcher {
	var r Renderer = HTTPRenderer{Client: httpclient.New(cfg.Timeout, 1, 0), UserAgent: cfg.UserAgent}
	if cfg.UseBrowser {
		r = ChromeRenderer{UserAgent: cfg.UserAgent}
	}
	return New(r, cfg.Timeout, cfg.MaxChars, logger)
}

// Fetch returns at most maxChars characters of text; maxChars <= 0 uses the
// fetcher default.
func (f *Fetcher) Fetch(ctx context.Context, link string, maxChars int) (*Page, error) {
	u, err := Canonical(link)
	if err != nil {
		return nil, err
	}
	if maxChars <= 0 {
		maxChars = f.maxChars
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	t0 := time.Now()

	html, err := f.renderer.Render(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", u, err)
	}

	text := strings.TrimSpace(article.TextContent)
	page := &Page{
		URL:         u.String(),
		Title:       strings.TrimSpace(article.Title),
		Byline:      strings.TrimSpace(article.Byline),
		SiteName:    strings.TrimSpace(article.SiteName),
		Excerpt:     strings.TrimSpace(article.Excerpt),
		Rendered:    f.rendered,
		ContentHash: fmt.Sprintf("%016x", xxhash.Sum64String(html)),
	}
	page.Text, page.Truncated = truncate(text, maxChars)
	page.FetchMS = int(time.Since(t0) / time.Millisecond)
	f.logger.Debug("fetched page", zap.String("url", page.URL), zap.Int("chars", len(page.Text)), zap.Bool("truncated", page.Truncated))
	return page, nil
}

func truncate(s string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:max]), true
}
