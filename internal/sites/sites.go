// Package sites holds the registry of supported novel sites and the helpers
// their scrapers share. Scrapers turn a novel's landing page into a
// book.Book; markup never leaves this package tree.
package sites

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/yuanying/novel2epub/internal/book"
	"github.com/yuanying/novel2epub/internal/selection"
)

var (
	ErrUnsupportedSite        = errors.New("unsupported site")
	ErrRequiredElementMissing = errors.New("required element missing")
)

// Fetcher retrieves remote documents. *fetch.Fetcher satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
	PostForm(ctx context.Context, url string, form url.Values) ([]byte, error)
}

// Scraper builds a book from one site's pages.
type Scraper interface {
	Name() string
	Matches(u *url.URL) bool
	// Scrape fetches the landing page at pageURL, selects chapters with the
	// range expression expr and downloads their bodies.
	Scrape(ctx context.Context, pageURL, expr string) (*book.Book, error)
}

// IndexEntry is one chapter in a site's table of contents.
type IndexEntry struct {
	Title string
	URL   string
}

// Registry maps URLs to scrapers. It is populated at startup and read-only
// afterwards.
type Registry struct {
	scrapers []Scraper
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a scraper. Registering two scrapers with the same name is a
// programming error and panics.
func (r *Registry) Register(s Scraper) {
	for _, existing := range r.scrapers {
		if existing.Name() == s.Name() {
			panic(fmt.Sprintf("scraper %q is already registered", s.Name()))
		}
	}
	r.scrapers = append(r.scrapers, s)
}

// Lookup returns the first registered scraper that accepts rawURL.
func (r *Registry) Lookup(rawURL string) (Scraper, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute URL", ErrUnsupportedSite, rawURL)
	}
	for _, s := range r.scrapers {
		if s.Matches(u) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedSite, u.Hostname())
}

// Names lists registered scrapers in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.scrapers))
	for _, s := range r.scrapers {
		names = append(names, s.Name())
	}
	return names
}

// HostMatches reports whether u points at domain or one of its subdomains.
func HostMatches(u *url.URL, domain string) bool {
	host := strings.ToLower(u.Hostname())
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// Origin returns the scheme and host of pageURL.
func Origin(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("page URL %q is not absolute", pageURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// Resolve makes ref absolute against base. Empty refs stay empty.
func Resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// FetchDocument downloads pageURL and parses it as HTML.
func FetchDocument(ctx context.Context, f Fetcher, pageURL string) (*goquery.Document, error) {
	body, err := f.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return ParseDocument(body)
}

// ParseDocument parses an HTML response body.
func ParseDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// CollapseDuplicates merges entries that share a title. The merged entry
// keeps the position of the first occurrence and the URL of the last one.
func CollapseDuplicates(entries []IndexEntry) []IndexEntry {
	pos := make(map[string]int, len(entries))
	out := make([]IndexEntry, 0, len(entries))
	for _, e := range entries {
		if i, ok := pos[e.Title]; ok {
			out[i].URL = e.URL
			continue
		}
		pos[e.Title] = len(out)
		out = append(out, e)
	}
	return out
}

// Reverse reverses entries in place.
func Reverse(entries []IndexEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}

// ChapterParser extracts the body of one chapter page.
type ChapterParser func(doc *goquery.Document, entry IndexEntry) []book.Block

// FetchChapters applies spec to entries and downloads the selected chapters
// in order. A failed download aborts the scrape.
func FetchChapters(ctx context.Context, f Fetcher, logger *slog.Logger, spec selection.Spec, entries []IndexEntry, parse ChapterParser) ([]book.Chapter, error) {
	selected, err := selection.Apply(spec, entries)
	if err != nil {
		return nil, err
	}
	logger.Info("chapters selected", "available", len(entries), "selected", len(selected))

	chapters := make([]book.Chapter, 0, len(selected))
	for i, entry := range selected {
		logger.Info("downloading chapter", "chapter", entry.Title, "index", i+1, "of", len(selected))
		doc, err := FetchDocument(ctx, f, entry.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch chapter %q: %w", entry.Title, err)
		}
		ch := book.Chapter{
			Title:     entry.Title,
			SourceURL: entry.URL,
			Blocks:    parse(doc, entry),
		}
		if ch.PlainText() == "" && ch.ImageCount() == 0 {
			logger.Warn("chapter has no content", "chapter", entry.Title, "url", entry.URL)
		}
		logger.Debug("chapter parsed", "chapter", entry.Title, "blocks", len(ch.Blocks), "images", ch.ImageCount())
		chapters = append(chapters, ch)
	}
	return chapters, nil
}

// Logger returns l, or a logger that discards everything when l is nil.
func Logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}
