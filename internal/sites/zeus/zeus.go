// Package zeus scrapes novels hosted on zeustranslations.blogspot.com. The
// chapter index comes from the blog's Atom feed filtered by the novel's
// label.
package zeus

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed/atom"

	"github.com/yuanying/novel2epub/internal/book"
	"github.com/yuanying/novel2epub/internal/selection"
	"github.com/yuanying/novel2epub/internal/sites"
	"github.com/yuanying/novel2epub/internal/sites/htmltext"
)

const (
	// Domain is the host served by this scraper.
	Domain = "zeustranslations.blogspot.com"

	// FeedPageSize is the number of entries requested per feed page.
	FeedPageSize = 150
)

var (
	authorRe       = regexp.MustCompile(`\(Author:\s*(.+?)\)`)
	authorStripRe  = regexp.MustCompile(`(?i)\(Author:\s*.+?\)`)
	chaptersNoteRe = regexp.MustCompile(`(?i)\(Chapters?[^)]*\)`)
	chapterNumRe   = regexp.MustCompile(`^(Chapter\s+\d+)\s+`)
)

// Scraper implements sites.Scraper for the Blogger theme used by the site.
type Scraper struct {
	fetcher sites.Fetcher
	logger  *slog.Logger
}

// New creates a Scraper.
func New(f sites.Fetcher, logger *slog.Logger) *Scraper {
	return &Scraper{fetcher: f, logger: sites.Logger(logger).With("site", "zeus")}
}

func (s *Scraper) Name() string { return "zeus" }

func (s *Scraper) Matches(u *url.URL) bool { return sites.HostMatches(u, Domain) }

// Scrape implements sites.Scraper.
func (s *Scraper) Scrape(ctx context.Context, pageURL, expr string) (*book.Book, error) {
	spec, err := selection.Parse(expr)
	if err != nil {
		return nil, err
	}

	doc, err := sites.FetchDocument(ctx, s.fetcher, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch novel page: %w", err)
	}

	label, ok := doc.Find("#cdrChaptersListSitemap").Attr("data-label")
	if !ok || strings.TrimSpace(label) == "" {
		return nil, fmt.Errorf("%w: #cdrChaptersListSitemap[data-label]", sites.ErrRequiredElementMissing)
	}

	meta, err := parseMetadata(doc, pageURL)
	if err != nil {
		return nil, err
	}
	s.logger.Info("novel found", "title", meta.Title, "author", meta.Author, "label", label)

	entries, err := s.chapterIndex(ctx, pageURL, strings.TrimSpace(label))
	if err != nil {
		return nil, err
	}

	chapters, err := sites.FetchChapters(ctx, s.fetcher, s.logger, spec, entries, s.parseChapter)
	if err != nil {
		return nil, err
	}

	b := book.New(meta, book.Options{IncludeCoverPage: meta.CoverURL != ""})
	b.AddChapters(chapters...)
	return b, nil
}

func parseMetadata(doc *goquery.Document, pageURL string) (book.Metadata, error) {
	rawTitle := strings.TrimSpace(doc.Find(".cdr_cover_page--header-title h1").First().Text())
	if rawTitle == "" {
		return book.Metadata{}, fmt.Errorf("%w: .cdr_cover_page--header-title h1", sites.ErrRequiredElementMissing)
	}

	meta := book.Metadata{
		Title:    CleanTitle(rawTitle),
		Language: "en",
		BaseURL:  pageURL,
	}

	if paras := doc.Find(".cdr_cover_page--description p"); paras.Length() > 0 {
		meta.Synopsis = htmltext.Blocks(paras.Nodes...)
	}

	img := doc.Find(".cdr_cover_page--header-thumbnail img").First()
	if cover, _ := img.Attr("data-src"); cover != "" && !strings.HasPrefix(cover, "data:") {
		meta.CoverURL = sites.Resolve(pageURL, cover)
	}

	doc.Find("#extra-info .y6x11p").Each(func(_ int, block *goquery.Selection) {
		labelEl := block.Find(".stext").First()
		if labelEl.Length() == 0 {
			return
		}
		values := block.Find("span").Not(".stext")
		first := strings.Join(strings.Fields(values.First().Text()), " ")

		switch strings.ToLower(strings.TrimSpace(labelEl.Text())) {
		case "associated names":
			meta.AlternateTitle = first
		case "author":
			meta.Author = first
		case "links":
			block.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
				href, _ := a.Attr("href")
				if strings.HasPrefix(href, "//") {
					href = "https:" + href
				}
				meta.Links = append(meta.Links, book.Link{Text: strings.TrimSpace(a.Text()), Href: href})
			})
		}
	})

	if meta.Author == "" {
		if m := authorRe.FindStringSubmatch(rawTitle); m != nil {
			meta.Author = strings.TrimSpace(m[1])
		}
	}
	return meta, nil
}

// CleanTitle drops the "(Author: X)" and "(Chapters ...)" notes the site
// appends to novel titles.
func CleanTitle(title string) string {
	title = authorStripRe.ReplaceAllString(title, "")
	title = chaptersNoteRe.ReplaceAllString(title, "")
	return strings.Join(strings.Fields(title), " ")
}

// FormatChapterTitle turns "Chapter 12 The Duel" into "Chapter 12: The Duel".
func FormatChapterTitle(title string) string {
	return chapterNumRe.ReplaceAllString(strings.TrimSpace(title), "$1: ")
}

// chapterIndex pages through the label feed until an empty page. The feed
// lists posts newest first. The site dates the series landing post ahead of
// every chapter, so the newest entry is left out.
func (s *Scraper) chapterIndex(ctx context.Context, pageURL, label string) ([]sites.IndexEntry, error) {
	origin, err := sites.Origin(pageURL)
	if err != nil {
		return nil, err
	}

	var entries []sites.IndexEntry
	parser := &atom.Parser{}
	for start := 1; ; start += FeedPageSize {
		feedURL := fmt.Sprintf("%s/feeds/posts/default/-/%s?start-index=%d&max-results=%d",
			origin, url.PathEscape(label), start, FeedPageSize)
		body, err := s.fetcher.Get(ctx, feedURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch chapter feed: %w", err)
		}
		feed, err := parser.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to parse chapter feed as Atom: %w", err)
		}
		if len(feed.Entries) == 0 {
			break
		}
		s.logger.Debug("feed page parsed", "start", start, "entries", len(feed.Entries))

		for _, e := range feed.Entries {
			var link string
			for _, l := range e.Links {
				if l.Rel == "alternate" || l.Rel == "" {
					link = l.Href
					break
				}
			}
			entries = append(entries, sites.IndexEntry{
				Title: FormatChapterTitle(e.Title),
				URL:   sites.Resolve(origin+"/", link),
			})
		}
	}

	entries = sites.CollapseDuplicates(entries)
	sites.Reverse(entries)
	if len(entries) > 0 {
		entries = entries[:len(entries)-1]
	}
	return entries, nil
}

func (s *Scraper) parseChapter(doc *goquery.Document, entry sites.IndexEntry) []book.Block {
	article := doc.Find("article.cdr_chapter_page--content").First()
	if article.Length() == 0 {
		s.logger.Warn("chapter has no article content", "chapter", entry.Title, "url", entry.URL)
		return nil
	}
	return htmltext.Blocks(article.Find("p, hr").Nodes...)
}
