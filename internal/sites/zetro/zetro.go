// Package zetro scrapes novels hosted on zetrotranslation.com, a WordPress
// site running the Madara theme.
package zetro

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/yuanying/novel2epub/internal/book"
	"github.com/yuanying/novel2epub/internal/selection"
	"github.com/yuanying/novel2epub/internal/sites"
	"github.com/yuanying/novel2epub/internal/sites/htmltext"
)

const (
	// Domain is the host served by this scraper.
	Domain = "zetrotranslation.com"

	ajaxPath   = "/wp-admin/admin-ajax.php"
	ajaxAction = "manga_get_chapters"
)

var (
	chapterTitleRe = regexp.MustCompile(`(?i)^(?:Chapter\s*)?(\d+)\W*(.*)$`)
	leadingJunkRe  = regexp.MustCompile(`^[(\[\-\s]*`)
	trailingJunkRe = regexp.MustCompile(`[)\]\s]*$`)

	noteRe        = regexp.MustCompile(`^TL:`)
	ruleRe        = regexp.MustCompile(`^_+`)
	chapterLineRe = regexp.MustCompile(`(?i)^\bChapter\s*\d+`)
	brRuleRe      = regexp.MustCompile(`\n\s*_+`)
)

// Scraper implements sites.Scraper for the Madara theme.
type Scraper struct {
	fetcher sites.Fetcher
	logger  *slog.Logger
}

// New creates a Scraper.
func New(f sites.Fetcher, logger *slog.Logger) *Scraper {
	return &Scraper{fetcher: f, logger: sites.Logger(logger).With("site", "zetro")}
}

func (s *Scraper) Name() string { return "zetro" }

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

	novelID, ok := doc.Find("#manga-chapters-holder").Attr("data-id")
	if !ok || strings.TrimSpace(novelID) == "" {
		return nil, fmt.Errorf("%w: #manga-chapters-holder[data-id]", sites.ErrRequiredElementMissing)
	}

	meta := parseMetadata(doc, pageURL)
	s.logger.Info("novel found", "title", meta.Title, "author", meta.Author)

	entries, err := s.chapterIndex(ctx, pageURL, strings.TrimSpace(novelID))
	if err != nil {
		return nil, err
	}

	chapters, err := sites.FetchChapters(ctx, s.fetcher, s.logger, spec, entries, s.parseChapter)
	if err != nil {
		return nil, err
	}

	b := book.New(meta, book.Options{IncludeCoverPage: true, CoverFirstInSpine: true})
	b.AddChapters(chapters...)
	return b, nil
}

func parseMetadata(doc *goquery.Document, pageURL string) book.Metadata {
	meta := book.Metadata{
		Title:      strings.TrimSpace(doc.Find("h1").First().Text()),
		Author:     strings.TrimSpace(doc.Find(".author-content").First().Text()),
		Translator: strings.TrimSpace(doc.Find(".artist-content").First().Text()),
		Language:   "en",
		BaseURL:    pageURL,
	}

	if synopsis := doc.Find(".summary__content.show-more").First(); synopsis.Length() > 0 {
		synopsis.Find("h1, h2, blockquote, a").Remove()
		if paras := synopsis.Find("p"); paras.Length() > 0 {
			meta.Synopsis = htmltext.Blocks(paras.Nodes...)
		} else if text := htmltext.Text(synopsis.Nodes...); text != "" {
			meta.Synopsis = []book.Block{book.Text(text)}
		}
	}

	for _, g := range strings.Split(doc.Find(".genres-content").First().Text(), ",") {
		if g = strings.TrimSpace(g); g != "" {
			meta.Genres = append(meta.Genres, g)
		}
	}

	img := doc.Find(".summary_image img").First()
	cover, _ := img.Attr("data-src")
	if strings.TrimSpace(cover) == "" {
		cover, _ = img.Attr("src")
	}
	if cover = strings.TrimSpace(cover); cover != "" {
		cover, _, _ = strings.Cut(cover, "?")
		meta.CoverURL = sites.Resolve(pageURL, cover)
	}

	if summary := doc.Find(".summary-content"); summary.Length() >= 3 {
		meta.AlternateTitle = strings.TrimSpace(summary.Eq(2).Text())
	}
	return meta
}

// chapterIndex asks the theme's AJAX endpoint for the chapter list, which it
// returns newest first.
func (s *Scraper) chapterIndex(ctx context.Context, pageURL, novelID string) ([]sites.IndexEntry, error) {
	origin, err := sites.Origin(pageURL)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("action", ajaxAction)
	form.Set("manga", novelID)

	body, err := s.fetcher.PostForm(ctx, origin+ajaxPath, form)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chapter list: %w", err)
	}
	doc, err := sites.ParseDocument(body)
	if err != nil {
		return nil, err
	}

	var entries []sites.IndexEntry
	doc.Find("li").Each(func(_ int, li *goquery.Selection) {
		a := li.Find("a").First()
		if a.Length() == 0 {
			return
		}
		href, _ := a.Attr("href")
		entries = append(entries, sites.IndexEntry{
			Title: NormalizeTitle(a.Text()),
			URL:   sites.Resolve(pageURL, href),
		})
	})

	entries = sites.CollapseDuplicates(entries)
	sites.Reverse(entries)
	s.logger.Debug("chapter list parsed", "entries", len(entries))
	return entries, nil
}

// NormalizeTitle rewrites titles like "12 - (The Duel)" or "chapter 12" as
// "Chapter 12: The Duel" or "Chapter 12: Untitled". Titles without a chapter
// number are only trimmed.
func NormalizeTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	m := chapterTitleRe.FindStringSubmatch(title)
	if m == nil {
		return title
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return title
	}
	name := strings.TrimSpace(m[2])
	name = leadingJunkRe.ReplaceAllString(name, "")
	name = trailingJunkRe.ReplaceAllString(name, "")
	if name == "" {
		name = "Untitled"
	}
	return fmt.Sprintf("Chapter %d: %s", n, name)
}

func (s *Scraper) parseChapter(doc *goquery.Document, entry sites.IndexEntry) []book.Block {
	wrap := doc.Find("div.entry-content_wrap").First()
	if wrap.Length() == 0 {
		s.logger.Warn("chapter has no content wrapper", "chapter", entry.Title, "url", entry.URL)
		return nil
	}

	var blocks []book.Block
	wrap.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(p.Text())
		hasImage := p.Find("img").Length() > 0
		if text == "" && !hasImage {
			return
		}
		if noteRe.MatchString(text) || ruleRe.MatchString(text) || chapterLineRe.MatchString(text) {
			return
		}
		for _, blk := range htmltext.Blocks(p.Nodes...) {
			if blk.Kind == book.TextBlock {
				blk.Text = strings.TrimSpace(brRuleRe.ReplaceAllString(blk.Text, ""))
				if blk.Text == "" {
					continue
				}
			}
			blocks = append(blocks, blk)
		}
	})
	return blocks
}
