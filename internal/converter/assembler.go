// Package converter turns a book.Book into an EPUB file. It downloads and
// normalizes images, renders the content documents and hands the compiled
// package to the epub writer.
package converter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yuanying/novel2epub/internal/book"
	"github.com/yuanying/novel2epub/internal/epub"
)

// DefaultWorkers bounds concurrent image downloads.
const DefaultWorkers = 4

// DefaultModified stamps dcterms:modified when Options.Now is nil, so builds
// of the same book differ only in their identifier.
var DefaultModified = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	introID   = "intro"
	introHref = "xhtml/intro.xhtml"
)

var (
	// ErrBuildAborted wraps every failure after the package identity has
	// been set up. No output file exists when it is returned.
	ErrBuildAborted = errors.New("build aborted")
	ErrNoTitle      = errors.New("book has no title")
)

// ImageFetcher downloads image bytes. *fetch.Fetcher satisfies it.
type ImageFetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Options configures an Assembler.
type Options struct {
	Fetcher ImageFetcher
	// Workers bounds concurrent image downloads. 1 is fully sequential.
	Workers       int
	MaxImageWidth int
	// SkipImages drops every image without touching the network.
	SkipImages bool
	Logger     *slog.Logger
	// NewID returns the package identifier without the urn:uuid: prefix.
	NewID func() string
	// Now stamps dcterms:modified. Nil uses DefaultModified.
	Now func() time.Time
}

// Assembler compiles books into EPUB packages.
type Assembler struct {
	fetcher    ImageFetcher
	processor  *ImageProcessor
	workers    int
	skipImages bool
	logger     *slog.Logger
	newID      func() string
	now        func() time.Time
}

// NewAssembler creates an Assembler.
func NewAssembler(opts Options) *Assembler {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return DefaultModified }
	}
	return &Assembler{
		fetcher:    opts.Fetcher,
		processor:  NewImageProcessor(opts.MaxImageWidth),
		workers:    workers,
		skipImages: opts.SkipImages,
		logger:     logger,
		newID:      newID,
		now:        now,
	}
}

// Build compiles b and writes it to outputPath, appending ".epub" when the
// path lacks that extension. It returns the path actually written. The file
// only appears once it is complete.
func (a *Assembler) Build(ctx context.Context, b *book.Book, outputPath string) (string, error) {
	out := EnsureExtension(outputPath)

	pkg, err := a.Compile(ctx, b)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", abort(err)
	}

	data, err := epub.Bytes(pkg)
	if err != nil {
		return "", abort(err)
	}
	if err := writeFileAtomic(out, data); err != nil {
		return "", abort(err)
	}

	a.logger.Info("saved EPUB",
		"path", out, "chapters", b.Len(), "images", len(pkg.Assets), "bytes", len(data))
	return out, nil
}

// Compile runs every build stage except serialization.
func (a *Assembler) Compile(ctx context.Context, b *book.Book) (*epub.Package, error) {
	if b == nil || strings.TrimSpace(b.Metadata.Title) == "" {
		return nil, ErrNoTitle
	}
	meta := b.Metadata
	lang := meta.Lang()
	chapters := b.Chapters()

	a.logger.Info("building EPUB", "title", meta.Title, "chapters", len(chapters))

	pkg := &epub.Package{
		Identifier: "urn:uuid:" + a.newID(),
		Metadata: epub.Metadata{
			Title:          meta.Title,
			Language:       lang,
			Description:    meta.Description(),
			Subjects:       nonEmpty(meta.Genres),
			AlternateTitle: strings.TrimSpace(meta.AlternateTitle),
			Modified:       a.now(),
		},
		Stylesheet: []byte(stylesheet),
	}
	if meta.Author != "" {
		pkg.Metadata.Creators = append(pkg.Metadata.Creators, epub.Creator{Name: meta.Author, Role: "aut"})
	}
	if meta.Translator != "" {
		pkg.Metadata.Creators = append(pkg.Metadata.Creators, epub.Creator{Name: meta.Translator, Role: "trl"})
	}

	var cover *epub.Asset
	if meta.CoverURL != "" && b.Options.IncludeCoverPage {
		var err error
		cover, err = a.acquireCover(ctx, meta.CoverURL)
		if err != nil {
			return nil, abort(err)
		}
	}

	lists := make([]*blockList, 0, len(chapters)+1)
	lists = append(lists, &blockList{label: introTitle, base: meta.BaseURL, blocks: book.CloneBlocks(meta.Synopsis)})
	for i, ch := range chapters {
		lists = append(lists, &blockList{
			label:  chapterTitle(i, ch),
			base:   ch.SourceURL,
			blocks: ch.Clone().Blocks,
		})
	}
	images, err := a.acquireImages(ctx, lists)
	if err != nil {
		return nil, abort(err)
	}

	var sections []epub.Section
	var entries []tocEntry
	if cover != nil {
		pkg.Metadata.CoverID = cover.ID
		sections = append(sections, epub.Section{
			ID:    epub.CoverPageID,
			Href:  epub.CoverPageHref,
			Title: coverTitle,
			Data:  renderCoverPage(meta.Title, lang),
		})
	}

	sections = append(sections, epub.Section{
		ID:    introID,
		Href:  introHref,
		Title: introTitle,
		Data:  renderIntro(meta, lists[0].blocks),
	})

	for i, ch := range chapters {
		id := fmt.Sprintf("chap_%d", i+1)
		title := chapterTitle(i, ch)
		sections = append(sections, epub.Section{
			ID:    id,
			Href:  "xhtml/" + id + ".xhtml",
			Title: title,
			Data:  renderChapter(title, lang, lists[i+1].blocks),
		})
	}

	for _, s := range sections {
		pkg.TOC = append(pkg.TOC, s.ID)
		entries = append(entries, tocEntry{Label: s.Title, Href: s.Href})
	}
	nav := epub.Section{
		ID:         epub.NavID,
		Href:       epub.NavHref,
		Title:      navTitle,
		Data:       renderNav(lang, entries),
		Properties: []string{"nav"},
	}
	pkg.Sections = append([]epub.Section{nav}, sections...)

	pkg.Spine = spineOrder(pkg.TOC, cover != nil, b.Options.CoverFirstInSpine)

	pkg.Assets = images
	if cover != nil {
		pkg.Assets = append(pkg.Assets, *cover)
	}

	a.logger.Debug("package compiled",
		"sections", len(pkg.Sections), "images", len(images), "cover", cover != nil, "spine", pkg.Spine)
	return pkg, nil
}

// spineOrder places the navigation document ahead of the TOC entries. A
// cover page leads the spine only when coverFirst is set; otherwise it
// follows the navigation document.
func spineOrder(toc []string, hasCover, coverFirst bool) []string {
	spine := make([]string, 0, len(toc)+1)
	rest := toc
	if hasCover && coverFirst {
		spine = append(spine, epub.CoverPageID)
		rest = toc[1:]
	}
	spine = append(spine, epub.NavID)
	return append(spine, rest...)
}

// EnsureExtension appends ".epub" unless path already ends with it, in any
// letter case.
func EnsureExtension(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".epub") {
		return path
	}
	return path + ".epub"
}

func chapterTitle(i int, ch book.Chapter) string {
	if t := strings.TrimSpace(ch.Title); t != "" {
		return t
	}
	return fmt.Sprintf("Chapter %d", i+1)
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func abort(err error) error {
	return fmt.Errorf("%w: %w", ErrBuildAborted, err)
}

// writeFileAtomic writes data to a temporary file next to name, syncs it and
// renames it into place. The temporary file is removed on failure.
func writeFileAtomic(name string, data []byte) (err error) {
	dir := filepath.Dir(name)
	f, err := os.CreateTemp(dir, "."+filepath.Base(name)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err = f.Chmod(0o644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("failed to sync output: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}
	if err = os.Rename(tmp, name); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}
