// Package book holds the in-memory record a scraper fills in and the
// assembler consumes: metadata, options and an ordered list of chapters whose
// bodies are abstract content blocks rather than markup.
package book

import (
	"strings"
)

// DefaultLanguage is used when Metadata.Language is empty.
const DefaultLanguage = "en"

// BlockKind identifies the variant carried by a Block.
type BlockKind int

const (
	// TextBlock is a run of text. Line breaks inside the run are "\n".
	TextBlock BlockKind = iota
	// ImageBlock references a remote image.
	ImageBlock
	// BreakBlock is a scene separator.
	BreakBlock
)

func (k BlockKind) String() string {
	switch k {
	case TextBlock:
		return "text"
	case ImageBlock:
		return "image"
	case BreakBlock:
		return "break"
	default:
		return "unknown"
	}
}

// ImageRef points at an image embedded in chapter content.
type ImageRef struct {
	// Source is the URL as found in the page; it may be relative.
	Source string
	// Caption is optional text shown in place of the image when it cannot
	// be acquired.
	Caption string
	// Local is the path inside the package, set once the image is acquired.
	Local string
}

// Block is one unit of chapter content.
type Block struct {
	Kind  BlockKind
	Text  string
	Image *ImageRef
}

// Text returns a text block.
func Text(s string) Block {
	return Block{Kind: TextBlock, Text: s}
}

// Image returns an image block.
func Image(src, caption string) Block {
	return Block{Kind: ImageBlock, Image: &ImageRef{Source: src, Caption: caption}}
}

// Break returns a scene-separator block.
func Break() Block {
	return Block{Kind: BreakBlock}
}

// CloneBlocks deep-copies blocks so image references can be rewritten
// without touching the original.
func CloneBlocks(blocks []Block) []Block {
	if blocks == nil {
		return nil
	}
	out := make([]Block, len(blocks))
	for i, b := range blocks {
		out[i] = b
		if b.Image != nil {
			img := *b.Image
			out[i].Image = &img
		}
	}
	return out
}

// Chapter is one chapter before packaging.
type Chapter struct {
	Title string
	// SourceURL is the chapter's own location, used to resolve relative
	// image references.
	SourceURL string
	Blocks    []Block
}

// Clone returns a deep copy of the chapter.
func (c Chapter) Clone() Chapter {
	c.Blocks = CloneBlocks(c.Blocks)
	return c
}

// ImageCount reports how many image blocks the chapter carries.
func (c Chapter) ImageCount() int {
	return countImages(c.Blocks)
}

// PlainText concatenates the text blocks, separated by blank lines.
func (c Chapter) PlainText() string {
	return plainText(c.Blocks)
}

// Link is an external reference listed on the introduction page.
type Link struct {
	Text string
	Href string
}

// Metadata is book-level descriptive data. Only Title is required.
type Metadata struct {
	Title          string
	Author         string
	Translator     string
	Synopsis       []Block
	AlternateTitle string
	Genres         []string
	CoverURL       string
	Links          []Link
	Language       string
	// BaseURL resolves relative image references found in Synopsis.
	BaseURL string
}

// Lang returns the book language, defaulting to DefaultLanguage.
func (m Metadata) Lang() string {
	if strings.TrimSpace(m.Language) == "" {
		return DefaultLanguage
	}
	return m.Language
}

// Description returns the synopsis as plain text.
func (m Metadata) Description() string {
	return plainText(m.Synopsis)
}

// Options control how the book is packaged.
type Options struct {
	IncludeCoverPage  bool
	CoverFirstInSpine bool
}

// Book is the full accumulated book. Create one per output file.
type Book struct {
	Options  Options
	Metadata Metadata

	chapters []Chapter
}

// New creates an empty book.
func New(meta Metadata, opts Options) *Book {
	return &Book{Options: opts, Metadata: meta}
}

// AddChapters appends chapters in order.
func (b *Book) AddChapters(chapters ...Chapter) {
	b.chapters = append(b.chapters, chapters...)
}

// Chapters returns the chapters in insertion order. The slice is a copy but
// the chapters share block storage with the book; use Chapter.Clone before
// rewriting.
func (b *Book) Chapters() []Chapter {
	out := make([]Chapter, len(b.chapters))
	copy(out, b.chapters)
	return out
}

// Len returns the number of chapters.
func (b *Book) Len() int {
	return len(b.chapters)
}

func countImages(blocks []Block) int {
	n := 0
	for _, b := range blocks {
		if b.Kind == ImageBlock && b.Image != nil {
			n++
		}
	}
	return n
}

func plainText(blocks []Block) string {
	var parts []string
	for _, b := range blocks {
		if b.Kind != TextBlock {
			continue
		}
		if s := strings.TrimSpace(b.Text); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}
