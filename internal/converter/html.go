package converter

import (
	"fmt"
	"html"
	"strings"

	"github.com/yuanying/novel2epub/internal/book"
)

const stylesheetLink = "../styles/style.css"

// xmlText escapes s for XHTML and drops runes XML 1.0 does not allow.
func xmlText(s string) string {
	return html.EscapeString(strings.Map(func(r rune) rune {
		if isXMLChar(r) {
			return r
		}
		return -1
	}, s))
}

func isXMLChar(r rune) bool {
	switch {
	case r == '\t' || r == '\n' || r == '\r':
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	default:
		return r >= 0x10000 && r <= 0x10FFFF
	}
}

// writeDocument wraps body in an XHTML5 content document linked to the
// shared stylesheet.
func writeDocument(title, lang, body string) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString("<!DOCTYPE html>\n")
	fmt.Fprintf(&b, `<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops" lang="%s" xml:lang="%s">`+"\n",
		xmlText(lang), xmlText(lang))
	b.WriteString("<head>\n")
	b.WriteString(`<meta charset="utf-8"/>` + "\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", xmlText(title))
	fmt.Fprintf(&b, `<link rel="stylesheet" type="text/css" href="%s"/>`+"\n", stylesheetLink)
	b.WriteString("</head>\n<body>\n")
	b.WriteString(body)
	b.WriteString("</body>\n</html>\n")
	return []byte(b.String())
}

// writeBlocks renders content blocks. Image blocks must already point at a
// local asset; unresolved images are skipped.
func writeBlocks(b *strings.Builder, blocks []book.Block) {
	for _, blk := range blocks {
		switch blk.Kind {
		case book.TextBlock:
			writeParagraph(b, blk.Text)
		case book.ImageBlock:
			if blk.Image == nil || blk.Image.Local == "" {
				continue
			}
			fmt.Fprintf(b, `<p class="image"><img src="%s" alt="%s"/></p>`+"\n",
				xmlText(blk.Image.Local), xmlText(blk.Image.Caption))
		case book.BreakBlock:
			b.WriteString("<hr/>\n")
		}
	}
}

// writeParagraph renders one text run, turning "\n" into <br/>.
func writeParagraph(b *strings.Builder, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = xmlText(strings.TrimSpace(line))
	}
	fmt.Fprintf(b, "<p>%s</p>\n", strings.Join(lines, "<br/>"))
}

// renderIntro builds the introduction page: title, alternate title, author,
// translator, synopsis and links, each only when present.
func renderIntro(meta book.Metadata, synopsis []book.Block) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>%s</h1>\n", xmlText(meta.Title))
	if meta.AlternateTitle != "" {
		fmt.Fprintf(&b, "<h3>Alternate Title: %s</h3>\n", xmlText(meta.AlternateTitle))
	}
	if meta.Author != "" {
		fmt.Fprintf(&b, "<h3>Author: %s</h3>\n", xmlText(meta.Author))
	}
	if meta.Translator != "" {
		fmt.Fprintf(&b, "<h3>Translator: %s</h3>\n", xmlText(meta.Translator))
	}
	if len(synopsis) > 0 {
		b.WriteString("<p><strong>Synopsis:</strong></p>\n")
		writeBlocks(&b, synopsis)
	}

	var links []book.Link
	for _, l := range meta.Links {
		if strings.TrimSpace(l.Href) != "" {
			links = append(links, l)
		}
	}
	if len(links) > 0 {
		b.WriteString("<h3>Links</h3>\n<ul>\n")
		for _, l := range links {
			text := l.Text
			if strings.TrimSpace(text) == "" {
				text = l.Href
			}
			fmt.Fprintf(&b, `<li><a href="%s">%s</a></li>`+"\n", xmlText(l.Href), xmlText(text))
		}
		b.WriteString("</ul>\n")
	}

	return writeDocument(introTitle, meta.Lang(), b.String())
}

// renderChapter builds a chapter page: heading, blocks, trailing rule.
func renderChapter(title, lang string, blocks []book.Block) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>%s</h2>\n", xmlText(title))
	writeBlocks(&b, blocks)
	b.WriteString("<hr/>\n")
	return writeDocument(title, lang, b.String())
}
