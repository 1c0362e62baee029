// Package htmltext converts scraped HTML elements into book blocks.
package htmltext

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/yuanying/novel2epub/internal/book"
)

// Blocks converts block-level elements into content blocks. Text inside an
// element becomes one text block, with <br> kept as a line break. Images
// split the surrounding text and become image blocks. An <hr> becomes a
// break block.
func Blocks(nodes ...*html.Node) []book.Block {
	var w walker
	for _, n := range nodes {
		if n.Type == html.ElementNode && n.DataAtom == atom.Hr {
			w.flush()
			w.blocks = append(w.blocks, book.Break())
			continue
		}
		w.walk(n)
		w.flush()
	}
	return w.blocks
}

// Text returns the normalized text of the nodes: whitespace runs collapse to
// one space and <br> becomes a newline.
func Text(nodes ...*html.Node) string {
	var parts []string
	for _, b := range Blocks(nodes...) {
		if b.Kind == book.TextBlock {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

type walker struct {
	blocks []book.Block
	buf    strings.Builder
}

func (w *walker) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.buf.WriteString(strings.ReplaceAll(n.Data, "\n", " "))
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript:
			return
		case atom.Br:
			w.buf.WriteByte('\n')
			return
		case atom.Hr:
			w.flush()
			w.blocks = append(w.blocks, book.Break())
			return
		case atom.Img:
			src := imageSource(n)
			if src == "" {
				return
			}
			w.flush()
			w.blocks = append(w.blocks, book.Image(src, strings.TrimSpace(attr(n, "alt"))))
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *walker) flush() {
	text := normalize(w.buf.String())
	w.buf.Reset()
	if text != "" {
		w.blocks = append(w.blocks, book.Text(text))
	}
}

// normalize collapses whitespace inside each line and drops blank lines at
// either end.
func normalize(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// imageSource prefers lazy-loading attributes, which hold the real URL when
// src carries a placeholder.
func imageSource(n *html.Node) string {
	for _, key := range []string{"data-src", "data-lazy-src", "src"} {
		if v := strings.TrimSpace(attr(n, key)); v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
