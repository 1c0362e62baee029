package converter

import (
	"fmt"
	"path"
	"strings"

	"github.com/yuanying/novel2epub/internal/epub"
)

const (
	navTitle   = "Table of Contents"
	introTitle = "Introduction"
)

// tocEntry is one line of the navigation document.
type tocEntry struct {
	Label string
	Href  string // relative to the package directory
}

// renderNav builds the EPUB 3 navigation document. Hrefs are made relative
// to the nav document's own directory.
func renderNav(lang string, entries []tocEntry) []byte {
	navDir := path.Dir(epub.NavHref)

	var b strings.Builder
	b.WriteString(`<nav epub:type="toc" id="toc">` + "\n")
	fmt.Fprintf(&b, "<h1>%s</h1>\n", xmlText(navTitle))
	b.WriteString("<ol>\n")
	for _, e := range entries {
		fmt.Fprintf(&b, `<li><a href="%s">%s</a></li>`+"\n",
			xmlText(relativeHref(navDir, e.Href)), xmlText(e.Label))
	}
	b.WriteString("</ol>\n</nav>\n")

	return writeDocument(navTitle, lang, b.String())
}

// relativeHref expresses target relative to dir. Both are slash-separated
// paths inside the package directory.
func relativeHref(dir, target string) string {
	if dir == "." || dir == "" {
		return target
	}
	if rest, ok := strings.CutPrefix(target, dir+"/"); ok {
		return rest
	}
	ups := strings.Count(dir, "/") + 1
	return strings.Repeat("../", ups) + target
}
