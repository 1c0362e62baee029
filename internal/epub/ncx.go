package epub

import (
	"encoding/xml"
	"fmt"
	"path"
	"strings"
)

// NCX represents the navigation control document used by EPUB 2 readers.
type NCX struct {
	UID       string
	Depth     int
	DocTitle  string
	NavPoints []NavPoint
}

// NavPoint represents a single navigation point in the table of contents.
type NavPoint struct {
	ID          string
	PlayOrder   int
	Label       string
	ContentPath string // fragment-free, resolved against the NCX directory
	Fragment    string // fragment identifier (without #)
}

type ncxDocument struct {
	XMLName  xml.Name     `xml:"http://www.daisy.org/z3986/2005/ncx/ ncx"`
	Version  string       `xml:"version,attr"`
	Head     ncxHead      `xml:"head"`
	DocTitle ncxText      `xml:"docTitle"`
	NavMap   []ncxNavItem `xml:"navMap>navPoint"`
}

type ncxHead struct {
	Meta []ncxMeta `xml:"meta"`
}

type ncxMeta struct {
	Name    string `xml:"name,attr"`
	Content string `xml:"content,attr"`
}

type ncxText struct {
	Text string `xml:"text"`
}

type ncxNavItem struct {
	ID        string     `xml:"id,attr"`
	PlayOrder int        `xml:"playOrder,attr"`
	Label     ncxText    `xml:"navLabel"`
	Content   ncxContent `xml:"content"`
}

type ncxContent struct {
	Src string `xml:"src,attr"`
}

// buildNCX renders toc.ncx with one flat navPoint per TOC entry.
func buildNCX(pkg *Package) ([]byte, error) {
	doc := ncxDocument{
		Version: "2005-1",
		Head: ncxHead{Meta: []ncxMeta{
			{Name: "dtb:uid", Content: pkg.Identifier},
			{Name: "dtb:depth", Content: "1"},
			{Name: "dtb:totalPageCount", Content: "0"},
			{Name: "dtb:maxPageNumber", Content: "0"},
		}},
		DocTitle: ncxText{Text: pkg.Metadata.Title},
	}

	for i, id := range pkg.TOC {
		s, ok := pkg.Section(id)
		if !ok {
			return nil, fmt.Errorf("%w: toc entry %q has no section", ErrInvalidPackage, id)
		}
		doc.NavMap = append(doc.NavMap, ncxNavItem{
			ID:        fmt.Sprintf("navpoint-%d", i+1),
			PlayOrder: i + 1,
			Label:     ncxText{Text: s.Title},
			Content:   ncxContent{Src: s.Href},
		})
	}

	return marshalXML(doc)
}

// ParseNCX parses an NCX document. ncxDir is the directory containing the
// NCX file and is used to resolve content sources.
func ParseNCX(content []byte, ncxDir string) (*NCX, error) {
	var doc ncxDocument
	if err := xml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse NCX XML: %w", err)
	}

	ncx := &NCX{DocTitle: strings.TrimSpace(doc.DocTitle.Text)}
	for _, m := range doc.Head.Meta {
		switch m.Name {
		case "dtb:uid":
			ncx.UID = m.Content
		case "dtb:depth":
			fmt.Sscanf(m.Content, "%d", &ncx.Depth)
		}
	}

	for _, item := range doc.NavMap {
		p, frag := splitFragment(item.Content.Src)
		ncx.NavPoints = append(ncx.NavPoints, NavPoint{
			ID:          item.ID,
			PlayOrder:   item.PlayOrder,
			Label:       strings.TrimSpace(item.Label.Text),
			ContentPath: joinPath(ncxDir, p),
			Fragment:    frag,
		})
	}
	return ncx, nil
}

// splitFragment splits a source path into the path and fragment identifier.
func splitFragment(src string) (string, string) {
	p, frag, _ := strings.Cut(src, "#")
	if p == "" {
		return "", frag
	}
	return path.Clean(p), frag
}
