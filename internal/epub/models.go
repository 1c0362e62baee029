package epub

import "time"

const (
	MediaTypeEPUB  = "application/epub+zip"
	MediaTypeOPF   = "application/oebps-package+xml"
	MediaTypeXHTML = "application/xhtml+xml"
	MediaTypeNCX   = "application/x-dtbncx+xml"
	MediaTypeCSS   = "text/css"
	MediaTypeJPEG  = "image/jpeg"
)

// Well-known identifiers and locations inside the package. Hrefs are
// relative to ContentDir.
const (
	ContentDir     = "EPUB"
	OPFName        = "content.opf"
	NCXID          = "ncx"
	NCXHref        = "toc.ncx"
	NavID          = "nav"
	NavHref        = "xhtml/nav.xhtml"
	StylesheetID   = "style"
	StylesheetHref = "styles/style.css"
	CoverPageID    = "cover-page"
	CoverPageHref  = "xhtml/cover.xhtml"
	CoverImageID   = "cover"
	CoverImageHref = "images/cover.jpg"
)

// Package is a fully compiled book ready to be serialized.
type Package struct {
	Identifier string
	Metadata   Metadata
	Stylesheet []byte
	// Sections are content documents in manifest order.
	Sections []Section
	// Assets are binary resources in manifest order.
	Assets []Asset
	// Spine lists section IDs in reading order.
	Spine []string
	// TOC lists section IDs in navigation order.
	TOC []string
}

// Metadata represents the descriptive metadata written to the OPF.
type Metadata struct {
	Title          string
	Language       string
	Creators       []Creator
	Description    string
	Subjects       []string
	AlternateTitle string
	Modified       time.Time
	// CoverID is the manifest ID of the cover image, if any.
	CoverID string
}

// Creator represents a contributor with a MARC relator role
// ("aut" for author, "trl" for translator).
type Creator struct {
	Name string
	Role string
}

// Section is one XHTML content document.
type Section struct {
	ID         string
	Href       string
	Title      string
	Data       []byte
	Properties []string
}

// Asset is a binary resource embedded in the package.
type Asset struct {
	ID         string
	Href       string
	MediaType  string
	Data       []byte
	Properties []string
	// Source is the URL the asset was downloaded from.
	Source string
}

// Section returns the section with the given ID.
func (p *Package) Section(id string) (Section, bool) {
	for _, s := range p.Sections {
		if s.ID == id {
			return s, true
		}
	}
	return Section{}, false
}
