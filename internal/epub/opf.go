package epub

import (
	"encoding/xml"
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	nsOPF = "http://www.idpf.org/2007/opf"
	nsDC  = "http://purl.org/dc/elements/1.1/"

	identifierID = "pub-id"
	modifiedTime = "2006-01-02T15:04:05Z"
)

// packageDocument is the OPF as written. The dc: prefix is spelled out in
// the tags so the output uses prefixed names instead of redeclared default
// namespaces.
type packageDocument struct {
	XMLName  xml.Name         `xml:"package"`
	XMLNS    string           `xml:"xmlns,attr"`
	Version  string           `xml:"version,attr"`
	UniqueID string           `xml:"unique-identifier,attr"`
	Lang     string           `xml:"xml:lang,attr,omitempty"`
	Metadata metadataDocument `xml:"metadata"`
	Manifest opfManifest      `xml:"manifest"`
	Spine    opfSpine         `xml:"spine"`
}

type metadataDocument struct {
	XMLNSDC     string        `xml:"xmlns:dc,attr"`
	Identifier  dcElement     `xml:"dc:identifier"`
	Title       dcElement     `xml:"dc:title"`
	Language    string        `xml:"dc:language"`
	Creators    []dcElement   `xml:"dc:creator"`
	Description string        `xml:"dc:description,omitempty"`
	Subjects    []string      `xml:"dc:subject"`
	Meta        []metaElement `xml:"meta"`
}

type dcElement struct {
	ID    string `xml:"id,attr,omitempty"`
	Value string `xml:",chardata"`
}

type metaElement struct {
	Name     string `xml:"name,attr,omitempty"`
	Content  string `xml:"content,attr,omitempty"`
	Property string `xml:"property,attr,omitempty"`
	Refines  string `xml:"refines,attr,omitempty"`
	Scheme   string `xml:"scheme,attr,omitempty"`
	Value    string `xml:",chardata"`
}

// opfPackage is the OPF as read back.
type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Version  string      `xml:"version,attr"`
	UniqueID string      `xml:"unique-identifier,attr"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest opfManifest `xml:"manifest"`
	Spine    opfSpine    `xml:"spine"`
}

type opfMetadata struct {
	Title       []string        `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creator     []opfCreator    `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Language    []string        `xml:"http://purl.org/dc/elements/1.1/ language"`
	Identifier  []opfIdentifier `xml:"http://purl.org/dc/elements/1.1/ identifier"`
	Description []string        `xml:"http://purl.org/dc/elements/1.1/ description"`
	Subject     []string        `xml:"http://purl.org/dc/elements/1.1/ subject"`
	Meta        []metaElement   `xml:"meta"`
}

type opfCreator struct {
	Name string `xml:",chardata"`
	ID   string `xml:"id,attr"`
}

type opfIdentifier struct {
	Value string `xml:",chardata"`
	ID    string `xml:"id,attr"`
}

type opfManifest struct {
	Items []opfManifestItem `xml:"item"`
}

type opfManifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr,omitempty"`
}

type opfSpine struct {
	Toc      string       `xml:"toc,attr,omitempty"`
	ItemRefs []opfItemRef `xml:"itemref"`
}

type opfItemRef struct {
	IDRef string `xml:"idref,attr"`
}

// buildOPF renders the package document for pkg.
func buildOPF(pkg *Package) ([]byte, error) {
	md := pkg.Metadata
	doc := packageDocument{
		XMLNS:    nsOPF,
		Version:  "3.0",
		UniqueID: identifierID,
		Lang:     md.Language,
		Metadata: metadataDocument{
			XMLNSDC:     nsDC,
			Identifier:  dcElement{ID: identifierID, Value: pkg.Identifier},
			Title:       dcElement{ID: "title", Value: md.Title},
			Language:    md.Language,
			Description: md.Description,
			Subjects:    md.Subjects,
		},
	}

	for i, c := range md.Creators {
		id := fmt.Sprintf("creator%d", i+1)
		doc.Metadata.Creators = append(doc.Metadata.Creators, dcElement{ID: id, Value: c.Name})
		if c.Role != "" {
			doc.Metadata.Meta = append(doc.Metadata.Meta, metaElement{
				Refines:  "#" + id,
				Property: "role",
				Scheme:   "marc:relators",
				Value:    c.Role,
			})
		}
	}
	if md.AlternateTitle != "" {
		doc.Metadata.Meta = append(doc.Metadata.Meta, metaElement{
			Property: "dcterms:alternative",
			Value:    md.AlternateTitle,
		})
	}
	doc.Metadata.Meta = append(doc.Metadata.Meta, metaElement{
		Property: "dcterms:modified",
		Value:    md.Modified.UTC().Format(modifiedTime),
	})
	if md.CoverID != "" {
		doc.Metadata.Meta = append(doc.Metadata.Meta, metaElement{Name: "cover", Content: md.CoverID})
	}

	doc.Manifest.Items = append(doc.Manifest.Items, opfManifestItem{ID: NCXID, Href: NCXHref, MediaType: MediaTypeNCX})
	doc.Manifest.Items = append(doc.Manifest.Items, opfManifestItem{ID: StylesheetID, Href: StylesheetHref, MediaType: MediaTypeCSS})
	for _, s := range pkg.Sections {
		doc.Manifest.Items = append(doc.Manifest.Items, opfManifestItem{
			ID:         s.ID,
			Href:       s.Href,
			MediaType:  MediaTypeXHTML,
			Properties: strings.Join(s.Properties, " "),
		})
	}
	for _, a := range pkg.Assets {
		doc.Manifest.Items = append(doc.Manifest.Items, opfManifestItem{
			ID:         a.ID,
			Href:       a.Href,
			MediaType:  a.MediaType,
			Properties: strings.Join(a.Properties, " "),
		})
	}

	doc.Spine.Toc = NCXID
	for _, id := range pkg.Spine {
		doc.Spine.ItemRefs = append(doc.Spine.ItemRefs, opfItemRef{IDRef: id})
	}

	return marshalXML(doc)
}

// OPF represents a parsed package document.
type OPF struct {
	Metadata      ParsedMetadata
	Manifest      map[string]ManifestItem // id -> item
	ManifestOrder []string
	Spine         []string
	NCXPath       string
}

// ParsedMetadata is the subset of OPF metadata read back from a package.
type ParsedMetadata struct {
	Title          string
	Creators       []Creator
	Language       string
	Identifier     string
	Description    string
	Subjects       []string
	AlternateTitle string
	Modified       time.Time
	CoverID        string
}

// ManifestItem represents an item in the manifest. Href is resolved against
// the OPF directory.
type ManifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties []string
}

// ParseOPF parses an OPF file content and returns the OPF structure.
// opfDir is the directory containing the OPF file (e.g., "EPUB").
func ParseOPF(content []byte, opfDir string) (*OPF, error) {
	var pkg opfPackage
	if err := xml.Unmarshal(content, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse OPF XML: %w", err)
	}

	opf := &OPF{
		Manifest: make(map[string]ManifestItem),
	}
	opf.Metadata = parseMetadata(&pkg.Metadata, pkg.UniqueID)

	for _, item := range pkg.Manifest.Items {
		mi := ManifestItem{
			ID:        item.ID,
			Href:      joinPath(opfDir, item.Href),
			MediaType: item.MediaType,
		}
		if item.Properties != "" {
			mi.Properties = strings.Fields(item.Properties)
		}
		opf.Manifest[item.ID] = mi
		opf.ManifestOrder = append(opf.ManifestOrder, item.ID)
	}

	for _, ref := range pkg.Spine.ItemRefs {
		opf.Spine = append(opf.Spine, ref.IDRef)
	}

	if pkg.Spine.Toc != "" {
		if ncx, ok := opf.Manifest[pkg.Spine.Toc]; ok {
			opf.NCXPath = ncx.Href
		}
	}

	return opf, nil
}

func parseMetadata(meta *opfMetadata, uniqueID string) ParsedMetadata {
	var md ParsedMetadata

	if len(meta.Title) > 0 {
		md.Title = meta.Title[0]
	}
	if len(meta.Language) > 0 {
		md.Language = meta.Language[0]
	}
	for _, id := range meta.Identifier {
		if id.ID == uniqueID {
			md.Identifier = id.Value
			break
		}
	}
	if md.Identifier == "" && len(meta.Identifier) > 0 {
		md.Identifier = meta.Identifier[0].Value
	}
	if len(meta.Description) > 0 {
		md.Description = meta.Description[0]
	}
	md.Subjects = meta.Subject

	roles := make(map[string]string)
	for _, m := range meta.Meta {
		switch {
		case m.Property == "role" && m.Refines != "":
			roles[strings.TrimPrefix(m.Refines, "#")] = m.Value
		case m.Property == "dcterms:alternative":
			md.AlternateTitle = m.Value
		case m.Property == "dcterms:modified":
			if t, err := time.Parse(modifiedTime, strings.TrimSpace(m.Value)); err == nil {
				md.Modified = t
			}
		case m.Name == "cover" && m.Content != "":
			md.CoverID = m.Content
		}
	}
	for _, c := range meta.Creator {
		md.Creators = append(md.Creators, Creator{Name: c.Name, Role: roles[c.ID]})
	}

	return md
}

// joinPath joins the OPF directory with a relative href.
func joinPath(base, rel string) string {
	if base == "" || base == "." {
		return rel
	}
	return path.Join(base, rel)
}

// FindCoverImage finds the cover image in the manifest, preferring the
// EPUB 3 cover-image property over the EPUB 2 meta element.
func (opf *OPF) FindCoverImage() (string, bool) {
	for _, id := range opf.ManifestOrder {
		item := opf.Manifest[id]
		for _, prop := range item.Properties {
			if prop == "cover-image" {
				return item.Href, true
			}
		}
	}
	if opf.Metadata.CoverID != "" {
		if item, ok := opf.Manifest[opf.Metadata.CoverID]; ok {
			return item.Href, true
		}
	}
	return "", false
}

func marshalXML(v any) ([]byte, error) {
	out, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}
