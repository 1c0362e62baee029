package epub

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
)

// ErrInvalidPackage reports a Package that cannot be serialized.
var ErrInvalidPackage = errors.New("epub: invalid package")

// Every entry carries the same MS-DOS timestamp (2000-01-01 00:00:00) so
// identical packages produce identical bytes. The legacy fields are set
// directly because a non-zero Modified makes the writer add an extended
// timestamp extra field, which is not allowed on the mimetype entry.
const (
	entryDate uint16 = (2000-1980)<<9 | 1<<5 | 1
	entryTime uint16 = 0
)

type entry struct {
	name string
	data []byte
}

// Write serializes pkg as an EPUB archive. Entries are written in a fixed
// order: mimetype (stored), container.xml, the OPF, the NCX, the stylesheet,
// sections and assets in the order they appear in pkg.
func Write(w io.Writer, pkg *Package) error {
	if err := pkg.Validate(); err != nil {
		return err
	}

	opf, err := buildOPF(pkg)
	if err != nil {
		return fmt.Errorf("failed to build OPF: %w", err)
	}
	ncx, err := buildNCX(pkg)
	if err != nil {
		return fmt.Errorf("failed to build NCX: %w", err)
	}
	containerXML, err := buildContainer()
	if err != nil {
		return fmt.Errorf("failed to build container.xml: %w", err)
	}

	zw := zip.NewWriter(w)
	if err := writeEntry(zw, "mimetype", []byte(MediaTypeEPUB), zip.Store); err != nil {
		return err
	}

	entries := []entry{
		{"META-INF/container.xml", containerXML},
		{path.Join(ContentDir, OPFName), opf},
		{path.Join(ContentDir, NCXHref), ncx},
		{path.Join(ContentDir, StylesheetHref), pkg.Stylesheet},
	}
	for _, s := range pkg.Sections {
		entries = append(entries, entry{path.Join(ContentDir, s.Href), s.Data})
	}
	for _, a := range pkg.Assets {
		entries = append(entries, entry{path.Join(ContentDir, a.Href), a.Data})
	}

	for _, e := range entries {
		if err := writeEntry(zw, e.name, e.data, zip.Deflate); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

// Bytes serializes pkg into memory.
func Bytes(pkg *Package) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, pkg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, data []byte, method uint16) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{
		Name:         name,
		Method:       method,
		ModifiedDate: entryDate,
		ModifiedTime: entryTime,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func buildContainer() ([]byte, error) {
	var c container
	c.Version = "1.0"
	c.Rootfiles.Rootfile = []rootfile{{
		FullPath:  path.Join(ContentDir, OPFName),
		MediaType: MediaTypeOPF,
	}}
	return marshalXML(c)
}

// Validate checks that ids and hrefs are unique and that the spine and TOC
// only reference known sections.
func (p *Package) Validate() error {
	if p.Identifier == "" {
		return fmt.Errorf("%w: missing identifier", ErrInvalidPackage)
	}
	if p.Metadata.Title == "" {
		return fmt.Errorf("%w: missing title", ErrInvalidPackage)
	}
	if p.Metadata.Language == "" {
		return fmt.Errorf("%w: missing language", ErrInvalidPackage)
	}

	ids := map[string]bool{NCXID: true, StylesheetID: true}
	hrefs := map[string]bool{NCXHref: true, StylesheetHref: true}
	claim := func(id, href string) error {
		if id == "" || href == "" {
			return fmt.Errorf("%w: item with empty id or href", ErrInvalidPackage)
		}
		if ids[id] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidPackage, id)
		}
		if hrefs[href] {
			return fmt.Errorf("%w: duplicate href %q", ErrInvalidPackage, href)
		}
		ids[id] = true
		hrefs[href] = true
		return nil
	}

	sections := make(map[string]bool, len(p.Sections))
	for _, s := range p.Sections {
		if err := claim(s.ID, s.Href); err != nil {
			return err
		}
		sections[s.ID] = true
	}
	for _, a := range p.Assets {
		if err := claim(a.ID, a.Href); err != nil {
			return err
		}
		if a.MediaType == "" {
			return fmt.Errorf("%w: asset %q has no media type", ErrInvalidPackage, a.ID)
		}
	}

	if !sections[NavID] {
		return fmt.Errorf("%w: missing navigation document", ErrInvalidPackage)
	}
	hasNav := false
	for _, id := range p.Spine {
		if !sections[id] {
			return fmt.Errorf("%w: spine references unknown section %q", ErrInvalidPackage, id)
		}
		if id == NavID {
			hasNav = true
		}
	}
	if !hasNav {
		return fmt.Errorf("%w: navigation document not in spine", ErrInvalidPackage)
	}
	for _, id := range p.TOC {
		if !sections[id] {
			return fmt.Errorf("%w: toc references unknown section %q", ErrInvalidPackage, id)
		}
		if id == NavID {
			return fmt.Errorf("%w: toc must not list the navigation document", ErrInvalidPackage)
		}
	}
	if p.Metadata.CoverID != "" && !ids[p.Metadata.CoverID] {
		return fmt.Errorf("%w: cover %q not in manifest", ErrInvalidPackage, p.Metadata.CoverID)
	}
	return nil
}
