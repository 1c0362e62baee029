package epub

import (
	"archive/zip"
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func xhtml(title string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>` + title + `</title></head><body><p>` + title + `</p></body></html>`)
}

func samplePackage() *Package {
	return &Package{
		Identifier: "urn:uuid:00000000-0000-4000-8000-000000000001",
		Metadata: Metadata{
			Title:          "Sample Novel",
			Language:       "en",
			Creators:       []Creator{{Name: "Author A", Role: "aut"}, {Name: "Translator T", Role: "trl"}},
			Description:    "A short synopsis.",
			Subjects:       []string{"Fantasy", "Action"},
			AlternateTitle: "Another Name",
			Modified:       time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
			CoverID:        CoverImageID,
		},
		Stylesheet: []byte("p { margin: 0; }"),
		Sections: []Section{
			{ID: NavID, Href: NavHref, Title: "Contents", Data: xhtml("Contents"), Properties: []string{"nav"}},
			{ID: CoverPageID, Href: CoverPageHref, Title: "Cover", Data: xhtml("Cover")},
			{ID: "intro", Href: "xhtml/intro.xhtml", Title: "Sample Novel", Data: xhtml("Intro")},
			{ID: "chap_1", Href: "xhtml/chap_1.xhtml", Title: "Chapter 1: Start", Data: xhtml("One")},
		},
		Assets: []Asset{
			{ID: "img_1", Href: "images/img_1.jpg", MediaType: MediaTypeJPEG, Data: []byte{0xff, 0xd8, 1}},
			{ID: CoverImageID, Href: CoverImageHref, MediaType: MediaTypeJPEG, Data: []byte{0xff, 0xd8, 2}, Properties: []string{"cover-image"}},
		},
		Spine: []string{CoverPageID, NavID, "intro", "chap_1"},
		TOC:   []string{CoverPageID, "intro", "chap_1"},
	}
}

func TestWrite_ArchiveLayout(t *testing.T) {
	data, err := Bytes(samplePackage())
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("output is not a zip: %v", err)
	}

	want := []string{
		"mimetype",
		"META-INF/container.xml",
		"EPUB/content.opf",
		"EPUB/toc.ncx",
		"EPUB/styles/style.css",
		"EPUB/xhtml/nav.xhtml",
		"EPUB/xhtml/cover.xhtml",
		"EPUB/xhtml/intro.xhtml",
		"EPUB/xhtml/chap_1.xhtml",
		"EPUB/images/img_1.jpg",
		"EPUB/images/cover.jpg",
	}
	var got []string
	for _, f := range zr.File {
		got = append(got, f.Name)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("entries = %v\nwant %v", got, want)
	}

	mt := zr.File[0]
	if mt.Method != zip.Store {
		t.Errorf("mimetype method = %d, want stored", mt.Method)
	}
	if len(mt.Extra) != 0 {
		t.Errorf("mimetype has %d bytes of extra field", len(mt.Extra))
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	pkg := samplePackage()
	data, err := Bytes(pkg)
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	r, err := NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	defer r.Close()

	if r.OPFPath() != "EPUB/content.opf" {
		t.Fatalf("OPFPath() = %q", r.OPFPath())
	}

	opf, err := r.OPF()
	if err != nil {
		t.Fatalf("OPF() error = %v", err)
	}

	md := opf.Metadata
	if md.Title != "Sample Novel" || md.Language != "en" {
		t.Errorf("title/language = %q/%q", md.Title, md.Language)
	}
	if md.Identifier != pkg.Identifier {
		t.Errorf("Identifier = %q, want %q", md.Identifier, pkg.Identifier)
	}
	if !reflect.DeepEqual(md.Creators, pkg.Metadata.Creators) {
		t.Errorf("Creators = %+v, want %+v", md.Creators, pkg.Metadata.Creators)
	}
	if md.Description != "A short synopsis." {
		t.Errorf("Description = %q", md.Description)
	}
	if !reflect.DeepEqual(md.Subjects, []string{"Fantasy", "Action"}) {
		t.Errorf("Subjects = %v", md.Subjects)
	}
	if md.AlternateTitle != "Another Name" {
		t.Errorf("AlternateTitle = %q", md.AlternateTitle)
	}
	if !md.Modified.Equal(pkg.Metadata.Modified) {
		t.Errorf("Modified = %v, want %v", md.Modified, pkg.Metadata.Modified)
	}

	if !reflect.DeepEqual(opf.Spine, pkg.Spine) {
		t.Errorf("Spine = %v, want %v", opf.Spine, pkg.Spine)
	}
	if opf.NCXPath != "EPUB/toc.ncx" {
		t.Errorf("NCXPath = %q", opf.NCXPath)
	}
	if href, ok := opf.FindCoverImage(); !ok || href != "EPUB/images/cover.jpg" {
		t.Errorf("FindCoverImage() = %q, %v", href, ok)
	}
	nav := opf.Manifest[NavID]
	if nav.MediaType != MediaTypeXHTML || len(nav.Properties) != 1 || nav.Properties[0] != "nav" {
		t.Errorf("nav manifest item = %+v", nav)
	}
	wantOrder := []string{NCXID, StylesheetID, NavID, CoverPageID, "intro", "chap_1", "img_1", CoverImageID}
	if !reflect.DeepEqual(opf.ManifestOrder, wantOrder) {
		t.Errorf("ManifestOrder = %v, want %v", opf.ManifestOrder, wantOrder)
	}

	ncx, err := r.NCX(opf)
	if err != nil {
		t.Fatalf("NCX() error = %v", err)
	}
	if ncx.UID != pkg.Identifier || ncx.DocTitle != "Sample Novel" || ncx.Depth != 1 {
		t.Errorf("ncx head = %+v", ncx)
	}
	var labels, paths []string
	for i, np := range ncx.NavPoints {
		if np.PlayOrder != i+1 {
			t.Errorf("navpoint %d playOrder = %d", i, np.PlayOrder)
		}
		labels = append(labels, np.Label)
		paths = append(paths, np.ContentPath)
	}
	if !reflect.DeepEqual(labels, []string{"Cover", "Sample Novel", "Chapter 1: Start"}) {
		t.Errorf("labels = %v", labels)
	}
	if !reflect.DeepEqual(paths, []string{"EPUB/xhtml/cover.xhtml", "EPUB/xhtml/intro.xhtml", "EPUB/xhtml/chap_1.xhtml"}) {
		t.Errorf("paths = %v", paths)
	}

	img, err := r.ReadFile("EPUB/images/img_1.jpg")
	if err != nil || !bytes.Equal(img, []byte{0xff, 0xd8, 1}) {
		t.Errorf("img_1 = %v, %v", img, err)
	}
}

func TestWrite_Deterministic(t *testing.T) {
	a, err := Bytes(samplePackage())
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	b, err := Bytes(samplePackage())
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("identical packages serialized differently")
	}
}

func TestWrite_OmitsAbsentMetadata(t *testing.T) {
	pkg := &Package{
		Identifier: "urn:uuid:x",
		Metadata:   Metadata{Title: "Bare", Language: "en"},
		Sections: []Section{
			{ID: NavID, Href: NavHref, Title: "Contents", Data: xhtml("nav"), Properties: []string{"nav"}},
			{ID: "intro", Href: "xhtml/intro.xhtml", Title: "Bare", Data: xhtml("intro")},
		},
		Spine: []string{NavID, "intro"},
		TOC:   []string{"intro"},
	}
	data, err := Bytes(pkg)
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	r, err := NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	raw, err := r.ReadFile(r.OPFPath())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	opf := string(raw)
	for _, absent := range []string{"dc:creator", "dc:description", "dc:subject", "dcterms:alternative", `name="cover"`} {
		if strings.Contains(opf, absent) {
			t.Errorf("OPF unexpectedly contains %s:\n%s", absent, opf)
		}
	}
	if !strings.Contains(opf, `property="dcterms:modified"`) {
		t.Errorf("OPF lacks dcterms:modified:\n%s", opf)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Package)
	}{
		{"no identifier", func(p *Package) { p.Identifier = "" }},
		{"no title", func(p *Package) { p.Metadata.Title = "" }},
		{"duplicate id", func(p *Package) { p.Assets[0].ID = "chap_1" }},
		{"duplicate href", func(p *Package) { p.Assets[0].Href = CoverImageHref }},
		{"reserved href", func(p *Package) { p.Sections[3].Href = NCXHref }},
		{"spine unknown", func(p *Package) { p.Spine = append(p.Spine, "chap_9") }},
		{"spine without nav", func(p *Package) { p.Spine = []string{"intro", "chap_1"} }},
		{"toc with nav", func(p *Package) { p.TOC = append([]string{NavID}, p.TOC...) }},
		{"toc unknown", func(p *Package) { p.TOC = []string{"missing"} }},
		{"cover not in manifest", func(p *Package) { p.Metadata.CoverID = "nope" }},
		{"asset without type", func(p *Package) { p.Assets[0].MediaType = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg := samplePackage()
			tt.mutate(pkg)
			if err := pkg.Validate(); !errors.Is(err, ErrInvalidPackage) {
				t.Fatalf("Validate() error = %v, want ErrInvalidPackage", err)
			}
			var buf bytes.Buffer
			if err := Write(&buf, pkg); err == nil {
				t.Fatal("Write() accepted an invalid package")
			}
			if buf.Len() != 0 {
				t.Fatalf("Write() emitted %d bytes for an invalid package", buf.Len())
			}
		})
	}
}
