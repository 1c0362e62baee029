package epub

import (
	"testing"
)

func TestParseOPF_EPUB20(t *testing.T) {
	opfContent := `<?xml version="1.0" encoding="UTF-8"?>
<package version="2.0" xmlns="http://www.idpf.org/2007/opf" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">
    <dc:title>Sample Book Title</dc:title>
    <dc:creator id="a1">John Doe</dc:creator>
    <dc:language>en</dc:language>
    <dc:identifier id="other">urn:isbn:0000</dc:identifier>
    <dc:identifier id="bookid">urn:isbn:1234567890</dc:identifier>
    <dc:subject>Fiction</dc:subject>
    <meta name="cover" content="cover-image"/>
  </metadata>
  <manifest>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="cover-image" href="images/cover.jpg" media-type="image/jpeg"/>
    <item id="chapter1" href="text/chapter1.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="chapter1"/>
  </spine>
</package>`

	opf, err := ParseOPF([]byte(opfContent), "OEBPS")
	if err != nil {
		t.Fatalf("ParseOPF failed: %v", err)
	}

	if opf.Metadata.Title != "Sample Book Title" {
		t.Errorf("Title = %q", opf.Metadata.Title)
	}
	if opf.Metadata.Identifier != "urn:isbn:1234567890" {
		t.Errorf("Identifier = %q, want the unique-identifier one", opf.Metadata.Identifier)
	}
	if len(opf.Metadata.Creators) != 1 || opf.Metadata.Creators[0].Role != "" {
		t.Errorf("Creators = %+v", opf.Metadata.Creators)
	}
	if opf.NCXPath != "OEBPS/toc.ncx" {
		t.Errorf("NCXPath = %q", opf.NCXPath)
	}
	if href, ok := opf.FindCoverImage(); !ok || href != "OEBPS/images/cover.jpg" {
		t.Errorf("FindCoverImage() = %q, %v", href, ok)
	}
	if len(opf.Spine) != 1 || opf.Spine[0] != "chapter1" {
		t.Errorf("Spine = %v", opf.Spine)
	}
}

func TestParseOPF_Invalid(t *testing.T) {
	if _, err := ParseOPF([]byte("<package><metadata>"), ""); err == nil {
		t.Fatal("ParseOPF accepted truncated XML")
	}
}

func TestJoinPath(t *testing.T) {
	tests := []struct {
		base, rel, want string
	}{
		{"", "a.xhtml", "a.xhtml"},
		{".", "a.xhtml", "a.xhtml"},
		{"EPUB", "xhtml/a.xhtml", "EPUB/xhtml/a.xhtml"},
		{"EPUB/xhtml", "../images/x.jpg", "EPUB/images/x.jpg"},
	}
	for _, tt := range tests {
		if got := joinPath(tt.base, tt.rel); got != tt.want {
			t.Errorf("joinPath(%q, %q) = %q, want %q", tt.base, tt.rel, got, tt.want)
		}
	}
}

func TestSplitFragment(t *testing.T) {
	tests := []struct {
		src, path, frag string
	}{
		{"xhtml/a.xhtml", "xhtml/a.xhtml", ""},
		{"xhtml/a.xhtml#p1", "xhtml/a.xhtml", "p1"},
		{"#top", "", "top"},
		{"", "", ""},
	}
	for _, tt := range tests {
		p, f := splitFragment(tt.src)
		if p != tt.path || f != tt.frag {
			t.Errorf("splitFragment(%q) = %q, %q; want %q, %q", tt.src, p, f, tt.path, tt.frag)
		}
	}
}
