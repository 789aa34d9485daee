// Package epub reads package metadata out of EPUB files.
package epub

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/JakeFAU/zeit-on-tolino/internal/epaper"
)

const containerPath = "META-INF/container.xml"

var (
	// ErrNoContainer means the archive lacks META-INF/container.xml.
	ErrNoContainer = errors.New("epub: missing " + containerPath)
	// ErrNoRootfile means the container does not point at a package document.
	ErrNoRootfile = errors.New("epub: container has no rootfile")
	// ErrNoTitle means the package metadata carries no dc:title.
	ErrNoTitle = errors.New("epub: package has no title")
)

// Reader implements epaper.MetadataReader.
type Reader struct{}

// NewReader returns a metadata reader.
func NewReader() Reader {
	return Reader{}
}

// Read implements epaper.MetadataReader.
func (Reader) Read(path string) (epaper.Metadata, error) {
	return Read(path)
}

// Read opens the EPUB at filePath and returns its package metadata.
func Read(filePath string) (epaper.Metadata, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return epaper.Metadata{}, fmt.Errorf("open epub %s: %w", filePath, err)
	}
	defer zr.Close() //nolint:errcheck // read-only archive

	return readArchive(&zr.Reader)
}

func readArchive(zr *zip.Reader) (epaper.Metadata, error) {
	container, err := parseEntry(zr, containerPath)
	if err != nil {
		if errors.Is(err, errEntryMissing) {
			return epaper.Metadata{}, ErrNoContainer
		}
		return epaper.Metadata{}, err
	}
	rootfile := xmlquery.FindOne(container, "//*[local-name()='rootfile']")
	if rootfile == nil {
		return epaper.Metadata{}, ErrNoRootfile
	}
	opfPath := strings.TrimSpace(rootfile.SelectAttr("full-path"))
	if opfPath == "" {
		return epaper.Metadata{}, ErrNoRootfile
	}

	pkg, err := parseEntry(zr, path.Clean(opfPath))
	if err != nil {
		return epaper.Metadata{}, fmt.Errorf("read package document: %w", err)
	}
	meta := epaper.Metadata{
		Title:      first(pkg, "title"),
		Creators:   all(pkg, "creator"),
		Language:   first(pkg, "language"),
		Identifier: first(pkg, "identifier"),
		Publisher:  first(pkg, "publisher"),
		Date:       first(pkg, "date"),
	}
	if meta.Title == "" {
		return meta, ErrNoTitle
	}
	return meta, nil
}

var errEntryMissing = errors.New("entry missing")

func parseEntry(zr *zip.Reader, name string) (*xmlquery.Node, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close() //nolint:errcheck // read-only entry
		doc, err := xmlquery.Parse(io.LimitReader(rc, 8<<20))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		return doc, nil
	}
	return nil, fmt.Errorf("%s: %w", name, errEntryMissing)
}

func metadataQuery(field string) string {
	return fmt.Sprintf("//*[local-name()='metadata']/*[local-name()='%s']", field)
}

func first(doc *xmlquery.Node, field string) string {
	n := xmlquery.FindOne(doc, metadataQuery(field))
	if n == nil {
		return ""
	}
	return normalize(n.InnerText())
}

func all(doc *xmlquery.Node, field string) []string {
	var out []string
	for _, n := range xmlquery.Find(doc, metadataQuery(field)) {
		if v := normalize(n.InnerText()); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
