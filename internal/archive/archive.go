// Package archive names and stores copies of downloaded issues.
package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"
)

// ContentType is the media type EPUB objects are stored with.
const ContentType = "application/epub+zip"

// Provider names accepted in configuration.
const (
	ProviderNone  = "none"
	ProviderLocal = "local"
	ProviderGCS   = "gcs"
)

var (
	unsafeChars = regexp.MustCompile(`[^a-z0-9]+`)
	umlauts     = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss")
)

// Key builds the object key <prefix>/<yyyy>/<title>-<sha256[:12]>.epub.
func Key(prefix, title, sha string, at time.Time) string {
	name := umlauts.Replace(strings.ToLower(title))
	name = strings.Trim(unsafeChars.ReplaceAllString(name, "-"), "-")
	if name == "" {
		name = "epaper"
	}
	if len(sha) > 12 {
		sha = sha[:12]
	}
	file := name + ".epub"
	if sha != "" {
		file = fmt.Sprintf("%s-%s.epub", name, sha)
	}
	return path.Join(strings.Trim(prefix, "/"), fmt.Sprintf("%04d", at.Year()), file)
}

// NoopStore accepts objects without storing them.
type NoopStore struct{}

// PutObject drains nothing and returns an empty URI.
func (NoopStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", nil
}
