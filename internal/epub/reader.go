// Package epub reads EPUB containers into ordered book sections.
package epub

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"bookscroll/internal/ingest"
)

const containerPath = "META-INF/container.xml"

// maxEntryBytes bounds a single decompressed entry.
const maxEntryBytes = 32 << 20

var (
	ErrInvalidContainer = errors.New("invalid epub container")
	ErrMissingEntry     = errors.New("missing epub entry")
)

type container struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type packageDoc struct {
	Metadata struct {
		Titles   []string `xml:"title"`
		Creators []string `xml:"creator"`
	} `xml:"metadata"`
	Items []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

type Reader struct{}

func NewReader() *Reader {
	return &Reader{}
}

// Open reads the book at path. Sections follow the spine order.
func (r *Reader) Open(ctx context.Context, p string) (*ingest.Book, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContainer, err)
	}
	defer zr.Close()

	book, err := r.Read(ctx, &zr.Reader)
	if err != nil {
		return nil, err
	}
	if book.Title == "" {
		book.Title = strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	}
	return book, nil
}

// Read parses an already opened archive.
func (r *Reader) Read(ctx context.Context, zr *zip.Reader) (*ingest.Book, error) {
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	var c container
	if err := decodeXML(files, containerPath, &c); err != nil {
		return nil, err
	}
	if len(c.Rootfiles) == 0 || c.Rootfiles[0].FullPath == "" {
		return nil, fmt.Errorf("%w: no rootfile", ErrInvalidContainer)
	}
	opfPath := c.Rootfiles[0].FullPath

	var pkg packageDoc
	if err := decodeXML(files, opfPath, &pkg); err != nil {
		return nil, err
	}

	book := &ingest.Book{
		Title:  first(pkg.Metadata.Titles),
		Author: strings.Join(trimAll(pkg.Metadata.Creators), ", "),
	}

	hrefs := make(map[string]string, len(pkg.Items))
	for _, it := range pkg.Items {
		if isMarkup(it.MediaType) {
			hrefs[it.ID] = it.Href
		}
	}

	base := path.Dir(opfPath)
	for _, ref := range pkg.Spine {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		href, ok := hrefs[ref.IDRef]
		if !ok {
			continue
		}
		name, err := resolve(base, href)
		if err != nil {
			continue
		}
		raw, err := readEntry(files, name)
		if err != nil {
			return nil, err
		}
		book.Sections = append(book.Sections, ingest.Section{
			ID:    ref.IDRef,
			Title: documentTitle(raw),
			Raw:   string(raw),
		})
	}
	return book, nil
}

func decodeXML(files map[string]*zip.File, name string, v interface{}) error {
	raw, err := readEntry(files, name)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidContainer, name, err)
	}
	return nil
}

func readEntry(files map[string]*zip.File, name string) ([]byte, error) {
	f, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingEntry, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return raw, nil
}

// resolve turns a manifest href into an archive entry name.
func resolve(base, href string) (string, error) {
	href, _, _ = strings.Cut(href, "#")
	unescaped, err := url.PathUnescape(href)
	if err != nil {
		return "", err
	}
	if base == "." {
		return path.Clean(unescaped), nil
	}
	return path.Join(base, unescaped), nil
}

func isMarkup(mediaType string) bool {
	switch mediaType {
	case "application/xhtml+xml", "text/html", "application/x-dtbook+xml":
		return true
	}
	return false
}

func documentTitle(raw []byte) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
