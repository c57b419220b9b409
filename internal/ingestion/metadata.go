package ingestion

import (
	"path/filepath"
	"strings"

	"github.com/54b3r/bookqa-go/internal/extract"
)

// Metadata origins reported in InferredMetadata.
const (
	OriginExplicit = "explicit"
	OriginPDF      = "pdf"
	OriginFilename = "filename"
)

// InferredMetadata holds the title and author to ingest a book under, with
// the origin of each value. Explicit values always take precedence over
// inferred ones; this is the best-effort fallback when the caller omits them.
type InferredMetadata struct {
	// Title is the resolved book title.
	Title string
	// Author is the resolved book author.
	Author string
	// TitleOrigin is one of OriginExplicit, OriginPDF, OriginFilename or "".
	TitleOrigin string
	// AuthorOrigin is one of OriginExplicit, OriginPDF, OriginFilename or "".
	AuthorOrigin string
}

// Complete reports whether both title and author were resolved.
func (m InferredMetadata) Complete() bool {
	return m.Title != "" && m.Author != ""
}

// filenameSeparators split "Title - Author.pdf" style file names, tried in order.
var filenameSeparators = []string{" - ", "__", " by "}

// InferMetadata resolves title and author for an upload. Each field is taken
// from the explicit value when set, then from the PDF information
// dictionary, then from the file name.
//
// Supported file name patterns:
//
//	Title - Author.pdf
//	Title__Author.pdf
//	Title by Author.pdf
//	Title.pdf            (title only)
func InferMetadata(title, author, filename string, pdf []byte) InferredMetadata {
	m := InferredMetadata{}
	set := func(dst, origin *string, v, o string) {
		if *dst == "" && strings.TrimSpace(v) != "" {
			*dst, *origin = strings.TrimSpace(v), o
		}
	}

	set(&m.Title, &m.TitleOrigin, title, OriginExplicit)
	set(&m.Author, &m.AuthorOrigin, author, OriginExplicit)
	if m.Complete() {
		return m
	}

	if len(pdf) > 0 {
		if t, a, err := extract.Metadata(pdf); err == nil {
			set(&m.Title, &m.TitleOrigin, t, OriginPDF)
			set(&m.Author, &m.AuthorOrigin, a, OriginPDF)
		}
	}
	if m.Complete() {
		return m
	}

	t, a := splitFilename(filename)
	set(&m.Title, &m.TitleOrigin, t, OriginFilename)
	set(&m.Author, &m.AuthorOrigin, a, OriginFilename)
	return m
}

// splitFilename derives a title and optional author from a file name.
func splitFilename(name string) (title, author string) {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		return "", ""
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	for _, sep := range filenameSeparators {
		if t, a, ok := strings.Cut(base, sep); ok {
			return clean(t), clean(a)
		}
	}
	return clean(base), ""
}

// clean turns underscores into spaces and collapses whitespace.
func clean(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), " ")
}
