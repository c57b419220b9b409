// Package extract pulls plain text out of PDF documents page by page.
// A page that fails to decode is logged and skipped; only a document that
// cannot be opened, is locked by a non-empty password, or yields no text at
// all is reported as an error.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/logging"
)

// PageSeparator is appended after every extracted page.
const PageSeparator = "\n"

// Document is the text extracted from one PDF.
type Document struct {
	// Text is the concatenation of every readable page, each followed by
	// PageSeparator.
	Text string

	// Pages is the total page count reported by the document.
	Pages int

	// PageStarts holds, for each page that contributed text, the byte offset
	// in Text where it begins. It is parallel to PageNumbers.
	PageStarts []int

	// PageNumbers holds the 1-based page number of each PageStarts entry.
	PageNumbers []int

	// Skipped lists the 1-based page numbers whose extraction failed.
	Skipped []int
}

// PageAt returns the 1-based page number containing byte offset off in Text,
// or 0 when off is outside every extracted page.
func (d *Document) PageAt(off int) int {
	if off < 0 || len(d.PageStarts) == 0 {
		return 0
	}
	i := sort.Search(len(d.PageStarts), func(i int) bool { return d.PageStarts[i] > off })
	if i == 0 {
		return 0
	}
	return d.PageNumbers[i-1]
}

// File reads the PDF at path and extracts its text.
func File(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: read %s: %w: %w", path, bookerr.ErrSourceNotFound, err)
	}
	return Text(ctx, data)
}

// Text extracts the text of every page of the PDF held in data.
// Encrypted documents are opened with the empty password; any other password
// results in bookerr.ErrEncryptedDocument.
func Text(ctx context.Context, data []byte) (*Document, error) {
	log := logging.FromContext(ctx)

	if len(data) == 0 {
		return nil, fmt.Errorf("extract: %w: empty input", bookerr.ErrSourceNotFound)
	}

	r, err := open(data)
	if err != nil {
		if isEncryptionError(err) {
			return nil, fmt.Errorf("extract: %w: %w", bookerr.ErrEncryptedDocument, err)
		}
		return nil, fmt.Errorf("extract: open: %w: %w", bookerr.ErrSourceNotFound, err)
	}

	doc := &Document{Pages: r.NumPage()}
	var sb strings.Builder

	for i := 1; i <= doc.Pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}

		text, err := pageText(r, i)
		if err != nil {
			log.Warn("extract: skipping unreadable page",
				slog.Int("page", i),
				slog.Any("error", err),
			)
			doc.Skipped = append(doc.Skipped, i)
			continue
		}
		if text == "" {
			continue
		}

		doc.PageStarts = append(doc.PageStarts, sb.Len())
		doc.PageNumbers = append(doc.PageNumbers, i)
		sb.WriteString(text)
		sb.WriteString(PageSeparator)
	}

	doc.Text = sb.String()
	if strings.TrimSpace(doc.Text) == "" {
		return nil, fmt.Errorf("extract: %w (%d pages, %d skipped)",
			bookerr.ErrEmptyContent, doc.Pages, len(doc.Skipped))
	}

	log.Debug("extract: document extracted",
		slog.Int("pages", doc.Pages),
		slog.Int("skipped", len(doc.Skipped)),
		slog.Int("chars", len(doc.Text)),
	)
	return doc, nil
}

// Metadata returns the Title and Author declared in the document information
// dictionary. Either may be empty.
func Metadata(data []byte) (title, author string, err error) {
	r, err := open(data)
	if err != nil {
		if isEncryptionError(err) {
			return "", "", fmt.Errorf("extract: %w: %w", bookerr.ErrEncryptedDocument, err)
		}
		return "", "", fmt.Errorf("extract: open: %w: %w", bookerr.ErrSourceNotFound, err)
	}
	title, author = info(r)
	return title, author, nil
}

// open parses the PDF. The pdf package already retries encrypted documents
// with the empty password and returns pdf.ErrInvalidPassword otherwise.
// It panics on some malformed inputs, which are reported as errors.
func open(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("malformed pdf: %v", p)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

// pageText extracts page i, turning decoder panics into errors.
func pageText(r *pdf.Reader, i int) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("page %d: %v", i, p)
		}
	}()

	page := r.Page(i)
	if page.V.IsNull() {
		return "", nil
	}
	text, err = page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("page %d: %w", i, err)
	}
	return text, nil
}

// info reads Title and Author from the trailer's Info dictionary.
func info(r *pdf.Reader) (title, author string) {
	defer func() {
		if p := recover(); p != nil {
			title, author = "", ""
		}
	}()
	d := r.Trailer().Key("Info")
	return strings.TrimSpace(d.Key("Title").Text()), strings.TrimSpace(d.Key("Author").Text())
}

// isEncryptionError reports whether err came from the decryption step.
func isEncryptionError(err error) bool {
	if errors.Is(err, pdf.ErrInvalidPassword) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "encrypt")
}
