package indexstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Entry is the catalog record of one book.
type Entry struct {
	// Title is the book title as entered at ingestion.
	Title string `json:"title"`

	// Author is the book author as entered at ingestion.
	Author string `json:"author"`
}

// Catalog maps book ids to their entries. It is the document stored at
// CatalogKey.
type Catalog struct {
	// Entries holds every well-formed record keyed by book id.
	Entries map[string]Entry

	// Warnings describes records that were skipped while decoding.
	Warnings []string
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{Entries: make(map[string]Entry)}
}

// IDs returns the catalog ids, sorted.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.Entries))
	for id := range c.Entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// decodeCatalog parses the stored catalog. Records that are not objects, or
// lack a non-empty title or author, are skipped and reported as warnings.
// A document that is not a JSON object at all is an error.
func decodeCatalog(data []byte) (*Catalog, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	c := NewCatalog()
	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		msg := bytes.TrimSpace(raw[id])
		if len(msg) == 0 || msg[0] != '{' {
			c.Warnings = append(c.Warnings, fmt.Sprintf("entry %s is not an object", id))
			continue
		}

		var fields map[string]any
		if err := json.Unmarshal(msg, &fields); err != nil {
			c.Warnings = append(c.Warnings, fmt.Sprintf("entry %s: %v", id, err))
			continue
		}
		title, _ := fields["title"].(string)
		author, _ := fields["author"].(string)
		if strings.TrimSpace(title) == "" || strings.TrimSpace(author) == "" {
			c.Warnings = append(c.Warnings, fmt.Sprintf("entry %s is missing a title or an author", id))
			continue
		}
		c.Entries[id] = Entry{Title: title, Author: author}
	}
	return c, nil
}

// encodeCatalog serialises the well-formed entries. Warnings are not stored.
func encodeCatalog(c *Catalog) ([]byte, error) {
	entries := c.Entries
	if entries == nil {
		entries = map[string]Entry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}
