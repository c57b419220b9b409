// Package chunker splits long text into overlapping, size-bounded chunks.
//
// The splitter is recursive: it tries the coarsest separator first (paragraph
// breaks), and only falls back to finer separators for pieces that are still
// larger than the chunk size. Pieces are merged back into windows of at most
// ChunkSize characters, each window repeating at least ChunkOverlap
// characters from the end of the previous one.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/rag"
)

const (
	// DefaultChunkSize is the maximum chunk length in characters.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is the number of characters shared by neighbouring chunks.
	DefaultChunkOverlap = 200
	// DefaultMinLength drops chunks shorter than this after trimming.
	DefaultMinLength = 10
)

// DefaultSeparators are tried in order, coarsest first. The empty separator
// splits into single characters and always terminates the recursion.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter splits text into rag.Chunks. A Splitter is immutable and safe for
// concurrent use.
type Splitter struct {
	// chunkSize is the maximum chunk length in characters.
	chunkSize int
	// chunkOverlap is the overlap carried from one window into the next.
	chunkOverlap int
	// minLength is the minimum trimmed chunk length kept in the output.
	minLength int
	// separators are tried in order.
	separators []string
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithChunkSize sets the maximum chunk length in characters.
func WithChunkSize(n int) Option { return func(s *Splitter) { s.chunkSize = n } }

// WithChunkOverlap sets the overlap between neighbouring chunks.
func WithChunkOverlap(n int) Option { return func(s *Splitter) { s.chunkOverlap = n } }

// WithMinLength sets the minimum trimmed length of a kept chunk.
func WithMinLength(n int) Option { return func(s *Splitter) { s.minLength = n } }

// WithSeparators replaces the separator list.
func WithSeparators(seps ...string) Option {
	return func(s *Splitter) { s.separators = append([]string(nil), seps...) }
}

// New returns a Splitter with the defaults overridden by opts.
func New(opts ...Option) (*Splitter, error) {
	s := &Splitter{
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
		minLength:    DefaultMinLength,
		separators:   DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.chunkSize <= 0 {
		return nil, fmt.Errorf("chunker: chunk size must be positive, got %d", s.chunkSize)
	}
	if s.chunkOverlap < 0 || s.chunkOverlap >= s.chunkSize {
		return nil, fmt.Errorf("chunker: chunk overlap %d must be in [0, %d)", s.chunkOverlap, s.chunkSize)
	}
	if len(s.separators) == 0 {
		return nil, fmt.Errorf("chunker: at least one separator is required")
	}
	return s, nil
}

// Split cuts text into chunks. Chunk.Index is the position in the returned
// slice; Chunk.Offset is the byte offset of the chunk in text, or -1 when the
// trimmed chunk cannot be located. A text that produces no chunk of at least
// the minimum length yields an empty slice.
//
// Every chunk after the first starts with at least ChunkOverlap characters
// (or the whole previous chunk, if shorter) taken from the end of the chunk
// before it.
func (s *Splitter) Split(text string) ([]rag.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("chunker: %w", bookerr.ErrEmptyInput)
	}

	windows := s.merge(s.atoms(text, s.separators, s.chunkSize))

	chunks := make([]rag.Chunk, 0, len(windows))
	cursor := 0
	for _, w := range windows {
		if utf8.RuneCountInString(w) < s.minLength {
			continue
		}

		offset := -1
		if i := strings.Index(text[cursor:], w); i >= 0 {
			offset = cursor + i
			cursor = offset
		}

		chunks = append(chunks, rag.Chunk{
			Text:   w,
			Index:  len(chunks),
			Offset: offset,
		})
	}
	return chunks, nil
}

// atoms recursively divides text into pieces of at most limit characters,
// using the first separator that occurs in it and finer ones for pieces that
// are still too long. Concatenating the result gives back text.
func (s *Splitter) atoms(text string, separators []string, limit int) []string {
	sep := separators[len(separators)-1]
	var finer []string
	for i, candidate := range separators {
		if candidate == "" {
			sep = ""
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			finer = separators[i+1:]
			break
		}
	}
	if len(finer) == 0 {
		finer = []string{""}
	}

	var out []string
	for _, piece := range splitKeepingSeparator(text, sep) {
		if sep == "" || length(piece) <= limit {
			out = append(out, piece)
			continue
		}
		out = append(out, s.atoms(piece, finer, limit)...)
	}
	return out
}

// merge packs consecutive atoms into windows of at most chunkSize characters
// and returns them trimmed. Each window after the first opens with the tail
// of the previous one; an atom that does not fit next to that tail is split
// again to fill the room left.
func (s *Splitter) merge(atoms []string) []string {
	var (
		windows []string
		current []string
		total   int
		// fresh is set once the window holds text beyond the carried tail.
		fresh bool
	)

	for len(atoms) > 0 {
		p := atoms[0]
		n := length(p)

		if total+n > s.chunkSize && fresh {
			raw := strings.Join(current, "")
			windows = append(windows, strings.TrimSpace(raw))
			current, total, fresh = nil, 0, false
			if tail := s.tail(raw); tail != "" && length(tail) < s.chunkSize {
				current, total = []string{tail}, length(tail)
			}
		}

		if total+n > s.chunkSize {
			room := s.chunkSize - total
			if room <= 0 {
				current, total = nil, 0
				continue
			}
			atoms = append(s.atoms(p, s.separators, room), atoms[1:]...)
			continue
		}

		current = append(current, p)
		total += n
		if strings.TrimSpace(p) != "" {
			fresh = true
		}
		atoms = atoms[1:]
	}

	if fresh {
		windows = append(windows, strings.TrimSpace(strings.Join(current, "")))
	}
	return windows
}

// tail returns the suffix of the window raw that the next window starts
// with: at least chunkOverlap characters of its trimmed text, beginning on a
// non-space character, moved back to the start of a word when one is within
// half the overlap. Trailing whitespace of raw is kept so the next window
// stays contiguous with the source text.
func (s *Splitter) tail(raw string) string {
	if s.chunkOverlap == 0 {
		return ""
	}
	body := strings.TrimRightFunc(raw, unicode.IsSpace)
	trailing := raw[len(body):]
	runes := []rune(body)

	start := len(runes) - s.chunkOverlap
	if start <= 0 {
		return strings.TrimLeftFunc(raw, unicode.IsSpace)
	}
	for start > 0 && unicode.IsSpace(runes[start]) {
		start--
	}
	snap := start
	for snap > 0 && !unicode.IsSpace(runes[snap-1]) && start-snap < s.chunkOverlap/2 {
		snap--
	}
	if snap == 0 || unicode.IsSpace(runes[snap-1]) {
		start = snap
	}
	return string(runes[start:]) + trailing
}

// splitKeepingSeparator splits text on sep and prefixes every piece after the
// first with the separator it was split on. An empty sep splits into runes.
// Empty pieces are dropped.
func splitKeepingSeparator(text, sep string) []string {
	var parts []string
	if sep == "" {
		parts = make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
		return parts
	}

	raw := strings.Split(text, sep)
	parts = make([]string, 0, len(raw))
	for i, r := range raw {
		if i > 0 {
			r = sep + r
		}
		if r != "" {
			parts = append(parts, r)
		}
	}
	return parts
}

func length(s string) int { return utf8.RuneCountInString(s) }
