package vectorindex

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"

	"github.com/54b3r/bookqa-go/internal/rag"
)

// Artifact names, relative to a book's namespace.
const (
	VectorsFile = "index.bin"
	PayloadFile = "index.json"
)

// formatVersion is written into both artifacts.
const formatVersion = 1

// magic prefixes index.bin.
var magic = [4]byte{'B', 'Q', 'V', 'X'}

// headerSize is magic + version + count + dim.
const headerSize = 4 + 4 + 4 + 4

// Artifacts is the serialised form of an Index.
type Artifacts struct {
	// Vectors is the index.bin content: a header followed by count*dim
	// little-endian float32 values.
	Vectors []byte

	// Payload is the index.json content describing the chunks.
	Payload []byte
}

// payload is the JSON document stored in index.json.
type payload struct {
	Version int         `json:"version"`
	Dim     int         `json:"dim"`
	Count   int         `json:"count"`
	Metric  string      `json:"metric"`
	Chunks  []rag.Chunk `json:"chunks"`
}

// Marshal serialises the index. Unmarshal of the result yields an index with
// identical chunks and bit-identical vectors.
func (x *Index) Marshal() (Artifacts, error) {
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+4*x.dim*len(x.vectors)))
	buf.Write(magic[:])
	var word [4]byte
	for _, v := range []int{formatVersion, len(x.vectors), x.dim} {
		binary.LittleEndian.PutUint32(word[:], uint32(v)) //nolint:gosec // bounded by memory
		buf.Write(word[:])
	}
	for _, row := range x.vectors {
		for _, f := range row {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(f))
			buf.Write(word[:])
		}
	}

	meta, err := json.Marshal(payload{
		Version: formatVersion,
		Dim:     x.dim,
		Count:   len(x.chunks),
		Metric:  "cosine",
		Chunks:  x.chunks,
	})
	if err != nil {
		return Artifacts{}, err
	}

	return Artifacts{Vectors: buf.Bytes(), Payload: meta}, nil
}

// Unmarshal rebuilds an Index from its artifacts. Any inconsistency between
// the two, or within either, is reported as bookerr.ErrCorruptIndex.
func Unmarshal(a Artifacts) (*Index, error) {
	if len(a.Vectors) < headerSize {
		return nil, corrupt("%s truncated (%d bytes)", VectorsFile, len(a.Vectors))
	}
	if !bytes.Equal(a.Vectors[:4], magic[:]) {
		return nil, corrupt("%s has a bad magic number", VectorsFile)
	}
	version := binary.LittleEndian.Uint32(a.Vectors[4:8])
	count := int(binary.LittleEndian.Uint32(a.Vectors[8:12]))
	dim := int(binary.LittleEndian.Uint32(a.Vectors[12:16]))

	if version != formatVersion {
		return nil, corrupt("%s version %d unsupported", VectorsFile, version)
	}
	if count == 0 || dim == 0 {
		return nil, corrupt("%s declares %d rows of dimension %d", VectorsFile, count, dim)
	}
	// The header is untrusted; sizes are checked by division before multiplying.
	body := a.Vectors[headerSize:]
	words := len(body) / 4
	if len(body)%4 != 0 || count > words/dim || count*dim != words {
		return nil, corrupt("%s has %d bytes of vectors for %d rows of dimension %d", VectorsFile, len(body), count, dim)
	}

	var p payload
	if err := json.Unmarshal(a.Payload, &p); err != nil {
		return nil, corrupt("%s: %v", PayloadFile, err)
	}
	if p.Version != formatVersion || p.Dim != dim || p.Count != count || len(p.Chunks) != count {
		return nil, corrupt("%s (version %d, dim %d, count %d, %d chunks) does not match %s (dim %d, count %d)",
			PayloadFile, p.Version, p.Dim, p.Count, len(p.Chunks), VectorsFile, dim, count)
	}

	vectors := make([][]float32, count)
	for i := range vectors {
		row := make([]float32, dim)
		for j := range row {
			off := 4 * (i*dim + j)
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(body[off : off+4]))
		}
		vectors[i] = row
	}

	return &Index{chunks: p.Chunks, vectors: vectors, dim: dim}, nil
}
