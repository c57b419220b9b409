// Package pdffixture builds tiny PDF documents for tests.
package pdffixture

import (
	"bytes"
	"crypto/md5" //nolint:gosec // PDF standard security handler
	"crypto/rc4" //nolint:gosec // PDF standard security handler
	"encoding/hex"
	"fmt"
	"strings"
)

// passwordPad is the padding string of the PDF standard security handler.
var passwordPad = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41, 0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80, 0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

// permissions is the /P entry written for encrypted documents.
const permissions int32 = -4

var (
	fileID     = bytes.Repeat([]byte{0xab}, 16)
	ownerEntry = bytes.Repeat([]byte{0x11}, 32)
)

// layout describes the document build assembles.
type layout struct {
	// pages holds one text line per page.
	pages []string
	// locked adds a security handler with a non-empty user password.
	locked bool
	// sealed encrypts the document with an empty user password.
	sealed bool
	// broken is the 1-based page whose content stream cannot be
	// interpreted; zero for none.
	broken int
	// title and author fill the information dictionary when set.
	title, author string
}

// Build assembles a minimal PDF with one text line per page. Page text must
// not contain unbalanced parentheses or backslashes. When locked is true the
// trailer carries a standard security handler whose user password is not
// empty, so readers refuse to open it without a password.
func Build(pages []string, locked bool) []byte {
	return build(layout{pages: pages, locked: locked})
}

// BuildWithInfo is Build with a document information dictionary declaring
// title and author.
func BuildWithInfo(pages []string, title, author string) []byte {
	return build(layout{pages: pages, title: title, author: author})
}

// BuildEncrypted is Build with every content stream RC4-encrypted under a
// revision 3, 128-bit standard security handler whose user password is
// empty. Readers open it without asking for a password.
func BuildEncrypted(pages []string) []byte {
	return build(layout{pages: pages, sealed: true})
}

// BuildWithBrokenPage is Build where page broken (1-based) carries a content
// stream with a text operator missing its operand.
func BuildWithBrokenPage(pages []string, broken int) []byte {
	return build(layout{pages: pages, broken: broken})
}

func build(l layout) []byte {
	var key []byte
	if l.sealed {
		key = fileKey()
	}

	var objs []string
	kids := make([]string, 0, len(l.pages))
	// 1: catalog, 2: pages, 3: font, then page/content pairs.
	for i := range l.pages {
		kids = append(kids, fmt.Sprintf("%d 0 R", 4+2*i))
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(l.pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)
	for i, text := range l.pages {
		content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
		if i+1 == l.broken {
			content = "BT /F1 12 Tf 72 712 Td Tj ET"
		}
		num := 5 + 2*i
		data := []byte(content)
		if key != nil {
			data = crypt(objectKey(key, num), data)
		}
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", num),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(data), data),
		)
	}

	infoRef := ""
	if l.title != "" || l.author != "" {
		objs = append(objs, fmt.Sprintf("<< /Title (%s) /Author (%s) >>", l.title, l.author))
		infoRef = fmt.Sprintf(" /Info %d 0 R", len(objs))
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}

	trailer := fmt.Sprintf("/Size %d /Root 1 0 R%s", len(objs)+1, infoRef)
	id := hex.EncodeToString(fileID)
	switch {
	case l.sealed:
		trailer += fmt.Sprintf(
			" /ID [<%s> <%s>] /Encrypt << /Filter /Standard /V 2 /R 3 /Length 128 /P %d /O <%s> /U <%s> >>",
			id, id, permissions, hex.EncodeToString(ownerEntry), hex.EncodeToString(userEntry(key)))
	case l.locked:
		trailer += fmt.Sprintf(
			" /ID [<%s> <%s>] /Encrypt << /Filter /Standard /V 1 /R 2 /Length 40 /P %d /O <%s> /U <%s> >>",
			id, id, permissions, strings.Repeat("11", 32), strings.Repeat("22", 32))
	}
	fmt.Fprintf(&buf, "trailer\n<< %s >>\nstartxref\n%d\n%%%%EOF\n", trailer, xref)
	return buf.Bytes()
}

// fileKey derives the 128-bit document key for the empty user password.
func fileKey() []byte {
	p := uint32(permissions)
	h := md5.New() //nolint:gosec
	h.Write(passwordPad)
	h.Write(ownerEntry)
	h.Write([]byte{byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)})
	h.Write(fileID)
	key := h.Sum(nil)
	for range 50 {
		sum := md5.Sum(key) //nolint:gosec
		key = sum[:]
	}
	return key
}

// userEntry computes the /U value that validates the empty user password.
func userEntry(key []byte) []byte {
	h := md5.New() //nolint:gosec
	h.Write(passwordPad)
	h.Write(fileID)
	u := crypt(key, h.Sum(nil))
	for i := 1; i <= 19; i++ {
		k := make([]byte, len(key))
		for j := range key {
			k[j] = key[j] ^ byte(i)
		}
		u = crypt(k, u)
	}
	return append(u, make([]byte, 16)...)
}

// objectKey derives the RC4 key of object num, generation 0.
func objectKey(key []byte, num int) []byte {
	h := md5.New() //nolint:gosec
	h.Write(key)
	h.Write([]byte{byte(num), byte(num >> 8), byte(num >> 16), 0, 0})
	return h.Sum(nil)
}

func crypt(key, data []byte) []byte {
	c, err := rc4.NewCipher(key) //nolint:gosec
	if err != nil {
		panic(err)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out
}
