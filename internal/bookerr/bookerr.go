// Package bookerr defines the error taxonomy shared by the ingestion and query
// pipelines. Components wrap these sentinels with fmt.Errorf("...: %w") so
// callers classify failures with errors.Is, and the CLI and HTTP layers turn
// any of them into a single human-readable line with [Message].
package bookerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSourceNotFound is returned when the PDF input cannot be opened at all.
	ErrSourceNotFound = errors.New("source not found")
	// ErrEncryptedDocument is returned when a PDF is encrypted and the empty
	// password does not unlock it.
	ErrEncryptedDocument = errors.New("document is encrypted")
	// ErrEmptyContent is returned when extraction yields no usable text.
	ErrEmptyContent = errors.New("document has no extractable text")
	// ErrEmptyInput is returned when text or a question is empty.
	ErrEmptyInput = errors.New("empty input")
	// ErrEmptyIndex is returned when an index is built from zero chunks.
	ErrEmptyIndex = errors.New("index has no chunks")
	// ErrEmbeddingService wraps every embedding backend failure, timeouts included.
	ErrEmbeddingService = errors.New("embedding service failure")
	// ErrGenerationService wraps every LLM backend failure, timeouts included.
	ErrGenerationService = errors.New("generation service failure")
	// ErrPartialPersist is returned when only some index artifacts were stored.
	ErrPartialPersist = errors.New("index partially persisted")
	// ErrBookNotFound is returned when a book id has no catalog entry.
	ErrBookNotFound = errors.New("book not found")
	// ErrConfiguration is returned when credentials or settings are missing or invalid.
	ErrConfiguration = errors.New("configuration error")

	// ErrNoChunks is returned by ingestion when chunking produced nothing usable.
	ErrNoChunks = errors.New("no usable chunks")
	// ErrInvalidBook is returned when title or author are empty.
	ErrInvalidBook = errors.New("invalid book metadata")
	// ErrStorage wraps blob store failures, timeouts included.
	ErrStorage = errors.New("blob storage failure")
	// ErrCorruptIndex is returned when serialized index artifacts cannot be decoded.
	ErrCorruptIndex = errors.New("index artifacts are corrupt")
	// ErrPartialDelete is returned when some blobs of a removed book survived.
	ErrPartialDelete = errors.New("book partially deleted")
	// ErrUnauthorized is returned when the administrator secret does not match.
	ErrUnauthorized = errors.New("unauthorized")
)

// PartialPersistError reports an index upload where at least one artifact
// failed. Written lists the keys that did reach the blob store.
type PartialPersistError struct {
	// BookID is the book whose index was being stored.
	BookID string
	// Written holds the keys stored before the failure.
	Written []string
	// Failed is the key whose upload failed.
	Failed string
	// Err is the underlying storage error.
	Err error
}

// Error implements error.
func (e *PartialPersistError) Error() string {
	return fmt.Sprintf("index partially persisted for book %s: %s failed (written: %s): %v",
		e.BookID, e.Failed, strings.Join(e.Written, ", "), e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *PartialPersistError) Unwrap() []error {
	return []error{ErrPartialPersist, e.Err}
}

// DeleteError reports blobs that could not be removed for a deleted book.
type DeleteError struct {
	// BookID is the book being removed.
	BookID string
	// Failed lists the keys whose deletion failed.
	Failed []string
	// Err joins the underlying errors.
	Err error
}

// Error implements error.
func (e *DeleteError) Error() string {
	return fmt.Sprintf("book %s: %d blob(s) not deleted (%s): %v",
		e.BookID, len(e.Failed), strings.Join(e.Failed, ", "), e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *DeleteError) Unwrap() []error {
	return []error{ErrPartialDelete, e.Err}
}

// messages maps each sentinel to its user-facing line. Order matters: the
// first match wins, so more specific kinds come before generic ones.
var messages = []struct {
	err error
	msg string
}{
	{ErrConfiguration, "El servicio no está configurado correctamente. Contacte al administrador."},
	{ErrUnauthorized, "Contraseña de administrador incorrecta."},
	{ErrBookNotFound, "El libro solicitado no existe."},
	{ErrSourceNotFound, "No se pudo abrir el archivo PDF."},
	{ErrEncryptedDocument, "El archivo PDF está encriptado y no se pudo abrir."},
	{ErrEmptyContent, "No se pudo extraer texto del PDF."},
	{ErrNoChunks, "El PDF no contiene texto suficiente para indexar."},
	{ErrEmptyIndex, "El PDF no contiene texto suficiente para indexar."},
	{ErrEmptyInput, "El texto recibido está vacío."},
	{ErrInvalidBook, "El título y el autor son obligatorios."},
	{ErrEmbeddingService, "No se pudo contactar el servicio de embeddings. Inténtelo más tarde."},
	{ErrGenerationService, "No se pudo generar la respuesta. Inténtelo más tarde."},
	{ErrPartialPersist, "No se pudo guardar el índice del libro."},
	{ErrPartialDelete, "El libro se eliminó del catálogo, pero algunos archivos no se pudieron borrar."},
	{ErrCorruptIndex, "El índice del libro está dañado. Vuelva a procesar el libro."},
	{ErrStorage, "Error de almacenamiento. Inténtelo más tarde."},
}

// Known reports whether err wraps one of the sentinels above.
func Known(err error) bool {
	for _, m := range messages {
		if errors.Is(err, m.err) {
			return true
		}
	}
	return false
}

// Message converts err into a single human-readable line suitable for end
// users. It never includes identifiers, keys, or wrapped error text.
func Message(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range messages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return "Error al procesar la solicitud."
}
