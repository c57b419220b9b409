package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/ingestion"
	"github.com/54b3r/bookqa-go/internal/logging"
	"github.com/54b3r/bookqa-go/internal/registry"
)

// maxQueryBody caps the JSON body of a query request.
const maxQueryBody = 64 << 10

// handleListBooks handles GET /api/books.
func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, warnings, err := s.books.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := listBooksResponse{Books: make([]bookResponse, 0, len(books)), Warnings: warnings}
	for _, b := range books {
		resp.Books = append(resp.Books, s.toBook(b))
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleGetBook handles GET /api/books/{id}.
func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	b, err := s.books.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.toBook(b))
}

// handleQuery handles POST /api/books/{id}/query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := "error"
	defer func() {
		s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	if s.querier == nil {
		writeError(w, r, fmt.Errorf("server: %w: query pipeline unavailable", bookerr.ErrConfiguration))
		return
	}

	var req queryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxQueryBody)).Decode(&req); err != nil {
		outcome = "invalid"
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "Cuerpo de la solicitud inválido."})
		return
	}

	ans, err := s.querier.Query(r.Context(), r.PathValue("id"), req.Question)
	if err != nil {
		switch statusFor(err) {
		case http.StatusGatewayTimeout:
			outcome = "timeout"
		case http.StatusBadRequest, http.StatusNotFound:
			outcome = "invalid"
		}
		writeError(w, r, err)
		return
	}

	outcome = "ok"
	if ans.Refused {
		outcome = "refused"
	}
	writeJSON(w, r, http.StatusOK, queryResponse{
		Answer:  ans.Text,
		Refused: ans.Refused,
		Sources: toSources(ans.Sources),
	})
}

// handleIngest handles POST /api/books. The body is multipart with a "file"
// part and optional "title" and "author" fields; missing metadata is
// inferred from the PDF and the file name.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := "error"
	defer func() {
		s.metrics.ingestRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.ingestDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	if s.ingester == nil {
		writeError(w, r, fmt.Errorf("server: %w: ingestion pipeline unavailable", bookerr.ErrConfiguration))
		return
	}

	tooLarge := func() {
		writeJSON(w, r, http.StatusRequestEntityTooLarge, errorResponse{
			Error: fmt.Sprintf("El archivo supera el tamaño máximo de %d MB.", max(s.cfg.MaxUploadBytes>>20, 1)),
		})
	}
	if r.ContentLength > s.cfg.MaxUploadBytes {
		outcome = "invalid"
		tooLarge()
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	data, filename, err := readUpload(r)
	if err != nil {
		outcome = "invalid"
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			tooLarge()
			return
		}
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "Se requiere un archivo PDF en el campo \"file\"."})
		return
	}

	meta := ingestion.InferMetadata(r.FormValue("title"), r.FormValue("author"), filename, data)
	ctx, log := logging.With(r.Context(),
		slog.String("title", meta.Title),
		slog.String("title_origin", meta.TitleOrigin),
		slog.String("author_origin", meta.AuthorOrigin),
	)

	id, err := s.ingester.Ingest(ctx, ingestion.Source{PDF: data, Title: meta.Title, Author: meta.Author},
		func(msg string) { log.Debug("ingest: progress", slog.String("step", msg)) })
	if err != nil {
		if statusFor(err) == http.StatusBadRequest {
			outcome = "invalid"
		}
		writeError(w, r, err)
		return
	}

	outcome = "ok"
	writeJSON(w, r, http.StatusCreated, s.toBook(registry.Book{ID: id, Title: meta.Title, Author: meta.Author}))
}

// readUpload returns the bytes and client file name of the "file" part.
func readUpload(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, "", err
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", errors.New("empty upload")
	}
	return data, hdr.Filename, nil
}

// handleDeleteBook handles DELETE /api/books/{id}.
func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	removed, err := s.books.Remove(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, deleteResponse{Removed: removed})
}

// handleSweep handles POST /api/admin/sweep.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	swept, err := s.books.Sweep(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if swept == nil {
		swept = []string{}
	}
	writeJSON(w, r, http.StatusOK, sweepResponse{Swept: swept})
}

// toBook converts a catalog entry to its wire form with its access link.
func (s *Server) toBook(b registry.Book) bookResponse {
	return bookResponse{ID: b.ID, Title: b.Title, Author: b.Author, Link: registry.Link(s.cfg.PublicURL, b.ID)}
}
