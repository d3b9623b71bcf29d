package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"folio/internal/logger"
	"folio/internal/pathutil"
	"folio/internal/storage"
)

// filePath extracts and validates the wildcard path of a /files request.
// Paths containing ".." are rejected outright rather than normalized, so a
// traversal attempt is visible to the caller as a 400.
func filePath(w http.ResponseWriter, r *http.Request) (pathutil.RelativePath, bool) {
	raw := chi.URLParam(r, "*")

	if pathutil.HasDotDot(raw) {
		logger.FromRequest(r).Warn().Str("path", raw).Msg("invalid file path")
		writeMessage(w, http.StatusBadRequest, "path contains '..'")
		return pathutil.RelativePath{}, false
	}

	p, err := pathutil.Resolve(raw)
	if err != nil {
		logger.FromRequest(r).Warn().Str("path", raw).Msg("invalid file path")
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid path: %s", raw))
		return pathutil.RelativePath{}, false
	}
	return p, true
}

// fileContent returns the request payload. Multipart requests provide the
// bytes in a "file" form field; anything else is read as the raw body.
// The caller must close the returned reader.
func fileContent(r *http.Request) (io.ReadCloser, error) {
	ct := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return r.Body, nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("bad multipart body: %w", err)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bad multipart body: %w", err)
		}
		if part.FormName() == "file" {
			return part, nil
		}
		_ = part.Close()
	}
	return nil, errors.New("missing file field")
}

// multipartContentType returns the Content-Type of a multipart file part, if
// the payload is one.
func multipartContentType(rc io.ReadCloser) string {
	if part, ok := rc.(*multipart.Part); ok {
		return part.Header.Get("Content-Type")
	}
	return ""
}

// handleCreateFile services POST /files/<path>: create a new file, refusing
// to overwrite an existing one.
func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	p, ok := filePath(w, r)
	if !ok {
		return
	}
	log := logger.FromRequest(r)

	content, err := fileContent(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	defer content.Close()

	if err := s.cfg.Files.Create(p, content); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			log.Warn().Str("path", p.String()).Msg("file already exists")
			writeMessage(w, http.StatusConflict, fmt.Sprintf("file already exists: %s", p))
			return
		}
		log.Error().Err(err).Str("path", p.String()).Msg("failed to save file")
		writeMessage(w, http.StatusInternalServerError, fmt.Sprintf("failed to save file: %v", err))
		return
	}

	log.Info().Str("path", p.String()).Msg("file created")
	writeMessage(w, http.StatusCreated, "file created successfully")
}

// handleUpsertFile services PUT /files/<path>: create or replace.
func (s *Server) handleUpsertFile(w http.ResponseWriter, r *http.Request) {
	p, ok := filePath(w, r)
	if !ok {
		return
	}
	log := logger.FromRequest(r)

	content, err := fileContent(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	defer content.Close()

	res, err := s.cfg.Files.Upsert(p, content)
	if err != nil {
		log.Error().Err(err).Str("path", p.String()).Msg("failed to save file")
		writeMessage(w, http.StatusInternalServerError, fmt.Sprintf("failed to save file: %v", err))
		return
	}

	if res == storage.Updated {
		log.Info().Str("path", p.String()).Msg("file updated")
		writeMessage(w, http.StatusOK, "file updated successfully")
		return
	}
	log.Info().Str("path", p.String()).Msg("file created")
	writeMessage(w, http.StatusCreated, "file created successfully")
}

// handleDeleteFile services DELETE /files/<path>.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	p, ok := filePath(w, r)
	if !ok {
		return
	}
	log := logger.FromRequest(r)

	if err := s.cfg.Files.Delete(p); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			log.Warn().Str("path", p.String()).Msg("file not found")
			writeMessage(w, http.StatusNotFound, fmt.Sprintf("file not found: %s", p))
		case errors.Is(err, storage.ErrNotAFile):
			log.Warn().Str("path", p.String()).Msg("path is not a file")
			writeMessage(w, http.StatusBadRequest, fmt.Sprintf("path is not a file: %s", p))
		default:
			log.Error().Err(err).Str("path", p.String()).Msg("failed to delete file")
			writeMessage(w, http.StatusInternalServerError, fmt.Sprintf("failed to delete file: %v", err))
		}
		return
	}

	log.Info().Str("path", p.String()).Msg("file deleted")
	writeMessage(w, http.StatusOK, "file deleted successfully")
}
