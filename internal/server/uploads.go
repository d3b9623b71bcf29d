package server

import (
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"folio/internal/logger"
)

// handleUpload services POST /uploads?expire=<duration>&ext=<extension>.
// The payload is stored under a generated name; the expire parameter (default
// 168h) schedules the durable deletion task before the response is written.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)

	ttl := s.cfg.DefaultTTL
	if raw := r.URL.Query().Get("expire"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid expire duration: %s", raw))
			return
		}
		ttl = d
	}

	content, err := fileContent(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	defer content.Close()

	ext, err := uploadExtension(r, multipartContentType(content))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.cfg.Uploads.Upload(r.Context(), content, ext, ttl)
	if err != nil {
		log.Error().Err(err).Msg("failed to save file")
		writeMessage(w, http.StatusInternalServerError, fmt.Sprintf("failed to save file: %v", err))
		return
	}
	s.cfg.Metrics.RecordUpload()

	log.Info().Str("path", res.PublicPath).Dur("expire", ttl).Msg("file uploaded")
	writeJSON(w, http.StatusCreated, uploadResponse{
		Message: "file uploaded successfully",
		Path:    res.PublicPath,
	})
}

// uploadExtension picks the stored file's extension: the ext query parameter
// when present, otherwise one derived from the payload's content type (the
// multipart part's own type wins over the request header). No extension is
// fine — the file is stored under the bare id.
func uploadExtension(r *http.Request, partType string) (string, error) {
	if ext := r.URL.Query().Get("ext"); ext != "" {
		ext = strings.TrimPrefix(ext, ".")
		if strings.ContainsAny(ext, "/\\") || strings.Contains(ext, "..") {
			return "", fmt.Errorf("invalid extension: %s", ext)
		}
		return ext, nil
	}

	ct := partType
	if ct == "" {
		ct = r.Header.Get("Content-Type")
	}
	return extensionForType(ct), nil
}

// extensionForType maps a MIME type to a file extension, without the leading
// dot. Unknown or missing types yield no extension.
func extensionForType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" || strings.HasPrefix(mediaType, "multipart/") {
		return ""
	}

	// Prefer the conventional extension for a few common types where the
	// platform mime table is unstable or surprising.
	switch mediaType {
	case "text/plain":
		return "txt"
	case "image/jpeg":
		return "jpg"
	case "application/octet-stream":
		return ""
	}

	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return strings.TrimPrefix(exts[0], ".")
}
