package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dgallion1/docflow/internal/doctree"
	"github.com/dgallion1/docflow/internal/loader"
)

// sourceRequest names a document to load in a JSON body.
type sourceRequest struct {
	Kind       doctree.SourceKind `json:"kind"`
	Location   string             `json:"location"`
	Format     doctree.Format     `json:"format,omitempty"`
	Title      string             `json:"title,omitempty"`
	DocumentID string             `json:"document_id,omitempty"`
}

// requestError is a client error with its HTTP status.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) *requestError {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/")
}

// loadOptions returns the server's loader options with per-request
// overrides applied.
func (s *Server) loadOptions(format doctree.Format, title, docID string) loader.Options {
	opts := s.cfg.LoadOptions(s.fetcher)
	opts.Format = format
	opts.Title = title
	opts.DocumentID = docID
	return opts
}

// multipartSource buffers the uploaded "file" field. The upload is read up
// to one byte past the size limit so Load reports it as too large.
func (s *Server) multipartSource(w http.ResponseWriter, r *http.Request) (loader.Source, loader.Options, error) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxSourceBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return loader.Source{}, loader.Options{}, &requestError{
				status: http.StatusRequestEntityTooLarge,
				msg:    fmt.Sprintf("request exceeds max size (%d bytes)", s.cfg.MaxSourceBytes),
			}
		}
		return loader.Source{}, loader.Options{}, badRequest("invalid multipart form: %s", err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return loader.Source{}, loader.Options{}, badRequest("file is required: %s", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxSourceBytes+1))
	if err != nil {
		return loader.Source{}, loader.Options{}, &requestError{status: http.StatusInternalServerError, msg: "failed to read file"}
	}

	src := loader.StreamSource(sanitizeFilename(header.Filename), bytes.NewReader(data))
	opts := s.loadOptions(doctree.Format(r.FormValue("format")), r.FormValue("title"), r.FormValue("document_id"))
	return src, opts, nil
}

// jsonSource resolves a sourceRequest. Local paths are refused unless the
// server allows them.
func (s *Server) jsonSource(sr sourceRequest) (loader.Source, loader.Options, error) {
	if sr.Location == "" {
		return loader.Source{}, loader.Options{}, badRequest("location is required")
	}
	var src loader.Source
	switch sr.Kind {
	case doctree.SourceRemote, "":
		src = loader.RemoteSource(sr.Location)
	case doctree.SourceFile:
		if !s.cfg.AllowLocalFiles {
			return loader.Source{}, loader.Options{}, &requestError{status: http.StatusForbidden, msg: "file sources are disabled"}
		}
		src = loader.FileSource(sr.Location)
	default:
		return loader.Source{}, loader.Options{}, badRequest("unsupported source kind %q", sr.Kind)
	}
	return src, s.loadOptions(sr.Format, sr.Title, sr.DocumentID), nil
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid JSON body: %s", err)
	}
	return nil
}

func formInt(r *http.Request, key string) (int, bool) {
	v := r.FormValue(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeError maps err to a status code and JSON error body.
func writeError(w http.ResponseWriter, err error) {
	var re *requestError
	if errors.As(err, &re) {
		jsonError(w, re.msg, re.status)
		return
	}
	if kind := loader.KindOf(err); kind != "" {
		writeJSON(w, loadStatus(kind), map[string]string{"error": err.Error(), "kind": string(kind)})
		return
	}
	jsonError(w, err.Error(), http.StatusInternalServerError)
}

func loadStatus(kind loader.ErrorKind) int {
	switch kind {
	case loader.NotFound:
		return http.StatusNotFound
	case loader.TooLarge:
		return http.StatusRequestEntityTooLarge
	case loader.Unsupported:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusUnprocessableEntity
	}
}
