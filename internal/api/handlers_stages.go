package api

import (
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/dgallion1/docflow/internal/chunker"
	"github.com/dgallion1/docflow/internal/doctree"
	"github.com/dgallion1/docflow/internal/loader"
	"github.com/dgallion1/docflow/internal/parser"
	"github.com/dgallion1/docflow/internal/pipeline"
)

// handleLoad loads one document synchronously and returns it.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var (
		src  loader.Source
		opts loader.Options
		err  error
	)
	if isMultipart(r) {
		src, opts, err = s.multipartSource(w, r)
	} else {
		var sr sourceRequest
		if err = decodeJSON(r, &sr); err == nil {
			src, opts, err = s.jsonSource(sr)
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}

	doc, err := loader.Load(r.Context(), src, opts)
	if err != nil {
		s.log.Warn("load failed", "source", src.Location, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type chunkRequest struct {
	Document doctree.Document `json:"document"`
	Config   *chunker.Config  `json:"config,omitempty"`
}

// handleChunk splits a posted document.
func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	var req chunkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cfg := s.cfg.ChunkConfig()
	if req.Config != nil {
		cfg = *req.Config
	}
	chunks, err := chunker.Chunk(prepareDocument(req.Document), cfg)
	if err != nil {
		var ce *chunker.ChunkError
		if errors.As(err, &ce) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": string(ce.Kind), "field": ce.Field})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

type parseRequest struct {
	Document doctree.Document `json:"document"`
	Chunks   []doctree.Chunk  `json:"chunks"`
	Grammar  *parser.Config   `json:"grammar,omitempty"`
}

// handleParse parses posted chunks. A chunk that cannot be parsed is
// reported in errors and does not affect the others.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	pcfg := s.grammar
	if req.Grammar != nil {
		pcfg = *req.Grammar
	}
	g, err := parser.Compile(pcfg)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": string(parser.Fatal)})
		return
	}

	records, errs := pipeline.ParseChunks(r.Context(), g, prepareDocument(req.Document), req.Chunks)
	if r.Context().Err() != nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "errors": errs})
}

// prepareDocument fills the derived fields a client may omit.
func prepareDocument(doc doctree.Document) doctree.Document {
	doc.Length = utf8.RuneCountInString(doc.Text)
	if len(doc.LineStarts) == 0 {
		doc.LineStarts = doctree.BuildLineStarts(doc.Text)
	}
	return doc
}
