// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi is the HTTP façade over the engine: a translator
// from PUT/GET/DELETE requests into the same WRITE/READ/DELETE
// operations the LiNa protocol connection server invokes.
package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/linastore/lina/internal/engine"
)

// Handler serves the HTTP façade described in spec.md §6:
//
//	PUT    /files/{name}?cover=1&compress=1
//	GET    /files/{name}
//	DELETE /files/{name}
type Handler struct {
	engine *engine.Engine
	logger *slog.Logger

	// maxBodySize bounds the request body read for PUT, mirroring the
	// connection loop's payload ceiling.
	maxBodySize int64
}

// New returns a Handler serving requests against eng. maxBodySize
// bounds PUT request bodies; zero or negative disables the bound (the
// engine's own payload ceiling, if any, still applies).
func New(eng *engine.Engine, maxBodySize int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{engine: eng, logger: logger, maxBodySize: maxBodySize}
}

// Routes returns a ServeMux with the façade's three routes registered.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /files/{name}", h.handlePut)
	mux.HandleFunc("GET /files/{name}", h.handleGet)
	mux.HandleFunc("DELETE /files/{name}", h.handleDelete)
	return mux
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	body := r.Body
	if h.maxBodySize > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		h.logger.Debug("http put: reading body failed", "name", name, "error", err)
		http.Error(w, "", http.StatusRequestEntityTooLarge)
		return
	}

	cover := queryBool(r, "cover")
	compress := queryBool(r, "compress")

	created, err := h.engine.Write(r.Context(), name, payload, cover, compress)
	if err != nil {
		h.writeEngineError(w, "put", name, err)
		return
	}

	if created {
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	payload, err := h.engine.Read(r.Context(), name)
	if err != nil {
		h.writeEngineError(w, "get", name, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		h.logger.Debug("http get: writing body failed", "name", name, "error", err)
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := h.engine.Delete(r.Context(), name); err != nil {
		h.writeEngineError(w, "delete", name, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// writeEngineError maps an engine error to the status codes documented
// in spec.md §6: 404 not found, 409 exists-without-cover, 413 too
// large, plus 400 for an empty or over-long name, and 500 otherwise. 422 (checksum) never reaches this layer — the
// HTTP façade has no wire frame to checksum.
func (h *Handler) writeEngineError(w http.ResponseWriter, op, name string, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		http.Error(w, "", http.StatusNotFound)
	case errors.Is(err, engine.ErrExists):
		http.Error(w, "", http.StatusConflict)
	case errors.Is(err, engine.ErrPayloadTooLarge):
		http.Error(w, "", http.StatusRequestEntityTooLarge)
	case errors.Is(err, engine.ErrNameInvalid):
		http.Error(w, "", http.StatusBadRequest)
	default:
		h.logger.Error("http request failed", "op", op, "name", name, "error", err)
		http.Error(w, "", http.StatusInternalServerError)
	}
}

func queryBool(r *http.Request, key string) bool {
	switch r.URL.Query().Get(key) {
	case "1", "true":
		return true
	default:
		return false
	}
}
