// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/packserve/packserve/lib/fault"
	"github.com/packserve/packserve/lib/pack"
	"github.com/packserve/packserve/lib/token"
	"github.com/packserve/packserve/lib/version"
	"github.com/packserve/packserve/lib/wire"
)

// routes builds the HTTP mux. Downloads and queries are public; tag
// mutation and pack deletion require a bearer token with the matching
// scope.
func (s *packServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /pack/{digest}", s.handleGetPack)
	mux.HandleFunc("GET /has/{digest}", s.handleHas)
	mux.HandleFunc("GET /tag/{name}", s.handleResolveTag)
	mux.HandleFunc("GET /tags", s.handleListTags)
	mux.HandleFunc("POST /tag", s.handleSetTag)
	mux.HandleFunc("DELETE /tag/{name}", s.handleDeleteTag)
	mux.HandleFunc("DELETE /pack/{digest}", s.handleDeletePack)
	mux.HandleFunc("GET /status", s.handleStatus)
	return mux
}

// handleGetPack serves pack bytes. Packs are immutable, so the
// response carries a far-future cache policy and the digest as a
// strong ETag; range requests work because the store hands back a
// seekable file.
func (s *packServer) handleGetPack(w http.ResponseWriter, r *http.Request) {
	digest, err := pack.ParseDigest(r.PathValue("digest"))
	if err != nil {
		s.writeFault(w, fault.Client("malformed digest: %v", err))
		return
	}
	file, _, err := s.store.Open(digest)
	if err != nil {
		s.writeFault(w, err)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", `"`+pack.FormatDigest(digest)+`"`)
	http.ServeContent(w, r, "", time.Time{}, file)
}

func (s *packServer) handleHas(w http.ResponseWriter, r *http.Request) {
	digest, err := pack.ParseDigest(r.PathValue("digest"))
	if err != nil {
		s.writeFault(w, fault.Client("malformed digest: %v", err))
		return
	}
	size, err := s.store.Stat(digest)
	if err != nil {
		writeJSON(w, http.StatusOK, &wire.HasResponse{Present: false})
		return
	}
	writeJSON(w, http.StatusOK, &wire.HasResponse{Present: true, Size: size})
}

func (s *packServer) handleResolveTag(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	digest, err := s.tags.Resolve(name)
	if err != nil {
		s.writeFault(w, err)
		return
	}
	size, _ := s.store.Stat(digest)
	writeJSON(w, http.StatusOK, &wire.ResolveResponse{
		Tag:    name,
		Digest: pack.FormatDigest(digest),
		URL:    s.baseURL + "/pack/" + pack.FormatDigest(digest),
		Size:   size,
	})
}

func (s *packServer) handleListTags(w http.ResponseWriter, r *http.Request) {
	records := s.tags.List(r.URL.Query().Get("prefix"))
	response := &wire.TagListResponse{Tags: make([]wire.TagEntry, 0, len(records))}
	for _, record := range records {
		response.Tags = append(response.Tags, wire.TagEntry{
			Tag:       record.Name,
			Digest:    pack.FormatDigest(record.Target),
			UpdatedAt: record.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, response)
}

// handleSetTag points a tag at an already stored pack. Tagging a
// digest the store does not hold is rejected: a tag must never
// resolve to a download that 404s.
func (s *packServer) handleSetTag(w http.ResponseWriter, r *http.Request) {
	var request wire.TagRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.writeFault(w, fault.Client("malformed request body: %v", err))
		return
	}
	digest, err := pack.ParseDigest(request.Digest)
	if err != nil {
		s.writeFault(w, fault.Client("malformed digest: %v", err))
		return
	}
	if !s.requireScope(w, r, token.ScopeTag, digest) {
		return
	}
	if !s.store.Exists(digest) {
		s.writeFault(w, fault.NotFound("pack %s is not stored", pack.FormatRef(digest)))
		return
	}
	if err := s.tags.Set(request.Tag, digest, s.clock.Now()); err != nil {
		s.writeFault(w, err)
		return
	}
	s.logger.Info("tag set", "tag", request.Tag, "pack", pack.FormatRef(digest))
	w.WriteHeader(http.StatusNoContent)
}

func (s *packServer) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	// Digest-restricted tokens may only touch tags pointing at their
	// pack.
	target, _ := s.tags.Resolve(name)
	if !s.requireScope(w, r, token.ScopeTag, target) {
		return
	}
	if err := s.tags.Delete(name); err != nil {
		s.writeFault(w, err)
		return
	}
	s.logger.Info("tag deleted", "tag", name)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeletePack removes a stored pack. A pack that a tag still
// points at cannot be deleted; untag it first.
func (s *packServer) handleDeletePack(w http.ResponseWriter, r *http.Request) {
	digest, err := pack.ParseDigest(r.PathValue("digest"))
	if err != nil {
		s.writeFault(w, fault.Client("malformed digest: %v", err))
		return
	}
	if !s.requireScope(w, r, token.ScopeDelete, digest) {
		return
	}
	if _, tagged := s.tags.Targets()[digest]; tagged {
		s.writeFault(w, fault.Conflict("pack %s is still tagged", pack.FormatRef(digest)))
		return
	}
	if err := s.store.Delete(digest); err != nil {
		s.writeFault(w, err)
		return
	}
	s.logger.Info("pack deleted", "pack", pack.FormatRef(digest))
	w.WriteHeader(http.StatusNoContent)
}

func (s *packServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":        version.Info(),
		"tags":           s.tags.Len(),
		"active_uploads": s.sessions.activeCount(),
	})
}

// requireScope authorizes the request's bearer token for a scope and
// digest. On failure it writes the error response and returns false.
func (s *packServer) requireScope(w http.ResponseWriter, r *http.Request, scope string, digest pack.Digest) bool {
	tokenBytes, err := bearerToken(r)
	if err != nil {
		writeErrorResponse(w, http.StatusUnauthorized, err.Error())
		return false
	}
	if _, failure := s.authorize(tokenBytes, scope, digest); failure != nil {
		status := http.StatusUnauthorized
		if failure.forbidden {
			status = http.StatusForbidden
		}
		writeErrorResponse(w, status, failure.message)
		return false
	}
	return true
}

// bearerToken extracts the raw token bytes from the Authorization
// header. Tokens travel as unpadded base64url.
func bearerToken(r *http.Request) ([]byte, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, fault.Auth("missing Authorization header")
	}
	encoded, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, fault.Auth("Authorization header is not a bearer token")
	}
	tokenBytes, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fault.Auth("malformed bearer token: %v", err)
	}
	return tokenBytes, nil
}

func (s *packServer) writeFault(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case fault.KindClient:
		status = http.StatusBadRequest
	case fault.KindAuth:
		status = http.StatusUnauthorized
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindConflict:
		status = http.StatusConflict
	case fault.KindTransient:
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		s.logger.Error("request failed", "kind", string(kind), "error", err)
	}
	writeJSON(w, status, &wire.ErrorResponse{Error: err.Error(), Kind: string(kind)})
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, &wire.ErrorResponse{Error: message, Kind: string(fault.KindAuth)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
