// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package wire

// JSON bodies for the HTTP distribution and control endpoints. The
// download side serves raw pack bytes; everything else speaks JSON
// because the consumers are proxy plugins and scripts, not the
// uploader protocol.

// HasResponse is the body of GET /has/{digest}.
type HasResponse struct {
	Present bool  `json:"present"`
	Size    int64 `json:"size,omitempty"`
}

// ResolveResponse is the body of GET /tag/{name}: the digest the tag
// points at and the ready-to-serve download URL for it.
type ResolveResponse struct {
	Tag    string `json:"tag"`
	Digest string `json:"digest"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
}

// TagRequest is the body of POST /tag: point a tag at an already
// stored digest.
type TagRequest struct {
	Tag    string `json:"tag"`
	Digest string `json:"digest"`
}

// TagListResponse is the body of GET /tags.
type TagListResponse struct {
	Tags []TagEntry `json:"tags"`
}

// TagEntry is one tag in a TagListResponse.
type TagEntry struct {
	Tag       string `json:"tag"`
	Digest    string `json:"digest"`
	UpdatedAt string `json:"updated_at"`
}

// ErrorResponse is the JSON body of any non-2xx control response.
// Kind carries the fault classification so clients can branch
// without parsing the message.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
