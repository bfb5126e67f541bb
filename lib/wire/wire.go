// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the upload protocol spoken between the
// uploader client and the pack server's upload listener.
//
// Wire layout for an upload:
//
//	[4-byte length][CBOR Announce]
//	[4-byte length][CBOR AnnounceReply]      status "ready" continues:
//	[length-prefixed data frames][zero-length terminator]
//	[4-byte length][CBOR Finalize]
//	[4-byte length][CBOR FinalizeResult]
//
// CBOR messages are length-prefixed with a 4-byte big-endian uint32
// so the decoder never reads ahead into the binary stream that
// follows. Any reply with a status other than "ready" ends the
// exchange.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/packserve/packserve/lib/codec"
)

// MaxHeaderSize is the maximum size of a length-prefixed CBOR
// message. Generous for metadata: the largest realistic message is an
// Announce carrying a signed token.
const MaxHeaderSize = 64 * 1024

// Announce statuses.
const (
	// StatusReady accepts the upload; the client streams data frames.
	StatusReady = "ready"

	// StatusAlreadyPresent means the pack is stored; nothing to send.
	// Any tag in the announcement has been applied.
	StatusAlreadyPresent = "already-present"

	// StatusUnauthorized rejects the token itself (missing, invalid,
	// expired).
	StatusUnauthorized = "unauthorized"

	// StatusForbidden rejects a valid token that lacks the required
	// scope or is restricted to a different pack.
	StatusForbidden = "forbidden"

	// StatusBusy means the server is at its upload concurrency limit
	// or another upload of the same pack is in flight. Retry later.
	StatusBusy = "busy"

	// StatusRejected refuses a malformed announcement (bad digest,
	// non-positive or oversized size, invalid tag). The request will
	// never succeed as sent; retrying is pointless.
	StatusRejected = "rejected"
)

// Finalize statuses.
const (
	// StatusCommitted means the pack is verified and published.
	StatusCommitted = "committed"

	// StatusDigestMismatch means the received bytes do not hash to
	// the announced digest. Nothing was published.
	StatusDigestMismatch = "digest-mismatch"

	// StatusSizeMismatch means the byte count differs from the
	// announced size.
	StatusSizeMismatch = "size-mismatch"
)

// StatusError is a catch-all failure status for either reply.
const StatusError = "error"

// Announce opens an upload: the claimed digest, the exact byte size,
// the authorization token, and an optional tag to apply on commit.
type Announce struct {
	Action string `cbor:"action" json:"action"`
	Token  []byte `cbor:"token"  json:"token"`

	// Digest is the hex-encoded content digest the client computed.
	Digest string `cbor:"digest" json:"digest"`

	// Size is the exact pack size in bytes.
	Size int64 `cbor:"size" json:"size"`

	// Tag, when set, is applied to the digest once the pack commits
	// (or immediately when the pack is already present).
	Tag string `cbor:"tag,omitempty" json:"tag,omitempty"`
}

// AnnounceReply is the server's verdict on an announcement.
type AnnounceReply struct {
	Status  string `cbor:"status"            json:"status"`
	Message string `cbor:"message,omitempty" json:"message,omitempty"`
}

// Finalize asks the server to verify and publish the streamed bytes.
type Finalize struct {
	Action string `cbor:"action" json:"action"`
}

// FinalizeResult reports the outcome of the upload.
type FinalizeResult struct {
	Status  string `cbor:"status"            json:"status"`
	Message string `cbor:"message,omitempty" json:"message,omitempty"`

	// Digest echoes the published pack's digest on commit. On a
	// digest mismatch it carries the digest the server actually
	// computed, which the client logs for diagnosis.
	Digest string `cbor:"digest,omitempty" json:"digest,omitempty"`
}

// WriteMessage encodes v as CBOR and writes it with a 4-byte length
// prefix.
func WriteMessage(w io.Writer, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(data)))
	if _, err := w.Write(lengthPrefix[:]); err != nil {
		return fmt.Errorf("writing message length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}
	return nil
}

// ReadMessage reads a length-prefixed CBOR message and decodes it
// into v. Rejects messages larger than MaxHeaderSize.
func ReadMessage(r io.Reader, v any) error {
	var lengthPrefix [4]byte
	if _, err := io.ReadFull(r, lengthPrefix[:]); err != nil {
		return fmt.Errorf("reading message length: %w", err)
	}
	length := binary.BigEndian.Uint32(lengthPrefix[:])
	if length > MaxHeaderSize {
		return fmt.Errorf("message size %d exceeds maximum %d", length, MaxHeaderSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("reading message body: %w", err)
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}

// WriteAnnounce writes a length-prefixed CBOR Announce to w.
func WriteAnnounce(w io.Writer, announce *Announce) error {
	announce.Action = "announce"
	return WriteMessage(w, announce)
}

// ReadAnnounce reads a length-prefixed CBOR Announce from r.
func ReadAnnounce(r io.Reader) (*Announce, error) {
	var announce Announce
	if err := ReadMessage(r, &announce); err != nil {
		return nil, fmt.Errorf("reading announce: %w", err)
	}
	if announce.Action != "announce" {
		return nil, fmt.Errorf("expected action \"announce\", got %q", announce.Action)
	}
	return &announce, nil
}

// WriteFinalize writes a length-prefixed CBOR Finalize to w.
func WriteFinalize(w io.Writer) error {
	return WriteMessage(w, &Finalize{Action: "finalize"})
}

// ReadFinalize reads a length-prefixed CBOR Finalize from r.
func ReadFinalize(r io.Reader) (*Finalize, error) {
	var finalize Finalize
	if err := ReadMessage(r, &finalize); err != nil {
		return nil, fmt.Errorf("reading finalize: %w", err)
	}
	if finalize.Action != "finalize" {
		return nil, fmt.Errorf("expected action \"finalize\", got %q", finalize.Action)
	}
	return &finalize, nil
}
