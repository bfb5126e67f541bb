// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/packserve/packserve/lib/fault"
	"github.com/packserve/packserve/lib/netutil"
	"github.com/packserve/packserve/lib/pack"
	"github.com/packserve/packserve/lib/store"
	"github.com/packserve/packserve/lib/token"
	"github.com/packserve/packserve/lib/wire"
)

// handleUpload runs one upload connection: read the announcement,
// authorize it, stream data frames into a staged write, then verify
// and publish on finalize. Every reply path writes a terminal status
// first; the connection is closed on return per the ConnHandler
// contract.
func (s *packServer) handleUpload(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	logger := s.logger.With("remote", conn.RemoteAddr().String())

	announce, err := wire.ReadAnnounce(conn)
	if err != nil {
		logger.Warn("malformed upload announcement", "error", err)
		return
	}

	digest, err := pack.ParseDigest(announce.Digest)
	if err != nil {
		wire.WriteMessage(conn, &wire.AnnounceReply{
			Status:  wire.StatusRejected,
			Message: "malformed digest: " + err.Error(),
		})
		return
	}
	logger = logger.With("pack", pack.FormatRef(digest))

	if announce.Size <= 0 {
		wire.WriteMessage(conn, &wire.AnnounceReply{
			Status:  wire.StatusRejected,
			Message: "announced size must be positive",
		})
		return
	}
	if announce.Size > s.maxPackSize {
		wire.WriteMessage(conn, &wire.AnnounceReply{
			Status:  wire.StatusRejected,
			Message: "pack exceeds the server's maximum size",
		})
		return
	}
	if announce.Tag != "" {
		if err := pack.ValidateTag(announce.Tag); err != nil {
			wire.WriteMessage(conn, &wire.AnnounceReply{
				Status:  wire.StatusRejected,
				Message: err.Error(),
			})
			return
		}
	}

	tok, failure := s.authorize(announce.Token, token.ScopeUpload, digest)
	if failure != nil {
		status := wire.StatusUnauthorized
		if failure.forbidden {
			status = wire.StatusForbidden
		}
		logger.Warn("upload rejected", "status", status, "reason", failure.message)
		wire.WriteMessage(conn, &wire.AnnounceReply{
			Status:  status,
			Message: failure.message,
		})
		return
	}
	logger = logger.With("subject", tok.Subject)

	// Dedup before claiming a session slot: a pack that is already
	// stored costs nothing to acknowledge.
	if s.store.Exists(digest) {
		s.concludePresent(conn, logger, announce.Tag, digest)
		return
	}

	if !s.sessions.acquire() {
		wire.WriteMessage(conn, &wire.AnnounceReply{
			Status:  wire.StatusBusy,
			Message: "server is at its upload concurrency limit",
		})
		return
	}
	defer s.sessions.release()

	handle, err := s.store.BeginWrite(digest, announce.Size)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyStored):
			s.concludePresent(conn, logger, announce.Tag, digest)
		case fault.KindOf(err) == fault.KindConflict:
			wire.WriteMessage(conn, &wire.AnnounceReply{
				Status:  wire.StatusBusy,
				Message: "another upload of this pack is in flight",
			})
		default:
			logger.Error("staging upload", "error", err)
			wire.WriteMessage(conn, &wire.AnnounceReply{
				Status:  wire.StatusError,
				Message: "failed to stage upload",
			})
		}
		return
	}
	defer handle.Abort()

	if err := wire.WriteMessage(conn, &wire.AnnounceReply{Status: wire.StatusReady}); err != nil {
		return
	}

	watchdog := startIdleWatchdog(s.clock, s.idleTimeout, conn)
	defer watchdog.stop()

	frames := wire.NewFrameReader(conn)
	buffer := make([]byte, 64*1024)
	for {
		n, err := frames.Read(buffer)
		if n > 0 {
			watchdog.touch()
			if appendErr := handle.Append(buffer[:n]); appendErr != nil {
				logger.Warn("upload stream rejected", "error", appendErr)
				wire.WriteMessage(conn, &wire.FinalizeResult{
					Status:  wire.StatusSizeMismatch,
					Message: appendErr.Error(),
				})
				return
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			switch {
			case watchdog.expired():
				logger.Warn("upload idle timeout", "received", handle.Written())
			case netutil.IsExpectedCloseError(err):
				logger.Info("uploader disconnected", "received", handle.Written())
			default:
				logger.Warn("upload stream interrupted", "error", err, "received", handle.Written())
			}
			return
		}
	}
	watchdog.stop()

	if _, err := wire.ReadFinalize(conn); err != nil {
		logger.Warn("malformed finalize", "error", err)
		return
	}

	err = handle.Commit()
	switch {
	case err == nil:
		if announce.Tag != "" {
			if tagErr := s.tags.Set(announce.Tag, digest, s.clock.Now()); tagErr != nil {
				logger.Error("tagging committed pack", "tag", announce.Tag, "error", tagErr)
			}
		}
		logger.Info("pack committed", "size", announce.Size, "tag", announce.Tag)
		wire.WriteMessage(conn, &wire.FinalizeResult{
			Status: wire.StatusCommitted,
			Digest: pack.FormatDigest(digest),
		})

	case fault.KindOf(err) == fault.KindCorruption:
		computed := handle.Received()
		logger.Warn("upload digest mismatch", "computed", pack.FormatRef(computed))
		wire.WriteMessage(conn, &wire.FinalizeResult{
			Status:  wire.StatusDigestMismatch,
			Message: err.Error(),
			Digest:  pack.FormatDigest(computed),
		})

	case fault.KindOf(err) == fault.KindClient:
		logger.Warn("upload size mismatch", "error", err)
		wire.WriteMessage(conn, &wire.FinalizeResult{
			Status:  wire.StatusSizeMismatch,
			Message: err.Error(),
		})

	default:
		logger.Error("committing upload", "error", err)
		wire.WriteMessage(conn, &wire.FinalizeResult{
			Status:  wire.StatusError,
			Message: "failed to publish pack",
		})
	}
}

// concludePresent finishes an announcement for a pack that is already
// stored: apply any requested tag and reply already-present. The
// client sends nothing further on this connection.
func (s *packServer) concludePresent(conn net.Conn, logger *slog.Logger, tag string, digest pack.Digest) {
	if tag != "" {
		if err := s.tags.Set(tag, digest, s.clock.Now()); err != nil {
			logger.Error("tagging existing pack", "tag", tag, "error", err)
		}
	}
	wire.WriteMessage(conn, &wire.AnnounceReply{Status: wire.StatusAlreadyPresent})
}

// authFailure classifies a rejected token. forbidden means the token
// verified but lacks the needed permission; otherwise the token
// itself is bad (missing, malformed, expired, or wrongly signed).
type authFailure struct {
	forbidden bool
	message   string
}

func (s *packServer) authorize(tokenBytes []byte, scope string, digest pack.Digest) (*token.Token, *authFailure) {
	if len(tokenBytes) == 0 {
		return nil, &authFailure{message: "no token provided"}
	}
	tok, err := token.VerifyAt(s.keys, tokenBytes, s.clock.Now())
	if err != nil {
		return nil, &authFailure{message: err.Error()}
	}
	if !tok.Allows(scope) {
		return nil, &authFailure{
			forbidden: true,
			message:   "token does not grant " + scope,
		}
	}
	if !tok.AllowsDigest(digest) {
		return nil, &authFailure{
			forbidden: true,
			message:   "token is restricted to a different pack",
		}
	}
	return tok, nil
}
