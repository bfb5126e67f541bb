// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small networking helpers shared by the
// upload listener and the uploader client.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, closed connection, broken pipe, or connection
// reset. An uploader that gives up mid-stream produces one of these
// on the server's read path; they are routine disconnects, not server
// errors, and should not be logged as such.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
