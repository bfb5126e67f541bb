// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
)

func TestIsExpectedCloseError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("reading frame: %w", io.EOF), true},
		{"closed", net.ErrClosed, true},
		{"reset", syscall.ECONNRESET, true},
		{"pipe", syscall.EPIPE, true},
		{"refused", syscall.ECONNREFUSED, false},
		{"other", errors.New("disk full"), false},
	}
	for _, c := range cases {
		if got := IsExpectedCloseError(c.err); got != c.want {
			t.Errorf("%s: IsExpectedCloseError = %v, want %v", c.name, got, c.want)
		}
	}
}
