// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package fault

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{Client("bad digest %q", "xyz"), KindClient},
		{Auth("token expired"), KindAuth},
		{Conflict("upload in progress"), KindConflict},
		{Transient("connection reset"), KindTransient},
		{Corruption("digest mismatch"), KindCorruption},
		{NotFound("no such pack"), KindNotFound},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Errorf("KindOf(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("finalize: %w", Corruption("digest mismatch"))
	if got := KindOf(err); got != KindCorruption {
		t.Errorf("KindOf(wrapped) = %q, want %q", got, KindCorruption)
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if got := KindOf(io.ErrUnexpectedEOF); got != KindTransient {
		t.Errorf("KindOf(plain error) = %q, want %q", got, KindTransient)
	}
}

func TestUnwrap(t *testing.T) {
	base := errors.New("disk full")
	err := &Error{Kind: KindTransient, Err: fmt.Errorf("append: %w", base)}
	if !errors.Is(err, base) {
		t.Error("errors.Is should see through the fault wrapper")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(Transient("timeout")) {
		t.Error("transient faults should be retryable")
	}
	if !Retryable(Conflict("busy")) {
		t.Error("conflict faults should be retryable")
	}
	if Retryable(Auth("bad token")) {
		t.Error("auth faults must not be retried")
	}
	if Retryable(Corruption("digest mismatch")) {
		t.Error("corruption alone is not retryable; the uploader decides")
	}
	if Retryable(Client("bad request")) {
		t.Error("client faults must not be retried")
	}
}

func TestErrorMessage(t *testing.T) {
	err := NotFound("pack %s not found", "ab12")
	if got := err.Error(); got != "pack ab12 not found" {
		t.Errorf("Error() = %q", got)
	}
}
