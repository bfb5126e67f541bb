// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/packserve/packserve/lib/clock"
	"github.com/packserve/packserve/lib/fault"
	"github.com/packserve/packserve/lib/pack"
	"github.com/packserve/packserve/lib/wire"
)

// stubUploadListener accepts upload connections and answers each
// announce with the scripted reply. Announces beyond the script get
// StatusReady with a full commit exchange.
type stubUploadListener struct {
	listener net.Listener
	script   []string
	announce chan *wire.Announce
	received chan []byte
	calls    atomic.Int32
}

func newStubUploadListener(t *testing.T, script ...string) *stubUploadListener {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	stub := &stubUploadListener{
		listener: listener,
		script:   script,
		announce: make(chan *wire.Announce, 16),
		received: make(chan []byte, 16),
	}
	go stub.run()
	t.Cleanup(func() { listener.Close() })
	return stub
}

func (s *stubUploadListener) run() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *stubUploadListener) handle(conn net.Conn) {
	defer conn.Close()

	announce, err := wire.ReadAnnounce(conn)
	if err != nil {
		return
	}
	s.announce <- announce

	call := int(s.calls.Add(1)) - 1
	status := wire.StatusReady
	if call < len(s.script) {
		status = s.script[call]
	}

	if status != wire.StatusReady {
		wire.WriteMessage(conn, &wire.AnnounceReply{Status: status, Message: "scripted"})
		return
	}
	wire.WriteMessage(conn, &wire.AnnounceReply{Status: wire.StatusReady})

	content, err := io.ReadAll(wire.NewFrameReader(conn))
	if err != nil {
		return
	}
	s.received <- content
	if _, err := wire.ReadFinalize(conn); err != nil {
		return
	}
	wire.WriteMessage(conn, &wire.FinalizeResult{
		Status: wire.StatusCommitted,
		Digest: announce.Digest,
	})
}

func openBytes(content []byte) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(content)), nil
	}
}

func TestUploadCommits(t *testing.T) {
	stub := newStubUploadListener(t)
	content := []byte("pack bytes")
	digest := pack.DigestBytes(content)

	c := New(stub.listener.Addr().String(), "http://unused", []byte("tok"))
	result, err := c.Upload(context.Background(), digest, int64(len(content)), "stable", openBytes(content))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !result.Transferred {
		t.Error("Transferred = false for a fresh upload")
	}

	announce := <-stub.announce
	if announce.Digest != pack.FormatDigest(digest) {
		t.Errorf("announced digest %q", announce.Digest)
	}
	if announce.Tag != "stable" {
		t.Errorf("announced tag %q", announce.Tag)
	}
	if !bytes.Equal(<-stub.received, content) {
		t.Error("server received different bytes")
	}
}

func TestUploadAlreadyPresentSkipsTransfer(t *testing.T) {
	stub := newStubUploadListener(t, wire.StatusAlreadyPresent)
	content := []byte("pack bytes")
	digest := pack.DigestBytes(content)

	opened := false
	c := New(stub.listener.Addr().String(), "http://unused", nil)
	result, err := c.Upload(context.Background(), digest, int64(len(content)), "", func() (io.ReadCloser, error) {
		opened = true
		return io.NopCloser(bytes.NewReader(content)), nil
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.Transferred {
		t.Error("Transferred = true for an already present pack")
	}
	if opened {
		t.Error("content was opened even though nothing needed sending")
	}
}

func TestUploadAuthFailureNotRetried(t *testing.T) {
	stub := newStubUploadListener(t, wire.StatusUnauthorized, wire.StatusReady)
	content := []byte("pack bytes")
	digest := pack.DigestBytes(content)

	c := New(stub.listener.Addr().String(), "http://unused", nil).
		WithClock(clock.Fake(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)))
	_, err := c.UploadWithRetry(context.Background(), digest, int64(len(content)), "", openBytes(content))
	if fault.KindOf(err) != fault.KindAuth {
		t.Fatalf("kind = %q, want auth", fault.KindOf(err))
	}
	if got := stub.calls.Load(); got != 1 {
		t.Errorf("server saw %d attempts, want 1", got)
	}
}

func TestUploadRejectionNotRetried(t *testing.T) {
	stub := newStubUploadListener(t, wire.StatusRejected, wire.StatusReady)
	content := []byte("pack bytes")
	digest := pack.DigestBytes(content)

	c := New(stub.listener.Addr().String(), "http://unused", nil).
		WithClock(clock.Fake(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)))
	_, err := c.UploadWithRetry(context.Background(), digest, int64(len(content)), "", openBytes(content))
	if fault.KindOf(err) != fault.KindClient {
		t.Fatalf("kind = %q, want client", fault.KindOf(err))
	}
	if got := stub.calls.Load(); got != 1 {
		t.Errorf("server saw %d attempts, want 1", got)
	}
}

func TestUploadRetriesBusy(t *testing.T) {
	stub := newStubUploadListener(t, wire.StatusBusy, wire.StatusReady)
	content := []byte("pack bytes")
	digest := pack.DigestBytes(content)

	clk := clock.Fake(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	c := New(stub.listener.Addr().String(), "http://unused", nil).WithClock(clk)

	type outcome struct {
		result *UploadResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := c.UploadWithRetry(context.Background(), digest, int64(len(content)), "", openBytes(content))
		done <- outcome{result, err}
	}()

	// First attempt gets busy; the retry waits on the backoff timer.
	clk.WaitForTimers(1)
	clk.Advance(initialBackoff)

	select {
	case got := <-done:
		if got.err != nil {
			t.Fatalf("UploadWithRetry: %v", got.err)
		}
		if got.result.Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", got.result.Attempts)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("UploadWithRetry did not finish")
	}
}

func TestHTTPQueries(t *testing.T) {
	digest := pack.DigestBytes([]byte("stored pack"))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /has/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wire.HasResponse{Present: true, Size: 11})
	})
	mux.HandleFunc("GET /tag/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wire.ResolveResponse{
			Tag:    "stable",
			Digest: pack.FormatDigest(digest),
			URL:    "http://example/pack/" + pack.FormatDigest(digest),
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := New("unused", server.URL, nil)

	present, err := c.Has(context.Background(), digest)
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !present {
		t.Error("Has = false")
	}

	resolved, err := c.ResolveTag(context.Background(), "stable")
	if err != nil {
		t.Fatalf("ResolveTag: %v", err)
	}
	if resolved.Digest != pack.FormatDigest(digest) {
		t.Errorf("resolved digest %q", resolved.Digest)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(wire.ErrorResponse{
			Error: "tag \"missing\" not found",
			Kind:  string(fault.KindNotFound),
		})
	}))
	defer server.Close()

	c := New("unused", server.URL, nil)
	_, err := c.ResolveTag(context.Background(), "missing")
	if fault.KindOf(err) != fault.KindNotFound {
		t.Errorf("kind = %q, want not_found", fault.KindOf(err))
	}
}
