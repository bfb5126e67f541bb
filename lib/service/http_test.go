// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPServerServesAndShutsDown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "pong")
	})
	server := NewHTTPServer(HTTPServerConfig{
		Address:         "127.0.0.1:0",
		Handler:         handler,
		ShutdownTimeout: time.Second,
		Logger:          discardLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(ctx) }()

	select {
	case <-server.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server never became ready")
	}

	response, err := http.Get("http://" + server.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(response.Body)
	response.Body.Close()
	if string(body) != "pong" {
		t.Errorf("body = %q", body)
	}

	cancel()
	select {
	case err := <-serveDone:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestHTTPServerListenFailure(t *testing.T) {
	server := NewHTTPServer(HTTPServerConfig{
		Address: "127.0.0.1:0",
		Handler: http.NotFoundHandler(),
		Logger:  discardLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go server.Serve(ctx)
	<-server.Ready()
	defer cancel()

	// A second server on the same resolved port must fail fast.
	conflicting := NewHTTPServer(HTTPServerConfig{
		Address: server.Addr().String(),
		Handler: http.NotFoundHandler(),
		Logger:  discardLogger(),
	})
	if err := conflicting.Serve(context.Background()); err == nil {
		t.Error("Serve succeeded on an occupied port")
	}
}

func TestHTTPServerConfigValidation(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewHTTPServer accepted a config without a handler")
		}
	}()
	NewHTTPServer(HTTPServerConfig{Address: ":0", Logger: discardLogger()})
}
