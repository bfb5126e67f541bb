// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// ConnHandler processes one accepted connection. The handler owns the
// connection and must close it. The context is the server's serve
// context; handlers should abandon work when it is cancelled.
type ConnHandler func(ctx context.Context, conn net.Conn)

// TCPServer accepts TCP connections and hands each to a ConnHandler
// in its own goroutine. The pack server uses it for the upload
// listener, where each connection carries one upload exchange.
//
// Serve(ctx) blocks until the context is cancelled, then stops
// accepting and waits for active handlers to finish.
type TCPServer struct {
	address string
	handler ConnHandler
	logger  *slog.Logger

	ready chan struct{}
	addr  net.Addr

	// activeConnections tracks in-flight handlers for graceful
	// shutdown.
	activeConnections sync.WaitGroup
}

// NewTCPServer creates a server that will listen on the given TCP
// address. Call Serve to start accepting connections.
func NewTCPServer(address string, handler ConnHandler, logger *slog.Logger) *TCPServer {
	if address == "" {
		panic("service.TCPServer: address is required")
	}
	if handler == nil {
		panic("service.TCPServer: handler is required")
	}
	if logger == nil {
		panic("service.TCPServer: logger is required")
	}
	return &TCPServer{
		address: address,
		handler: handler,
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// Ready returns a channel that is closed once the server is bound
// and accepting connections.
func (s *TCPServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the resolved listen address. Only valid after Ready()
// is closed.
func (s *TCPServer) Addr() net.Addr {
	return s.addr
}

// Serve starts accepting connections. Blocks until ctx is cancelled,
// then stops accepting and waits for active handlers to complete.
func (s *TCPServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("tcp server listening", "address", s.addr.String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handler(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	s.logger.Info("tcp server stopped")
	return nil
}
