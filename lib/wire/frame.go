// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize is the maximum size of a single data frame. Frames
// are length-prefixed with a 4-byte uint32, so the theoretical limit
// is ~4GB; 1MB keeps per-connection memory bounded and lets the
// server hash and write frames as they arrive.
const MaxFrameSize = 1024 * 1024

// FrameWriter writes binary data as length-prefixed frames. Each
// frame is a 4-byte big-endian uint32 length followed by that many
// bytes. Close writes a zero-length terminator frame to signal
// end-of-stream.
//
// FrameWriter implements io.WriteCloser. The caller writes arbitrary
// amounts; FrameWriter splits into frames of at most MaxFrameSize.
type FrameWriter struct {
	writer io.Writer
	closed bool
}

// NewFrameWriter creates a frame writer that writes to w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{writer: w}
}

// Write splits p into frames of at most MaxFrameSize bytes and
// writes them length-prefixed.
func (fw *FrameWriter) Write(p []byte) (int, error) {
	if fw.closed {
		return 0, fmt.Errorf("write to closed FrameWriter")
	}

	totalWritten := 0
	for len(p) > 0 {
		frameSize := len(p)
		if frameSize > MaxFrameSize {
			frameSize = MaxFrameSize
		}
		if err := fw.writeFrame(p[:frameSize]); err != nil {
			return totalWritten, err
		}
		totalWritten += frameSize
		p = p[frameSize:]
	}
	return totalWritten, nil
}

// Close writes the zero-length terminator frame. The underlying
// writer is NOT closed; the caller manages its lifecycle.
func (fw *FrameWriter) Close() error {
	if fw.closed {
		return nil
	}
	fw.closed = true

	var header [4]byte
	// header is already zero, so this is the zero-length terminator.
	_, err := fw.writer.Write(header[:])
	return err
}

func (fw *FrameWriter) writeFrame(data []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := fw.writer.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := fw.writer.Write(data); err != nil {
		return fmt.Errorf("writing frame data: %w", err)
	}
	return nil
}

// FrameReader reads binary data from a sequence of length-prefixed
// frames. Returns io.EOF after the zero-length terminator.
//
// FrameReader implements io.Reader and crosses frame boundaries
// transparently.
type FrameReader struct {
	reader         io.Reader
	frameRemaining int
	done           bool

	// truncated records a stream that ended without the terminator
	// frame, so the error survives a partial read and the receiver
	// never mistakes a dropped connection for a clean end-of-stream.
	truncated bool
}

// NewFrameReader creates a frame reader that reads from r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{reader: r}
}

// Read fills p with data from the frame stream. Returns io.EOF after
// the terminator frame; a connection closed without a terminator
// surfaces as io.ErrUnexpectedEOF.
func (fr *FrameReader) Read(p []byte) (int, error) {
	if fr.done {
		if fr.truncated {
			return 0, io.ErrUnexpectedEOF
		}
		return 0, io.EOF
	}

	totalRead := 0
	for len(p) > 0 {
		if fr.frameRemaining == 0 {
			var header [4]byte
			if _, err := io.ReadFull(fr.reader, header[:]); err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					fr.done = true
					fr.truncated = true
					if totalRead > 0 {
						return totalRead, nil
					}
					return 0, io.ErrUnexpectedEOF
				}
				return totalRead, err
			}
			fr.frameRemaining = int(binary.BigEndian.Uint32(header[:]))
			if fr.frameRemaining == 0 {
				fr.done = true
				if totalRead > 0 {
					return totalRead, nil
				}
				return 0, io.EOF
			}
			if fr.frameRemaining > MaxFrameSize {
				return totalRead, fmt.Errorf("frame size %d exceeds maximum %d",
					fr.frameRemaining, MaxFrameSize)
			}
		}

		readSize := len(p)
		if readSize > fr.frameRemaining {
			readSize = fr.frameRemaining
		}

		bytesRead, err := fr.reader.Read(p[:readSize])
		totalRead += bytesRead
		p = p[bytesRead:]
		fr.frameRemaining -= bytesRead

		if err != nil {
			if err == io.EOF {
				// EOF inside a frame is always truncation.
				fr.done = true
				fr.truncated = true
				err = io.ErrUnexpectedEOF
			}
			return totalRead, err
		}
	}
	return totalRead, nil
}
