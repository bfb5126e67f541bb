// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is the uploader-side view of a pack server: the TCP
// upload exchange, the HTTP query and control endpoints, and a retry
// wrapper that knows which failures are worth another attempt.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/packserve/packserve/lib/clock"
	"github.com/packserve/packserve/lib/fault"
	"github.com/packserve/packserve/lib/pack"
	"github.com/packserve/packserve/lib/wire"
)

// Client timeouts.
const (
	// dialTimeout is the maximum time to wait for a connection to
	// the upload listener.
	dialTimeout = 5 * time.Second

	// replyTimeout is how long the client waits for each protocol
	// reply. Covers the server-side digest verification at finalize,
	// which scans the whole staged file.
	replyTimeout = 120 * time.Second
)

// Client talks to a pack server. Each upload opens a new TCP
// connection to the upload listener; queries and control operations
// go over HTTP to the distribution listener.
type Client struct {
	uploadAddr string
	baseURL    string
	token      []byte
	httpClient *http.Client
	clock      clock.Clock
}

// New creates a client. uploadAddr is the upload listener address
// ("host:port"), baseURL the distribution listener URL. A nil token
// limits the client to unauthenticated queries.
func New(uploadAddr, baseURL string, token []byte) *Client {
	return &Client{
		uploadAddr: uploadAddr,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		clock:      clock.Real(),
	}
}

// WithClock substitutes the time source. Tests use a FakeClock so
// retry backoff is instantaneous and deterministic.
func (c *Client) WithClock(clk clock.Clock) *Client {
	c.clock = clk
	return c
}

// UploadResult reports what an upload did.
type UploadResult struct {
	// Digest is the published pack's digest.
	Digest pack.Digest

	// Transferred is false when the server already had the pack and
	// no bytes were sent.
	Transferred bool

	// Attempts is how many protocol exchanges were made, counting
	// the successful one.
	Attempts int
}

// Upload pushes a pack to the server in a single attempt. The open
// function supplies the content; it is called once per attempt so a
// retry can restart from the beginning. digest and size must describe
// exactly the bytes open yields. A non-empty tag is applied on
// commit.
func (c *Client) Upload(ctx context.Context, digest pack.Digest, size int64, tag string, open func() (io.ReadCloser, error)) (*UploadResult, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.uploadAddr)
	if err != nil {
		return nil, fault.Transient("connecting to upload listener at %s: %v", c.uploadAddr, err)
	}
	defer conn.Close()

	announce := &wire.Announce{
		Token:  c.token,
		Digest: pack.FormatDigest(digest),
		Size:   size,
		Tag:    tag,
	}
	if err := wire.WriteAnnounce(conn, announce); err != nil {
		return nil, fault.Transient("sending announce: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(replyTimeout))
	var reply wire.AnnounceReply
	if err := wire.ReadMessage(conn, &reply); err != nil {
		return nil, fault.Transient("reading announce reply: %v", err)
	}
	conn.SetReadDeadline(time.Time{})

	switch reply.Status {
	case wire.StatusReady:
		// Continue below.
	case wire.StatusAlreadyPresent:
		return &UploadResult{Digest: digest, Transferred: false, Attempts: 1}, nil
	case wire.StatusUnauthorized, wire.StatusForbidden:
		return nil, fault.Auth("server refused upload: %s", reply.Message)
	case wire.StatusBusy:
		return nil, fault.Conflict("server busy: %s", reply.Message)
	case wire.StatusRejected:
		return nil, fault.Client("server rejected upload: %s", reply.Message)
	default:
		return nil, fault.Transient("announce failed: %s", reply.Message)
	}

	content, err := open()
	if err != nil {
		return nil, fault.Transient("opening pack content: %v", err)
	}

	frameWriter := wire.NewFrameWriter(conn)
	if _, err := io.Copy(frameWriter, content); err != nil {
		content.Close()
		return nil, fault.Transient("streaming pack content: %v", err)
	}
	content.Close()
	if err := frameWriter.Close(); err != nil {
		return nil, fault.Transient("closing pack stream: %v", err)
	}
	if err := wire.WriteFinalize(conn); err != nil {
		return nil, fault.Transient("sending finalize: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(replyTimeout))
	var result wire.FinalizeResult
	if err := wire.ReadMessage(conn, &result); err != nil {
		return nil, fault.Transient("reading finalize result: %v", err)
	}

	switch result.Status {
	case wire.StatusCommitted:
		return &UploadResult{Digest: digest, Transferred: true, Attempts: 1}, nil
	case wire.StatusDigestMismatch:
		return nil, fault.Corruption("server computed digest %s, expected %s",
			result.Digest, pack.FormatDigest(digest))
	case wire.StatusSizeMismatch:
		return nil, fault.Client("upload failed: %s", result.Message)
	default:
		return nil, fault.Transient("upload failed: %s", result.Message)
	}
}

// Retry policy for UploadWithRetry.
const (
	maxAttempts    = 4
	initialBackoff = time.Second
)

// UploadWithRetry is Upload plus retries. Transient failures, busy
// replies, and corruption (digest mismatch, which means bytes were
// mangled in transit) are retried with doubling backoff; auth and
// client failures are not, since the next attempt would fail the same
// way.
func (c *Client) UploadWithRetry(ctx context.Context, digest pack.Digest, size int64, tag string, open func() (io.ReadCloser, error)) (*UploadResult, error) {
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := c.Upload(ctx, digest, size, tag, open)
		if err == nil {
			result.Attempts = attempt
			return result, nil
		}
		lastErr = err

		kind := fault.KindOf(err)
		if !fault.Retryable(err) && kind != fault.KindCorruption {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fault.Transient("upload cancelled: %v", ctx.Err())
		case <-c.clock.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("upload failed after %d attempts: %w", maxAttempts, lastErr)
}

// Has asks the server whether a pack is stored.
func (c *Client) Has(ctx context.Context, digest pack.Digest) (bool, error) {
	var response wire.HasResponse
	err := c.getJSON(ctx, "/has/"+pack.FormatDigest(digest), &response)
	if err != nil {
		return false, err
	}
	return response.Present, nil
}

// ResolveTag resolves a tag to the digest and download URL it points
// at.
func (c *Client) ResolveTag(ctx context.Context, tag string) (*wire.ResolveResponse, error) {
	var response wire.ResolveResponse
	if err := c.getJSON(ctx, "/tag/"+url.PathEscape(tag), &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Tags lists the server's tags.
func (c *Client) Tags(ctx context.Context) ([]wire.TagEntry, error) {
	var response wire.TagListResponse
	if err := c.getJSON(ctx, "/tags", &response); err != nil {
		return nil, err
	}
	return response.Tags, nil
}

// SetTag points a tag at an already stored digest.
func (c *Client) SetTag(ctx context.Context, tag string, digest pack.Digest) error {
	body, err := json.Marshal(wire.TagRequest{
		Tag:    tag,
		Digest: pack.FormatDigest(digest),
	})
	if err != nil {
		return fmt.Errorf("encoding tag request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/tag", strings.NewReader(string(body)), nil)
}

// DeleteTag removes a tag. The pack it pointed at stays stored.
func (c *Client) DeleteTag(ctx context.Context, tag string) error {
	return c.do(ctx, http.MethodDelete, "/tag/"+url.PathEscape(tag), nil, nil)
}

// DeletePack removes a stored pack.
func (c *Client) DeletePack(ctx context.Context, digest pack.Digest) error {
	return c.do(ctx, http.MethodDelete, "/pack/"+pack.FormatDigest(digest), nil, nil)
}

// Fetch downloads a pack. The caller must close the returned reader.
func (c *Client) Fetch(ctx context.Context, digest pack.Digest) (io.ReadCloser, int64, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/pack/"+pack.FormatDigest(digest), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("building fetch request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, 0, fault.Transient("fetching pack: %v", err)
	}
	if response.StatusCode != http.StatusOK {
		defer response.Body.Close()
		return nil, 0, decodeHTTPError(response)
	}
	return response.Body, response.ContentLength, nil
}

// getJSON performs an unauthenticated GET and decodes the JSON body.
func (c *Client) getJSON(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// do performs one HTTP exchange. Authenticated methods attach the
// token as a bearer credential.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, result any) error {
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		request.Header.Set("Authorization", "Bearer "+base64.RawURLEncoding.EncodeToString(c.token))
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fault.Transient("%s %s: %v", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return decodeHTTPError(response)
	}
	if result != nil {
		if err := json.NewDecoder(response.Body).Decode(result); err != nil {
			return fault.Transient("decoding %s response: %v", path, err)
		}
	}
	return nil
}

// decodeHTTPError turns an error response into a fault, preferring
// the kind the server reported and falling back to the status code.
func decodeHTTPError(response *http.Response) error {
	var body wire.ErrorResponse
	if err := json.NewDecoder(response.Body).Decode(&body); err == nil && body.Error != "" && body.Kind != "" {
		return &fault.Error{
			Kind: fault.Kind(body.Kind),
			Err:  fmt.Errorf("%s", body.Error),
		}
	}

	switch response.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fault.Auth("server returned %s", response.Status)
	case http.StatusNotFound:
		return fault.NotFound("server returned %s", response.Status)
	case http.StatusConflict:
		return fault.Conflict("server returned %s", response.Status)
	case http.StatusBadRequest:
		return fault.Client("server returned %s", response.Status)
	default:
		return fault.Transient("server returned %s", response.Status)
	}
}
