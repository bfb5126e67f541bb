// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package proxypack

import (
	"context"
	"testing"
	"time"

	"github.com/packserve/packserve/lib/clock"
	"github.com/packserve/packserve/lib/fault"
	"github.com/packserve/packserve/lib/pack"
	"github.com/packserve/packserve/lib/wire"
)

type stubResolver struct {
	digest pack.Digest
	url    string
	err    error
	calls  int
}

func (s *stubResolver) ResolveTag(ctx context.Context, tag string) (*wire.ResolveResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &wire.ResolveResponse{
		Tag:    tag,
		Digest: pack.FormatDigest(s.digest),
		URL:    s.url,
	}, nil
}

func testDigest(fill byte) pack.Digest {
	var d pack.Digest
	for i := range d {
		d[i] = fill
	}
	return d
}

func TestResolvePinnedEntry(t *testing.T) {
	stub := &stubResolver{}
	clk := clock.Fake(time.Unix(1000, 0))
	resolver := NewResolver(stub, clk, 0)

	digest := testDigest(0x11)
	entry := &Entry{
		Digest:   &digest,
		BaseURL:  "https://packs.example.net",
		Prompt:   "Server resources",
		Required: true,
	}
	reference, err := resolver.Resolve(context.Background(), entry)
	if err != nil {
		t.Fatalf("resolve pinned entry: %v", err)
	}
	if reference.Digest != digest {
		t.Fatalf("pinned digest not carried through")
	}
	want := "https://packs.example.net/pack/" + pack.FormatDigest(digest)
	if reference.URL != want {
		t.Fatalf("URL = %q, want %q", reference.URL, want)
	}
	if !reference.Required {
		t.Fatalf("required flag lost")
	}
	if stub.calls != 0 {
		t.Fatalf("pinned entry hit the server %d times", stub.calls)
	}
}

func TestResolveCachesWithinTTL(t *testing.T) {
	stub := &stubResolver{
		digest: testDigest(0x22),
		url:    "https://packs.example.net/pack/abc",
	}
	clk := clock.Fake(time.Unix(1000, 0))
	resolver := NewResolver(stub, clk, time.Hour)

	entry := &Entry{Tag: "lobby"}
	if _, err := resolver.Resolve(context.Background(), entry); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := resolver.Resolve(context.Background(), entry); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("server resolved %d times within TTL, want 1", stub.calls)
	}

	clk.Advance(2 * time.Hour)
	if _, err := resolver.Resolve(context.Background(), entry); err != nil {
		t.Fatalf("resolve after TTL: %v", err)
	}
	if stub.calls != 2 {
		t.Fatalf("server resolved %d times after TTL, want 2", stub.calls)
	}
}

func TestResolveServesStaleOnRefreshFailure(t *testing.T) {
	stub := &stubResolver{
		digest: testDigest(0x33),
		url:    "https://packs.example.net/pack/abc",
	}
	clk := clock.Fake(time.Unix(1000, 0))
	resolver := NewResolver(stub, clk, time.Hour)

	entry := &Entry{Tag: "lobby"}
	first, err := resolver.Resolve(context.Background(), entry)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	clk.Advance(2 * time.Hour)
	stub.err = fault.Transient("server unreachable")
	second, err := resolver.Resolve(context.Background(), entry)
	if err != nil {
		t.Fatalf("refresh failure should serve stale reference, got %v", err)
	}
	if second.Digest != first.Digest {
		t.Fatalf("stale reference does not match original")
	}
}

func TestResolveFailsWithoutCache(t *testing.T) {
	stub := &stubResolver{err: fault.Transient("server unreachable")}
	resolver := NewResolver(stub, clock.Fake(time.Unix(1000, 0)), time.Hour)

	if _, err := resolver.Resolve(context.Background(), &Entry{Tag: "lobby"}); err == nil {
		t.Fatalf("expected error with no cached reference")
	}
}

func TestInvalidateForcesRefresh(t *testing.T) {
	stub := &stubResolver{
		digest: testDigest(0x44),
		url:    "https://packs.example.net/pack/abc",
	}
	resolver := NewResolver(stub, clock.Fake(time.Unix(1000, 0)), time.Hour)

	entry := &Entry{Tag: "lobby"}
	resolver.Resolve(context.Background(), entry)
	resolver.Invalidate("lobby")
	resolver.Resolve(context.Background(), entry)
	if stub.calls != 2 {
		t.Fatalf("server resolved %d times after invalidate, want 2", stub.calls)
	}
}

func TestIntegrationIdleIgnoresReports(t *testing.T) {
	integration := NewIntegration()
	if integration.Current() != nil {
		t.Fatalf("fresh integration should be idle")
	}
	if d := integration.HandleStatus("steve", StatusDeclined); d != DecisionNone {
		t.Fatalf("idle decision = %v, want none", d)
	}
}

func TestIntegrationKicksOnRequiredDecline(t *testing.T) {
	integration := NewIntegration()
	integration.Activate(&PackReference{Required: true, KickMessage: "pack required"})

	if d := integration.HandleStatus("steve", StatusDeclined); d != DecisionKick {
		t.Fatalf("required decline decision = %v, want kick", d)
	}

	integration.Activate(&PackReference{Required: false})
	if d := integration.HandleStatus("steve", StatusDeclined); d != DecisionNone {
		t.Fatalf("optional decline decision = %v, want none", d)
	}
}

func TestIntegrationResendsOnceOnDownloadFailure(t *testing.T) {
	integration := NewIntegration()
	integration.Activate(&PackReference{Required: true})

	if d := integration.HandleStatus("steve", StatusDownloadFailed); d != DecisionResend {
		t.Fatalf("first failure decision = %v, want resend", d)
	}
	if d := integration.HandleStatus("steve", StatusDownloadFailed); d != DecisionKick {
		t.Fatalf("second failure decision = %v, want kick for required pack", d)
	}

	// Another player gets their own resend budget.
	if d := integration.HandleStatus("alex", StatusDownloadFailed); d != DecisionResend {
		t.Fatalf("other player's first failure decision = %v, want resend", d)
	}
}

func TestIntegrationOptionalPackGivesUpQuietly(t *testing.T) {
	integration := NewIntegration()
	integration.Activate(&PackReference{Required: false})

	integration.HandleStatus("steve", StatusDownloadFailed)
	if d := integration.HandleStatus("steve", StatusDownloadFailed); d != DecisionNone {
		t.Fatalf("optional pack repeat failure decision = %v, want none", d)
	}
}

func TestIntegrationSuccessClearsResendBudget(t *testing.T) {
	integration := NewIntegration()
	integration.Activate(&PackReference{Required: true})

	integration.HandleStatus("steve", StatusDownloadFailed)
	integration.HandleStatus("steve", StatusLoaded)
	if d := integration.HandleStatus("steve", StatusDownloadFailed); d != DecisionResend {
		t.Fatalf("budget not reset after successful load")
	}
}

func TestIntegrationActivateResetsState(t *testing.T) {
	integration := NewIntegration()
	integration.Activate(&PackReference{Required: true})
	integration.HandleStatus("steve", StatusDownloadFailed)

	integration.Activate(&PackReference{Required: true})
	if d := integration.HandleStatus("steve", StatusDownloadFailed); d != DecisionResend {
		t.Fatalf("new activation should reset resend budgets")
	}

	integration.Deactivate()
	if integration.Current() != nil {
		t.Fatalf("deactivate should clear the reference")
	}
}
