// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

// packserve-server is the resource pack distribution server. It
// stores packs content-addressed on disk, accepts authenticated
// uploads over a framed TCP protocol, and serves downloads and tag
// queries over HTTP.
//
// The server listens on two addresses. The HTTP listener (config
// "listen") serves pack bytes, existence checks, and tag operations.
// The upload listener (config "upload_listen") speaks the framed
// upload protocol: a CBOR announcement carrying the pack digest,
// size, and a signed token, followed by data frames and a finalize
// exchange.
//
// Tokens are ed25519-signed and minted by the server's own key set,
// which is generated on first start under the configured key
// directory. Rotate keys with the packserve CLI; old public keys are
// kept as grace keys so in-flight tokens keep verifying.
package main
