// Package handshake implements the signed key exchange that bootstraps the
// first ratchet steps between a client and a server.
//
// # Overview
//
// Both hello frames are protected by a pre-shared application key. A
// receiver tells handshake frames from steady-state frames only by which
// key validates the tag; the tag of each hello also binds its kind, so a
// server never mistakes a server hello for a client hello.
//
// # Flows
//
// Client:
//  1. NewClientHello: nonce, ephemeral key, signature over both and the
//     long-term public key.
//  2. ParseServerHello: recover the server ephemeral, derive the root
//     pre-key, decrypt and verify the payload, check the nonce echo.
//
// Server:
//  1. ParseClientHello: decrypt and verify the client's signature.
//  2. NewServerHello: derive the root pre-key, generate R0 and R1, sign
//     the payload together with the client's public key.
//
// The acks that follow ride the first ratchet-protected frames and are
// handled by the session.
//
// # Errors
//
// Signature and pin failures wrap domain.ErrAuthentication; a bad echo or
// malformed frame wraps domain.ErrProtocolViolation.
package handshake
