// Package ratchet implements the two ratchets underneath a session: the
// symmetric hash chains that yield one message key per frame, and the
// Diffie-Hellman steps that refresh those chains whenever the peer
// presents a new public key.
//
// A Chain holds a bounded window of steps. The newest step keeps the
// material to derive its successor; sending is limited to the two newest
// steps and older steps only receive, so late frames still decrypt for a
// while after the keys that produced them were discarded.
package ratchet
