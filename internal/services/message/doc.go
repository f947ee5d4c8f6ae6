// Package message carries payloads larger than one frame over a session.
//
// It splits outgoing payloads into self-describing fragments, sends each
// through the session, and reassembles incoming fragments once the session
// has decrypted them.
package message
