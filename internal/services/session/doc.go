// Package session composes the handshake, the ratchet chain, the frame
// codec and the state codec into a single endpoint.
//
// A client calls InitiateInitialization and delivers the returned frame.
// Both sides then pass every frame they receive to Receive and deliver
// whatever ToSend it returns; once IsInitialized reports true, Send may be
// used. Call SaveState after every call before relying on the storage.
package session
