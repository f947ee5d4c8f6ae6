// Package multipart splits payloads that exceed one frame into numbered
// fragments and reassembles them on the receiving side. It works on
// decrypted payloads and knows nothing about the ratchet.
package multipart
