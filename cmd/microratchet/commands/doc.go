// Package commands defines the microratchet CLI.
//
// Commands
//
//   - init         Write a matching server and client config
//   - keygen       Generate a passphrase-sealed signing identity
//   - fingerprint  Print the identity fingerprint
//   - simulate     Run a lossy in-process conversation between two configs
//   - inspect      Describe the stored session state of a config
//
// # Implementation
//
// Commands that operate on an endpoint load its TOML config and build the
// dependency graph through app.NewWire, closing it when they return.
package commands
