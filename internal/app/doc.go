// Package app wires an endpoint together for the CLI.
//
// Config is read from a TOML file; NewWire builds the logger, the signing
// key, the state storage backend and the session and message services from
// it, exposing them via the Wire struct for commands to use.
package app
