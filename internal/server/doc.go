// Package server implements the GoChat line server: the client registry,
// per-connection sessions, command dispatch, content moderation and the
// optional HTTP surface that bridges WebSocket clients onto the same
// protocol.
//
// The implementation is organized into specialized files for configuration,
// the registry, sessions, commands, routing and HTTP handlers to keep the
// codebase maintainable and testable as the project grows.
package server
