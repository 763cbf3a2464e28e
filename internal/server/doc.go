// Package server exposes the IRC service over HTTP: the WebSocket upgrade
// endpoint for the real-time protocol, and the request/response CRUD surface
// for users, channels, and message history.
//
// The implementation is organized into specialized files for routing, HTTP
// handlers, origin checking, and server lifecycle to keep the codebase
// maintainable and testable as the project grows.
package server
