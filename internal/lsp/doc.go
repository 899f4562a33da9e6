// Package lsp implements a client for the Language Server Protocol
// (3.17) over JSON-RPC 2.0 framed with Content-Length headers.
//
// The package is organized in layers:
//
//   - Transport: framing, request/response correlation, notification
//     dispatch, deadlines and cancellation over a child process's
//     stdio pipes.
//   - Server: one running language server: process lifecycle, the
//     initialize handshake, reference-counted document tracking, and
//     typed wrappers for the requests the broker issues.
//   - Manager: the polyglot router holding one Server per project
//     language, started lazily on first use, with per-language failure
//     isolation.
//
// Capability differences between language servers are smoothed over by
// a static support matrix (see capability.go): operations a server is
// known not to support return empty results of the expected shape
// instead of errors.
package lsp
