// Package internal contains the core implementation packages for playground.
//
// These packages are unavailable to external modules. The cmd package wires
// them into the playground CLI and HTTP editor.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - codec: Share-link token encoding (JSON or CBOR, zstd or lz4, base64url)
//   - document: Document slots with a committed value, an edit buffer and history
//   - pipeline: Debounced, latest-wins rebuilds of the derived output
//   - session: The editing session store, snapshots and shareable links
//   - model: Concerto-style model parsing, resolution and data validation
//   - template: Template parsing, type checking and execution
//   - renderer: Model, data and template to HTML, with a result cache
//   - samples: The built-in sample catalog
//   - server: HTTP API, WebSocket snapshot streams and the editor page
//   - watcher: File system monitoring with debouncing
//   - config, errors, logging, middleware, validation, version: shared support
//
// # Data Flow
//
// A session owns one slot per document kind. Every committed change bumps
// the session version and schedules a rebuild; only the result for the most
// recent version is applied, so stale renders never overwrite fresh ones.
// Observers (the WebSocket stream, the watch command) subscribe to
// snapshots rather than polling.
//
// # Testing Strategy
//
// Unit tests use testify. Property tests use gopter and are behind the
// "property" build tag:
//
//	go test -tags property ./internal/...
package internal
