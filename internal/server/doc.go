// Package server implements the HTTP surface for Folio: file management at
// caller-chosen paths under /files, anonymous expiring uploads at /uploads,
// read-only serving of stored files, and the health and metrics endpoints.
// It wires the router, middleware and handler dependencies and provides the
// lifecycle helpers used by tests and the production binary.
package server
