// Package project owns the on-disk project state: the YAML descriptor
// under .codelens/, language detection over the source tree, the lazy
// first-use initializer, and descriptor-aware file access (encoding,
// ignored paths, read-only enforcement) used by the tool surface and
// the symbol retriever.
package project
