// Package symbol is the retrieval and caching layer between the tool
// surface and the LSP clients. It turns per-file document-symbol trees
// into name-path addressable symbols, slices symbol bodies out of
// source, and keeps a bounded two-tier cache (in-memory LRU plus an
// optional on-disk blob store with debounced writes) in front of the
// language servers. A request coalescer collapses concurrent identical
// LSP requests into one round-trip.
package symbol
