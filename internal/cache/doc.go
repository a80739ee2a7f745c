// Package cache defines the disk-backed store responsible for translating
// repo requests into StoragePath/<repo>/<path> files. Each entry is a body
// file plus a JSON sidecar (<path>.meta) recording content hash, size and
// fetch/access timestamps. The store exposes read/write primitives with safe
// semantics (temp file + rename) and per-key locking so eviction of one entry
// never blocks reads or writes of another. The fetch engine, retention sweep
// and prefetch scheduler all share a single store instance.
package cache
