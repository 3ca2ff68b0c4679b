// Package tilemem owns the raster tiles of every layer and keeps their
// resident footprint inside a byte budget.
//
// A tile moves through four states:
//
//	ResidentUncompressed ⇄ ResidentCompressed → Evicted → (load) ResidentCompressed
//	                                                ↘ Absent (never written)
//
// Reactive eviction runs synchronously inside every public operation that
// grows the resident set: least recently used unpinned tiles are first
// compressed in memory, then handed to the write-behind queue and dropped.
// A pressure goroutine evicts proactively toward the low-water mark.
//
// Writes go to a [Store] keyed by (layer, x, y, revision). The payload is
// the same zstd frame used for in-memory compression, so eviction never
// re-encodes. Failed writes are retried with exponential backoff; after the
// last attempt the tile stays resident-compressed and one
// [sketch.TilePersistError] is reported.
//
// Pixels are only mutated between [Manager.Pin] and [Manager.Unpin]; a
// pinned tile is never compressed or evicted.
package tilemem
