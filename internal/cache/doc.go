// Package cache provides the generic recency primitives shared by the
// engine.
//
// # List[K]
//
// An intrusive doubly-linked recency list. The tile memory manager keeps
// one node per resident tile and walks it from the back to pick eviction
// candidates, skipping pinned tiles.
//
//	l := cache.NewList[Key]()
//	n := l.PushFront(k)
//	l.MoveToFront(n)
//	for n := l.Back(); n != nil; n = n.Prev() { ... }
//
// # Cache[K, V]
//
// A thread-safe LRU cache bounded by entry count, used for scaled brush
// textures and presented 8-bit tiles.
//
//	c := cache.New[string, int](100)
//	c.Set("key", 42)
//	value, ok := c.Get("key")
//
// List is not safe for concurrent use. Cache is, and must not be copied
// after creation.
package cache
