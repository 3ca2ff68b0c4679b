package tilemem

import "errors"

var (
	// ErrNotFound is returned by a Store when the key has no value.
	ErrNotFound = errors.New("tilemem: not found")

	// ErrStoreQuota is returned by a Store that is over capacity or was
	// handed a value larger than it accepts.
	ErrStoreQuota = errors.New("tilemem: store quota exceeded")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("tilemem: manager closed")

	// ErrNotPinned is returned by Unpin for a tile without pins.
	ErrNotPinned = errors.New("tilemem: tile not pinned")

	// ErrCorruptPayload is returned when a compressed tile fails to decode.
	ErrCorruptPayload = errors.New("tilemem: corrupt tile payload")
)
