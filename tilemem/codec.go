package tilemem

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// payloadMagic prefixes every compressed tile.
var payloadMagic = [4]byte{'S', 'K', 'T', '1'}

const payloadHeaderSize = 8

// Codec compresses tile pixels with zstd. The same frame is kept in memory
// for resident-compressed tiles and written to the store on eviction.
// A Codec is safe for concurrent use.
type Codec struct {
	tileSize int
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// NewCodec creates a codec for tiles of the given edge length. level is a
// zstd level in [1, 22].
func NewCodec(tileSize, level int) (*Codec, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderCRC(true),
	)
	if err != nil {
		return nil, fmt.Errorf("tilemem: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("tilemem: zstd decoder: %w", err)
	}
	return &Codec{tileSize: tileSize, enc: enc, dec: dec}, nil
}

// RawSize returns the uncompressed byte size of one tile.
func (c *Codec) RawSize() int { return c.tileSize * c.tileSize * 8 }

// Encode compresses pix (RawSize bytes) into a new payload.
func (c *Codec) Encode(pix []uint8) []byte {
	dst := make([]byte, payloadHeaderSize, payloadHeaderSize+len(pix)/8)
	copy(dst, payloadMagic[:])
	binary.LittleEndian.PutUint16(dst[4:], uint16(c.tileSize))
	return c.enc.EncodeAll(pix, dst)
}

// Decode decompresses a payload into a new pixel buffer.
func (c *Codec) Decode(payload []byte) ([]uint8, error) {
	if len(payload) < payloadHeaderSize || [4]byte(payload[:4]) != payloadMagic {
		return nil, ErrCorruptPayload
	}
	if ts := int(binary.LittleEndian.Uint16(payload[4:])); ts != c.tileSize {
		return nil, fmt.Errorf("%w: tile size %d, want %d", ErrCorruptPayload, ts, c.tileSize)
	}
	pix, err := c.dec.DecodeAll(payload[payloadHeaderSize:], make([]uint8, 0, c.RawSize()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	if len(pix) != c.RawSize() {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrCorruptPayload, len(pix), c.RawSize())
	}
	return pix, nil
}

// Close releases encoder and decoder resources.
func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}
