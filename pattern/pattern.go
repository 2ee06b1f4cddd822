// Package pattern supplies and validates the deterministic byte
// patterns written and read back by I/O pass loops. The same (seed,
// pass) pair always yields the same byte stream, so a verify pass
// reproduces the write pass bit for bit.
package pattern

import (
	"encoding/binary"
	"math/rand/v2"
)

// SeedForPass derives the per-pass seed from the context's base seed.
// Each pass gets a distinct stream, but the derivation is stable so a
// re-read of pass N regenerates exactly what pass N wrote.
func SeedForPass(base, pass int64) int64 {
	// splitmix64-style mix keeps neighbouring passes uncorrelated.
	z := uint64(base) + uint64(pass)*0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return int64(z ^ (z >> 31))
}

// Generator produces and checks the pattern bytes for a block at a
// given byte offset. Implementations are pure functions of (seed,
// offset) and safe for concurrent use by distinct threads.
type Generator interface {
	// Fill writes the expected bytes for the block at off into p.
	Fill(p []byte, off int64)
	// Verify compares got against the expected bytes for the block at
	// off. It returns the offset of the first mismatching byte and
	// false on mismatch, or (0, true) on success.
	Verify(got []byte, off int64) (int64, bool)
}

// ──────────────────────────────────────────────────
// PRNG pattern
// ──────────────────────────────────────────────────

// PRNG is a seeded pseudo-random pattern. Block content depends only
// on the seed and the block's byte offset.
type PRNG struct {
	Seed int64
}

// NewPRNG creates a PRNG generator for the given per-pass seed.
func NewPRNG(seed int64) *PRNG { return &PRNG{Seed: seed} }

// Fill implements Generator.
func (g *PRNG) Fill(p []byte, off int64) {
	rng := rand.New(rand.NewPCG(uint64(g.Seed), uint64(off)))
	var word uint64
	for i := range p {
		if i%8 == 0 {
			word = rng.Uint64()
		}
		p[i] = byte(word)
		word >>= 8
	}
}

// Verify implements Generator.
func (g *PRNG) Verify(got []byte, off int64) (int64, bool) {
	expected := make([]byte, len(got))
	g.Fill(expected, off)
	return firstMismatch(expected, got, off)
}

// ──────────────────────────────────────────────────
// IOT pattern
// ──────────────────────────────────────────────────

// IOT is the industry-standard "IOT" block-tagged pattern: every
// 4-byte word encodes the block's logical address mixed with the pass
// seed, which makes misplaced (wrong-offset) data self-identifying.
type IOT struct {
	Seed      int64
	BlockSize int64
}

// NewIOT creates an IOT generator for the given per-pass seed and
// block size.
func NewIOT(seed, blockSize int64) *IOT {
	if blockSize <= 0 {
		blockSize = 512
	}
	return &IOT{Seed: seed, BlockSize: blockSize}
}

// Fill implements Generator.
func (g *IOT) Fill(p []byte, off int64) {
	lba := uint32(off / g.BlockSize)
	tag := uint32(g.Seed)
	for i := 0; i+4 <= len(p); i += 4 {
		word := (lba + uint32(i)/4) ^ tag
		binary.BigEndian.PutUint32(p[i:], word)
	}
	// Trailing bytes of a non-multiple-of-4 block repeat the tag.
	for i := len(p) &^ 3; i < len(p); i++ {
		p[i] = byte(tag >> (8 * (uint(i) % 4)))
	}
}

// Verify implements Generator.
func (g *IOT) Verify(got []byte, off int64) (int64, bool) {
	expected := make([]byte, len(got))
	g.Fill(expected, off)
	return firstMismatch(expected, got, off)
}

func firstMismatch(expected, got []byte, off int64) (int64, bool) {
	for i := range got {
		if got[i] != expected[i] {
			return off + int64(i), false
		}
	}
	return 0, true
}
