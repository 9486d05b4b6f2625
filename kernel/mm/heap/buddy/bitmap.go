package buddy

import "math/bits"

const (
	// bitmapRank is the rank of a tree leaf. Below it, free blocks are
	// tracked one bit per unit inside a bitmap segment.
	bitmapRank = 9

	segmentUnits = 1 << bitmapRank
	segmentWords = segmentUnits / 64

	allOnes = ^uint64(0)
)

// runMasks[r] keeps the lowest bit of every aligned rank r+1 run after a
// word has been ANDed with itself shifted right by 1<<r.
var runMasks = [6]uint64{
	0x5555555555555555,
	0x1111111111111111,
	0x0101010101010101,
	0x0001000100010001,
	0x0000000100000001,
	0x0000000000000001,
}

// freeRuns returns a mask with bit i set for every aligned run of 1<<rank
// free units starting at bit i. rank must not exceed 6.
func freeRuns(w uint64, rank int) uint64 {
	for r := 0; r < rank; r++ {
		w &= (w >> (1 << uint(r))) & runMasks[r]
	}
	return w
}

// blockMask returns the bits covered by a rank block that starts at bit 0.
func blockMask(rank int) uint64 {
	if rank >= 6 {
		return allOnes
	}
	return uint64(1)<<(uint(1)<<uint(rank)) - 1
}

// allocInSegment claims the first aligned free block of the given rank in a
// segment and returns its unit offset within the segment.
func allocInSegment(seg []uint64, rank int) int {
	switch {
	case rank <= 4:
		for i := range seg {
			runs := freeRuns(seg[i], rank)
			if runs == 0 {
				continue
			}

			off := bits.TrailingZeros64(runs)
			seg[i] ^= blockMask(rank) << uint(off)
			return i*64 + off
		}

	case rank == 5:
		for i := range seg {
			if seg[i]&0x00000000ffffffff == 0x00000000ffffffff {
				seg[i] ^= 0x00000000ffffffff
				return i * 64
			}
			if seg[i]&0xffffffff00000000 == 0xffffffff00000000 {
				seg[i] ^= 0xffffffff00000000
				return i*64 + 32
			}
		}

	case rank < bitmapRank:
		words := 1 << uint(rank-6)
		for i := 0; i < segmentWords; i += words {
			if !allFree(seg[i : i+words]) {
				continue
			}

			for j := i; j < i+words; j++ {
				seg[j] = 0
			}
			return i * 64
		}
	}

	panic(errCorruptBitmap)
}

func allFree(words []uint64) bool {
	acc := allOnes
	for _, w := range words {
		acc &= w
	}
	return acc == allOnes
}

// freeInSegment marks the rank block at unit offset off as free. Any bit that
// is already free means the block is released twice.
func freeInSegment(seg []uint64, rank int, off uintptr) {
	word := off >> 6

	if rank < 6 {
		mask := blockMask(rank) << (off & 63)
		if seg[word]&mask != 0 {
			panic(errDoubleFree)
		}
		seg[word] |= mask
		return
	}

	words := uintptr(1) << uint(rank-6)
	for i := word; i < word+words; i++ {
		if seg[i] != 0 {
			panic(errDoubleFree)
		}
		seg[i] = allOnes
	}
}

// summarizeWord returns the set of ranks (0 through 6) for which the word
// holds at least one aligned free block.
func summarizeWord(w uint64) uint64 {
	var summary uint64
	for r := 0; r <= 6; r++ {
		if w != 0 {
			summary |= 1 << uint(r)
		}
		if r < 6 {
			w &= (w >> (1 << uint(r))) & runMasks[r]
		}
	}
	return summary
}

// summarizeSegment reduces the eight words of a segment to a leaf summary.
// Two whole halves collapse into a single bit of the next rank.
func summarizeSegment(seg []uint64) uint64 {
	return summarizeRange(seg, bitmapRank)
}

func summarizeRange(words []uint64, rank int) uint64 {
	if len(words) == 1 {
		return summarizeWord(words[0])
	}

	half := len(words) / 2
	lo := summarizeRange(words[:half], rank-1)
	hi := summarizeRange(words[half:], rank-1)

	if lo&hi&(1<<uint(rank-1)) != 0 {
		return 1 << uint(rank)
	}
	return lo | hi
}
