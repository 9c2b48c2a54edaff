package objstore

import (
	"fmt"
)

// packOffset names one entry inside one of the Store's packs. The pack is
// identified by its position in Store.packs.
type packOffset struct {
	pack int
	off  uint64
}

// deltaContext carries per-lookup state while resolving delta chains.
//
// A single deltaContext is threaded through the recursive resolution
// logic so that the algorithm can
// • detect circular references, and
// • enforce the configured maximum chain depth.
//
// The zero value is not valid; use newDeltaContext to create an
// instance that honors the Store's MaxDeltaDepth setting.
type deltaContext struct {
	// visited records every base object reached by object ID during the
	// current resolution. It lets the resolver detect ref-delta cycles.
	visited map[Hash]bool

	// offsets records every pack entry reached during the current
	// resolution. It catches ofs-delta cycles as well as ref-deltas that
	// lead back into an entry already on the chain.
	offsets map[packOffset]bool

	// depth is the current recursion depth. It is incremented on entry to
	// a child delta and decremented on exit.
	depth int

	// maxDepth is the maximum permitted depth before resolution aborts
	// with an error. It is fixed when the context is created.
	maxDepth int
}

// newDeltaContext creates a new delta resolution context.
func newDeltaContext(maxDepth int) *deltaContext {
	return &deltaContext{
		visited:  make(map[Hash]bool),
		offsets:  make(map[packOffset]bool),
		maxDepth: maxDepth,
	}
}

// checkRefDelta validates that resolving a ref-delta will neither overflow
// the maximum delta-chain depth nor re-visit the same base object.
func (ctx *deltaContext) checkRefDelta(hash Hash) error {
	if ctx.depth >= ctx.maxDepth {
		return corruptf("delta chain too deep (max %d)", ctx.maxDepth)
	}
	if ctx.visited[hash] {
		return corruptf("circular delta reference detected for %s", hash)
	}
	return nil
}

// checkOfsDelta performs the same validations as checkRefDelta for an entry
// addressed by its position inside a pack.
func (ctx *deltaContext) checkOfsDelta(at packOffset) error {
	if ctx.depth >= ctx.maxDepth {
		return corruptf("delta chain too deep (max %d)", ctx.maxDepth)
	}
	if ctx.offsets[at] {
		return corruptf("circular delta reference detected at offset %d", at.off)
	}
	return nil
}

// enterRefDelta records that the ref-delta base identified by hash is being
// processed and bumps the recursion depth counter.
func (ctx *deltaContext) enterRefDelta(hash Hash) {
	ctx.visited[hash] = true
	ctx.depth++
}

// enterOfsDelta records that the entry at at is being processed and bumps
// the recursion depth counter.
func (ctx *deltaContext) enterOfsDelta(at packOffset) {
	ctx.offsets[at] = true
	ctx.depth++
}

// exit decrements the recursion depth counter when the caller leaves a delta
// resolution frame.
func (ctx *deltaContext) exit() { ctx.depth-- }

// applyDelta materializes a delta by interpreting Git's copy/insert opcode
// stream against base.
//
// The stream opens with two little-endian varints, the expected base size
// and the result size, followed by opcodes:
//
//   - 1xxxxxxx copies from base. Bits 0-3 select which of four little-endian
//     offset bytes follow, bits 4-6 which of three length bytes. A length of
//     zero means 0x10000.
//   - 0xxxxxxx with a non-zero value inserts that many literal bytes taken
//     from the delta itself.
//   - 0x00 is reserved and rejected.
//
// Every out-of-range reference, a base whose length differs from the
// declared base size, and a result whose length differs from the declared
// result size are reported as ErrCorruptDelta.
func applyDelta(base, delta []byte) ([]byte, error) {
	pos := 0
	baseSize, err := varIntAt(delta, &pos)
	if err != nil {
		return nil, fmt.Errorf("%w: base size: %w", ErrCorruptDelta, err)
	}
	resultSize, err := varIntAt(delta, &pos)
	if err != nil {
		return nil, fmt.Errorf("%w: result size: %w", ErrCorruptDelta, err)
	}
	if baseSize != uint64(len(base)) {
		return nil, fmt.Errorf("%w: base is %d bytes, delta expects %d", ErrCorruptDelta, len(base), baseSize)
	}
	// Every opcode byte produces at most 0x10000 output bytes, so a larger
	// declared result cannot be honest.
	if resultSize > uint64(len(delta)-pos)*0x10000 {
		return nil, fmt.Errorf("%w: result size %d unreachable", ErrCorruptDelta, resultSize)
	}

	out := make([]byte, 0, resultSize)
	for pos < len(delta) {
		op := delta[pos]
		pos++

		switch {
		case op&0x80 != 0:
			var cpOff, cpLen uint64
			for i := uint(0); i < 4; i++ {
				if op&(1<<i) == 0 {
					continue
				}
				if pos >= len(delta) {
					return nil, fmt.Errorf("%w: copy offset truncated", ErrCorruptDelta)
				}
				cpOff |= uint64(delta[pos]) << (8 * i)
				pos++
			}
			for i := uint(0); i < 3; i++ {
				if op&(0x10<<i) == 0 {
					continue
				}
				if pos >= len(delta) {
					return nil, fmt.Errorf("%w: copy length truncated", ErrCorruptDelta)
				}
				cpLen |= uint64(delta[pos]) << (8 * i)
				pos++
			}
			if cpLen == 0 {
				cpLen = 0x10000
			}
			if cpOff+cpLen > uint64(len(base)) {
				return nil, fmt.Errorf("%w: copy [%d,%d) outside %d-byte base",
					ErrCorruptDelta, cpOff, cpOff+cpLen, len(base))
			}
			if uint64(len(out))+cpLen > resultSize {
				return nil, fmt.Errorf("%w: output exceeds %d bytes", ErrCorruptDelta, resultSize)
			}
			out = append(out, base[cpOff:cpOff+cpLen]...)

		case op != 0:
			n := int(op)
			if n > len(delta)-pos {
				return nil, fmt.Errorf("%w: insert of %d bytes past end of delta", ErrCorruptDelta, n)
			}
			if uint64(len(out)+n) > resultSize {
				return nil, fmt.Errorf("%w: output exceeds %d bytes", ErrCorruptDelta, resultSize)
			}
			out = append(out, delta[pos:pos+n]...)
			pos += n

		default:
			return nil, fmt.Errorf("%w: reserved opcode 0 at %d", ErrCorruptDelta, pos-1)
		}
	}

	if uint64(len(out)) != resultSize {
		return nil, fmt.Errorf("%w: produced %d bytes, expected %d", ErrCorruptDelta, len(out), resultSize)
	}
	return out, nil
}
