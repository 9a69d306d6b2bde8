package block

import (
	"fmt"

	"github.com/meigma/psarc/internal/psarctype"
)

// Table is the archive-wide block-size table shared by all entries.
type Table struct {
	// Sizes holds one physical size per block. Zero means DefaultBlockSize.
	Sizes []uint16

	// DefaultBlockSize is the physical size of a block whose slot is zero.
	DefaultBlockSize uint32
}

// PhysicalSize returns the on-disk length of the block described by slot.
func (t Table) PhysicalSize(slot uint32) (uint32, error) {
	if uint64(slot) >= uint64(len(t.Sizes)) {
		return 0, fmt.Errorf("%w: block slot %d outside table of %d", psarctype.ErrFormat, slot, len(t.Sizes))
	}
	size := uint32(t.Sizes[slot])
	if size == 0 {
		size = t.DefaultBlockSize
	}
	if size == 0 {
		return 0, fmt.Errorf("%w: block slot %d resolves to zero length", psarctype.ErrFormat, slot)
	}
	return size, nil
}

// Span returns the number of stored bytes covered by the blocks an entry of
// the given size starting at slot normally occupies: one block per
// DefaultBlockSize of decoded content, rounded up.
func (t Table) Span(slot uint32, size uint64) (uint64, error) {
	if size == 0 {
		return 0, nil
	}
	if t.DefaultBlockSize == 0 {
		return 0, fmt.Errorf("%w: zero default block size", psarctype.ErrFormat)
	}
	count := (size + uint64(t.DefaultBlockSize) - 1) / uint64(t.DefaultBlockSize)
	if uint64(slot)+count > uint64(len(t.Sizes)) {
		return 0, fmt.Errorf("%w: %d blocks from slot %d outside table of %d",
			psarctype.ErrFormat, count, slot, len(t.Sizes))
	}
	var span uint64
	for i := range uint32(count) { //nolint:gosec // bounded by table length
		physical, err := t.PhysicalSize(slot + i)
		if err != nil {
			return 0, err
		}
		span += uint64(physical)
	}
	return span, nil
}
