package groupindex

import "modnet/internal/protocol"

const (
	laneClient uint32 = 1 << 0
	laneServer uint32 = 1 << 1
	laneBoth          = laneClient | laneServer

	lanesPerWord = 16 // 32-bit words, 2 bits per ID
)

// Indexer is the membership contract shared by both storage strategies.
// Mutations are serialized internally; queries never allocate.
type Indexer interface {
	// Register marks the ID valid for both sides.
	Register(id protocol.MessageID)
	// Remove clears every lane of the ID.
	Remove(id protocol.MessageID)

	SetClient(id protocol.MessageID)
	SetServer(id protocol.MessageID)
	SetBoth(id protocol.MessageID)
	SetNone(id protocol.MessageID)

	Has(id protocol.MessageID) bool
	HasClient(id protocol.MessageID) bool
	HasServer(id protocol.MessageID) bool
	HasAny(id protocol.MessageID) bool
	HasNone(id protocol.MessageID) bool

	// Len counts IDs with at least one lane set.
	Len() int

	// Clear zeroes all lanes and keeps the backing storage.
	Clear()
	// Reset drops the backing storage.
	Reset()
}

// Mode picks an Indexer implementation.
type Mode uint8

const (
	// ModeCPU favors lookup speed (BitmapIndexer).
	ModeCPU Mode = iota
	// ModeRAM favors memory (MapIndexer).
	ModeRAM
)

func (m Mode) String() string {
	if m == ModeRAM {
		return "ram"
	}
	return "cpu"
}

func New(mode Mode) Indexer {
	if mode == ModeRAM {
		return NewMapIndexer()
	}
	return NewBitmapIndexer()
}

// Copy replays every populated lane of src into dst.
func Copy(dst, src Indexer) {
	for id := 0; id < 1<<16; id++ {
		mid := protocol.MessageID(id)
		switch {
		case src.HasClient(mid) && src.HasServer(mid):
			dst.SetBoth(mid)
		case src.HasClient(mid):
			dst.SetClient(mid)
		case src.HasServer(mid):
			dst.SetServer(mid)
		}
	}
}

func split(id protocol.MessageID) (word uint16, shift uint32) {
	return uint16(id) / lanesPerWord, uint32(id%lanesPerWord) * 2
}

func lanes(word uint32, shift uint32) uint32 {
	return (word >> shift) & laneBoth
}

func withLanes(word uint32, shift uint32, l uint32) uint32 {
	return word&^(laneBoth<<shift) | l<<shift
}
