package groupindex

import (
	"sync"
	"sync/atomic"

	"modnet/internal/protocol"
)

const (
	fanout    = 16
	fanBits   = 4
	fanMask   = fanout - 1
	rootShift = 2 * fanBits
)

type region [fanout]atomic.Uint32

type midLevel [fanout]atomic.Pointer[region]

// BitmapIndexer is a root[16] -> mid[16] -> region[16 words] tree covering the
// 4096 words of the message ID space. Levels are allocated on first write and
// published through atomic pointers, so a reader that sees a non-nil level
// also sees its zeroed contents. Levels only retract on Reset.
type BitmapIndexer struct {
	mu   sync.Mutex
	root [fanout]atomic.Pointer[midLevel]
}

var _ Indexer = (*BitmapIndexer)(nil)

func NewBitmapIndexer() *BitmapIndexer {
	return &BitmapIndexer{}
}

func locate(w uint16) (r, m, o int) {
	return int(w >> rootShift), int(w>>fanBits) & fanMask, int(w) & fanMask
}

// slot returns the word for w, allocating missing levels when alloc is set.
// Callers that allocate must hold x.mu.
func (x *BitmapIndexer) slot(w uint16, alloc bool) *atomic.Uint32 {
	r, m, o := locate(w)
	mid := x.root[r].Load()
	if mid == nil {
		if !alloc {
			return nil
		}
		mid = new(midLevel)
		x.root[r].Store(mid)
	}
	reg := mid[m].Load()
	if reg == nil {
		if !alloc {
			return nil
		}
		reg = new(region)
		mid[m].Store(reg)
	}
	return &reg[o]
}

func (x *BitmapIndexer) set(id protocol.MessageID, l uint32) {
	w, shift := split(id)
	x.mu.Lock()
	defer x.mu.Unlock()
	word := x.slot(w, l != 0)
	if word == nil {
		return
	}
	word.Store(withLanes(word.Load(), shift, l))
}

func (x *BitmapIndexer) get(id protocol.MessageID) uint32 {
	w, shift := split(id)
	word := x.slot(w, false)
	if word == nil {
		return 0
	}
	return lanes(word.Load(), shift)
}

func (x *BitmapIndexer) Register(id protocol.MessageID)  { x.set(id, laneBoth) }
func (x *BitmapIndexer) Remove(id protocol.MessageID)    { x.set(id, 0) }
func (x *BitmapIndexer) SetClient(id protocol.MessageID) { x.set(id, laneClient) }
func (x *BitmapIndexer) SetServer(id protocol.MessageID) { x.set(id, laneServer) }
func (x *BitmapIndexer) SetBoth(id protocol.MessageID)   { x.set(id, laneBoth) }
func (x *BitmapIndexer) SetNone(id protocol.MessageID)   { x.set(id, 0) }

func (x *BitmapIndexer) Has(id protocol.MessageID) bool       { return x.get(id) != 0 }
func (x *BitmapIndexer) HasClient(id protocol.MessageID) bool { return x.get(id)&laneClient != 0 }
func (x *BitmapIndexer) HasServer(id protocol.MessageID) bool { return x.get(id)&laneServer != 0 }
func (x *BitmapIndexer) HasAny(id protocol.MessageID) bool    { return x.get(id) != 0 }
func (x *BitmapIndexer) HasNone(id protocol.MessageID) bool   { return x.get(id) == 0 }

func (x *BitmapIndexer) Len() int {
	n := 0
	x.each(func(word *atomic.Uint32) {
		n += populated(word.Load())
	})
	return n
}

func (x *BitmapIndexer) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.each(func(word *atomic.Uint32) {
		word.Store(0)
	})
}

func (x *BitmapIndexer) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i := range x.root {
		x.root[i].Store(nil)
	}
}

// Regions reports how many word regions are materialized.
func (x *BitmapIndexer) Regions() int {
	n := 0
	for i := range x.root {
		mid := x.root[i].Load()
		if mid == nil {
			continue
		}
		for j := range mid {
			if mid[j].Load() != nil {
				n++
			}
		}
	}
	return n
}

func (x *BitmapIndexer) each(fn func(*atomic.Uint32)) {
	for i := range x.root {
		mid := x.root[i].Load()
		if mid == nil {
			continue
		}
		for j := range mid {
			reg := mid[j].Load()
			if reg == nil {
				continue
			}
			for k := range reg {
				fn(&reg[k])
			}
		}
	}
}
