package groupindex

import (
	"math/bits"
	"sync"

	"modnet/internal/protocol"
)

// MapIndexer keeps a word in the map only while at least one of its lanes is
// set. Memory follows the number of populated words.
type MapIndexer struct {
	mu    sync.RWMutex
	words map[uint16]uint32
}

var _ Indexer = (*MapIndexer)(nil)

func NewMapIndexer() *MapIndexer {
	return &MapIndexer{words: make(map[uint16]uint32)}
}

func (x *MapIndexer) set(id protocol.MessageID, l uint32) {
	w, shift := split(id)
	x.mu.Lock()
	defer x.mu.Unlock()
	next := withLanes(x.words[w], shift, l)
	if next == 0 {
		delete(x.words, w)
		return
	}
	x.words[w] = next
}

func (x *MapIndexer) get(id protocol.MessageID) uint32 {
	w, shift := split(id)
	x.mu.RLock()
	word := x.words[w]
	x.mu.RUnlock()
	return lanes(word, shift)
}

func (x *MapIndexer) Register(id protocol.MessageID)  { x.set(id, laneBoth) }
func (x *MapIndexer) Remove(id protocol.MessageID)    { x.set(id, 0) }
func (x *MapIndexer) SetClient(id protocol.MessageID) { x.set(id, laneClient) }
func (x *MapIndexer) SetServer(id protocol.MessageID) { x.set(id, laneServer) }
func (x *MapIndexer) SetBoth(id protocol.MessageID)   { x.set(id, laneBoth) }
func (x *MapIndexer) SetNone(id protocol.MessageID)   { x.set(id, 0) }

func (x *MapIndexer) Has(id protocol.MessageID) bool       { return x.get(id) != 0 }
func (x *MapIndexer) HasClient(id protocol.MessageID) bool { return x.get(id)&laneClient != 0 }
func (x *MapIndexer) HasServer(id protocol.MessageID) bool { return x.get(id)&laneServer != 0 }
func (x *MapIndexer) HasAny(id protocol.MessageID) bool    { return x.get(id) != 0 }
func (x *MapIndexer) HasNone(id protocol.MessageID) bool   { return x.get(id) == 0 }

func (x *MapIndexer) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n := 0
	for _, w := range x.words {
		n += populated(w)
	}
	return n
}

func (x *MapIndexer) Clear() {
	x.mu.Lock()
	clear(x.words)
	x.mu.Unlock()
}

func (x *MapIndexer) Reset() {
	x.mu.Lock()
	x.words = make(map[uint16]uint32)
	x.mu.Unlock()
}

// populated counts IDs with any lane set in a word.
func populated(w uint32) int {
	const low = 0x55555555
	return bits.OnesCount32((w | w>>1) & low)
}
