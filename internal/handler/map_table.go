package handler

import (
	"fmt"
	"sort"
	"sync"

	"modnet/internal/protocol"
)

// MapTable stores descriptors in a map of maps. Memory follows the number
// of registrations; every lookup pays two hash probes under a read lock.
type MapTable struct {
	mu      sync.RWMutex
	modules map[protocol.ModuleID]map[protocol.MessageID]Descriptor
	cur     cursor
	count   int
}

func NewMapTable() *MapTable {
	return &MapTable{
		modules: make(map[protocol.ModuleID]map[protocol.MessageID]Descriptor),
		cur:     newCursor(),
	}
}

func (t *MapTable) Get(msg protocol.MessageID) (Descriptor, error) {
	return t.GetModule(0, msg)
}

func (t *MapTable) GetModule(mod protocol.ModuleID, msg protocol.MessageID) (Descriptor, error) {
	if d, ok := t.TryGet(mod, msg); ok {
		return d, nil
	}
	return Descriptor{}, notFound(mod, msg)
}

func (t *MapTable) TryGet(mod protocol.ModuleID, msg protocol.MessageID) (Descriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.modules[mod][msg]
	return d, ok
}

func (t *MapTable) Has(mod protocol.ModuleID, msg protocol.MessageID) bool {
	_, ok := t.TryGet(mod, msg)
	return ok
}

func (t *MapTable) Put(d Descriptor) (protocol.MessageID, error) {
	if !d.Valid() {
		return 0, fmt.Errorf("%w: descriptor %q", protocol.ErrInvalidValue, d.Name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	home := t.modules[0]
	id, err := t.cur.claim(func(id protocol.MessageID) bool {
		_, ok := home[id]
		return ok
	})
	if err != nil {
		return 0, err
	}
	t.store(0, id, d)
	return id, nil
}

func (t *MapTable) Set(mod protocol.ModuleID, msg protocol.MessageID, d Descriptor) error {
	if !d.Valid() {
		return fmt.Errorf("%w: descriptor %q", protocol.ErrInvalidValue, d.Name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.store(mod, msg, d)
	return nil
}

func (t *MapTable) store(mod protocol.ModuleID, msg protocol.MessageID, d Descriptor) {
	slots, ok := t.modules[mod]
	if !ok {
		slots = make(map[protocol.MessageID]Descriptor)
		t.modules[mod] = slots
	}
	if _, ok := slots[msg]; !ok {
		t.count++
	}
	slots[msg] = d
}

func (t *MapTable) Remove(mod protocol.ModuleID, msg protocol.MessageID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	slots := t.modules[mod]
	if _, ok := slots[msg]; !ok {
		return false
	}
	delete(slots, msg)
	if len(slots) == 0 {
		delete(t.modules, mod)
	}
	t.count--
	t.cur.rewind(mod, msg)
	return true
}

func (t *MapTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// Range visits entries in (module, message) order. The table is read
// locked for the duration, so fn must not mutate it.
func (t *MapTable) Range(fn func(mod protocol.ModuleID, msg protocol.MessageID, d Descriptor) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	mods := make([]protocol.ModuleID, 0, len(t.modules))
	for m := range t.modules {
		mods = append(mods, m)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i] < mods[j] })
	for _, m := range mods {
		slots := t.modules[m]
		ids := make([]protocol.MessageID, 0, len(slots))
		for id := range slots {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			if !fn(m, id, slots[id]) {
				return
			}
		}
	}
}

// Clear empties every module map but keeps the maps allocated.
func (t *MapTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, slots := range t.modules {
		clear(slots)
	}
	t.count = 0
	t.cur.reset()
}

func (t *MapTable) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modules = make(map[protocol.ModuleID]map[protocol.MessageID]Descriptor)
	t.count = 0
	t.cur.reset()
}
