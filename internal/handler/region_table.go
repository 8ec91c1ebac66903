package handler

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"modnet/internal/protocol"
)

type region struct {
	slots []atomic.Pointer[Descriptor]
}

type moduleRegions struct {
	regions atomic.Pointer[[]*region]
}

// RegionTable stores descriptors in modules[] -> regions[] -> slots[].
// Both outer slices grow copy-on-write and are published atomically, so
// readers index straight into them without locking. A module costs at least
// one region once it holds a descriptor.
type RegionTable struct {
	size  int
	shift uint
	mask  int

	mu      sync.Mutex
	modules atomic.Pointer[[]*moduleRegions]
	cur     cursor
	count   int
}

func NewRegionTable(regionSize int) (*RegionTable, error) {
	if regionSize == 0 {
		regionSize = DefaultRegionSize
	}
	if regionSize < 1 || regionSize > 1<<16 || regionSize&(regionSize-1) != 0 {
		return nil, fmt.Errorf("%w: region size %d is not a power of two", protocol.ErrInvalidValue, regionSize)
	}
	return &RegionTable{
		size:  regionSize,
		shift: uint(bits.TrailingZeros(uint(regionSize))),
		mask:  regionSize - 1,
		cur:   newCursor(),
	}, nil
}

func (t *RegionTable) RegionSize() int { return t.size }

func (t *RegionTable) slot(mod protocol.ModuleID, msg protocol.MessageID) *atomic.Pointer[Descriptor] {
	mods := t.modules.Load()
	if mods == nil || int(mod) >= len(*mods) {
		return nil
	}
	m := (*mods)[mod]
	if m == nil {
		return nil
	}
	regs := m.regions.Load()
	ri := int(msg) >> t.shift
	if regs == nil || ri >= len(*regs) || (*regs)[ri] == nil {
		return nil
	}
	return &(*regs)[ri].slots[int(msg)&t.mask]
}

func (t *RegionTable) load(mod protocol.ModuleID, msg protocol.MessageID) *Descriptor {
	s := t.slot(mod, msg)
	if s == nil {
		return nil
	}
	return s.Load()
}

// grow materializes the slot for (mod, msg). Callers hold t.mu.
func (t *RegionTable) grow(mod protocol.ModuleID, msg protocol.MessageID) *atomic.Pointer[Descriptor] {
	var mods []*moduleRegions
	if p := t.modules.Load(); p != nil {
		mods = *p
	}
	if int(mod) >= len(mods) || mods[mod] == nil {
		// Published slices are never written in place.
		next := make([]*moduleRegions, max(int(mod)+1, len(mods)))
		copy(next, mods)
		next[mod] = &moduleRegions{}
		t.modules.Store(&next)
		mods = next
	}
	m := mods[mod]

	var regs []*region
	if p := m.regions.Load(); p != nil {
		regs = *p
	}
	ri := int(msg) >> t.shift
	if ri >= len(regs) || regs[ri] == nil {
		next := make([]*region, max(ri+1, len(regs)))
		copy(next, regs)
		next[ri] = &region{slots: make([]atomic.Pointer[Descriptor], t.size)}
		m.regions.Store(&next)
		regs = next
	}
	return &regs[ri].slots[int(msg)&t.mask]
}

func (t *RegionTable) Get(msg protocol.MessageID) (Descriptor, error) {
	return t.GetModule(0, msg)
}

func (t *RegionTable) GetModule(mod protocol.ModuleID, msg protocol.MessageID) (Descriptor, error) {
	if d := t.load(mod, msg); d != nil {
		return *d, nil
	}
	return Descriptor{}, notFound(mod, msg)
}

func (t *RegionTable) TryGet(mod protocol.ModuleID, msg protocol.MessageID) (Descriptor, bool) {
	if d := t.load(mod, msg); d != nil {
		return *d, true
	}
	return Descriptor{}, false
}

func (t *RegionTable) Has(mod protocol.ModuleID, msg protocol.MessageID) bool {
	return t.load(mod, msg) != nil
}

func (t *RegionTable) Put(d Descriptor) (protocol.MessageID, error) {
	if !d.Valid() {
		return 0, fmt.Errorf("%w: descriptor %q", protocol.ErrInvalidValue, d.Name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	id, err := t.cur.claim(func(id protocol.MessageID) bool { return t.load(0, id) != nil })
	if err != nil {
		return 0, err
	}
	t.store(0, id, d)
	return id, nil
}

func (t *RegionTable) Set(mod protocol.ModuleID, msg protocol.MessageID, d Descriptor) error {
	if !d.Valid() {
		return fmt.Errorf("%w: descriptor %q", protocol.ErrInvalidValue, d.Name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.store(mod, msg, d)
	return nil
}

func (t *RegionTable) store(mod protocol.ModuleID, msg protocol.MessageID, d Descriptor) {
	s := t.grow(mod, msg)
	if s.Swap(&d) == nil {
		t.count++
	}
}

func (t *RegionTable) Remove(mod protocol.ModuleID, msg protocol.MessageID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.slot(mod, msg)
	if s == nil || s.Swap(nil) == nil {
		return false
	}
	t.count--
	t.cur.rewind(mod, msg)
	return true
}

func (t *RegionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

func (t *RegionTable) Range(fn func(mod protocol.ModuleID, msg protocol.MessageID, d Descriptor) bool) {
	mods := t.modules.Load()
	if mods == nil {
		return
	}
	for mi, m := range *mods {
		if m == nil {
			continue
		}
		regs := m.regions.Load()
		if regs == nil {
			continue
		}
		for ri, r := range *regs {
			if r == nil {
				continue
			}
			for si := range r.slots {
				d := r.slots[si].Load()
				if d == nil {
					continue
				}
				msg := protocol.MessageID(ri<<t.shift | si)
				if !fn(protocol.ModuleID(mi), msg, *d) {
					return
				}
			}
		}
	}
}

func (t *RegionTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mods := t.modules.Load(); mods != nil {
		for _, m := range *mods {
			if m == nil {
				continue
			}
			if regs := m.regions.Load(); regs != nil {
				for _, r := range *regs {
					if r == nil {
						continue
					}
					for i := range r.slots {
						r.slots[i].Store(nil)
					}
				}
			}
		}
	}
	t.count = 0
	t.cur.reset()
}

func (t *RegionTable) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modules.Store(nil)
	t.count = 0
	t.cur.reset()
}
