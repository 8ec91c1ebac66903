// Package identity allocates module, group and message IDs and keeps the
// table of identities assigned to declared types.
package identity

import (
	"fmt"
	"sync"

	"modnet/internal/groupindex"
	"modnet/internal/protocol"
)

// GroupListener is told about every group allocated after construction.
// It runs after the space lock is released.
type GroupListener func(protocol.GroupID)

// Space hands out identities. Every counter keeps the next value to mint and
// returns the pre-increment value; exhaustion is detected on the wider
// counter before it would wrap.
type Space struct {
	mu         sync.Mutex
	mode       groupindex.Mode
	nextModule uint32
	nextGroup  uint32
	nextMsg    []uint32
	indexers   []groupindex.Indexer
	listeners  []GroupListener
}

func NewSpace(mode groupindex.Mode) *Space {
	return &Space{
		mode:      mode,
		nextGroup: uint32(protocol.DefaultGroup) + 1,
		nextMsg:   []uint32{uint32(protocol.SystemReserved)},
		indexers:  []groupindex.Indexer{groupindex.New(mode)},
	}
}

func (s *Space) NextModuleID() (protocol.ModuleID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextModule >= protocol.MaxModuleIDAmount {
		return 0, protocol.ErrModuleIDExhausted
	}
	id := protocol.ModuleID(s.nextModule)
	s.nextModule++
	return id, nil
}

func (s *Space) NextGroupID() (protocol.GroupID, error) {
	s.mu.Lock()
	if s.nextGroup >= protocol.MaxGroupIDAmount {
		s.mu.Unlock()
		return 0, protocol.ErrGroupIDExhausted
	}
	id := protocol.GroupID(s.nextGroup)
	s.nextGroup++
	s.nextMsg = append(s.nextMsg, uint32(protocol.SystemReserved))
	s.indexers = append(s.indexers, groupindex.New(s.mode))
	listeners := s.listeners
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(id)
	}
	return id, nil
}

func (s *Space) NextMessageID(group protocol.GroupID) (protocol.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(group) >= len(s.nextMsg) {
		return 0, fmt.Errorf("%w: %d", protocol.ErrUnknownGroup, group)
	}
	if s.nextMsg[group] >= 1<<16 {
		return 0, fmt.Errorf("%w: group %d", protocol.ErrMessageIDExhausted, group)
	}
	id := protocol.MessageID(s.nextMsg[group])
	s.nextMsg[group]++
	return id, nil
}

// GroupCount is the number of allocated groups, the default group included.
func (s *Space) GroupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nextMsg)
}

// Indexer returns the membership index owned by the group.
func (s *Space) Indexer(group protocol.GroupID) (groupindex.Indexer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(group) >= len(s.indexers) {
		return nil, false
	}
	return s.indexers[group], true
}

// OnGroup registers a listener for groups allocated from now on.
func (s *Space) OnGroup(fn GroupListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SetIndexerMode swaps every group's indexer for the given implementation,
// carrying over the lanes already set.
func (s *Space) SetIndexerMode(mode groupindex.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == s.mode {
		return
	}
	for i, old := range s.indexers {
		next := groupindex.New(mode)
		groupindex.Copy(next, old)
		s.indexers[i] = next
	}
	s.mode = mode
}

func (s *Space) IndexerMode() groupindex.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}
