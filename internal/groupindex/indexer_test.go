package groupindex

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modnet/internal/protocol"
)

var implementations = []struct {
	name string
	new  func() Indexer
}{
	{name: "map", new: func() Indexer { return NewMapIndexer() }},
	{name: "bitmap", new: func() Indexer { return NewBitmapIndexer() }},
}

func TestRegisterRemove(t *testing.T) {
	for _, impl := range implementations {
		t.Run(impl.name, func(t *testing.T) {
			x := impl.new()
			ids := []protocol.MessageID{0, 1, 15, 16, 17, 255, 4096, 65535}
			for _, id := range ids {
				assert.False(t, x.Has(id))
				x.Register(id)
				assert.True(t, x.Has(id), "id %d", id)
				assert.True(t, x.HasClient(id))
				assert.True(t, x.HasServer(id))
			}
			assert.Equal(t, len(ids), x.Len())

			for _, id := range ids {
				x.Remove(id)
				assert.False(t, x.Has(id), "id %d", id)
				assert.True(t, x.HasNone(id))
			}
			assert.Equal(t, 0, x.Len())
		})
	}
}

func TestSideHelpers(t *testing.T) {
	for _, impl := range implementations {
		t.Run(impl.name, func(t *testing.T) {
			x := impl.new()
			const id protocol.MessageID = 42

			x.SetClient(id)
			assert.True(t, x.HasClient(id))
			assert.False(t, x.HasServer(id))
			assert.True(t, x.HasAny(id))

			x.SetServer(id)
			assert.False(t, x.HasClient(id))
			assert.True(t, x.HasServer(id))

			x.SetBoth(id)
			assert.True(t, x.HasClient(id))
			assert.True(t, x.HasServer(id))

			x.SetNone(id)
			assert.True(t, x.HasNone(id))
			assert.False(t, x.Has(id))

			// neighbours sharing the word stay untouched
			x.SetClient(id)
			x.SetServer(id + 1)
			x.Remove(id)
			assert.True(t, x.HasServer(id+1))
		})
	}
}

func TestClearThenRegisterMatchesFresh(t *testing.T) {
	for _, impl := range implementations {
		t.Run(impl.name, func(t *testing.T) {
			x := impl.new()
			ids := []protocol.MessageID{5, 99, 1000, 40000}
			for _, id := range ids {
				x.Register(id)
			}

			x.Clear()
			for _, id := range ids {
				assert.False(t, x.Has(id))
			}

			fresh := impl.new()
			x.SetClient(99)
			fresh.SetClient(99)
			for _, id := range ids {
				assert.Equal(t, fresh.HasClient(id), x.HasClient(id))
				assert.Equal(t, fresh.HasServer(id), x.HasServer(id))
			}
		})
	}
}

func TestBitmapClearKeepsRegionsResetDrops(t *testing.T) {
	x := NewBitmapIndexer()
	x.Register(3)
	x.Register(60000)
	require.Equal(t, 2, x.Regions())

	x.Clear()
	assert.Equal(t, 2, x.Regions())
	assert.Equal(t, 0, x.Len())

	x.Reset()
	assert.Equal(t, 0, x.Regions())
}

func TestBitmapRemoveDoesNotAllocate(t *testing.T) {
	x := NewBitmapIndexer()
	x.Remove(1234)
	x.SetNone(50000)
	assert.Equal(t, 0, x.Regions())
}

func TestImplementationsAgree(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	m := NewMapIndexer()
	b := NewBitmapIndexer()

	for step := 0; step < 20000; step++ {
		// bias towards the low end like sequential allocation does
		id := protocol.MessageID(rng.IntN(512))
		if rng.IntN(10) == 0 {
			id = protocol.MessageID(rng.IntN(1 << 16))
		}
		switch rng.IntN(6) {
		case 0:
			m.Register(id)
			b.Register(id)
		case 1:
			m.Remove(id)
			b.Remove(id)
		case 2:
			m.SetClient(id)
			b.SetClient(id)
		case 3:
			m.SetServer(id)
			b.SetServer(id)
		case 4:
			m.SetBoth(id)
			b.SetBoth(id)
		case 5:
			m.SetNone(id)
			b.SetNone(id)
		}

		probe := protocol.MessageID(rng.IntN(1 << 16))
		for _, q := range []protocol.MessageID{id, probe} {
			require.Equal(t, m.Has(q), b.Has(q), "step %d id %d", step, q)
			require.Equal(t, m.HasClient(q), b.HasClient(q), "step %d id %d", step, q)
			require.Equal(t, m.HasServer(q), b.HasServer(q), "step %d id %d", step, q)
			require.Equal(t, m.HasNone(q), b.HasNone(q), "step %d id %d", step, q)
		}
	}
	assert.Equal(t, m.Len(), b.Len())
}

func TestCopy(t *testing.T) {
	src := NewMapIndexer()
	src.SetClient(10)
	src.SetServer(11)
	src.Register(70)

	dst := New(ModeCPU)
	Copy(dst, src)

	assert.True(t, dst.HasClient(10))
	assert.False(t, dst.HasServer(10))
	assert.True(t, dst.HasServer(11))
	assert.True(t, dst.HasClient(70) && dst.HasServer(70))
	assert.Equal(t, 3, dst.Len())
}

func TestConcurrentReadersSingleWriter(t *testing.T) {
	for _, impl := range implementations {
		t.Run(impl.name, func(t *testing.T) {
			x := impl.new()
			var wg sync.WaitGroup
			done := make(chan struct{})

			for r := 0; r < 4; r++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						select {
						case <-done:
							return
						default:
						}
						for id := protocol.MessageID(0); id < 2048; id += 7 {
							_ = x.Has(id)
						}
					}
				}()
			}

			for id := protocol.MessageID(0); id < 2048; id++ {
				x.Register(id)
			}
			close(done)
			wg.Wait()

			for id := protocol.MessageID(0); id < 2048; id++ {
				require.True(t, x.Has(id))
			}
		})
	}
}
