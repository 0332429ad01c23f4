package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gpucep/internal/ir"
)

func TestPool_RetainRelease(t *testing.T) {
	p := NewPool()
	ev := ir.MustPubPkt(1, 0, nil)

	p.Retain(ev)
	p.Retain(ev)
	assert.Equal(t, 2, p.RefCount(ev.ID))
	assert.Equal(t, 1, p.Live())

	got, ok := p.Get(ev.ID)
	require.True(t, ok)
	assert.Same(t, ev, got)

	p.Release(ev)
	assert.Equal(t, 1, p.RefCount(ev.ID))

	p.Release(ev)
	assert.Equal(t, 0, p.RefCount(ev.ID))
	assert.Equal(t, 0, p.Live())
	assert.Equal(t, int64(1), p.Freed())

	_, ok = p.Get(ev.ID)
	assert.False(t, ok)
}

func TestPool_ReleaseUnknownIsNoop(t *testing.T) {
	p := NewPool()
	p.Release(ir.MustPubPkt(1, 0, nil))
	p.Release(nil)
	p.Retain(nil)
	assert.Equal(t, 0, p.Live())
	assert.Equal(t, int64(0), p.Freed())
}

func TestPool_Concurrent(t *testing.T) {
	p := NewPool()
	ev := ir.MustPubPkt(1, 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Retain(ev)
			p.Release(ev)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, p.Live())
}

func TestNoop(t *testing.T) {
	var m Manager = Noop{}
	m.Retain(ir.MustPubPkt(1, 0, nil))
	m.Release(nil)
}
