package listener

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/gpucep/internal/ir"
	"github.com/roach88/gpucep/internal/testutil"
)

func TestCollector(t *testing.T) {
	c := NewCollector()
	assert.Zero(t, c.Count())
	assert.Empty(t, c.Events())

	a := testutil.Event(1, 0, "a")
	b := testutil.Event(2, 0, "b")
	c.Deliver(a)
	c.Deliver(b)
	c.Deliver(testutil.Event(2, 1, "c"))

	assert.Equal(t, 3, c.Count())
	assert.Same(t, a, c.Events()[0])
	assert.Equal(t, map[ir.EventType]int{1: 1, 2: 2}, c.ByType())

	events := c.Events()
	events[0] = nil
	assert.NotNil(t, c.Events()[0], "Events returns a copy")

	c.Reset()
	assert.Zero(t, c.Count())
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Deliver(testutil.Event(1, int64(j), "x"))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, c.Count())
}
