package syncmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap_LoadStore(t *testing.T) {
	sm := New[string, int]()
	sm.Store("one", 1)

	v, ok := sm.Load("one")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = sm.Load("two")
	assert.False(t, ok)
}

func TestMap_LoadOrStoreKeepsFirst(t *testing.T) {
	sm := New[string, int]()

	actual, loaded := sm.LoadOrStore("k", 100)
	assert.False(t, loaded)
	assert.Equal(t, 100, actual)

	actual, loaded = sm.LoadOrStore("k", 200)
	assert.True(t, loaded)
	assert.Equal(t, 100, actual)
}

func TestMap_LoadAndDelete(t *testing.T) {
	sm := New[string, string]()
	sm.Store("book", "debouncer")

	v, ok := sm.LoadAndDelete("book")
	assert.True(t, ok)
	assert.Equal(t, "debouncer", v)
	assert.Equal(t, 0, sm.Len())

	_, ok = sm.LoadAndDelete("book")
	assert.False(t, ok)
}

func TestMap_ConcurrentLoadOrStore(t *testing.T) {
	sm := New[int, int]()
	var wg sync.WaitGroup

	for g := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				sm.LoadOrStore(i, g)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, sm.Len())
	assert.Len(t, sm.Values(), 100)
}
