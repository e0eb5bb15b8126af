package notify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitReachesTopicListeners(t *testing.T) {
	e := New[string, int]()
	var got []int
	e.On("a", func(v int) { got = append(got, v) })
	e.On("a", func(v int) { got = append(got, v*2) })
	e.On("b", func(v int) { got = append(got, -v) })

	e.Emit("a", 21)
	assert.Equal(t, []int{21, 42}, got)
}

func TestOnAnySeesEveryTopic(t *testing.T) {
	e := New[string, string]()
	var got []string
	e.OnAny(func(v string) { got = append(got, v) })

	e.Emit("x", "one")
	e.Emit("y", "two")
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestUnsubscribe(t *testing.T) {
	e := New[string, int]()
	calls := 0
	off := e.On("a", func(int) { calls++ })
	offAny := e.OnAny(func(int) { calls++ })
	assert.Equal(t, 2, e.Len())

	off()
	offAny()
	off()
	e.Emit("a", 1)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, e.Len())
}

func TestListenerMayUnsubscribeDuringEmit(t *testing.T) {
	e := New[string, int]()
	calls := 0
	var off func()
	off = e.On("a", func(int) {
		calls++
		off()
	})

	e.Emit("a", 1)
	e.Emit("a", 1)
	assert.Equal(t, 1, calls)
}

func TestConcurrentEmit(t *testing.T) {
	e := New[int, int]()
	var mu sync.Mutex
	total := 0
	e.On(1, func(v int) {
		mu.Lock()
		total += v
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Emit(1, 2)
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, total)
}

func TestClose(t *testing.T) {
	e := New[string, int]()
	e.On("a", func(int) { t.Fatal("closed emitter called listener") })
	e.Close()
	e.Emit("a", 1)
}
