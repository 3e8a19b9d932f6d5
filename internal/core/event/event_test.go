package event

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type ping struct{ N int }

func TestBusEmitIsReadableNextTick(t *testing.T) {
	b := NewBus()
	Emit(b, ping{N: 1})
	require.Empty(t, Read[ping](b))

	b.SwapBuffers()
	require.Equal(t, []ping{{N: 1}}, Read[ping](b))

	b.SwapBuffers()
	require.Empty(t, Read[ping](b), "messages live for one tick")
}

func TestBusDeliverIsReadableSameTick(t *testing.T) {
	b := NewBus()
	b.SwapBuffers()
	Deliver(b, ping{N: 7})
	require.Equal(t, []ping{{N: 7}}, Read[ping](b))

	b.SwapBuffers()
	b.SwapBuffers()
	require.Empty(t, Read[ping](b))
}

func TestBusDispatchAll(t *testing.T) {
	b := NewBus()
	var got []int
	Subscribe(b, func(p ping) { got = append(got, p.N) })
	Emit(b, ping{N: 1})
	Emit(b, ping{N: 2})
	b.SwapBuffers()
	b.DispatchAll()
	require.Equal(t, []int{1, 2}, got)
}

func TestQueueFIFOUnderConcurrentPush(t *testing.T) {
	q := NewQueue[int](4)
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(p*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	items := q.Drain()
	require.Len(t, items, producers*perProducer)

	// Per-producer order is preserved.
	last := make(map[int]int)
	for _, v := range items {
		p := v / perProducer
		if prev, ok := last[p]; ok {
			require.Greater(t, v, prev)
		}
		last[p] = v
	}
	require.Zero(t, q.Len())
	require.Empty(t, q.Drain())
}

func TestQueueDrainReusesBuffers(t *testing.T) {
	q := NewQueue[string](2)
	q.Push("a")
	first := q.Drain()
	require.Equal(t, []string{"a"}, first)
	q.Push("b")
	q.Push("c")
	require.Equal(t, []string{"b", "c"}, q.Drain())
}
