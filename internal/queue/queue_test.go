package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Put(i))
	}
	assert.Equal(t, 5, q.Len())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		got, err := q.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueuePutFront(t *testing.T) {
	q := New[string]()
	require.NoError(t, q.Put("a"))
	require.NoError(t, q.Put("b"))

	first, ok := q.TryGet()
	require.True(t, ok)
	require.NoError(t, q.PutFront(first))
	require.NoError(t, q.PutFront("z"))

	var got []string
	for q.Len() > 0 {
		item, _ := q.TryGet()
		got = append(got, item)
	}
	assert.Equal(t, []string{"z", "a", "b"}, got)
}

func TestQueueGetBlocksUntilPut(t *testing.T) {
	q := New[int]()
	result := make(chan int, 1)

	go func() {
		v, err := q.Get(context.Background())
		if err == nil {
			result <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Put(42))

	select {
	case v := <-result:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("Get did not return after Put")
	}
}

func TestQueueCloseReleasesGetters(t *testing.T) {
	q := New[int]()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Get(context.Background())
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Close()
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, ErrClosed)
	}
	assert.ErrorIs(t, q.Put(1), ErrClosed)

	select {
	case <-q.Closed():
	default:
		t.Fatal("Closed channel should be closed")
	}
}

func TestQueueGetHonoursContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueManyConsumersDrainEverything(t *testing.T) {
	q := New[int]()
	const n = 500

	var (
		mu  sync.Mutex
		got = make(map[int]bool)
		wg  sync.WaitGroup
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, err := q.Get(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				got[v] = true
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < n; i++ {
		require.NoError(t, q.Put(i))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()
}

func TestEvent(t *testing.T) {
	e := NewEvent(false)
	assert.False(t, e.IsSet())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Wait(ctx), context.DeadlineExceeded)

	e.Set()
	e.Set()
	assert.True(t, e.IsSet())
	assert.NoError(t, e.Wait(context.Background()))

	e.Clear()
	assert.False(t, e.IsSet())

	released := make(chan struct{})
	go func() {
		_ = e.Wait(context.Background())
		close(released)
	}()
	time.Sleep(10 * time.Millisecond)
	e.Set()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("waiter was not released by Set")
	}
}
