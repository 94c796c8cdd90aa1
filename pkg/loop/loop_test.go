package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fako1024/shotctl/pkg/clock"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsInOrder(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	var (
		mu  sync.Mutex
		got []int
	)
	var wg sync.WaitGroup
	wg.Add(1)
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	l.Post(wg.Done)
	wg.Wait()

	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestLoopDo(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()

	value := 0
	require.NoError(t, l.Do(context.Background(), func() {
		value = 42

		// Posting from inside the loop must not deadlock
		l.Post(func() { value++ })
	}))
	require.NoError(t, l.Do(context.Background(), func() {}))
	require.Equal(t, 43, value)

	cancel()
	require.Eventually(t, func() bool {
		return l.Do(context.Background(), func() {}) == ErrStopped
	}, time.Second, 10*time.Millisecond)
}

func TestTimerStopPreventsQueuedExpiry(t *testing.T) {
	c := clock.Fake(time.Now())

	// Use a deferred executor to model an expiry that was queued but not yet run
	var queued []func()
	exec := executorFunc(func(fn func()) { queued = append(queued, fn) })

	called := false
	timer := AfterFunc(c, exec, time.Second, func() { called = true })
	c.Advance(time.Second)
	require.Len(t, queued, 1)

	timer.Stop()
	queued[0]()
	require.False(t, called)
	require.False(t, timer.Active())
}

func TestEvery(t *testing.T) {
	c := clock.Fake(time.Now())

	n := 0
	ticker := Every(c, Inline{}, 50*time.Millisecond, func() { n++ })
	c.Advance(time.Second)
	require.Equal(t, 20, n)

	ticker.Stop()
	c.Advance(time.Second)
	require.Equal(t, 20, n)
	require.Zero(t, c.PendingCount())
}

type executorFunc func(fn func())

func (f executorFunc) Post(fn func()) { f(fn) }
