package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	assert.Equal(t, runtime.NumCPU(), New(0, 0).Size())
	assert.Equal(t, 3, New(3, time.Second).Size())
}

func TestDo(t *testing.T) {
	p := New(2, time.Second)

	v, err := Do(context.Background(), p, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = Do(context.Background(), p, func() (string, error) { return "", errors.New("boom") })
	assert.EqualError(t, err, "boom")
}

func TestDo_BoundsConcurrency(t *testing.T) {
	p := New(2, 5*time.Second)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Do(context.Background(), p, func() (struct{}, error) {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return struct{}{}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDo_QueueTimeout(t *testing.T) {
	p := New(1, 20*time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = Do(context.Background(), p, func() (int, error) {
			close(started)
			<-release
			return 0, nil
		})
	}()
	<-started

	_, err := Do(context.Background(), p, func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
}

func TestDo_RunsToCompletionAfterCancel(t *testing.T) {
	p := New(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	v, err := Do(ctx, p, func() (int, error) {
		cancel()
		time.Sleep(10 * time.Millisecond)
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
