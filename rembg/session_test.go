package rembg

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCache_GetOrCreate(t *testing.T) {
	f := newCountingFactory()
	cache := NewSessionCache(f.New)

	first, err := cache.GetOrCreate(U2Net)
	require.NoError(t, err)
	assert.Equal(t, U2Net, first.Model())

	for i := 0; i < 10; i++ {
		s, err := cache.GetOrCreate(U2Net)
		require.NoError(t, err)
		assert.Same(t, first, s)
	}
	assert.Equal(t, 1, f.count(U2Net))

	other, err := cache.GetOrCreate(U2NetP)
	require.NoError(t, err)
	assert.Equal(t, U2NetP, other.Model())
	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, []Model{U2Net, U2NetP}, cache.Models())
}

func TestSessionCache_ConcurrentFirstRequest(t *testing.T) {
	f := newCountingFactory()
	cache := NewSessionCache(f.New)

	var wg sync.WaitGroup
	sessions := make([]Session, 32)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := cache.GetOrCreate(U2NetHumanSeg)
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.count(U2NetHumanSeg))
	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
}

func TestSessionCache_FailureIsNotCached(t *testing.T) {
	f := newCountingFactory()
	f.err = errors.New("missing u2net.onnx")
	cache := NewSessionCache(f.New)

	_, err := cache.GetOrCreate(U2Net)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionConstruction)
	assert.Contains(t, err.Error(), "missing u2net.onnx")
	assert.Equal(t, 0, cache.Len())

	f.err = nil
	s, err := cache.GetOrCreate(U2Net)
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Equal(t, 2, f.count(U2Net))
}

func TestSessionCache_NilSession(t *testing.T) {
	cache := NewSessionCache(func(Model) (Session, error) { return nil, nil })
	_, err := cache.GetOrCreate(U2Net)
	assert.ErrorIs(t, err, ErrSessionConstruction)
	assert.Equal(t, 0, cache.Len())
}

func TestSessionCache_Close(t *testing.T) {
	f := newCountingFactory()
	cache := NewSessionCache(f.New)

	s, err := cache.GetOrCreate(U2Net)
	require.NoError(t, err)

	require.NoError(t, cache.Close())
	assert.True(t, s.(*fakeSession).closed.Load())
	assert.Equal(t, 0, cache.Len())
}
