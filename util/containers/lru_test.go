// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package containers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLruCacheEvictsOldest(t *testing.T) {
	cache := NewLruCache[uint64, string](2)
	cache.Add(1, "one")
	cache.Add(2, "two")
	_, ok := cache.Get(1)
	require.True(t, ok)
	cache.Add(3, "three")

	_, ok = cache.Get(2)
	require.False(t, ok)
	value, ok := cache.Get(1)
	require.True(t, ok)
	require.Equal(t, "one", value)
	require.Equal(t, 2, cache.Len())

	cache.Remove(1)
	require.Equal(t, 1, cache.Len())
	cache.Clear()
	require.Equal(t, 0, cache.Len())
}

func TestLruCacheWithoutCapacity(t *testing.T) {
	cache := NewLruCache[uint64, string](0)
	cache.Add(1, "one")
	_, ok := cache.Get(1)
	require.False(t, ok)
	require.Equal(t, 0, cache.Len())
	cache.Remove(1)
	cache.Clear()
}
