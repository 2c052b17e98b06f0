// SPDX-License-Identifier: Apache-2.0

package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingRotationOrder(t *testing.T) {
	r := New[string]()
	r.Push("w1")
	r.Push("w2")
	r.Push("w3")

	var seen []string
	for i := 0; i < 6; i++ {
		w, ok := r.RotateHead()
		require.True(t, ok)
		seen = append(seen, w)
	}

	assert.Equal(t, []string{"w1", "w2", "w3", "w1", "w2", "w3"}, seen)
}

func TestRingNoDuplicateInsertion(t *testing.T) {
	r := New[string]()
	r.Push("w1")
	r.Push("w1")
	assert.Equal(t, 1, r.Size())
}

func TestRingRemoveIsToleratedWhenAbsent(t *testing.T) {
	r := New[string]()
	assert.NotPanics(t, func() { r.Remove("ghost") })
}

func TestRingRemoveThenRotate(t *testing.T) {
	r := New[string]()
	r.Push("w1")
	r.Push("w2")
	r.Remove("w1")

	w, ok := r.RotateHead()
	require.True(t, ok)
	assert.Equal(t, "w2", w)
	assert.Equal(t, 1, r.Size())
}

func TestRingRotateHeadOnEmpty(t *testing.T) {
	r := New[string]()
	_, ok := r.RotateHead()
	assert.False(t, ok)
}

func TestRingForEachPreservesOrder(t *testing.T) {
	r := New[int]()
	r.Push(1)
	r.Push(2)
	r.Push(3)

	var visited []int
	r.ForEach(func(w int) { visited = append(visited, w) })
	assert.Equal(t, []int{1, 2, 3}, visited)
	assert.Equal(t, 3, r.Size())
}
