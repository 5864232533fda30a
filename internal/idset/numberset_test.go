package idset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberSet_AddMergesAdjacentRanges(t *testing.T) {
	t.Parallel()
	s := New(1, 2, 3, 7, 5)
	assert.Equal(t, "{1-3,5,7}", s.String())

	s.Add(4)
	s.Add(6)
	assert.Equal(t, "{1-7}", s.String())
	assert.Equal(t, 7, s.Count())
}

func TestNumberSet_RemoveSplitsRange(t *testing.T) {
	t.Parallel()
	s := New()
	s.AddRange(1, 10)
	require.True(t, s.Remove(5))
	assert.Equal(t, "{1-4,6-10}", s.String())
	assert.False(t, s.Remove(5))
	assert.False(t, s.Contains(5))
	assert.True(t, s.Contains(6))

	s.Remove(1)
	s.Remove(10)
	assert.Equal(t, "{2-4,6-9}", s.String())
}

func TestNumberSet_LowestAvailable(t *testing.T) {
	t.Parallel()
	s := New()
	assert.Equal(t, 1, s.LowestAvailable())

	s.AddRange(1, 3)
	assert.Equal(t, 4, s.LowestAvailable())

	s.Remove(2)
	assert.Equal(t, 2, s.LowestAvailable())

	s2 := New(5)
	assert.Equal(t, 1, s2.LowestAvailable())
}

func TestNumberSet_PopTakesHighest(t *testing.T) {
	t.Parallel()
	s := New(3, 9, 4)
	assert.Equal(t, 9, s.Pop())
	assert.Equal(t, 4, s.Pop())
	assert.Equal(t, 3, s.Pop())
	assert.Equal(t, 0, s.Pop())
	assert.True(t, s.IsEmpty())
}

func TestNumberSet_ParseRoundTrip(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"{}", "{1}", "{1-5,7,9-12}"} {
		s, err := Parse(text)
		require.NoError(t, err)
		assert.Equal(t, text, s.String())
	}

	empty, err := Parse("")
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
}

func TestNumberSet_ParseRejectsGarbage(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"1-5", "{a}", "{5-2}", "{0}"} {
		_, err := Parse(text)
		assert.Error(t, err, text)
	}
}

func TestNumberSet_SetOperations(t *testing.T) {
	t.Parallel()
	a := New(1, 2, 3, 10)
	b := New(3, 4, 11)

	a.AddSet(b)
	assert.Equal(t, "{1-4,10-11}", a.String())

	a.RemoveSet(New(2, 11))
	assert.Equal(t, []int{1, 3, 4, 10}, a.Slice())

	c := a.Clone()
	c.Remove(1)
	assert.False(t, a.Equal(c))
	assert.True(t, a.Contains(1))
}

func TestNumberSet_IgnoresNonPositive(t *testing.T) {
	t.Parallel()
	s := New(0, -3)
	assert.True(t, s.IsEmpty())
	assert.Equal(t, 0, s.Highest())
	assert.Equal(t, 0, s.Lowest())
}
