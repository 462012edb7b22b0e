package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sortDoc(t *testing.T, path string, sort int64) *Document {
	t.Helper()
	return NewFoundDocument(mustKey(t, path), version(1), obj(map[string]Value{"sort": IntegerValue(sort)}))
}

func sortComparator(a, b *Document) int {
	av, _ := a.Field(NewFieldPath("sort"))
	bv, _ := b.Field(NewFieldPath("sort"))
	if c := CompareValues(av, bv); c != 0 {
		return c
	}
	return a.Key.Compare(b.Key)
}

func TestDocumentSet_AddKeepsOrder(t *testing.T) {
	s := NewDocumentSet(sortComparator)
	s = s.Add(sortDoc(t, "rooms/c", 3))
	s = s.Add(sortDoc(t, "rooms/a", 1))
	s = s.Add(sortDoc(t, "rooms/b", 2))

	require.Equal(t, 3, s.Len())
	assert.Equal(t, "rooms/a", s.First().Key.String())
	assert.Equal(t, "rooms/c", s.Last().Key.String())
	assert.Equal(t, 1, s.IndexOf(mustKey(t, "rooms/b")))
}

func TestDocumentSet_AddReplacesByKey(t *testing.T) {
	s := NewDocumentSet(sortComparator)
	s = s.Add(sortDoc(t, "rooms/a", 1))
	s = s.Add(sortDoc(t, "rooms/b", 2))
	// Same key, new sort position.
	s = s.Add(sortDoc(t, "rooms/a", 9))

	require.Equal(t, 2, s.Len())
	assert.Equal(t, "rooms/a", s.Last().Key.String())
	doc, ok := s.Get(mustKey(t, "rooms/a"))
	require.True(t, ok)
	v, _ := doc.Field(NewFieldPath("sort"))
	assert.Equal(t, int64(9), v.IntVal)
}

func TestDocumentSet_Delete(t *testing.T) {
	s := NewDocumentSet(sortComparator)
	s = s.Add(sortDoc(t, "rooms/a", 1))
	s = s.Add(sortDoc(t, "rooms/b", 2))

	shrunk := s.Delete(mustKey(t, "rooms/a"))
	assert.Equal(t, 1, shrunk.Len())
	assert.False(t, shrunk.Has(mustKey(t, "rooms/a")))
	assert.Equal(t, 2, s.Len(), "the original set is untouched")

	same := shrunk.Delete(mustKey(t, "rooms/zzz"))
	assert.Equal(t, 1, same.Len())
}

func TestDocumentSet_KeyTiebreak(t *testing.T) {
	s := NewDocumentSet(sortComparator)
	s = s.Add(sortDoc(t, "rooms/b", 5))
	s = s.Add(sortDoc(t, "rooms/a", 5))

	assert.Equal(t, "rooms/a", s.First().Key.String())
}

func TestDocumentSet_Equal(t *testing.T) {
	a := NewDocumentSet(sortComparator).Add(sortDoc(t, "rooms/a", 1)).Add(sortDoc(t, "rooms/b", 2))
	b := NewDocumentSet(sortComparator).Add(sortDoc(t, "rooms/b", 2)).Add(sortDoc(t, "rooms/a", 1))
	c := b.Add(sortDoc(t, "rooms/c", 3))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestDocumentMap(t *testing.T) {
	m := NewDocumentMap()
	m.Put(sortDoc(t, "rooms/b", 2))
	m.Put(sortDoc(t, "rooms/a", 1))

	doc, ok := m.Get(mustKey(t, "rooms/a"))
	require.True(t, ok)
	assert.Equal(t, "rooms/a", doc.Key.String())

	sorted := m.SortedDocs()
	require.Len(t, sorted, 2)
	assert.Equal(t, "rooms/a", sorted[0].Key.String(), "iteration order is key order")

	assert.Equal(t, 2, m.Keys().Len())

	m.Remove(mustKey(t, "rooms/a"))
	assert.Equal(t, 1, m.Len())
}
