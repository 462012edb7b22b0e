package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResourcePath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"single", "cities", []string{"cities"}, false},
		{"nested", "cities/SF/landmarks", []string{"cities", "SF", "landmarks"}, false},
		{"empty segment", "cities//SF", nil, true},
		{"trailing slash", "cities/", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseResourcePath(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), p.Length())
			for i, s := range tt.want {
				assert.Equal(t, s, p.Segment(i))
			}
		})
	}
}

func TestResourcePath_Prefix(t *testing.T) {
	parent, err := ParseResourcePath("cities/SF")
	require.NoError(t, err)
	child, err := ParseResourcePath("cities/SF/landmarks/GG")
	require.NoError(t, err)

	assert.True(t, parent.IsPrefixOf(child))
	assert.False(t, child.IsPrefixOf(parent))
	assert.True(t, parent.IsPrefixOf(parent))

	landmarks := child.PopLast()
	assert.True(t, parent.IsImmediateParentOf(landmarks))
	assert.False(t, parent.IsImmediateParentOf(child))
}

func TestResourcePath_Compare(t *testing.T) {
	a, _ := ParseResourcePath("cities/SF")
	b, _ := ParseResourcePath("cities/SF/landmarks")
	c, _ := ParseResourcePath("cities/TOK")

	assert.Negative(t, a.Compare(b), "prefix sorts before extension")
	assert.Negative(t, b.Compare(c), "segment comparison beats length")
	assert.Zero(t, a.Compare(a))
}

func TestParseDocumentKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"document", "cities/SF", false},
		{"nested document", "cities/SF/landmarks/GG", false},
		{"collection path", "cities", true},
		{"odd nested", "cities/SF/landmarks", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := ParseDocumentKey(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, k.String())
		})
	}
}

func TestDocumentKey_Accessors(t *testing.T) {
	k := mustKey(t, "cities/SF/landmarks/GG")
	assert.Equal(t, "landmarks", k.CollectionID())
	assert.Equal(t, "GG", k.DocumentID())
	assert.True(t, k.HasCollectionID("landmarks"))
	assert.False(t, k.HasCollectionID("cities"))
	assert.Equal(t, "cities/SF/landmarks", k.CollectionPath().String())
}

func TestParseFieldPath(t *testing.T) {
	fp, err := ParseFieldPath("address.city")
	require.NoError(t, err)
	assert.Equal(t, 2, fp.Length())
	assert.Equal(t, "address", fp.Segment(0))

	_, err = ParseFieldPath("")
	assert.Error(t, err)
	_, err = ParseFieldPath("a..b")
	assert.Error(t, err)
}

func TestFieldPath_KeyField(t *testing.T) {
	assert.True(t, KeyFieldPath().IsKeyField())
	assert.False(t, NewFieldPath("name").IsKeyField())

	fp, err := ParseFieldPath(KeyFieldName)
	require.NoError(t, err)
	assert.True(t, fp.IsKeyField())
}

func TestDocumentKeySet(t *testing.T) {
	a := mustKey(t, "cities/A")
	b := mustKey(t, "cities/B")

	s := NewDocumentKeySet(b, a)
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has(a))

	sorted := s.SortedKeys()
	require.Len(t, sorted, 2)
	assert.Equal(t, "cities/A", sorted[0].String())
	assert.Equal(t, "cities/B", sorted[1].String())

	s.Remove(a)
	assert.False(t, s.Has(a))
	assert.Equal(t, 1, s.Len())
}
