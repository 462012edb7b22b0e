package model

import "fmt"

// DocumentKey identifies a single document by its even-length resource path,
// alternating collection/document segments, e.g. "cities/SF".
type DocumentKey struct {
	Path ResourcePath
}

// NewDocumentKey builds a key from an already validated path.
func NewDocumentKey(path ResourcePath) DocumentKey {
	return DocumentKey{Path: path}
}

// ParseDocumentKey parses and validates a slash-separated document path.
func ParseDocumentKey(path string) (DocumentKey, error) {
	rp, err := ParseResourcePath(path)
	if err != nil {
		return DocumentKey{}, err
	}
	if rp.Length() == 0 || rp.Length()%2 != 0 {
		return DocumentKey{}, fmt.Errorf("invalid document path %q: must have an even number of segments", path)
	}
	return DocumentKey{Path: rp}, nil
}

// CollectionPath returns the parent collection path of the document.
func (k DocumentKey) CollectionPath() ResourcePath {
	return k.Path.PopLast()
}

// CollectionID returns the id of the document's immediate parent collection.
func (k DocumentKey) CollectionID() string {
	return k.Path.PopLast().LastSegment()
}

// DocumentID returns the final path segment.
func (k DocumentKey) DocumentID() string {
	return k.Path.LastSegment()
}

// HasCollectionID reports whether the key sits in a collection named id at any depth.
func (k DocumentKey) HasCollectionID(id string) bool {
	return k.CollectionID() == id
}

func (k DocumentKey) IsZero() bool {
	return k.Path.Length() == 0
}

func (k DocumentKey) Compare(other DocumentKey) int {
	return k.Path.Compare(other.Path)
}

func (k DocumentKey) Equal(other DocumentKey) bool {
	return k.Path.Compare(other.Path) == 0
}

func (k DocumentKey) String() string {
	return k.Path.String()
}

// DocumentKeySet is a set of document keys.
type DocumentKeySet map[string]DocumentKey

func NewDocumentKeySet(keys ...DocumentKey) DocumentKeySet {
	s := make(DocumentKeySet, len(keys))
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

func (s DocumentKeySet) Add(k DocumentKey)      { s[k.String()] = k }
func (s DocumentKeySet) Remove(k DocumentKey)   { delete(s, k.String()) }
func (s DocumentKeySet) Has(k DocumentKey) bool { _, ok := s[k.String()]; return ok }
func (s DocumentKeySet) Len() int               { return len(s) }

// SortedKeys returns the members in key order.
func (s DocumentKeySet) SortedKeys() []DocumentKey {
	out := make([]DocumentKey, 0, len(s))
	for _, k := range s {
		out = append(out, k)
	}
	sortDocumentKeys(out)
	return out
}

func sortDocumentKeys(keys []DocumentKey) {
	// Insertion sort keeps this allocation free; sets are small in practice.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j].Compare(keys[j-1]) < 0; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}
