package model

import "sort"

// DocumentComparator orders documents, typically by a query's order-by.
type DocumentComparator func(a, b *Document) int

// KeyComparator orders documents by key only.
func KeyComparator(a, b *Document) int {
	return a.Key.Compare(b.Key)
}

// DocumentSet is an immutable document collection ordered by a comparator
// with key-based lookup. Mutating operations return a new set.
type DocumentSet struct {
	comparator DocumentComparator
	docs       []*Document
	index      map[string]int
}

// NewDocumentSet creates an empty set ordered by comp (ties broken by key).
func NewDocumentSet(comp DocumentComparator) DocumentSet {
	return DocumentSet{
		comparator: func(a, b *Document) int {
			if c := comp(a, b); c != 0 {
				return c
			}
			return a.Key.Compare(b.Key)
		},
		index: map[string]int{},
	}
}

func (s DocumentSet) Len() int { return len(s.docs) }

func (s DocumentSet) Has(key DocumentKey) bool {
	_, ok := s.index[key.String()]
	return ok
}

func (s DocumentSet) Get(key DocumentKey) (*Document, bool) {
	i, ok := s.index[key.String()]
	if !ok {
		return nil, false
	}
	return s.docs[i], true
}

// First returns the lowest-ordered document, or nil when empty.
func (s DocumentSet) First() *Document {
	if len(s.docs) == 0 {
		return nil
	}
	return s.docs[0]
}

// Last returns the highest-ordered document, or nil when empty.
func (s DocumentSet) Last() *Document {
	if len(s.docs) == 0 {
		return nil
	}
	return s.docs[len(s.docs)-1]
}

// IndexOf returns the position of key or -1.
func (s DocumentSet) IndexOf(key DocumentKey) int {
	i, ok := s.index[key.String()]
	if !ok {
		return -1
	}
	return i
}

// Docs returns the ordered documents. Callers must not mutate the slice.
func (s DocumentSet) Docs() []*Document { return s.docs }

// Add returns a new set containing doc, replacing any entry with that key.
func (s DocumentSet) Add(doc *Document) DocumentSet {
	out := s.Delete(doc.Key)
	at := sort.Search(len(out.docs), func(i int) bool {
		return out.comparator(out.docs[i], doc) >= 0
	})
	docs := make([]*Document, 0, len(out.docs)+1)
	docs = append(docs, out.docs[:at]...)
	docs = append(docs, doc)
	docs = append(docs, out.docs[at:]...)
	return DocumentSet{comparator: out.comparator, docs: docs, index: buildIndex(docs)}
}

// Delete returns a new set without key.
func (s DocumentSet) Delete(key DocumentKey) DocumentSet {
	i, ok := s.index[key.String()]
	if !ok {
		return s
	}
	docs := make([]*Document, 0, len(s.docs)-1)
	docs = append(docs, s.docs[:i]...)
	docs = append(docs, s.docs[i+1:]...)
	return DocumentSet{comparator: s.comparator, docs: docs, index: buildIndex(docs)}
}

// Equal compares membership, order, and document contents.
func (s DocumentSet) Equal(other DocumentSet) bool {
	if len(s.docs) != len(other.docs) {
		return false
	}
	for i := range s.docs {
		if !s.docs[i].Equal(other.docs[i]) {
			return false
		}
	}
	return true
}

func buildIndex(docs []*Document) map[string]int {
	idx := make(map[string]int, len(docs))
	for i, d := range docs {
		idx[d.Key.String()] = i
	}
	return idx
}

// DocumentMap is a mutable key-addressed document collection.
type DocumentMap map[string]*Document

func NewDocumentMap() DocumentMap { return DocumentMap{} }

func (m DocumentMap) Put(doc *Document)           { m[doc.Key.String()] = doc }
func (m DocumentMap) Get(key DocumentKey) (*Document, bool) {
	d, ok := m[key.String()]
	return d, ok
}
func (m DocumentMap) Remove(key DocumentKey) { delete(m, key.String()) }
func (m DocumentMap) Len() int               { return len(m) }

// SortedDocs returns the documents in key order.
func (m DocumentMap) SortedDocs() []*Document {
	out := make([]*Document, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Compare(out[j].Key) < 0 })
	return out
}

// Keys returns the key set of the map.
func (m DocumentMap) Keys() DocumentKeySet {
	keys := NewDocumentKeySet()
	for _, d := range m {
		keys.Add(d.Key)
	}
	return keys
}
