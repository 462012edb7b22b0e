package model

import (
	"fmt"
	"strings"
)

// ResourcePath is an immutable slash-separated path into the document tree,
// e.g. "cities/SF" or "cities/SF/landmarks".
type ResourcePath struct {
	segments []string
}

// NewResourcePath builds a path from its segments. The slice is not copied;
// callers must not mutate it afterwards.
func NewResourcePath(segments ...string) ResourcePath {
	return ResourcePath{segments: segments}
}

// ParseResourcePath parses a slash-separated path. Empty segments are rejected.
func ParseResourcePath(path string) (ResourcePath, error) {
	if path == "" {
		return ResourcePath{}, nil
	}
	segments := strings.Split(path, "/")
	for _, s := range segments {
		if s == "" {
			return ResourcePath{}, fmt.Errorf("invalid path %q: empty segment", path)
		}
	}
	return ResourcePath{segments: segments}, nil
}

func (p ResourcePath) Length() int        { return len(p.segments) }
func (p ResourcePath) IsEmpty() bool      { return len(p.segments) == 0 }
func (p ResourcePath) Segment(i int) string { return p.segments[i] }

// FirstSegment returns the first segment, or "" for the empty path.
func (p ResourcePath) FirstSegment() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[0]
}

// LastSegment returns the last segment, or "" for the empty path.
func (p ResourcePath) LastSegment() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Child returns a new path with segment appended.
func (p ResourcePath) Child(segment string) ResourcePath {
	out := make([]string, 0, len(p.segments)+1)
	out = append(out, p.segments...)
	out = append(out, segment)
	return ResourcePath{segments: out}
}

// Append returns a new path with all of other's segments appended.
func (p ResourcePath) Append(other ResourcePath) ResourcePath {
	out := make([]string, 0, len(p.segments)+len(other.segments))
	out = append(out, p.segments...)
	out = append(out, other.segments...)
	return ResourcePath{segments: out}
}

// PopLast returns the path without its last segment.
func (p ResourcePath) PopLast() ResourcePath {
	if len(p.segments) == 0 {
		return p
	}
	return ResourcePath{segments: p.segments[:len(p.segments)-1]}
}

// IsPrefixOf reports whether p is a (non-strict) prefix of other.
func (p ResourcePath) IsPrefixOf(other ResourcePath) bool {
	if len(p.segments) > len(other.segments) {
		return false
	}
	for i, s := range p.segments {
		if other.segments[i] != s {
			return false
		}
	}
	return true
}

// IsImmediateParentOf reports whether other is exactly one segment below p.
func (p ResourcePath) IsImmediateParentOf(other ResourcePath) bool {
	return len(other.segments) == len(p.segments)+1 && p.IsPrefixOf(other)
}

// Compare orders paths segment-wise, shorter prefix first.
func (p ResourcePath) Compare(other ResourcePath) int {
	n := len(p.segments)
	if len(other.segments) < n {
		n = len(other.segments)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(p.segments[i], other.segments[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p.segments) < len(other.segments):
		return -1
	case len(p.segments) > len(other.segments):
		return 1
	}
	return 0
}

func (p ResourcePath) Equal(other ResourcePath) bool {
	return p.Compare(other) == 0
}

func (p ResourcePath) String() string {
	return strings.Join(p.segments, "/")
}

// FieldPath is a dot-separated path into a document's data tree.
type FieldPath struct {
	segments []string
}

func NewFieldPath(segments ...string) FieldPath {
	return FieldPath{segments: segments}
}

// ParseFieldPath splits a dotted field path, e.g. "address.city".
func ParseFieldPath(path string) (FieldPath, error) {
	if path == "" {
		return FieldPath{}, fmt.Errorf("field path cannot be empty")
	}
	segments := strings.Split(path, ".")
	for _, s := range segments {
		if s == "" {
			return FieldPath{}, fmt.Errorf("invalid field path %q: empty segment", path)
		}
	}
	return FieldPath{segments: segments}, nil
}

// KeyFieldPath is the canonical sort-by-key field name.
const KeyFieldName = "__name__"

// KeyFieldPath returns the sentinel field path representing the document key.
func KeyFieldPath() FieldPath {
	return FieldPath{segments: []string{KeyFieldName}}
}

// IsKeyField reports whether fp refers to the document key.
func (fp FieldPath) IsKeyField() bool {
	return len(fp.segments) == 1 && fp.segments[0] == KeyFieldName
}

func (fp FieldPath) Length() int   { return len(fp.segments) }
func (fp FieldPath) IsEmpty() bool { return len(fp.segments) == 0 }

func (fp FieldPath) Segment(i int) string { return fp.segments[i] }

func (fp FieldPath) Child(segment string) FieldPath {
	out := make([]string, 0, len(fp.segments)+1)
	out = append(out, fp.segments...)
	out = append(out, segment)
	return FieldPath{segments: out}
}

// PopFirst returns the path without its first segment.
func (fp FieldPath) PopFirst() FieldPath {
	if len(fp.segments) == 0 {
		return fp
	}
	return FieldPath{segments: fp.segments[1:]}
}

func (fp FieldPath) IsPrefixOf(other FieldPath) bool {
	if len(fp.segments) > len(other.segments) {
		return false
	}
	for i, s := range fp.segments {
		if other.segments[i] != s {
			return false
		}
	}
	return true
}

func (fp FieldPath) Compare(other FieldPath) int {
	n := len(fp.segments)
	if len(other.segments) < n {
		n = len(other.segments)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(fp.segments[i], other.segments[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(fp.segments) < len(other.segments):
		return -1
	case len(fp.segments) > len(other.segments):
		return 1
	}
	return 0
}

func (fp FieldPath) Equal(other FieldPath) bool {
	return fp.Compare(other) == 0
}

func (fp FieldPath) String() string {
	return strings.Join(fp.segments, ".")
}
