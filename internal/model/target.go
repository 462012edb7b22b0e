package model

import (
	"strconv"
	"strings"
)

// TargetID identifies a server-side subscription.
type TargetID int32

// Target is the wire-level form of a query: what the backend is asked to
// watch. Unlike Query it has no limit-direction; limit-to-last is already
// normalized away by Query.ToTarget.
type Target struct {
	Path            ResourcePath
	CollectionGroup string
	Filters         []Filter
	OrderBy         []OrderBy
	Limit           int
	StartAt         *Bound
	EndAt           *Bound
}

// IsDocumentTarget reports whether the target watches exactly one document.
func (t Target) IsDocumentTarget() bool {
	return t.Path.Length()%2 == 0 && t.CollectionGroup == "" && len(t.Filters) == 0
}

// DocumentTarget builds the single-document target used for limbo resolution.
func DocumentTarget(key DocumentKey) Target {
	return Target{Path: key.Path}
}

func (t Target) CanonicalID() string {
	var sb strings.Builder
	sb.WriteString(t.Path.String())
	if t.CollectionGroup != "" {
		sb.WriteString("|cg:")
		sb.WriteString(t.CollectionGroup)
	}
	if len(t.Filters) > 0 {
		sb.WriteString("|f:")
		for _, f := range t.Filters {
			sb.WriteString(f.Canonical())
		}
	}
	sb.WriteString("|ob:")
	for _, ob := range t.OrderBy {
		sb.WriteString(ob.Canonical())
	}
	if t.Limit > 0 {
		sb.WriteString("|l:")
		sb.WriteString(strconv.Itoa(t.Limit))
	}
	if t.StartAt != nil {
		sb.WriteString("|lb:")
		sb.WriteString(t.StartAt.Canonical())
	}
	if t.EndAt != nil {
		sb.WriteString("|ub:")
		sb.WriteString(t.EndAt.Canonical())
	}
	return sb.String()
}

func (t Target) Equal(other Target) bool {
	return t.CanonicalID() == other.CanonicalID()
}

// TargetPurpose describes why a target is being listened to.
type TargetPurpose int

const (
	// PurposeListen is a normal client-issued listen.
	PurposeListen TargetPurpose = iota
	// PurposeExistenceFilterMismatch re-queries a target whose existence
	// filter disagreed with the local view.
	PurposeExistenceFilterMismatch
	// PurposeLimboResolution watches a single document in limbo.
	PurposeLimboResolution
)

// TargetData is the locally persisted metadata for one allocated target.
type TargetData struct {
	Target          Target
	TargetID        TargetID
	Purpose         TargetPurpose
	SequenceNumber  int64
	SnapshotVersion SnapshotVersion
	// LastLimboFreeSnapshotVersion is the max snapshot version at which the
	// target was known to have no limbo documents; the query engine uses it
	// to pick the incremental execution path.
	LastLimboFreeSnapshotVersion SnapshotVersion
	ResumeToken                  []byte
}

func NewTargetData(target Target, targetID TargetID, purpose TargetPurpose, sequenceNumber int64) TargetData {
	return TargetData{
		Target:         target,
		TargetID:       targetID,
		Purpose:        purpose,
		SequenceNumber: sequenceNumber,
	}
}

// WithResumeToken returns a copy carrying the token and snapshot version.
func (td TargetData) WithResumeToken(token []byte, version SnapshotVersion) TargetData {
	td.ResumeToken = token
	td.SnapshotVersion = version
	return td
}

// WithLastLimboFreeSnapshotVersion returns a copy with the version recorded.
func (td TargetData) WithLastLimboFreeSnapshotVersion(version SnapshotVersion) TargetData {
	td.LastLimboFreeSnapshotVersion = version
	return td
}

// WithSequenceNumber returns a copy with the LRU sequence number updated.
func (td TargetData) WithSequenceNumber(seq int64) TargetData {
	td.SequenceNumber = seq
	return td
}
