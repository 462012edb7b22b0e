package model

import (
	"fmt"
	"time"
)

// SnapshotVersion is the logical timestamp the backend assigns to committed
// document states. The zero value is the "no known version" sentinel.
type SnapshotVersion struct {
	Seconds int64
	Nanos   int32
}

// ZeroVersion is the "no known version" sentinel.
func ZeroVersion() SnapshotVersion {
	return SnapshotVersion{}
}

// VersionFromTime converts a wall-clock time to a snapshot version.
func VersionFromTime(t time.Time) SnapshotVersion {
	return SnapshotVersion{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

func (v SnapshotVersion) Time() time.Time {
	return time.Unix(v.Seconds, int64(v.Nanos)).UTC()
}

func (v SnapshotVersion) IsZero() bool {
	return v.Seconds == 0 && v.Nanos == 0
}

func (v SnapshotVersion) Compare(other SnapshotVersion) int {
	switch {
	case v.Seconds < other.Seconds:
		return -1
	case v.Seconds > other.Seconds:
		return 1
	case v.Nanos < other.Nanos:
		return -1
	case v.Nanos > other.Nanos:
		return 1
	}
	return 0
}

func (v SnapshotVersion) Equal(other SnapshotVersion) bool {
	return v.Compare(other) == 0
}

func (v SnapshotVersion) String() string {
	return fmt.Sprintf("%d.%09d", v.Seconds, v.Nanos)
}
