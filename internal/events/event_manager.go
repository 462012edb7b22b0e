// Package events fans sync engine output out to individual snapshot
// listeners. It owns the per-query listener registries and the rules for
// when a listener actually hears about a snapshot.
package events

import (
	"github.com/syntrixbase/syntrix-go/internal/engine"
	"github.com/syntrixbase/syntrix-go/internal/model"
	"github.com/syntrixbase/syntrix-go/internal/remote"
)

// ListenOptions tune what a single listener wants to hear.
type ListenOptions struct {
	// IncludeMetadataChanges also raises snapshots whose only difference is
	// metadata (pending write state, cache state).
	IncludeMetadataChanges bool
	// WaitForSyncWhenOnline delays the initial snapshot until the backend
	// confirms it, unless the client is offline.
	WaitForSyncWhenOnline bool
}

// SnapshotFunc receives snapshots or a terminal listen error.
type SnapshotFunc func(snapshot *engine.ViewSnapshot, err error)

// QueryListener applies one listener's options to the stream of raw view
// snapshots for its query.
type QueryListener struct {
	query   model.Query
	options ListenOptions
	fn      SnapshotFunc

	// snap is the last raw snapshot, kept to synthesize the initial event
	// once the raise conditions are met.
	snap               *engine.ViewSnapshot
	raisedInitialEvent bool
	onlineState        remote.OnlineState
}

func NewQueryListener(query model.Query, options ListenOptions, fn SnapshotFunc) *QueryListener {
	return &QueryListener{query: query, options: options, fn: fn}
}

func (l *QueryListener) Query() model.Query { return l.query }

// OnViewSnapshot feeds one raw snapshot through the listener's filters and
// reports whether an event was raised.
func (l *QueryListener) OnViewSnapshot(snap engine.ViewSnapshot) bool {
	if !l.options.IncludeMetadataChanges {
		snap = excludeMetadataChanges(snap)
	}

	if !l.raisedInitialEvent {
		if !l.shouldRaiseInitialEvent(snap) {
			l.snap = &snap
			return false
		}
		l.raiseInitialEvent(snap)
		return true
	}

	l.snap = &snap
	if !l.shouldRaiseEvent(snap) {
		return false
	}
	l.fn(&snap, nil)
	return true
}

func (l *QueryListener) OnError(err error) {
	l.fn(nil, err)
}

// ApplyOnlineStateChange may unblock a held-back initial event: once the
// client is known offline, a cached snapshot is the best it will get.
func (l *QueryListener) ApplyOnlineStateChange(state remote.OnlineState) bool {
	l.onlineState = state
	if l.snap != nil && !l.raisedInitialEvent && l.shouldRaiseInitialEvent(*l.snap) {
		l.raiseInitialEvent(*l.snap)
		return true
	}
	return false
}

func (l *QueryListener) shouldRaiseInitialEvent(snap engine.ViewSnapshot) bool {
	if !snap.FromCache {
		return true
	}
	// OnlineStateUnknown still counts as "maybe online"; only a confirmed
	// offline state forces the cached snapshot out.
	maybeOnline := l.onlineState != remote.OnlineStateOffline
	if l.options.WaitForSyncWhenOnline && maybeOnline {
		return false
	}
	return true
}

func (l *QueryListener) shouldRaiseEvent(snap engine.ViewSnapshot) bool {
	if len(snap.DocChanges) > 0 {
		return true
	}
	if snap.SyncStateChanged {
		return true
	}
	return l.options.IncludeMetadataChanges && !snap.ExcludesMetadataChanges
}

func (l *QueryListener) raiseInitialEvent(snap engine.ViewSnapshot) {
	initial := engine.NewViewSnapshotFromInitialDocuments(snap.Query, snap.Documents, snap.MutatedKeys, snap.FromCache)
	l.raisedInitialEvent = true
	l.snap = &snap
	l.fn(&initial, nil)
}

// excludeMetadataChanges strips metadata-only changes from a snapshot for
// listeners that did not opt into them.
func excludeMetadataChanges(snap engine.ViewSnapshot) engine.ViewSnapshot {
	changes := make([]engine.DocumentViewChange, 0, len(snap.DocChanges))
	for _, c := range snap.DocChanges {
		if c.Type != engine.ChangeTypeMetadata {
			changes = append(changes, c)
		}
	}
	out := snap
	out.DocChanges = changes
	out.ExcludesMetadataChanges = true
	return out
}

// queryListenersInfo groups every listener of one query with the last raw
// snapshot, so late listeners catch up immediately.
type queryListenersInfo struct {
	listeners []*QueryListener
	snap      *engine.ViewSnapshot
}

// EventManager is the sync engine's SnapshotHandler. It keeps one listen
// per distinct query regardless of how many listeners attached.
type EventManager struct {
	engine *engine.SyncEngine

	queries     map[string]*queryListenersInfo // by query canonical id
	onlineState remote.OnlineState
}

func NewEventManager() *EventManager {
	return &EventManager{
		queries:     map[string]*queryListenersInfo{},
		onlineState: remote.OnlineStateUnknown,
	}
}

// SetSyncEngine must run before the first listener attaches. The manager
// and the engine reference each other, so wiring happens after both exist.
func (m *EventManager) SetSyncEngine(e *engine.SyncEngine) { m.engine = e }

// AddListener registers a listener, starting the underlying query listen
// if it is the first one.
func (m *EventManager) AddListener(l *QueryListener) {
	cid := l.Query().CanonicalID()
	info, ok := m.queries[cid]
	firstListen := !ok
	if firstListen {
		info = &queryListenersInfo{}
		m.queries[cid] = info
	}
	info.listeners = append(info.listeners, l)

	l.ApplyOnlineStateChange(m.onlineState)
	if info.snap != nil {
		l.OnViewSnapshot(*info.snap)
	}
	if firstListen {
		snap := m.engine.Listen(l.Query())
		info.snap = &snap
		for _, ql := range info.listeners {
			ql.OnViewSnapshot(snap)
		}
	}
}

// RemoveListener detaches a listener, stopping the query listen when the
// last one goes.
func (m *EventManager) RemoveListener(l *QueryListener) {
	cid := l.Query().CanonicalID()
	info, ok := m.queries[cid]
	if !ok {
		return
	}
	kept := info.listeners[:0]
	for _, ql := range info.listeners {
		if ql != l {
			kept = append(kept, ql)
		}
	}
	info.listeners = kept
	if len(info.listeners) == 0 {
		delete(m.queries, cid)
		m.engine.Unlisten(l.Query())
	}
}

// OnViewSnapshots distributes raw snapshots to the listeners of each
// affected query.
func (m *EventManager) OnViewSnapshots(snapshots []engine.ViewSnapshot) {
	for i := range snapshots {
		snap := snapshots[i]
		info, ok := m.queries[snap.Query.CanonicalID()]
		if !ok {
			continue
		}
		info.snap = &snap
		for _, l := range info.listeners {
			l.OnViewSnapshot(snap)
		}
	}
}

// OnListenError reports a failed listen to every listener of the query and
// drops the registry entry; the engine already forgot the target.
func (m *EventManager) OnListenError(query model.Query, err error) {
	info, ok := m.queries[query.CanonicalID()]
	if !ok {
		return
	}
	delete(m.queries, query.CanonicalID())
	for _, l := range info.listeners {
		l.OnError(err)
	}
}

// OnOnlineStateChange fans the new state to all listeners; held-back
// initial snapshots may be raised as a result.
func (m *EventManager) OnOnlineStateChange(state remote.OnlineState) {
	m.onlineState = state
	for _, info := range m.queries {
		for _, l := range info.listeners {
			l.ApplyOnlineStateChange(state)
		}
	}
}
