// Package syntrix is the Go client SDK for the Syntrix document database:
// an offline-capable local document cache with optimistic writes and a
// realtime watch protocol keeping it consistent with the backend.
//
// A Client serves reads and accepts writes whether or not the backend is
// reachable. Writes apply to the local cache immediately and are replayed
// to the server in order; snapshot listeners observe the merged local and
// server state and report whether a snapshot is confirmed or from cache.
package syntrix

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/syntrixbase/syntrix-go/internal/async"
	"github.com/syntrixbase/syntrix-go/internal/config"
	"github.com/syntrixbase/syntrix-go/internal/credentials"
	"github.com/syntrixbase/syntrix-go/internal/engine"
	"github.com/syntrixbase/syntrix-go/internal/events"
	"github.com/syntrixbase/syntrix-go/internal/local"
	"github.com/syntrixbase/syntrix-go/internal/local/boltdb"
	"github.com/syntrixbase/syntrix-go/internal/model"
	"github.com/syntrixbase/syntrix-go/internal/remote"
	"github.com/syntrixbase/syntrix-go/pkg/codes"
)

// Client is the entry point of the SDK. All its methods are safe for
// concurrent use; internal work is serialized on one task queue.
type Client struct {
	cfg    *config.Config
	logger *slog.Logger

	queue  *async.Queue
	creds  credentials.Provider
	local  *local.LocalStore
	remote *remote.RemoteStore
	sync   *engine.SyncEngine
	events *events.EventManager

	closeOnce sync.Once
	closeErr  error
}

// syncerProxy breaks the construction cycle between the remote store and
// the sync engine: the remote store is built against the proxy, the engine
// is filled in right after. All calls run on the queue, after wiring.
type syncerProxy struct {
	engine *engine.SyncEngine
}

func (p *syncerProxy) ApplyRemoteEvent(event remote.RemoteEvent) { p.engine.ApplyRemoteEvent(event) }
func (p *syncerProxy) RejectListen(targetID model.TargetID, err error) {
	p.engine.RejectListen(targetID, err)
}
func (p *syncerProxy) ApplySuccessfulWrite(batch model.MutationBatch, commitVersion model.SnapshotVersion, results []model.MutationResult) {
	p.engine.ApplySuccessfulWrite(batch, commitVersion, results)
}
func (p *syncerProxy) RejectFailedWrite(batchID model.BatchID, err error) {
	p.engine.RejectFailedWrite(batchID, err)
}
func (p *syncerProxy) GetRemoteKeysForTarget(targetID model.TargetID) model.DocumentKeySet {
	return p.engine.GetRemoteKeysForTarget(targetID)
}
func (p *syncerProxy) HandleOnlineStateChange(state remote.OnlineState) {
	p.engine.HandleOnlineStateChange(state)
}

// NewClient builds and starts a client from configuration. The network
// comes up immediately; use DisableNetwork to start offline.
func NewClient(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	var persistence local.Persistence
	if cfg.Client.Persistence.Enabled {
		p, err := boltdb.Open(cfg.Client.Persistence.Path, logger)
		if err != nil {
			return nil, err
		}
		persistence = p
	} else {
		persistence = local.NewMemoryPersistence()
	}

	var creds credentials.Provider
	if cfg.Client.Token != "" {
		p, err := credentials.NewStaticProvider(cfg.Client.Token)
		if err != nil {
			return nil, err
		}
		creds = p
	} else {
		creds = credentials.AnonymousProvider{}
	}

	queue := async.NewQueue(logger)
	localStore := local.NewLocalStore(persistence, logger)
	if err := localStore.Start(); err != nil {
		queue.Terminate()
		return nil, err
	}

	transport := remote.NewWebSocketTransport(cfg.Client.BaseURL, logger)
	proxy := &syncerProxy{}
	remoteStore := remote.NewRemoteStore(queue, transport, creds, proxy, localStore, logger)
	eventManager := events.NewEventManager()
	syncEngine := engine.NewSyncEngine(localStore, remoteStore, eventManager, logger)
	proxy.engine = syncEngine
	eventManager.SetSyncEngine(syncEngine)

	c := &Client{
		cfg:    cfg,
		logger: logger,
		queue:  queue,
		creds:  creds,
		local:  localStore,
		remote: remoteStore,
		sync:   syncEngine,
		events: eventManager,
	}

	initial := true
	creds.SetUserChangeListener(func(credentials.User) {
		queue.Enqueue(func() {
			// The provider fires once at registration for the current user;
			// only later changes invalidate local state.
			if initial {
				initial = false
				return
			}
			c.sync.HandleUserChange()
			c.remote.HandleCredentialChange()
		})
	})

	queue.Enqueue(func() { c.remote.Start() })
	return c, nil
}

// Collection addresses a root or nested collection by slash-separated path.
func (c *Client) Collection(path string) *CollectionRef {
	rp, err := model.ParseResourcePath(path)
	if err != nil || rp.Length()%2 == 0 {
		ref := newCollectionRef(c, rp)
		ref.Query.err = codes.Errorf(codes.InvalidArgument, "invalid collection path %q", path)
		return ref
	}
	return newCollectionRef(c, rp)
}

// Doc addresses a document by slash-separated path.
func (c *Client) Doc(path string) *DocumentRef {
	segments := strings.Split(path, "/")
	rp := model.NewResourcePath(segments...)
	return &DocumentRef{c: c, key: model.NewDocumentKey(rp)}
}

// CollectionGroup queries every collection with the given id, anywhere in
// the tree.
func (c *Client) CollectionGroup(id string) Query {
	return Query{c: c, q: model.NewCollectionGroupQuery(id)}
}

// Batch starts an atomic write batch.
func (c *Client) Batch() *WriteBatch {
	return &WriteBatch{c: c}
}

// EnableNetwork resumes backend connectivity.
func (c *Client) EnableNetwork() {
	c.queue.Enqueue(func() { c.remote.EnableNetwork() })
}

// DisableNetwork stops backend connectivity. Reads serve from cache and
// writes queue locally until the network is re-enabled.
func (c *Client) DisableNetwork() {
	c.queue.Enqueue(func() { c.remote.DisableNetwork() })
}

// Close shuts the client down: the streams stop, the queue drains, and the
// cache closes. Pending unacknowledged writes stay queued in a durable
// cache and replay on the next start.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.queue.Enqueue(func() { c.remote.Shutdown() })
		c.queue.Terminate()
		c.creds.Shutdown()
		c.closeErr = c.local.Close()
	})
	return c.closeErr
}

// write applies mutations locally and blocks until the backend acknowledges
// them or ctx expires. The local effect is visible to snapshots right away
// either way.
func (c *Client) write(ctx context.Context, mutations []model.Mutation) error {
	errCh := make(chan error, 1)
	c.queue.Enqueue(func() {
		c.sync.Write(mutations, func(err error) { errCh <- err })
	})
	select {
	case <-ctx.Done():
		return codes.Wrap(codes.Cancelled, ctx.Err())
	case err := <-errCh:
		return err
	}
}

// awaitSnapshot runs a one-shot listen and returns the first snapshot that
// satisfies the initial-event policy: server-confirmed when online, cached
// once the client is known offline.
func (c *Client) awaitSnapshot(ctx context.Context, mq model.Query) (*engine.ViewSnapshot, error) {
	type result struct {
		snap *engine.ViewSnapshot
		err  error
	}
	ch := make(chan result, 1)

	var listener *events.QueryListener
	delivered := false
	listener = events.NewQueryListener(mq, events.ListenOptions{
		IncludeMetadataChanges: true,
		WaitForSyncWhenOnline:  true,
	}, func(snap *engine.ViewSnapshot, err error) {
		if delivered {
			return
		}
		delivered = true
		ch <- result{snap: snap, err: err}
		c.queue.Enqueue(func() { c.events.RemoveListener(listener) })
	})

	c.queue.Enqueue(func() { c.events.AddListener(listener) })
	select {
	case <-ctx.Done():
		c.queue.Enqueue(func() { c.events.RemoveListener(listener) })
		return nil, codes.Wrap(codes.Cancelled, ctx.Err())
	case r := <-ch:
		return r.snap, r.err
	}
}
