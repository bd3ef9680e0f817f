// Package discovery publishes the addresses of probe nodes in etcd so that
// peers can be resolved without a static address book.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mosaicnetworks/probe/src/peers"
	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// DefaultPrefix is the etcd key prefix under which nodes register.
const DefaultPrefix = "/probe/nodes/"

// DefaultTTL is the lease TTL of a registration, in seconds.
const DefaultTTL = 10

// DefaultRetry is the delay before the table is synced again after a watch
// fails.
const DefaultRetry = time.Second

// client is the part of *clientv3.Client the registry uses.
type client interface {
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	KeepAlive(ctx context.Context, id clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan
	Close() error
}

// Etcd is a peers.Book backed by etcd. Every node registers its address under
// Prefix+ID with a lease, and every node watches the prefix to keep a local
// copy of the table.
type Etcd struct {
	cli    client
	prefix string
	ttl    int64
	retry  time.Duration
	logger *logrus.Entry

	sync.RWMutex
	addrs  map[peers.ID]string
	own    map[peers.ID]string
	leases map[peers.ID]clientv3.LeaseID
}

// NewEtcd connects to the etcd cluster at endpoints.
func NewEtcd(endpoints []string,
	prefix string,
	ttl int64,
	dialTimeout time.Duration,
	logger *logrus.Entry,
) (*Etcd, error) {

	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to etcd %v: %w", endpoints, err)
	}

	return newEtcd(cli, prefix, ttl, logger), nil
}

func newEtcd(cli client, prefix string, ttl int64, logger *logrus.Entry) *Etcd {
	return &Etcd{
		cli:    cli,
		prefix: prefix,
		ttl:    ttl,
		retry:  DefaultRetry,
		logger: logger.WithField("prefix", prefix),
		addrs:  make(map[peers.ID]string),
		own:    make(map[peers.ID]string),
		leases: make(map[peers.ID]clientv3.LeaseID),
	}
}

// Register publishes addr for id. The registration lives as long as ctx and
// the client; it disappears TTL seconds after the node stops.
func (e *Etcd) Register(ctx context.Context, id peers.ID, addr string) error {
	lease, err := e.cli.Grant(ctx, e.ttl)
	if err != nil {
		return fmt.Errorf("granting lease: %w", err)
	}

	if _, err := e.cli.Put(ctx, keyFor(e.prefix, id), addr, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registering %s: %w", id, err)
	}

	keepAlive, err := e.cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("keeping lease alive: %w", err)
	}

	// The channel must be drained or the client logs a warning for every
	// dropped response.
	go func() {
		for range keepAlive {
		}
		e.logger.WithField("id", id).Debug("Lease keep-alive stopped")
	}()

	e.Lock()
	e.addrs[id] = addr
	e.own[id] = addr
	e.leases[id] = lease.ID
	e.Unlock()

	e.logger.WithFields(logrus.Fields{
		"id":   id,
		"addr": addr,
	}).Info("Registered in etcd")

	return nil
}

// Deregister revokes the registration of id, which deletes its key.
func (e *Etcd) Deregister(ctx context.Context, id peers.ID) error {
	e.Lock()
	lease, ok := e.leases[id]
	delete(e.leases, id)
	delete(e.own, id)
	delete(e.addrs, id)
	e.Unlock()

	if !ok {
		return nil
	}

	if _, err := e.cli.Revoke(ctx, lease); err != nil {
		return fmt.Errorf("revoking %s: %w", id, err)
	}

	e.logger.WithField("id", id).Info("Deregistered from etcd")

	return nil
}

// Registered returns the addresses this client has registered, by ID.
func (e *Etcd) Registered() map[peers.ID]string {
	e.RLock()
	defer e.RUnlock()

	res := make(map[peers.ID]string, len(e.own))
	for id, addr := range e.own {
		res[id] = addr
	}
	return res
}

// Sync replaces the table with the content of etcd and returns the revision
// it was read at. The node's own registrations are kept.
func (e *Etcd) Sync(ctx context.Context) (int64, error) {
	resp, err := e.cli.Get(ctx, e.prefix, clientv3.WithPrefix())
	if err != nil {
		return 0, fmt.Errorf("listing %s: %w", e.prefix, err)
	}

	addrs := make(map[peers.ID]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id, err := parseKey(e.prefix, string(kv.Key))
		if err != nil {
			e.logger.WithError(err).Debug("Ignoring etcd key")
			continue
		}
		addrs[id] = string(kv.Value)
	}

	e.Lock()
	for id, addr := range e.own {
		addrs[id] = addr
	}
	e.addrs = addrs
	e.Unlock()

	return resp.Header.Revision, nil
}

// Watch syncs the table and then follows changes until ctx is done. When the
// watch fails or closes, the table is synced again and a new watch starts
// from the synced revision.
func (e *Etcd) Watch(ctx context.Context) error {
	rev, err := e.Sync(ctx)
	if err != nil {
		return err
	}

	go e.follow(ctx, rev)

	return nil
}

func (e *Etcd) follow(ctx context.Context, rev int64) {
	for {
		e.watchFrom(ctx, rev)

		for {
			select {
			case <-ctx.Done():
				e.logger.Debug("etcd watch closed")
				return
			case <-time.After(e.retry):
			}

			r, err := e.Sync(ctx)
			if err != nil {
				e.logger.WithError(err).Warn("etcd resync")
				continue
			}
			rev = r
			break
		}

		e.logger.WithField("revision", rev).Info("etcd table resynced")
	}
}

// watchFrom applies the events that follow revision rev until the watch
// fails or its channel closes.
func (e *Etcd) watchFrom(ctx context.Context, rev int64) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wch := e.cli.Watch(wctx, e.prefix, clientv3.WithPrefix(), clientv3.WithRev(rev+1))
	for wresp := range wch {
		if err := wresp.Err(); err != nil {
			e.logger.WithError(err).Warn("etcd watch")
			return
		}
		for _, ev := range wresp.Events {
			switch ev.Type {
			case clientv3.EventTypePut:
				e.applyPut(ev.Kv.Key, ev.Kv.Value)
			case clientv3.EventTypeDelete:
				e.applyDelete(ev.Kv.Key)
			}
		}
	}
}

func (e *Etcd) applyPut(key, value []byte) {
	id, err := parseKey(e.prefix, string(key))
	if err != nil {
		e.logger.WithError(err).Debug("Ignoring etcd key")
		return
	}

	e.Lock()
	e.addrs[id] = string(value)
	e.Unlock()
}

func (e *Etcd) applyDelete(key []byte) {
	id, err := parseKey(e.prefix, string(key))
	if err != nil {
		return
	}

	e.Lock()
	delete(e.addrs, id)
	e.Unlock()
}

// Addr implements the peers.Book interface.
func (e *Etcd) Addr(id peers.ID) (string, error) {
	e.RLock()
	defer e.RUnlock()

	addr, ok := e.addrs[id]
	if !ok {
		return "", fmt.Errorf("peer %s not registered in etcd: %w", id, peers.ErrUnknownPeer)
	}
	return addr, nil
}

// Len returns the number of known registrations.
func (e *Etcd) Len() int {
	e.RLock()
	defer e.RUnlock()
	return len(e.addrs)
}

// Close revokes the node's leases and closes the client.
func (e *Etcd) Close() error {
	e.Lock()
	leases := e.leases
	e.leases = make(map[peers.ID]clientv3.LeaseID)
	e.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, l := range leases {
		if _, err := e.cli.Revoke(ctx, l); err != nil {
			e.logger.WithError(err).Debug("Revoking lease")
		}
	}

	return e.cli.Close()
}

func keyFor(prefix string, id peers.ID) string {
	return prefix + id.String()
}

func parseKey(prefix, key string) (peers.ID, error) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return 0, fmt.Errorf("key %q outside prefix %q", key, prefix)
	}
	return peers.ParseID(rest)
}
