// Package probe assembles a probe process: identity, address book, transport,
// trace stores, nodes, etcd registration and the HTTP service.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/mosaicnetworks/probe/src/config"
	"github.com/mosaicnetworks/probe/src/crypto/keys"
	"github.com/mosaicnetworks/probe/src/discovery"
	"github.com/mosaicnetworks/probe/src/net"
	"github.com/mosaicnetworks/probe/src/node"
	"github.com/mosaicnetworks/probe/src/peers"
	"github.com/mosaicnetworks/probe/src/service"
	"github.com/mosaicnetworks/probe/src/trace"
	"github.com/sirupsen/logrus"
)

// Probe is a probe process. It hosts Config.Workers nodes behind a single
// HTTP service.
type Probe struct {
	Config    *config.Config
	ID        peers.ID
	Key       *btcec.PrivateKey
	Book      peers.Book
	Discovery *discovery.Etcd
	Nodes     []*node.Node
	Service   *service.Service

	local  *peers.StaticBook
	regMu  sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	logger *logrus.Entry
}

// NewProbe ...
func NewProbe(c *config.Config) *Probe {
	return &Probe{
		Config: c,
	}
}

// Init builds every component. Nothing runs until Run is called.
func (p *Probe) Init() error {
	p.logger = p.Config.Logger()
	p.ctx, p.cancel = context.WithCancel(context.Background())

	if p.Config.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", p.Config.Workers)
	}

	if err := p.initKey(); err != nil {
		return err
	}

	if err := p.initDiscovery(); err != nil {
		return err
	}

	if err := p.initBook(); err != nil {
		return err
	}

	if err := p.initNodes(); err != nil {
		return err
	}

	p.initService()

	return nil
}

// initKey resolves the ID of the first worker. A configured ID wins;
// otherwise the ID is derived from the key in the data directory.
func (p *Probe) initKey() error {
	if p.Config.ID != "" {
		id, err := peers.ParseID(p.Config.ID)
		if err != nil {
			return err
		}
		p.ID = id
	} else {
		key, created, err := keys.NewSimpleKeyfile(p.Config.Keyfile()).ReadOrCreate()
		if err != nil {
			return fmt.Errorf("reading key: %w", err)
		}
		if created {
			p.logger.WithField("public_key", keys.PublicKeyHex(key.PubKey())).Info("Created a new key")
		}

		p.Key = key
		p.ID = keys.PublicKeyID(key.PubKey())
	}

	if uint64(p.ID)+uint64(p.Config.Workers) > math.MaxUint32+1 {
		return fmt.Errorf("id %s leaves no room for %d workers", p.ID, p.Config.Workers)
	}

	return nil
}

func (p *Probe) initDiscovery() error {
	if len(p.Config.EtcdEndpoints) == 0 {
		return nil
	}

	d, err := discovery.NewEtcd(
		p.Config.EtcdEndpoints,
		p.Config.EtcdPrefix,
		p.Config.EtcdTTL,
		5*time.Second,
		p.logger,
	)
	if err != nil {
		return err
	}

	p.Discovery = d

	return nil
}

// initBook chains the address sources: the process's own workers, etcd,
// peers.json, and finally the template.
func (p *Probe) initBook() error {
	p.local = peers.NewStaticBook(nil)
	for i := 0; i < p.Config.Workers; i++ {
		id := p.workerID(i)
		p.local.Set(id, p.workerAddr(id))
	}

	chain := peers.ChainBook{p.local}

	if p.Discovery != nil {
		chain = append(chain, p.Discovery)
	}

	jsonBook := peers.NewJSONBook(p.Config.DataDir)
	static, err := jsonBook.Load()
	switch {
	case err == nil:
		p.logger.WithFields(logrus.Fields{
			"path":  jsonBook.Path(),
			"peers": static.Len(),
		}).Debug("Loaded address book")
		chain = append(chain, static)
	case errors.Is(err, fs.ErrNotExist):
	default:
		return err
	}

	chain = append(chain, peers.NewTemplateBook(p.Config.PeerTemplate, p.Config.PortBase))

	p.Book = chain

	return nil
}

func (p *Probe) initNodes() error {
	for i := 0; i < p.Config.Workers; i++ {
		id := p.workerID(i)

		moniker := p.Config.Moniker
		if moniker == "" {
			moniker = "probe"
		}
		if p.Config.Workers > 1 {
			moniker = fmt.Sprintf("%s-%d", moniker, i)
		}

		conf, err := p.Config.NodeConfig(moniker)
		if err != nil {
			return err
		}

		store, err := p.initStore(id)
		if err != nil {
			return err
		}

		trans := net.NewHTTPTransport(
			p.Config.Window+p.Config.HTTPTimeout,
			p.Config.MaxBody,
			p.logger.WithField("worker", moniker),
		)

		n, err := node.NewNode(conf, id, p.Book, trans, store)
		if err != nil {
			store.Close()
			return fmt.Errorf("worker %d: %w", i, err)
		}

		p.Nodes = append(p.Nodes, n)
	}

	return nil
}

func (p *Probe) initStore(id peers.ID) (trace.Store, error) {
	if !p.Config.Store {
		return trace.NewInmemStore(p.Config.TraceSize), nil
	}

	path := filepath.Join(p.Config.DatabaseDir, id.String())

	p.logger.WithField("path", path).Debug("Creating trace database")

	return trace.NewBadgerStore(p.Config.TraceSize, path, p.logger)
}

func (p *Probe) initService() {
	p.Service = service.NewService(
		p.Config.BindAddr,
		p.Config.MaxBody,
		p.Config.Window+p.Config.HTTPTimeout,
		p.logger,
	)

	for i, n := range p.Nodes {
		p.Service.Register(p.workerID(i), n)
		n.SetIDHandler(p.renameWorker)
	}
}

// renameWorker moves a local worker to a new ID. The service route and the
// local address are updated before the node adopts the ID; the etcd
// registration follows in the background.
func (p *Probe) renameWorker(from, to peers.ID) error {
	if err := p.Service.Rename(from, to); err != nil {
		return err
	}

	p.local.Delete(from)
	p.local.Set(to, p.workerAddr(to))

	p.logger.WithFields(logrus.Fields{
		"from": from,
		"to":   to,
	}).Info("Worker renamed")

	if p.Discovery != nil {
		go func() {
			if err := p.syncRegistrations(p.ctx); err != nil {
				p.logger.WithError(err).Warn("Updating etcd registrations")
			}
		}()
	}

	return nil
}

// syncRegistrations makes the etcd registrations match the local workers.
func (p *Probe) syncRegistrations(ctx context.Context) error {
	p.regMu.Lock()
	defer p.regMu.Unlock()

	want := p.local.Entries()
	have := p.Discovery.Registered()

	for id, addr := range have {
		if want[id] == addr {
			continue
		}
		if err := p.Discovery.Deregister(ctx, id); err != nil {
			return err
		}
	}

	for id, addr := range want {
		if have[id] == addr {
			continue
		}
		if err := p.Discovery.Register(ctx, id, addr); err != nil {
			return err
		}
	}

	return nil
}

func (p *Probe) workerID(i int) peers.ID {
	return p.ID + peers.ID(i)
}

// workerAddr is the base URL of a local worker. A single worker is also
// reachable at the root.
func (p *Probe) workerAddr(id peers.ID) string {
	if p.Config.Workers == 1 {
		return p.Config.Advertise()
	}
	return fmt.Sprintf("%s/worker/%s", p.Config.Advertise(), id)
}

// Run starts the nodes, registers them in etcd, and serves the API. It blocks
// until the service stops.
func (p *Probe) Run() error {
	for _, n := range p.Nodes {
		n.RunAsync()
	}

	if p.Discovery != nil {
		if err := p.syncRegistrations(p.ctx); err != nil {
			return err
		}
		if err := p.Discovery.Watch(p.ctx); err != nil {
			return err
		}
	}

	p.logger.WithFields(logrus.Fields{
		"id":        p.ID,
		"workers":   len(p.Nodes),
		"advertise": p.Config.Advertise(),
	}).Info("Probe running")

	return p.Service.Serve()
}

// Shutdown stops the service, the nodes and the etcd client.
func (p *Probe) Shutdown() {
	p.logger.Info("Shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if p.Service != nil {
		if err := p.Service.Shutdown(ctx); err != nil {
			p.logger.WithError(err).Warn("Service shutdown")
		}
	}

	for _, n := range p.Nodes {
		n.Shutdown()
	}

	if p.cancel != nil {
		p.cancel()
	}

	if p.Discovery != nil {
		if err := p.Discovery.Close(); err != nil {
			p.logger.WithError(err).Warn("Closing etcd client")
		}
	}
}

// Keygen creates a new key in datadir. It refuses to overwrite an existing
// one.
func Keygen(datadir string) (*btcec.PrivateKey, error) {
	kf := keys.NewSimpleKeyfile(filepath.Join(datadir, keys.DefaultKeyfile))

	if _, err := kf.ReadKey(); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", datadir)
	}

	key, err := keys.GenerateKey()
	if err != nil {
		return nil, err
	}

	if err := kf.WriteKey(key); err != nil {
		return nil, err
	}

	return key, nil
}
