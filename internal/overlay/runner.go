package overlay

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"kadmesh/internal/debuglog"
	"kadmesh/internal/kademlia"
	"kadmesh/internal/keyvalidator"
	"kadmesh/internal/metrics"
	"kadmesh/internal/node"
	"kadmesh/internal/pprofutil"
	"kadmesh/internal/proto"
	"kadmesh/internal/response"
	"kadmesh/internal/service"
	"kadmesh/internal/timer"
	"kadmesh/internal/transport"
)

// Runner owns one routing-core instance end to end: identity, tables,
// transport, and the request/response components riding on top of it.
type Runner struct {
	cfg  Config
	self *node.Node

	dir       *kademlia.NodeDirectory
	net       kademlia.Network
	listener  *transport.Network // nil in tests that inject a fake Network
	rpc       *proto.RpcFactory
	svc       *service.Service
	resp      *response.ResponseHandler
	validator *keyvalidator.Validator
	timer     *timer.Timer
	metrics   *metrics.Metrics

	refreshCursor int
}

// NewRunner assembles a Runner from a local identity and configuration.
// The transport connection id is a fresh random nonce each run — unlike
// the node identity, it names a session, not the node itself, so it is
// never persisted.
func NewRunner(self *node.Node, cfg Config) (*Runner, error) {
	cfg = cfg.withDefaults()

	localConnID, err := randomID()
	if err != nil {
		return nil, fmt.Errorf("overlay: generate connection id: %w", err)
	}

	dir := kademlia.NewNodeDirectory(
		self.ID,
		localConnID,
		kademlia.KeyPair{Public: self.PubKey, Private: self.PrivKey},
		cfg.ClientMode,
		cfg.Options,
	)

	tcfg := transport.Config{
		ListenAddr:      cfg.ListenAddr,
		PublicEndpoint:  cfg.PublicEndpoint,
		PrivateEndpoint: cfg.PrivateEndpoint,
		NatType:         cfg.NatType,
		Insecure:        cfg.Insecure,
		MaxConnsPerIP:   cfg.MaxConnsPerIP,
		MaxStreamsPerIP: cfg.MaxStreamsPerIP,
	}
	tnet := transport.New(tcfg, dir)

	r := newRunner(self, cfg, dir, tnet)
	r.listener = tnet
	return r, nil
}

// newRunner builds a Runner around any kademlia.Network, letting tests
// substitute a fake in place of the real QUIC transport. NewRunner is
// the only caller that supplies a real *transport.Network.
func newRunner(self *node.Node, cfg Config, dir *kademlia.NodeDirectory, net kademlia.Network) *Runner {
	rpc := proto.NewRpcFactory(self.ID, cfg.Options.HopsToLive, cfg.Options.Replication)
	svc := service.New(dir, net, rpc)
	met := metrics.New()

	r := &Runner{cfg: cfg, self: self, dir: dir, net: net, rpc: rpc, svc: svc, metrics: met}

	r.validator = keyvalidator.New(r.fetchPublicKey)
	for _, bp := range cfg.Bootstrap {
		if len(bp.PublicKey) > 0 {
			r.validator.Seed(bp.NodeID, bp.PublicKey)
		}
	}

	r.timer = timer.New(cfg.RequestTimeout)
	r.resp = response.New(dir, net, rpc, r.validator, r.timer, r.localContact)
	return r
}

func randomID() (kademlia.NodeID, error) {
	var id kademlia.NodeID
	if _, err := rand.Read(id[:]); err != nil {
		return kademlia.NodeID{}, err
	}
	return id, nil
}

func (r *Runner) localContact() proto.ContactBlock {
	return proto.ContactBlock{
		NodeID:          r.dir.LocalId(),
		ConnectionID:    r.dir.LocalConnectionId(),
		PublicEndpoint:  r.cfg.PublicEndpoint,
		PrivateEndpoint: r.cfg.PrivateEndpoint,
		NatType:         r.cfg.NatType,
	}
}

// Directory exposes the live routing/client tables for CLI introspection.
func (r *Runner) Directory() *kademlia.NodeDirectory { return r.dir }

// Metrics exposes the counter set for CLI introspection.
func (r *Runner) Metrics() *metrics.Metrics { return r.metrics }

// Run brings the instance online: it starts the transport listener, the
// bootstrap sequence, and the periodic refresh/sweep loops, blocking
// until ctx is cancelled or the listener fails.
func (r *Runner) Run(ctx context.Context) error {
	if r.listener == nil {
		return fmt.Errorf("overlay: Run requires a Runner built by NewRunner")
	}
	if err := pprofutil.StartFromEnv(nil); err != nil {
		debuglog.Debugf("overlay: pprof start failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.listener.Serve(ctx, r.dispatch)
	}()

	go r.bootstrapAll(ctx)
	go r.connectionManager(ctx)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func marshalEnvelope(env proto.Message) ([]byte, error) {
	return json.Marshal(env)
}
