package transport

import (
	"context"
	"fmt"
	"sync"

	"kadmesh/internal/kademlia"
)

// Config carries the local node's transport configuration: where it
// listens and what address it advertises to peers during the Connect
// handshake.
type Config struct {
	ListenAddr      string
	PublicEndpoint  kademlia.Endpoint
	PrivateEndpoint kademlia.Endpoint
	NatType         kademlia.NatType
	Insecure        bool
	MaxConnsPerIP   int
	MaxStreamsPerIP int
}

// Network is the concrete kademlia.Network this module wires into
// Service and ResponseHandler. It owns no routing policy — it only
// resolves a peer's transport connection id to a dialable address and
// moves frames. Route selection for ids it has no address for goes
// through dir, the same directory the routing core itself consults.
type Network struct {
	cfg    Config
	dir    *kademlia.NodeDirectory
	dialer *dialer
	limiter *ipLimiter

	mu    sync.RWMutex
	addrs map[kademlia.NodeID]string // connection id -> dial address
}

func New(cfg Config, dir *kademlia.NodeDirectory) *Network {
	return &Network{
		cfg:     cfg,
		dir:     dir,
		dialer:  newDialer(cfg.Insecure),
		limiter: newIPLimiter(cfg.MaxConnsPerIP, cfg.MaxStreamsPerIP),
		addrs:   make(map[kademlia.NodeID]string),
	}
}

// Serve runs the accept loop, dispatching every inbound frame to
// handle. It blocks until ctx is cancelled or the listener fails.
func (n *Network) Serve(ctx context.Context, handle Handler) error {
	return Listen(ctx, n.cfg.ListenAddr, n.limiter, handle)
}

// GetAvailableEndpoint implements kademlia.Network. The routing core
// does not implement NAT traversal itself (out of scope); this simply
// reports the locally configured advertised address and NAT
// classification, echoed back to the requester over the wire.
func (n *Network) GetAvailableEndpoint(ctx context.Context, peerConnectionID kademlia.NodeID, peerEndpoints kademlia.EndpointPair) (kademlia.EndpointPair, kademlia.NatType, error) {
	if n.cfg.PublicEndpoint == "" && n.cfg.PrivateEndpoint == "" {
		return kademlia.EndpointPair{}, kademlia.NatUnknown, fmt.Errorf("transport: no local endpoint configured")
	}
	return kademlia.EndpointPair{Public: n.cfg.PublicEndpoint, Private: n.cfg.PrivateEndpoint}, n.cfg.NatType, nil
}

// Add implements kademlia.Network: it records the dial address for a
// peer's connection id so future SendToDirect calls can reach it.
// requestor and clientMode are accepted for interface symmetry with
// the handshake's admission policy; this transport treats every
// association the same regardless of who originated it.
func (n *Network) Add(ctx context.Context, localID, localConnectionID, peerID, peerConnectionID kademlia.NodeID, peerEndpoints kademlia.EndpointPair, requestor, clientMode bool) error {
	addr := dialAddress(peerEndpoints)
	if addr == "" {
		return fmt.Errorf("transport: peer %s advertised no usable endpoint", peerID)
	}
	n.mu.Lock()
	n.addrs[peerConnectionID] = addr
	n.mu.Unlock()
	return nil
}

// Remove implements kademlia.Network, dropping the address mapping for
// a torn-down association. Any pooled QUIC connection to that address
// is left to the pool's own idle eviction rather than force-closed
// here, since the same address may still be reachable through a
// different connection id.
func (n *Network) Remove(peerConnectionID kademlia.NodeID) {
	n.mu.Lock()
	delete(n.addrs, peerConnectionID)
	n.mu.Unlock()
}

// SendToDirect implements kademlia.Network: deliver frame to a peer
// this node already has a transport association for.
func (n *Network) SendToDirect(ctx context.Context, frame []byte, peerID, peerConnectionID kademlia.NodeID) error {
	n.mu.RLock()
	addr, ok := n.addrs[peerConnectionID]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transport: no known address for connection %s (peer %s)", peerConnectionID, peerID)
	}
	return n.dialer.send(ctx, addr, frame)
}

// SendToClosestNode implements kademlia.Network. If destinationID is
// pending with a known endpoint, frame goes straight there; otherwise it
// goes to the routing-table peer closest to destinationID. This is a
// single hop: receiving nodes do not forward frames addressed to
// someone else.
func (n *Network) SendToClosestNode(ctx context.Context, frame []byte, destinationID kademlia.NodeID) error {
	if info, _, ok := n.dir.PendingEntry(destinationID); ok {
		if addr := dialAddress(info.EndpointPair()); addr != "" {
			return n.dialer.send(ctx, addr, frame)
		}
	}
	next, ok := n.dir.GetNthClosestNode(destinationID, 1)
	if !ok {
		return fmt.Errorf("transport: no known route toward %s", destinationID)
	}
	n.mu.RLock()
	addr, ok := n.addrs[next.ConnectionID]
	n.mu.RUnlock()
	if !ok {
		addr = dialAddress(next.EndpointPair())
	}
	if addr == "" {
		return fmt.Errorf("transport: closest known node %s has no usable address", next.NodeID)
	}
	return n.dialer.send(ctx, addr, frame)
}

func dialAddress(pair kademlia.EndpointPair) string {
	if pair.Public != "" {
		return string(pair.Public)
	}
	return string(pair.Private)
}
