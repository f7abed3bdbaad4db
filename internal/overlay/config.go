// Package overlay wires the four routing-core components (NodeDirectory,
// Service, ResponseHandler, RpcFactory) to the transport and drives the
// process-level loops around them: the inbound dispatcher, the
// bootstrap sequence, and the periodic bucket-refresh and pending-sweep
// ticks. Built around a ticker-driven connection-manager shape: a
// ticker-driven loop and a bootstrap seed list, generalized from
// gossip/wallet vocabulary to the routing protocol's own. There is no
// per-peer dial backoff at this layer.
package overlay

import (
	"time"

	"kadmesh/internal/kademlia"
)

// BootstrapPeer pins a seed contact's identity and address in advance,
// the out-of-band trust anchor a first ConnectRequest needs before any
// routing-table entry exists to source-route through.
type BootstrapPeer struct {
	NodeID    kademlia.NodeID
	Addr      kademlia.Endpoint
	PublicKey []byte // optional; pre-seeds the key validator when known
}

// Config holds everything a Runner needs to bring a routing-core
// instance online.
type Config struct {
	ListenAddr      string
	PublicEndpoint  kademlia.Endpoint
	PrivateEndpoint kademlia.Endpoint
	NatType         kademlia.NatType
	Insecure        bool
	ClientMode      bool
	MaxConnsPerIP   int
	MaxStreamsPerIP int

	Bootstrap []BootstrapPeer

	Options kademlia.Options

	RefreshInterval time.Duration
	SweepInterval   time.Duration
	RequestTimeout  time.Duration

	MetricsPath string
}

const (
	DefaultRefreshInterval = 5 * time.Minute
	DefaultSweepInterval   = 10 * time.Second
	DefaultRequestTimeout  = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}
