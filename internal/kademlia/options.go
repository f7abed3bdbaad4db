package kademlia

import "time"

// Options carries the routing core's tunables. Every field follows a
// "zero means default" convention: a zero value is resolved to a
// package default by NewNodeDirectory rather than treated as an
// explicit zero.
type Options struct {
	ClosestNodesSize    int
	MaxRoutingTableSize int
	MaxClientTableSize  int
	PendingTTL          time.Duration
	HopsToLive          int
	Replication         int
	TransportRetries    int
}

// DefaultHopsToLive is the initial TTL stamped on outgoing envelopes by
// the RpcFactory.
const DefaultHopsToLive = 20

// DefaultReplication is the default replication factor stamped on
// direct, non-relayed envelopes.
const DefaultReplication = 1

// DefaultTransportRetries bounds retries on transport Add failures from
// ResponseHandler; 3 attempts for an otherwise unbounded retry count.
const DefaultTransportRetries = 3

func (o Options) withDefaults() Options {
	if o.ClosestNodesSize <= 0 {
		o.ClosestNodesSize = DefaultClosestNodesSize
	}
	if o.MaxRoutingTableSize <= 0 {
		o.MaxRoutingTableSize = DefaultMaxRoutingTableSize
	}
	if o.MaxClientTableSize <= 0 {
		o.MaxClientTableSize = DefaultMaxClientTableSize
	}
	if o.PendingTTL <= 0 {
		o.PendingTTL = DefaultPendingTTL
	}
	if o.HopsToLive <= 0 {
		o.HopsToLive = DefaultHopsToLive
	}
	if o.Replication <= 0 {
		o.Replication = DefaultReplication
	}
	if o.TransportRetries <= 0 {
		o.TransportRetries = DefaultTransportRetries
	}
	return o
}
