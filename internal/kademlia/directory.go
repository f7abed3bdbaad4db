package kademlia

import (
	"sync"
	"time"
)

// KeyPair holds the local node's signing keys in the encoding produced
// by internal/crypto (PKIX/PKCS8 DER). NodeDirectory only carries these
// bytes for LocalKeys(); it never signs anything itself.
type KeyPair struct {
	Public  []byte
	Private []byte
}

// NodeDirectory is component C1: the in-memory view of the overlay a
// single node maintains — its routing table, its client table, and the
// pending-peer admission lifecycle that feeds both. It is the sole
// owner of mutable table state; Service reads it, ResponseHandler
// mutates it, per the concurrency model.
type NodeDirectory struct {
	mu sync.Mutex // serializes admission decisions across Routing/Client tables

	localID     NodeID
	localConnID NodeID
	localKeys   KeyPair
	clientMode  bool

	opts Options

	routing *RoutingTable
	clients *ClientTable
	pending *PendingSet
}

func NewNodeDirectory(localID, localConnID NodeID, keys KeyPair, clientMode bool, opts Options) *NodeDirectory {
	opts = opts.withDefaults()
	return &NodeDirectory{
		localID:     localID,
		localConnID: localConnID,
		localKeys:   keys,
		clientMode:  clientMode,
		opts:        opts,
		routing:     NewRoutingTable(localID, opts.MaxRoutingTableSize),
		clients:     NewClientTable(opts.MaxClientTableSize),
		pending:     NewPendingSet(opts.PendingTTL),
	}
}

func (d *NodeDirectory) LocalId() NodeID           { return d.localID }
func (d *NodeDirectory) LocalConnectionId() NodeID { return d.localConnID }
func (d *NodeDirectory) LocalKeys() KeyPair        { return d.localKeys }
func (d *NodeDirectory) ClientMode() bool          { return d.clientMode }
func (d *NodeDirectory) Options() Options          { return d.opts }

// CheckNode reports server-side admissibility without insertion.
func (d *NodeDirectory) CheckNode(candidate NodeInfo) bool {
	return d.routing.CheckNode(candidate)
}

// CheckClient reports client-table admissibility against the supplied
// close-group boundary (the closest_nodes_size-th closest server peer).
func (d *NodeDirectory) CheckClient(candidate NodeInfo, furthestCloseID NodeID) bool {
	return d.clients.CheckClient(d.localID, candidate, furthestCloseID)
}

// AddPendingNode registers a peer as Pending, ahead of handshake
// completion. requestor records which side originated the ConnectRequest.
func (d *NodeDirectory) AddPendingNode(info NodeInfo, requestor bool) {
	d.pending.AddPendingNode(info, requestor)
}

// RefreshPendingInfo fills in a pending peer's contact info once it
// becomes known (e.g. after a ConnectResponse arrives for a peer that
// was registered pending by id alone).
func (d *NodeDirectory) RefreshPendingInfo(id NodeID, info NodeInfo) bool {
	return d.pending.RefreshInfo(id, info)
}

// AdvancePending moves a pending peer forward in the state machine
// (Pending -> ConnSuccessSent, typically once key validation succeeds).
func (d *NodeDirectory) AdvancePending(id NodeID, next PeerState) bool {
	return d.pending.Advance(id, next)
}

// PendingEntry returns the current state of a pending peer.
func (d *NodeDirectory) PendingEntry(id NodeID) (NodeInfo, PeerState, bool) {
	return d.pending.Get(id)
}

// PendingIsRequestor reports whether the local node originated the
// connection for a pending peer.
func (d *NodeDirectory) PendingIsRequestor(id NodeID) bool {
	return d.pending.IsRequestor(id)
}

// DropPending removes a peer from the pending set without promoting it,
// the Removed terminal transition.
func (d *NodeDirectory) DropPending(id NodeID) {
	d.pending.DropPending(id)
}

// SweepExpiredPending reaps pending entries past their handshake
// deadline. Callers must tear down any reserved transport association
// for each returned entry (the directory itself does not touch Network).
func (d *NodeDirectory) SweepExpiredPending() []NodeInfo {
	return d.pending.TakeExpired(time.Now())
}

// ConfirmPending promotes a pending peer into its terminal table
// (client or server) once both sides have exchanged
// ConnectSuccessAcknowledgement. It is the only path by which a peer
// becomes visible in RoutingTable or ClientTable.
func (d *NodeDirectory) ConfirmPending(id NodeID) (NodeInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.pending.ConfirmPending(id)
	if !ok {
		return NodeInfo{}, false
	}
	if info.IsClient {
		furthest := d.furthestCloseIDLocked()
		if !d.clients.Add(d.localID, info, furthest) {
			return NodeInfo{}, false
		}
		return info, true
	}
	if !d.routing.Add(info) {
		return NodeInfo{}, false
	}
	return info, true
}

func (d *NodeDirectory) furthestCloseIDLocked() NodeID {
	nth, ok := d.routing.GetNthClosestNode(d.localID, d.opts.ClosestNodesSize)
	if !ok {
		return NodeID{}
	}
	return nth.NodeID
}

// GetClosestNodes returns up to count ids closest to target from the
// routing table, excluding the local id.
func (d *NodeDirectory) GetClosestNodes(target NodeID, count int) []NodeID {
	return d.routing.GetClosestNodes(target, count)
}

// GetNthClosestNode returns the n-th closest server peer to target,
// 1-indexed, falling back to the farthest available entry.
func (d *NodeDirectory) GetNthClosestNode(target NodeID, n int) (NodeInfo, bool) {
	return d.routing.GetNthClosestNode(target, n)
}

// Size returns the number of server peers in the routing table.
func (d *NodeDirectory) Size() int {
	return d.routing.Size()
}

// ClientSize returns the number of clients served.
func (d *NodeDirectory) ClientSize() int {
	return d.clients.Size()
}

// PendingSize returns the number of peers currently mid-handshake.
func (d *NodeDirectory) PendingSize() int {
	return d.pending.Size()
}

// InRoutingTable reports whether id is a known server peer.
func (d *NodeDirectory) InRoutingTable(id NodeID) bool {
	return d.routing.Contains(id)
}

// InClientTable reports whether id is a known client.
func (d *NodeDirectory) InClientTable(id NodeID) bool {
	return d.clients.Contains(id)
}

// Known reports whether id is present in either table or already
// tracked as pending — the check the densification loop uses to avoid
// re-issuing ConnectRequest to an id it already has a relationship with.
func (d *NodeDirectory) Known(id NodeID) bool {
	return d.routing.Contains(id) || d.clients.Contains(id) || d.pending.Contains(id)
}

// RoutingTableSnapshot returns every server peer currently held, for
// CLI introspection.
func (d *NodeDirectory) RoutingTableSnapshot() []NodeInfo {
	return d.routing.All()
}

// ClientTableSnapshot returns every client currently served, for CLI
// introspection.
func (d *NodeDirectory) ClientTableSnapshot() []NodeInfo {
	return d.clients.All()
}

// UpdateClientCloseGroup re-evaluates served clients against the
// current close-group boundary, dropping any that no longer qualify.
// Nothing in this module calls it yet; ResponseHandler's close-node
// update handling does not re-evaluate the client table.
func (d *NodeDirectory) UpdateClientCloseGroup() []NodeID {
	furthest := d.furthestCloseIDLocked()
	return d.clients.UpdateCloseGroup(d.localID, furthest)
}

// RemovePeer drops a peer from every table it might be in, used when a
// churn detector or handshake failure requires forced eviction.
func (d *NodeDirectory) RemovePeer(id NodeID) {
	d.routing.Remove(id)
	d.clients.Remove(id)
	d.pending.DropPending(id)
}
