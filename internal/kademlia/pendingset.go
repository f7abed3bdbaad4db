package kademlia

import (
	"sync"
	"time"
)

// PeerState is a position in the peer admission state machine described
// by the routing protocol: Candidate -> Pending -> ConnSuccessSent ->
// Acknowledged, with Removed reachable from any non-terminal state.
type PeerState int

const (
	StateCandidate PeerState = iota
	StatePending
	StateConnSuccessSent
	StateAcknowledged
	StateRemoved
)

func (s PeerState) String() string {
	switch s {
	case StateCandidate:
		return "candidate"
	case StatePending:
		return "pending"
	case StateConnSuccessSent:
		return "conn_success_sent"
	case StateAcknowledged:
		return "acknowledged"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// DefaultPendingTTL bounds how long a peer may sit in a non-terminal
// state before it is considered abandoned — the handshake deadline;
// absence of confirmation within it is equivalent to rejection.
const DefaultPendingTTL = 30 * time.Second

type pendingEntry struct {
	info      NodeInfo
	state     PeerState
	requestor bool // true if the local node originated the ConnectRequest
	deadline  time.Time
}

// PendingSet tracks peers for whom a transport association exists but
// which have not completed the four-message handshake. Entries age out
// on their own; TakeExpired must be polled (or called on access) to
// reap them, following a TTL-bounded store shape without introducing a
// background goroutine per entry.
type PendingSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[NodeID]*pendingEntry
}

func NewPendingSet(ttl time.Duration) *PendingSet {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &PendingSet{
		ttl:     ttl,
		entries: make(map[NodeID]*pendingEntry),
	}
}

// AddPendingNode registers a peer as Pending. Idempotent: re-adding an
// already-pending peer only refreshes its deadline.
func (p *PendingSet) AddPendingNode(info NodeInfo, requestor bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[info.NodeID]; ok && e.state != StateRemoved {
		e.deadline = time.Now().Add(p.ttl)
		return
	}
	p.entries[info.NodeID] = &pendingEntry{
		info:      info,
		state:     StatePending,
		requestor: requestor,
		deadline:  time.Now().Add(p.ttl),
	}
}

// RefreshInfo updates a pending entry's contact info in place, used once
// a ConnectResponse fills in the connection id and endpoints for a
// candidate that was registered pending by id alone. Returns false if
// the peer is not tracked or already terminal.
func (p *PendingSet) RefreshInfo(id NodeID, info NodeInfo) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok || e.state == StateRemoved {
		return false
	}
	e.info = info
	return true
}

// Advance moves a pending peer to a new state, refreshing its deadline.
// Returns false if the peer is not known or already terminal.
func (p *PendingSet) Advance(id NodeID, next PeerState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok || e.state == StateAcknowledged || e.state == StateRemoved {
		return false
	}
	e.state = next
	e.deadline = time.Now().Add(p.ttl)
	return true
}

// ConfirmPending marks a peer Acknowledged, the terminal success state.
// Returns the peer's info and whether the transition succeeded.
func (p *PendingSet) ConfirmPending(id NodeID) (NodeInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok || e.state == StateRemoved {
		return NodeInfo{}, false
	}
	e.state = StateAcknowledged
	info := e.info
	delete(p.entries, id) // terminal: the directory now owns the peer
	return info, true
}

// DropPending removes a peer, marking it Removed. Safe to call on an
// unknown id.
func (p *PendingSet) DropPending(id NodeID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, id)
}

// Get returns a snapshot of a pending entry's state.
func (p *PendingSet) Get(id NodeID) (NodeInfo, PeerState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return NodeInfo{}, StateRemoved, false
	}
	return e.info, e.state, true
}

// IsRequestor reports whether the local node originated the connection
// attempt for a pending peer.
func (p *PendingSet) IsRequestor(id NodeID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	return ok && e.requestor
}

// Contains reports whether id is tracked in any non-terminal state.
func (p *PendingSet) Contains(id NodeID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	return ok
}

// Size returns the number of peers currently pending.
func (p *PendingSet) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// TakeExpired removes and returns the info of every entry whose deadline
// has passed. Callers should tear down any reserved transport
// association for each returned entry (info.ConnectionID is the key
// Network.Remove expects).
func (p *PendingSet) TakeExpired(now time.Time) []NodeInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	var expired []NodeInfo
	for id, e := range p.entries {
		if now.After(e.deadline) {
			expired = append(expired, e.info)
			delete(p.entries, id)
		}
	}
	return expired
}
