// Package metrics counts the events a routing-core node cares about
// for operational visibility: message traffic by type, drops by
// reason, table occupancy, and the handshake outcomes that drive
// densification. An atomic-counter Metrics type generalized from a
// ledger-specific field set to the routing protocol's own vocabulary.
package metrics

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is the JSON-serializable point-in-time view of a Metrics
// instance, written by WriteSnapshot for CLI/operator introspection.
type Snapshot struct {
	GeneratedAt    time.Time         `json:"generated_at"`
	RecvByType     map[string]uint64 `json:"recv_by_type"`
	DropByReason   map[string]uint64 `json:"drop_by_reason"`
	Handshake      HandshakeMetrics  `json:"handshake"`
	CurrentConns   int64             `json:"current_conns"`
	CurrentStreams int64             `json:"current_streams"`
	RoutingTable   int64             `json:"routing_table_size"`
	ClientTable    int64             `json:"client_table_size"`
	PendingPeers   int64             `json:"pending_peers"`
}

// HandshakeMetrics counts outcomes of the four-message connection
// handshake, the routing core's most failure-prone sequence.
type HandshakeMetrics struct {
	ConnectSent        uint64 `json:"connect_sent"`
	ConnectAdmitted    uint64 `json:"connect_admitted"`
	ConnectRejected    uint64 `json:"connect_rejected"`
	TransportFailures  uint64 `json:"transport_failures"`
	KeyValidationFails uint64 `json:"key_validation_fails"`
	Acknowledged       uint64 `json:"acknowledged"`
	TimedOut           uint64 `json:"timed_out"`
}

// Metrics is the process-wide counter set. Every increment is a plain
// atomic op; Snapshot takes a lock only over the two string-keyed maps.
type Metrics struct {
	recvByType   map[string]*atomic.Uint64
	dropByReason map[string]*atomic.Uint64
	mapMu        sync.Mutex

	connectSent        atomic.Uint64
	connectAdmitted    atomic.Uint64
	connectRejected    atomic.Uint64
	transportFailures  atomic.Uint64
	keyValidationFails atomic.Uint64
	acknowledged       atomic.Uint64
	timedOut           atomic.Uint64

	currentConns   atomic.Int64
	currentStreams atomic.Int64
	routingTable   atomic.Int64
	clientTable    atomic.Int64
	pendingPeers   atomic.Int64
}

func New() *Metrics {
	return &Metrics{
		recvByType:   make(map[string]*atomic.Uint64),
		dropByReason: make(map[string]*atomic.Uint64),
	}
}

func (m *Metrics) counter(set map[string]*atomic.Uint64, key string) *atomic.Uint64 {
	m.mapMu.Lock()
	defer m.mapMu.Unlock()
	c, ok := set[key]
	if !ok {
		c = &atomic.Uint64{}
		set[key] = c
	}
	return c
}

// IncRecvByType records one inbound message of the given wire type
// (e.g. "ping_request", "connect_response").
func (m *Metrics) IncRecvByType(msgType string) {
	m.counter(m.recvByType, msgType).Add(1)
}

// IncDropByReason records one dropped envelope, keyed by the error
// handling category that caused the drop (e.g. "parse_error",
// "destination_mismatch", "capacity_reached").
func (m *Metrics) IncDropByReason(reason string) {
	m.counter(m.dropByReason, reason).Add(1)
}

func (m *Metrics) IncConnectSent()        { m.connectSent.Add(1) }
func (m *Metrics) IncConnectAdmitted()    { m.connectAdmitted.Add(1) }
func (m *Metrics) IncConnectRejected()    { m.connectRejected.Add(1) }
func (m *Metrics) IncTransportFailure()   { m.transportFailures.Add(1) }
func (m *Metrics) IncKeyValidationFail()  { m.keyValidationFails.Add(1) }
func (m *Metrics) IncAcknowledged()       { m.acknowledged.Add(1) }
func (m *Metrics) IncTimedOut()           { m.timedOut.Add(1) }

func (m *Metrics) SetCurrentConns(n int64)   { m.currentConns.Store(n) }
func (m *Metrics) SetCurrentStreams(n int64) { m.currentStreams.Store(n) }
func (m *Metrics) SetRoutingTableSize(n int64) { m.routingTable.Store(n) }
func (m *Metrics) SetClientTableSize(n int64)  { m.clientTable.Store(n) }
func (m *Metrics) SetPendingPeers(n int64)     { m.pendingPeers.Store(n) }

func snapshotCounters(set map[string]*atomic.Uint64, mu *sync.Mutex) map[string]uint64 {
	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]uint64, len(set))
	for k, v := range set {
		out[k] = v.Load()
	}
	return out
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		GeneratedAt:  time.Now().UTC(),
		RecvByType:   snapshotCounters(m.recvByType, &m.mapMu),
		DropByReason: snapshotCounters(m.dropByReason, &m.mapMu),
		Handshake: HandshakeMetrics{
			ConnectSent:        m.connectSent.Load(),
			ConnectAdmitted:    m.connectAdmitted.Load(),
			ConnectRejected:    m.connectRejected.Load(),
			TransportFailures:  m.transportFailures.Load(),
			KeyValidationFails: m.keyValidationFails.Load(),
			Acknowledged:       m.acknowledged.Load(),
			TimedOut:           m.timedOut.Load(),
		},
		CurrentConns:   m.currentConns.Load(),
		CurrentStreams: m.currentStreams.Load(),
		RoutingTable:   m.routingTable.Load(),
		ClientTable:    m.clientTable.Load(),
		PendingPeers:   m.pendingPeers.Load(),
	}
}

func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	snap := m.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
