package kademlia

import "context"

// Message is the minimal envelope shape the Network contract needs to
// move bytes; the full mutable RPC envelope lives in package proto to
// keep the wire codec out of the routing core's data-model package.
// Network implementations accept an already-encoded frame.

// Network is the external transport collaborator described by the
// routing protocol: a reliable, connection-oriented UDP transport
// (concretely, QUIC in this module's internal/transport package).
// NodeDirectory, Service, and ResponseHandler depend only on this
// interface, never on the concrete transport.
type Network interface {
	// GetAvailableEndpoint asks the transport for a local endpoint pair
	// and NAT type suitable for reaching peerEndpoints, given the
	// peer's connection id.
	GetAvailableEndpoint(ctx context.Context, peerConnectionID NodeID, peerEndpoints EndpointPair) (EndpointPair, NatType, error)

	// Add establishes (or reuses) the transport association for a peer.
	// requestor is true when the local node initiated the connection;
	// clientMode is true when the local node is registering as a client
	// of the peer rather than a routed server peer.
	Add(ctx context.Context, localID, localConnectionID, peerID, peerConnectionID NodeID, peerEndpoints EndpointPair, requestor bool, clientMode bool) error

	// Remove tears down any transport association reserved for a peer
	// connection id. Safe to call when no association exists.
	Remove(peerConnectionID NodeID)

	// SendToDirect sends a pre-encoded message frame directly to a known
	// peer's connection.
	SendToDirect(ctx context.Context, frame []byte, peerID, peerConnectionID NodeID) error

	// SendToClosestNode source-routes a pre-encoded frame toward its
	// destination via the routing table, for peers not directly known.
	SendToClosestNode(ctx context.Context, frame []byte, destinationID NodeID) error
}

// PublicKeyValidator asynchronously resolves a peer's claimed public
// key. RequestPublicKey must not block the caller; it invokes
// continuation exactly once, either with a key or with ok=false when no
// key could be obtained or the validator declined it. Implementations
// are responsible for their own thread-safety.
type PublicKeyValidator interface {
	RequestPublicKey(ctx context.Context, nodeID NodeID, continuation func(pubKey []byte, ok bool))
}
