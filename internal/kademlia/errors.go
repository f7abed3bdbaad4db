package kademlia

import "errors"

var (
	errBadIDLength = errors.New("kademlia: wrong id length")

	// ErrEmptyNodeID is returned when a NodeID is the zero value where a
	// real identity is required.
	ErrEmptyNodeID = errors.New("kademlia: empty node id")

	// ErrTableFull is returned by admission checks when a table cannot
	// accept a peer and no eviction candidate exists.
	ErrTableFull = errors.New("kademlia: table full")

	// ErrNotAdmissible is returned when a peer fails the routing table's
	// proximity-monotone admission rule.
	ErrNotAdmissible = errors.New("kademlia: peer not admissible")

	// ErrUnknownPeer is returned when an operation names a peer the
	// directory has no record of.
	ErrUnknownPeer = errors.New("kademlia: unknown peer")

	// ErrAlreadyConnected is returned when a pending-set transition is
	// attempted for a peer already past that stage.
	ErrAlreadyConnected = errors.New("kademlia: peer already connected")

	// ErrTransport is a generic wrapper for network-layer failures
	// surfaced through the routing core's external Network contract.
	ErrTransport = errors.New("kademlia: transport error")

	// ErrValidation is returned when a public-key validator rejects a
	// peer's claimed identity.
	ErrValidation = errors.New("kademlia: validation failed")

	// ErrTimeout is returned when an outstanding request's timer fires
	// before a matching response arrives.
	ErrTimeout = errors.New("kademlia: request timed out")
)
