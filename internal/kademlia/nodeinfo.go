package kademlia

// NatType categorizes a peer's NAT behavior as reported by the transport,
// used to pick a hole-punching strategy. The routing core only carries
// this value end-to-end; it does not implement traversal itself.
type NatType int

const (
	NatUnknown NatType = iota
	NatNone
	NatFullCone
	NatRestrictedCone
	NatPortRestrictedCone
	NatSymmetric
)

func (n NatType) String() string {
	switch n {
	case NatNone:
		return "none"
	case NatFullCone:
		return "full_cone"
	case NatRestrictedCone:
		return "restricted_cone"
	case NatPortRestrictedCone:
		return "port_restricted_cone"
	case NatSymmetric:
		return "symmetric"
	default:
		return "unknown"
	}
}

// Endpoint is a single transport-level address (host:port form, dialable
// by the Network implementation).
type Endpoint string

// EndpointPair carries both the publicly reachable and privately/locally
// reachable address of a node, mirroring how NAT'd peers advertise two
// candidate addresses during connection setup.
type EndpointPair struct {
	Public  Endpoint
	Private Endpoint
}

// Empty reports whether neither endpoint in the pair is populated.
func (p EndpointPair) Empty() bool {
	return p.Public == "" && p.Private == ""
}

// NodeInfo is the tuple carried in the routing and client tables and
// exchanged during the connection handshake.
type NodeInfo struct {
	NodeID          NodeID
	ConnectionID    NodeID
	PublicEndpoint  Endpoint
	PrivateEndpoint Endpoint
	PublicKey       []byte // populated only after asynchronous validation completes
	IsClient        bool
	NatType         NatType
}

// EndpointPair returns the info's advertised address pair.
func (n NodeInfo) EndpointPair() EndpointPair {
	return EndpointPair{Public: n.PublicEndpoint, Private: n.PrivateEndpoint}
}

// Valid reports whether the info carries a usable identity: a non-empty
// node id and at least one advertised endpoint.
func (n NodeInfo) Valid() bool {
	return !n.NodeID.Empty() && !n.EndpointPair().Empty()
}
