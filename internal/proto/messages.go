package proto

import "kadmesh/internal/kademlia"

// Message is the mutable unit of I/O between two nodes: handlers mutate
// an inbound envelope in place to produce the outbound reply rather
// than returning a fresh envelope.
type Message struct {
	SourceID      kademlia.NodeID `json:"source_id"`
	DestinationID kademlia.NodeID `json:"destination_id"`
	Data          [][]byte        `json:"data,omitempty"`
	Signature     []byte          `json:"signature,omitempty"`
	Request       bool            `json:"request"`
	Direct        bool            `json:"direct"`
	ClientNode    bool            `json:"client_node"`
	Replication   int             `json:"replication"`
	HopsToLive    int             `json:"hops_to_live"`
	RouteHistory  []kademlia.NodeID `json:"route_history,omitempty"`
}

// Clear empties the envelope, the convention this module uses to
// signal "do not reply" to the dispatcher.
func (m *Message) Clear() {
	*m = Message{}
}

// Empty reports whether the envelope carries no destination and no
// payload, i.e. has been Clear()-ed.
func (m *Message) Empty() bool {
	return m.DestinationID.Empty() && len(m.Data) == 0
}

// ContactBlock is the {node_id, connection_id, endpoints, nat_type}
// tuple embedded in Connect/ConnectResponse payloads, mirroring
// kademlia.NodeInfo but restricted to what travels on the wire (no
// public key — that only exists locally once validation resolves it).
type ContactBlock struct {
	NodeID          kademlia.NodeID    `json:"node_id"`
	ConnectionID    kademlia.NodeID    `json:"connection_id"`
	PublicEndpoint  kademlia.Endpoint  `json:"public_endpoint"`
	PrivateEndpoint kademlia.Endpoint  `json:"private_endpoint"`
	NatType         kademlia.NatType   `json:"nat_type"`
}

func ContactBlockFrom(info kademlia.NodeInfo) ContactBlock {
	return ContactBlock{
		NodeID:          info.NodeID,
		ConnectionID:    info.ConnectionID,
		PublicEndpoint:  info.PublicEndpoint,
		PrivateEndpoint: info.PrivateEndpoint,
		NatType:         info.NatType,
	}
}

func (c ContactBlock) NodeInfo(isClient bool) kademlia.NodeInfo {
	return kademlia.NodeInfo{
		NodeID:          c.NodeID,
		ConnectionID:    c.ConnectionID,
		PublicEndpoint:  c.PublicEndpoint,
		PrivateEndpoint: c.PrivateEndpoint,
		NatType:         c.NatType,
		IsClient:        isClient,
	}
}

// echo is embedded in every response sub-message: an echo of the
// serialized request, the requester's signature over it, and a
// timestamp, letting the requester correlate the response with its
// outstanding-request map and check freshness.
type echo struct {
	OriginalRequest   []byte `json:"original_request,omitempty"`
	OriginalSignature []byte `json:"original_signature,omitempty"`
	Timestamp         int64  `json:"timestamp"`
}

type PingRequest struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type PingResponse struct {
	Type string `json:"type"`
	Pong bool   `json:"pong"`
	echo
}

type ConnectRequest struct {
	Type    string       `json:"type"`
	Contact ContactBlock `json:"contact"`
}

type ConnectResponse struct {
	Type    string       `json:"type"`
	Answer  bool         `json:"answer"`
	Contact ContactBlock `json:"contact,omitempty"`
	echo
}

type FindNodesRequest struct {
	Type             string          `json:"type"`
	TargetNode       kademlia.NodeID `json:"target_node"`
	NumNodesRequested int            `json:"num_nodes_requested"`
}

type FindNodesResponse struct {
	Type  string            `json:"type"`
	Nodes []kademlia.NodeID `json:"nodes"`
	echo
}

// ConnectSuccessMessage is sent standalone (direct, not framed as a
// request/response pair) once a transport association exists.
type ConnectSuccessMessage struct {
	Type         string          `json:"type"`
	NodeID       kademlia.NodeID `json:"node_id"`
	ConnectionID kademlia.NodeID `json:"connection_id"`
	Requestor    bool            `json:"requestor"`
}

// ConnectSuccessAcknowledgement completes the four-message handshake.
// CloseIDs is the close-group hint list used to seed further
// densification once a peer is promoted.
type ConnectSuccessAcknowledgement struct {
	Type     string            `json:"type"`
	NodeID   kademlia.NodeID   `json:"node_id"`
	CloseIDs []kademlia.NodeID `json:"close_ids,omitempty"`
}

// CloseNodeUpdate notifies a served client that its close-group
// membership has shifted.
type CloseNodeUpdate struct {
	Type     string            `json:"type"`
	ClientID kademlia.NodeID   `json:"client_id"`
	CloseIDs []kademlia.NodeID `json:"close_ids"`
}

// PublicKeyRequest asks a peer to hand back its own raw public key.
// Self-certifying node ids (id = hash(pubkey)) let the requester verify
// the answer itself, so this needs no third-party attestation.
type PublicKeyRequest struct {
	Type   string          `json:"type"`
	NodeID kademlia.NodeID `json:"node_id"`
}

type PublicKeyResponse struct {
	Type      string `json:"type"`
	PublicKey []byte `json:"public_key"`
	echo
}
