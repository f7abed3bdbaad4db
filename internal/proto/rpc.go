package proto

import (
	"encoding/json"
	"time"

	"kadmesh/internal/kademlia"
)

// RpcFactory is component C4: pure constructors for request and
// response message envelopes. It owns no state and has no error cases
// beyond the caller supplying an empty NodeId, which is a programming
// error and is asserted against with a panic rather than an error
// return — this component's constructors have no failure mode of
// their own.
type RpcFactory struct {
	localID     kademlia.NodeID
	hopsToLive  int
	replication int
}

func NewRpcFactory(localID kademlia.NodeID, hopsToLive, replication int) *RpcFactory {
	if hopsToLive <= 0 {
		hopsToLive = kademlia.DefaultHopsToLive
	}
	if replication <= 0 {
		replication = kademlia.DefaultReplication
	}
	return &RpcFactory{localID: localID, hopsToLive: hopsToLive, replication: replication}
}

func (f *RpcFactory) requireID(id kademlia.NodeID) {
	if id.Empty() {
		panic("proto: RpcFactory called with empty NodeId")
	}
}

func (f *RpcFactory) baseRequest(destination kademlia.NodeID, direct bool) Message {
	f.requireID(destination)
	return Message{
		SourceID:      f.localID,
		DestinationID: destination,
		Request:       true,
		Direct:        direct,
		Replication:   f.replication,
		HopsToLive:    f.hopsToLive,
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err) // programmer error: our own struct types must always marshal
	}
	return b
}

// PingRequest builds a Ping request envelope directed at destination.
func (f *RpcFactory) PingRequest(destination kademlia.NodeID, now time.Time) Message {
	env := f.baseRequest(destination, true)
	env.Data = [][]byte{mustMarshal(PingRequest{Type: "ping_request", Timestamp: now.UnixNano()})}
	return env
}

// PingResponse builds the reply to an inbound PingRequest.
func (f *RpcFactory) PingResponse(destination kademlia.NodeID, originalRequest, originalSignature []byte, now time.Time) Message {
	env := f.baseRequest(destination, true)
	env.Request = false
	resp := PingResponse{
		Type: "ping_response",
		Pong: true,
		echo: echo{OriginalRequest: originalRequest, OriginalSignature: originalSignature, Timestamp: now.UnixNano()},
	}
	env.Data = [][]byte{mustMarshal(resp)}
	return env
}

// ConnectRequest builds a Connect request carrying the local contact
// block, addressed to destination.
func (f *RpcFactory) ConnectRequest(destination kademlia.NodeID, localContact ContactBlock) Message {
	env := f.baseRequest(destination, true)
	env.Data = [][]byte{mustMarshal(ConnectRequest{Type: "connect_request", Contact: localContact})}
	return env
}

// ConnectResponse builds the reply to an inbound ConnectRequest.
// contact is empty when answer is false.
func (f *RpcFactory) ConnectResponse(destination kademlia.NodeID, answer bool, contact ContactBlock, originalRequest, originalSignature []byte, now time.Time) Message {
	env := f.baseRequest(destination, true)
	env.Request = false
	resp := ConnectResponse{
		Type:    "connect_response",
		Answer:  answer,
		Contact: contact,
		echo:    echo{OriginalRequest: originalRequest, OriginalSignature: originalSignature, Timestamp: now.UnixNano()},
	}
	env.Data = [][]byte{mustMarshal(resp)}
	return env
}

// FindNodesRequest builds a FindNodes request for the closest n nodes
// to target.
func (f *RpcFactory) FindNodesRequest(destination, target kademlia.NodeID, numNodesRequested int) Message {
	env := f.baseRequest(destination, true)
	env.Data = [][]byte{mustMarshal(FindNodesRequest{
		Type:              "find_nodes_request",
		TargetNode:        target,
		NumNodesRequested: numNodesRequested,
	})}
	return env
}

// FindNodesResponse builds the reply carrying the resolved node list.
func (f *RpcFactory) FindNodesResponse(destination kademlia.NodeID, nodes []kademlia.NodeID, originalRequest, originalSignature []byte, now time.Time) Message {
	env := f.baseRequest(destination, true)
	env.Request = false
	resp := FindNodesResponse{
		Type:  "find_nodes_response",
		Nodes: nodes,
		echo:  echo{OriginalRequest: originalRequest, OriginalSignature: originalSignature, Timestamp: now.UnixNano()},
	}
	env.Data = [][]byte{mustMarshal(resp)}
	return env
}

// ConnectSuccess builds the standalone ConnectSuccess message sent once
// a transport association exists, ahead of the acknowledgement
// exchange. It carries request=true so the dispatcher routes it to
// Service, which owns ConnectSuccess handling.
func (f *RpcFactory) ConnectSuccess(destination kademlia.NodeID, localConnID kademlia.NodeID, requestor bool) Message {
	env := f.baseRequest(destination, true)
	env.Data = [][]byte{mustMarshal(ConnectSuccessMessage{
		Type:         "connect_success",
		NodeID:       f.localID,
		ConnectionID: localConnID,
		Requestor:    requestor,
	})}
	return env
}

// ConnectSuccessAcknowledgement builds the handshake-closing
// acknowledgement, carrying the local close-group hint list for
// transitive densification on the receiving side.
func (f *RpcFactory) ConnectSuccessAcknowledgement(destination kademlia.NodeID, closeIDs []kademlia.NodeID) Message {
	env := f.baseRequest(destination, true)
	env.Request = false
	env.Data = [][]byte{mustMarshal(ConnectSuccessAcknowledgement{
		Type:     "connect_success_ack",
		NodeID:   f.localID,
		CloseIDs: closeIDs,
	})}
	return env
}

// PublicKeyRequest builds a request for destination's own raw public
// key, the wire step behind the routing protocol's configurable
// PublicKeyValidator collaborator.
func (f *RpcFactory) PublicKeyRequest(destination kademlia.NodeID) Message {
	env := f.baseRequest(destination, true)
	env.Data = [][]byte{mustMarshal(PublicKeyRequest{Type: "public_key_request", NodeID: destination})}
	return env
}

// PublicKeyResponse builds the reply to an inbound PublicKeyRequest,
// carrying the local node's own raw public key.
func (f *RpcFactory) PublicKeyResponse(destination kademlia.NodeID, pubKey []byte, originalRequest, originalSignature []byte, now time.Time) Message {
	env := f.baseRequest(destination, true)
	env.Request = false
	resp := PublicKeyResponse{
		Type:      "public_key_response",
		PublicKey: pubKey,
		echo:      echo{OriginalRequest: originalRequest, OriginalSignature: originalSignature, Timestamp: now.UnixNano()},
	}
	env.Data = [][]byte{mustMarshal(resp)}
	return env
}

// CloseNodeUpdate builds the close-group-shift notification sent to a
// served client.
func (f *RpcFactory) CloseNodeUpdate(destination, clientID kademlia.NodeID, closeIDs []kademlia.NodeID) Message {
	env := f.baseRequest(destination, true)
	env.Request = false
	env.Data = [][]byte{mustMarshal(CloseNodeUpdate{
		Type:     "close_node_update",
		ClientID: clientID,
		CloseIDs: closeIDs,
	})}
	return env
}
