// Package service implements component C2 of the routing core: the
// inbound-request half of the routing protocol. Handlers mutate a
// message envelope in place to form the reply, applying the admission
// policy before any new peer's state can affect the routing or client
// tables.
package service

import (
	"context"
	"encoding/json"
	"time"

	"kadmesh/internal/debuglog"
	"kadmesh/internal/kademlia"
	"kadmesh/internal/proto"
)

// Service holds an exclusive lock over nothing of its own — the
// directory it reads/writes already serializes its own mutations
// (kademlia.NodeDirectory); Service's job is to apply the admission
// decision and drive the transport, never to hold a directory lock
// across a network call.
type Service struct {
	dir     *kademlia.NodeDirectory
	network kademlia.Network
	rpc     *proto.RpcFactory
	now     func() time.Time
}

func New(dir *kademlia.NodeDirectory, network kademlia.Network, rpc *proto.RpcFactory) *Service {
	return &Service{dir: dir, network: network, rpc: rpc, now: time.Now}
}

func (s *Service) destinationMismatch(msg *proto.Message) bool {
	return msg.DestinationID != s.dir.LocalId()
}

func (s *Service) finalizeReply(msg *proto.Message, payload []byte) {
	msg.SourceID, msg.DestinationID = msg.DestinationID, msg.SourceID
	msg.Data = [][]byte{payload}
	msg.RouteHistory = nil
	msg.Request = false
	msg.Direct = true
	msg.Replication = 1
	msg.HopsToLive = s.dir.Options().HopsToLive
}

// Ping handles an inbound PingRequest, replying with a PingResponse
// that echoes the original request. Pure with respect to NodeDirectory.
func (s *Service) Ping(ctx context.Context, msg *proto.Message) {
	if s.destinationMismatch(msg) || len(msg.Data) == 0 {
		msg.Clear()
		return
	}
	var req proto.PingRequest
	if err := json.Unmarshal(msg.Data[0], &req); err != nil {
		debuglog.Debugf("service: ping parse error: %v", err)
		msg.Clear()
		return
	}
	original := msg.Data[0]
	sig := msg.Signature
	resp := proto.PingResponse{
		Type: "ping_response",
		Pong: true,
	}
	resp.OriginalRequest = original
	resp.OriginalSignature = sig
	resp.Timestamp = s.now().UnixNano()
	s.finalizeReply(msg, mustMarshal(resp))
}

// Connect handles an inbound ConnectRequest: it decides admission (via
// ClientTable or RoutingTable depending on the client_node flag),
// reserves a transport association on success, and replies with the
// outcome. Transport errors during endpoint acquisition suppress the
// reply entirely so the requester times out naturally rather than
// paying for a negative answer that itself requires transport.
func (s *Service) Connect(ctx context.Context, msg *proto.Message) {
	if s.destinationMismatch(msg) || len(msg.Data) == 0 {
		msg.Clear()
		return
	}
	var req proto.ConnectRequest
	if err := json.Unmarshal(msg.Data[0], &req); err != nil {
		debuglog.Debugf("service: connect parse error: %v", err)
		msg.Clear()
		return
	}
	contact := req.Contact
	if contact.PublicEndpoint == "" && contact.PrivateEndpoint == "" {
		msg.Clear()
		return
	}
	candidate := contact.NodeInfo(msg.ClientNode)

	admissible := false
	if msg.ClientNode {
		nth, _ := s.dir.GetNthClosestNode(s.dir.LocalId(), s.dir.Options().ClosestNodesSize)
		admissible = s.dir.CheckClient(candidate, nth.NodeID)
	} else {
		admissible = s.dir.CheckNode(candidate)
	}
	if !admissible {
		s.replyConnect(msg, false, proto.ContactBlock{}, msg.Data[0], msg.Signature)
		return
	}

	localPair, natType, err := s.network.GetAvailableEndpoint(ctx, contact.ConnectionID, candidate.EndpointPair())
	if err != nil {
		debuglog.Debugf("service: get available endpoint failed: %v", err)
		msg.Clear()
		return
	}

	addErr := s.network.Add(ctx, s.dir.LocalId(), s.dir.LocalConnectionId(), candidate.NodeID, candidate.ConnectionID, candidate.EndpointPair(), false, s.dir.ClientMode())
	if addErr != nil {
		debuglog.Debugf("service: transport add failed: %v", addErr)
		s.replyConnect(msg, false, proto.ContactBlock{}, msg.Data[0], msg.Signature)
		return
	}

	localContact := proto.ContactBlock{
		NodeID:          s.dir.LocalId(),
		ConnectionID:    s.dir.LocalConnectionId(),
		PublicEndpoint:  localPair.Public,
		PrivateEndpoint: localPair.Private,
		NatType:         natType,
	}
	s.replyConnect(msg, true, localContact, msg.Data[0], msg.Signature)
}

func (s *Service) replyConnect(msg *proto.Message, answer bool, contact proto.ContactBlock, originalRequest, originalSignature []byte) {
	resp := proto.ConnectResponse{
		Type:    "connect_response",
		Answer:  answer,
		Contact: contact,
	}
	resp.OriginalRequest = originalRequest
	resp.OriginalSignature = originalSignature
	resp.Timestamp = s.now().UnixNano()
	s.finalizeReply(msg, mustMarshal(resp))
}

// FindNodes handles an inbound FindNodesRequest, replying with the
// local id followed by the closest known peers to the requested
// target. Pure with respect to NodeDirectory.
func (s *Service) FindNodes(ctx context.Context, msg *proto.Message) {
	if s.destinationMismatch(msg) || len(msg.Data) == 0 {
		msg.Clear()
		return
	}
	var req proto.FindNodesRequest
	if err := json.Unmarshal(msg.Data[0], &req); err != nil {
		debuglog.Debugf("service: find_nodes parse error: %v", err)
		msg.Clear()
		return
	}
	if req.NumNodesRequested == 0 || req.TargetNode.Empty() {
		msg.Clear()
		return
	}
	closest := s.dir.GetClosestNodes(req.TargetNode, req.NumNodesRequested-1)
	nodes := make([]kademlia.NodeID, 0, len(closest)+1)
	nodes = append(nodes, s.dir.LocalId())
	nodes = append(nodes, closest...)

	resp := proto.FindNodesResponse{
		Type:  "find_nodes_response",
		Nodes: nodes,
	}
	resp.OriginalRequest = msg.Data[0]
	resp.OriginalSignature = msg.Signature
	resp.Timestamp = s.now().UnixNano()
	s.finalizeReply(msg, mustMarshal(resp))
}

// ConnectSuccess handles the standalone ConnectSuccess notification,
// the third message of the four-message handshake. Its sender is
// always the original requester (the responder side replies with
// ConnectSuccessAcknowledgement directly, never with ConnectSuccess of
// its own), so body.Requestor is expected true; this node registers
// the sender as pending on its own side and answers with a
// ConnectSuccessAcknowledgement, the handshake's fourth message. Full
// admission waits for ResponseHandler to close the loop once that
// acknowledgement is itself acknowledged. The inbound envelope is
// always cleared since any reply does not reuse it.
func (s *Service) ConnectSuccess(ctx context.Context, msg *proto.Message) {
	if len(msg.Data) == 0 {
		msg.Clear()
		return
	}
	var body proto.ConnectSuccessMessage
	if err := json.Unmarshal(msg.Data[0], &body); err != nil {
		debuglog.Debugf("service: connect_success parse error: %v", err)
		msg.Clear()
		return
	}
	if body.NodeID.Empty() || body.ConnectionID.Empty() {
		msg.Clear()
		return
	}

	if body.Requestor {
		info := kademlia.NodeInfo{NodeID: body.NodeID, ConnectionID: body.ConnectionID, IsClient: msg.ClientNode}
		s.dir.AddPendingNode(info, false)
	}

	closeIDs := s.dir.GetClosestNodes(s.dir.LocalId(), s.dir.Options().ClosestNodesSize)
	ack := s.rpc.ConnectSuccessAcknowledgement(body.NodeID, closeIDs)
	frame, err := encodeMessage(ack)
	if err != nil {
		debuglog.Debugf("service: encode ack failed: %v", err)
		msg.Clear()
		return
	}
	if err := s.network.SendToDirect(ctx, frame, body.NodeID, body.ConnectionID); err != nil {
		debuglog.Debugf("service: send ack failed: %v", err)
	}
	msg.Clear()
}

// PublicKey handles an inbound PublicKeyRequest by echoing back this
// node's own raw public key. Since node ids are self-certifying
// (id = hash(pubkey)), the requester verifies the answer itself; this
// handler carries no trust decision of its own.
func (s *Service) PublicKey(ctx context.Context, msg *proto.Message) {
	if s.destinationMismatch(msg) || len(msg.Data) == 0 {
		msg.Clear()
		return
	}
	resp := proto.PublicKeyResponse{
		Type:      "public_key_response",
		PublicKey: s.dir.LocalKeys().Public,
	}
	resp.OriginalRequest = msg.Data[0]
	resp.OriginalSignature = msg.Signature
	resp.Timestamp = s.now().UnixNano()
	s.finalizeReply(msg, mustMarshal(resp))
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func encodeMessage(msg proto.Message) ([]byte, error) {
	return json.Marshal(msg)
}
