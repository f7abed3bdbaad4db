// Package response implements component C3 of the routing core: the
// inbound-response half of the routing protocol. Where Service applies
// admission policy to incoming requests, ResponseHandler drives the
// asynchronous continuation of requests this node issued itself —
// densification from FindNodes results, the transport/key/handshake
// gate sequence that follows a Connect response, and the
// acknowledgement exchange that finally admits a peer.
package response

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"kadmesh/internal/crypto"
	"kadmesh/internal/debuglog"
	"kadmesh/internal/kademlia"
	"kadmesh/internal/proto"
	"kadmesh/internal/timer"
)

// LocalContact resolves the current outbound contact block for this
// node, refreshed by the overlay runner as endpoints change.
type LocalContact func() proto.ContactBlock

// ResponseHandler holds no lock of its own; every table mutation it
// performs goes through NodeDirectory, which serializes admission
// decisions itself. The asynchronous key validator's continuation is
// never invoked while any lock ResponseHandler might hold is held —
// it holds none.
type ResponseHandler struct {
	dir          *kademlia.NodeDirectory
	network      kademlia.Network
	rpc          *proto.RpcFactory
	validator    kademlia.PublicKeyValidator
	timer        *timer.Timer
	localContact LocalContact
	retries      int
}

func New(dir *kademlia.NodeDirectory, network kademlia.Network, rpc *proto.RpcFactory, validator kademlia.PublicKeyValidator, t *timer.Timer, localContact LocalContact) *ResponseHandler {
	retries := dir.Options().TransportRetries
	if retries <= 0 {
		retries = kademlia.DefaultTransportRetries
	}
	return &ResponseHandler{
		dir:          dir,
		network:      network,
		rpc:          rpc,
		validator:    validator,
		timer:        t,
		localContact: localContact,
		retries:      retries,
	}
}

// messageID derives the Timer correlation key from a request's
// serialized bytes. The envelope carries no explicit message-id field,
// so the echoed original_request is the only correlation primitive
// the wire format offers.
func messageID(originalRequest []byte) string {
	return hex.EncodeToString(crypto.SHA3_256(originalRequest))
}

type header struct {
	Type string `json:"type"`
}

// HandleResponse is the dispatcher's entry point for any inbound
// envelope with request=false. It sniffs the sub-message type and
// routes to the matching handler; unrecognized types are dropped.
func (r *ResponseHandler) HandleResponse(ctx context.Context, msg *proto.Message) {
	if len(msg.Data) == 0 {
		msg.Clear()
		return
	}
	var h header
	if err := json.Unmarshal(msg.Data[0], &h); err != nil {
		debuglog.Debugf("response: parse error: %v", err)
		msg.Clear()
		return
	}
	switch h.Type {
	case "ping_response":
		r.handlePingResponse(msg)
	case "public_key_response":
		r.handlePublicKeyResponse(msg)
	case "find_nodes_response":
		r.handleFindNodesResponse(ctx, msg)
	case "connect_response":
		r.handleConnectResponse(ctx, msg)
	case "connect_success_ack":
		r.handleConnectSuccessAck(ctx, msg)
	case "close_node_update":
		r.handleCloseNodeUpdate(ctx, msg)
	default:
		debuglog.Debugf("response: unrecognized type %q", h.Type)
	}
	msg.Clear()
}

func (r *ResponseHandler) handlePingResponse(msg *proto.Message) {
	var resp proto.PingResponse
	if err := json.Unmarshal(msg.Data[0], &resp); err != nil {
		return
	}
	r.timer.Resolve(messageID(resp.OriginalRequest), msg.Data[0])
}

func (r *ResponseHandler) handlePublicKeyResponse(msg *proto.Message) {
	var resp proto.PublicKeyResponse
	if err := json.Unmarshal(msg.Data[0], &resp); err != nil {
		return
	}
	r.timer.Resolve(messageID(resp.OriginalRequest), msg.Data[0])
}

// handleFindNodesResponse resolves any explicit GetGroup waiter and,
// regardless of whether one was registered, runs the bootstrap
// densification loop over the returned ids.
func (r *ResponseHandler) handleFindNodesResponse(ctx context.Context, msg *proto.Message) {
	var resp proto.FindNodesResponse
	if err := json.Unmarshal(msg.Data[0], &resp); err != nil {
		debuglog.Debugf("response: find_nodes_response parse error: %v", err)
		return
	}
	r.timer.Resolve(messageID(resp.OriginalRequest), msg.Data[0])
	for _, id := range resp.Nodes {
		r.CheckAndSendConnectRequest(ctx, id)
	}
}

// CheckAndSendConnectRequest issues a ConnectRequest to id unless it is
// the local id or already known (in either table or already pending).
// The candidate's endpoint is unknown at this point — a bare NodeId
// from a FindNodes result — so the request travels source-routed via
// SendToClosestNode rather than a direct address.
func (r *ResponseHandler) CheckAndSendConnectRequest(ctx context.Context, id kademlia.NodeID) {
	if id.Empty() || id == r.dir.LocalId() || r.dir.Known(id) {
		return
	}
	contact := r.localContact()
	env := r.rpc.ConnectRequest(id, contact)
	frame, err := json.Marshal(env)
	if err != nil {
		debuglog.Debugf("response: encode connect_request failed: %v", err)
		return
	}
	r.dir.AddPendingNode(kademlia.NodeInfo{NodeID: id}, true)
	if err := r.network.SendToClosestNode(ctx, frame, id); err != nil {
		debuglog.Debugf("response: send connect_request to %s failed: %v", id, err)
		r.dir.DropPending(id)
	}
}

// handleConnectResponse drives the candidate through the transport,
// key, and handshake gates described by the routing protocol. Only on
// crossing all three does it send the ConnectSuccess that opens the
// acknowledgement exchange.
func (r *ResponseHandler) handleConnectResponse(ctx context.Context, msg *proto.Message) {
	var resp proto.ConnectResponse
	if err := json.Unmarshal(msg.Data[0], &resp); err != nil {
		debuglog.Debugf("response: connect_response parse error: %v", err)
		r.dir.DropPending(msg.SourceID)
		return
	}
	r.timer.Resolve(messageID(resp.OriginalRequest), msg.Data[0])
	if !resp.Answer {
		r.dir.DropPending(msg.SourceID)
		return
	}
	peer := resp.Contact.NodeInfo(false)
	if peer.NodeID.Empty() || peer.ConnectionID.Empty() {
		r.dir.DropPending(msg.SourceID)
		return
	}
	r.dir.RefreshPendingInfo(peer.NodeID, peer)

	// Gate 1: transport. Give the candidate a bounded number of
	// attempts before giving up on it entirely.
	var addErr error
	for attempt := 0; attempt < r.retries; attempt++ {
		if addErr = r.network.Add(ctx, r.dir.LocalId(), r.dir.LocalConnectionId(), peer.NodeID, peer.ConnectionID, peer.EndpointPair(), true, r.dir.ClientMode()); addErr == nil {
			break
		}
	}
	if addErr != nil {
		debuglog.Debugf("response: transport add failed for %s after %d attempts: %v", peer.NodeID, r.retries, addErr)
		r.dir.DropPending(peer.NodeID)
		return
	}

	// Gate 2: key validation, asynchronous. The continuation never
	// runs while any lock this handler might hold is held, since it
	// holds none across the call.
	r.validator.RequestPublicKey(ctx, peer.NodeID, func(pubKey []byte, ok bool) {
		if !ok {
			debuglog.Debugf("response: key validation failed for %s", peer.NodeID)
			r.network.Remove(peer.ConnectionID)
			r.dir.DropPending(peer.NodeID)
			return
		}
		r.completeHandshake(ctx, peer)
	})
}

// completeHandshake is Gate 3: send ConnectSuccess{requestor=true} to
// the now-validated peer. The peer's own reply drives promotion via
// handleConnectSuccessAck.
func (r *ResponseHandler) completeHandshake(ctx context.Context, peer kademlia.NodeInfo) {
	r.dir.AdvancePending(peer.NodeID, kademlia.StateConnSuccessSent)
	env := r.rpc.ConnectSuccess(peer.NodeID, r.dir.LocalConnectionId(), true)
	frame, err := json.Marshal(env)
	if err != nil {
		debuglog.Debugf("response: encode connect_success failed: %v", err)
		return
	}
	if err := r.network.SendToDirect(ctx, frame, peer.NodeID, peer.ConnectionID); err != nil {
		debuglog.Debugf("response: send connect_success to %s failed: %v", peer.NodeID, err)
		r.network.Remove(peer.ConnectionID)
		r.dir.DropPending(peer.NodeID)
	}
}

// handleConnectSuccessAck closes the handshake. Which branch runs
// depends on which side originated the connection for this peer,
// recorded in the pending set when the ConnectRequest was first sent
// or the ConnectSuccess was first received.
func (r *ResponseHandler) handleConnectSuccessAck(ctx context.Context, msg *proto.Message) {
	var ack proto.ConnectSuccessAcknowledgement
	if err := json.Unmarshal(msg.Data[0], &ack); err != nil {
		debuglog.Debugf("response: connect_success_ack parse error: %v", err)
		return
	}
	peerID := msg.SourceID
	if peerID.Empty() {
		peerID = ack.NodeID
	}
	if _, _, ok := r.dir.PendingEntry(peerID); !ok {
		// Late or duplicate ack for a peer already promoted (or
		// dropped) by another path. Idempotent no-op.
		return
	}
	if r.dir.PendingIsRequestor(peerID) {
		r.handleSuccessAcknowledgementAsRequester(ctx, peerID, ack.CloseIDs)
	} else {
		r.handleSuccessAcknowledgementAsResponder(peerID)
	}
}

// handleSuccessAcknowledgementAsRequester promotes the peer, seeds
// further densification from its close-group hint list, and closes the
// loop with a symmetry-confirming acknowledgement so the peer (which
// was the responder) can promote its own side.
func (r *ResponseHandler) handleSuccessAcknowledgementAsRequester(ctx context.Context, peerID kademlia.NodeID, closeIDs []kademlia.NodeID) {
	info, ok := r.dir.ConfirmPending(peerID)
	if !ok {
		debuglog.Debugf("response: confirm pending failed for requester side of %s", peerID)
		return
	}
	for _, id := range closeIDs {
		r.CheckAndSendConnectRequest(ctx, id)
	}
	ownClose := r.dir.GetClosestNodes(r.dir.LocalId(), r.dir.Options().ClosestNodesSize)
	env := r.rpc.ConnectSuccessAcknowledgement(peerID, ownClose)
	frame, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := r.network.SendToDirect(ctx, frame, info.NodeID, info.ConnectionID); err != nil {
		debuglog.Debugf("response: send symmetry ack to %s failed: %v", peerID, err)
	}
}

// handleSuccessAcknowledgementAsResponder promotes the peer on the
// side that never issued the original ConnectRequest. The initial
// acknowledgement already went out from Service.ConnectSuccess, so no
// further reply is needed here — replying again would only re-trigger
// the requester's already-satisfied branch.
func (r *ResponseHandler) handleSuccessAcknowledgementAsResponder(peerID kademlia.NodeID) {
	if _, ok := r.dir.ConfirmPending(peerID); !ok {
		debuglog.Debugf("response: confirm pending failed for responder side of %s", peerID)
	}
}

// handleCloseNodeUpdate reacts to a close-group-shift notification from
// a server this node depends on as a client: it treats the fresh
// close-id list as new densification candidates so connectivity to the
// current close group is re-established.
func (r *ResponseHandler) handleCloseNodeUpdate(ctx context.Context, msg *proto.Message) {
	var update proto.CloseNodeUpdate
	if err := json.Unmarshal(msg.Data[0], &update); err != nil {
		debuglog.Debugf("response: close_node_update parse error: %v", err)
		return
	}
	if update.ClientID != r.dir.LocalId() {
		return
	}
	for _, id := range update.CloseIDs {
		r.CheckAndSendConnectRequest(ctx, id)
	}
}

// GetGroup issues an explicit FindNodes query against a known contact
// and blocks (via the Timer's synchronous waiter bridge) until either a
// response arrives or the request times out. Used by the overlay
// runner's periodic bucket refresh, distinct from the passive densification
// that ordinary find_nodes_response handling performs.
func (r *ResponseHandler) GetGroup(ctx context.Context, peer kademlia.NodeInfo, target kademlia.NodeID, count int) ([]kademlia.NodeID, error) {
	env := r.rpc.FindNodesRequest(peer.NodeID, target, count)
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	result := make(chan struct {
		nodes []kademlia.NodeID
		err   error
	}, 1)
	id := messageID(env.Data[0])
	r.timer.Register(id, func(payload []byte, err error) {
		if err != nil {
			result <- struct {
				nodes []kademlia.NodeID
				err   error
			}{nil, err}
			return
		}
		var resp proto.FindNodesResponse
		if uerr := json.Unmarshal(payload, &resp); uerr != nil {
			result <- struct {
				nodes []kademlia.NodeID
				err   error
			}{nil, uerr}
			return
		}
		result <- struct {
			nodes []kademlia.NodeID
			err   error
		}{resp.Nodes, nil}
	})
	if err := r.network.SendToDirect(ctx, frame, peer.NodeID, peer.ConnectionID); err != nil {
		r.timer.Cancel(id)
		return nil, err
	}
	select {
	case res := <-result:
		return res.nodes, res.err
	case <-ctx.Done():
		r.timer.Cancel(id)
		return nil, ctx.Err()
	}
}
