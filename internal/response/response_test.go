package response

import (
	"context"
	"encoding/json"
	"testing"

	"kadmesh/internal/kademlia"
	"kadmesh/internal/proto"
	"kadmesh/internal/timer"
)

func testID(b byte) kademlia.NodeID {
	var id kademlia.NodeID
	id[len(id)-1] = b
	return id
}

type sentFrame struct {
	kind string // "direct" or "closest"
	peer kademlia.NodeID
	conn kademlia.NodeID
}

type fakeNetwork struct {
	addErr    error
	sendErr   error
	removed   []kademlia.NodeID
	sent      []sentFrame
	sentBytes [][]byte
}

func (f *fakeNetwork) GetAvailableEndpoint(ctx context.Context, peerConnID kademlia.NodeID, peerEndpoints kademlia.EndpointPair) (kademlia.EndpointPair, kademlia.NatType, error) {
	return kademlia.EndpointPair{Public: "127.0.0.1:9000"}, kademlia.NatFullCone, nil
}

func (f *fakeNetwork) Add(ctx context.Context, localID, localConnID, peerID, peerConnID kademlia.NodeID, peerEndpoints kademlia.EndpointPair, requestor, clientMode bool) error {
	return f.addErr
}

func (f *fakeNetwork) Remove(peerConnID kademlia.NodeID) {
	f.removed = append(f.removed, peerConnID)
}

func (f *fakeNetwork) SendToDirect(ctx context.Context, frame []byte, peerID, peerConnID kademlia.NodeID) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentFrame{kind: "direct", peer: peerID, conn: peerConnID})
	f.sentBytes = append(f.sentBytes, frame)
	return nil
}

func (f *fakeNetwork) SendToClosestNode(ctx context.Context, frame []byte, destinationID kademlia.NodeID) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentFrame{kind: "closest", peer: destinationID})
	f.sentBytes = append(f.sentBytes, frame)
	return nil
}

type fakeValidator struct{ ok bool }

func (v *fakeValidator) RequestPublicKey(ctx context.Context, id kademlia.NodeID, continuation func(pubKey []byte, ok bool)) {
	if v.ok {
		continuation([]byte("fake-key"), true)
	} else {
		continuation(nil, false)
	}
}

func newTestHandler(net *fakeNetwork, valid bool) (*ResponseHandler, *kademlia.NodeDirectory) {
	local := testID(0)
	dir := kademlia.NewNodeDirectory(local, testID(255), kademlia.KeyPair{}, false, kademlia.Options{
		ClosestNodesSize:    3,
		MaxRoutingTableSize: 5,
	})
	rpc := proto.NewRpcFactory(local, 0, 0)
	t := timer.New(0)
	contact := func() proto.ContactBlock {
		return proto.ContactBlock{NodeID: local, ConnectionID: dir.LocalConnectionId(), PublicEndpoint: "10.0.0.1:9000"}
	}
	return New(dir, net, rpc, &fakeValidator{ok: valid}, t, contact), dir
}

func wrapResponse(t *testing.T, sourceID, destID kademlia.NodeID, body any) *proto.Message {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return &proto.Message{SourceID: sourceID, DestinationID: destID, Data: [][]byte{b}}
}

func TestHandleFindNodesResponseDensifiesUnknownIDs(t *testing.T) {
	net := &fakeNetwork{}
	r, dir := newTestHandler(net, true)
	resp := proto.FindNodesResponse{Type: "find_nodes_response", Nodes: []kademlia.NodeID{testID(7), testID(9)}}
	msg := wrapResponse(t, testID(1), dir.LocalId(), resp)
	r.HandleResponse(context.Background(), msg)

	if len(net.sent) != 2 {
		t.Fatalf("expected a ConnectRequest sent per unknown id, got %d", len(net.sent))
	}
	if !dir.Known(testID(7)) || !dir.Known(testID(9)) {
		t.Fatalf("expected discovered ids to be registered pending")
	}
}

func TestCheckAndSendConnectRequestSkipsLocalAndKnown(t *testing.T) {
	net := &fakeNetwork{}
	r, dir := newTestHandler(net, true)
	r.CheckAndSendConnectRequest(context.Background(), dir.LocalId())
	if len(net.sent) != 0 {
		t.Fatalf("expected local id to be skipped")
	}
	dir.AddPendingNode(kademlia.NodeInfo{NodeID: testID(3)}, true)
	r.CheckAndSendConnectRequest(context.Background(), testID(3))
	if len(net.sent) != 0 {
		t.Fatalf("expected already-known id to be skipped")
	}
}

func TestHandleConnectResponseAnswerFalseDropsPending(t *testing.T) {
	net := &fakeNetwork{}
	r, dir := newTestHandler(net, true)
	dir.AddPendingNode(kademlia.NodeInfo{NodeID: testID(1)}, true)

	resp := proto.ConnectResponse{Type: "connect_response", Answer: false}
	msg := wrapResponse(t, testID(1), dir.LocalId(), resp)
	r.HandleResponse(context.Background(), msg)

	if _, _, ok := dir.PendingEntry(testID(1)); ok {
		t.Fatalf("expected rejected candidate to be dropped from pending")
	}
}

func TestHandleConnectResponseFullHandshakeSendsConnectSuccess(t *testing.T) {
	net := &fakeNetwork{}
	r, dir := newTestHandler(net, true)
	dir.AddPendingNode(kademlia.NodeInfo{NodeID: testID(1)}, true)

	resp := proto.ConnectResponse{
		Type:   "connect_response",
		Answer: true,
		Contact: proto.ContactBlock{
			NodeID:         testID(1),
			ConnectionID:   testID(2),
			PublicEndpoint: "1.2.3.4:1000",
		},
	}
	msg := wrapResponse(t, testID(1), dir.LocalId(), resp)
	r.HandleResponse(context.Background(), msg)

	if len(net.sent) != 1 || net.sent[0].kind != "direct" || net.sent[0].peer != testID(1) {
		t.Fatalf("expected a ConnectSuccess sent directly to the peer, got %+v", net.sent)
	}
	_, state, ok := dir.PendingEntry(testID(1))
	if !ok || state != kademlia.StateConnSuccessSent {
		t.Fatalf("expected peer to reach conn_success_sent, got state=%v ok=%v", state, ok)
	}
}

func TestHandleConnectResponseKeyValidationFailureTearsDown(t *testing.T) {
	net := &fakeNetwork{}
	r, dir := newTestHandler(net, false)
	dir.AddPendingNode(kademlia.NodeInfo{NodeID: testID(1)}, true)

	resp := proto.ConnectResponse{
		Type:   "connect_response",
		Answer: true,
		Contact: proto.ContactBlock{
			NodeID:         testID(1),
			ConnectionID:   testID(2),
			PublicEndpoint: "1.2.3.4:1000",
		},
	}
	msg := wrapResponse(t, testID(1), dir.LocalId(), resp)
	r.HandleResponse(context.Background(), msg)

	if len(net.removed) != 1 || net.removed[0] != testID(2) {
		t.Fatalf("expected transport association to be torn down, got %+v", net.removed)
	}
	if _, _, ok := dir.PendingEntry(testID(1)); ok {
		t.Fatalf("expected candidate dropped after key validation failure")
	}
}

func TestHandleConnectSuccessAckAsRequesterPromotesAndRepliesInKind(t *testing.T) {
	net := &fakeNetwork{}
	r, dir := newTestHandler(net, true)
	dir.AddPendingNode(kademlia.NodeInfo{NodeID: testID(1), ConnectionID: testID(2), PublicEndpoint: "1.2.3.4:1"}, true)

	ack := proto.ConnectSuccessAcknowledgement{Type: "connect_success_ack", NodeID: testID(1), CloseIDs: []kademlia.NodeID{testID(9)}}
	msg := wrapResponse(t, testID(1), dir.LocalId(), ack)
	r.HandleResponse(context.Background(), msg)

	if !dir.InRoutingTable(testID(1)) {
		t.Fatalf("expected peer promoted into routing table")
	}
	foundSymmetryAck := false
	foundDensify := false
	for _, s := range net.sent {
		if s.kind == "direct" && s.peer == testID(1) {
			foundSymmetryAck = true
		}
		if s.kind == "closest" && s.peer == testID(9) {
			foundDensify = true
		}
	}
	if !foundSymmetryAck {
		t.Fatalf("expected a symmetry-confirming ack sent back to the peer")
	}
	if !foundDensify {
		t.Fatalf("expected close-id hint list to drive further densification")
	}
}

func TestHandleConnectSuccessAckAsResponderPromotesWithoutFurtherReply(t *testing.T) {
	net := &fakeNetwork{}
	r, dir := newTestHandler(net, true)
	dir.AddPendingNode(kademlia.NodeInfo{NodeID: testID(1), ConnectionID: testID(2), PublicEndpoint: "1.2.3.4:1"}, false)

	ack := proto.ConnectSuccessAcknowledgement{Type: "connect_success_ack", NodeID: testID(1)}
	msg := wrapResponse(t, testID(1), dir.LocalId(), ack)
	r.HandleResponse(context.Background(), msg)

	if !dir.InRoutingTable(testID(1)) {
		t.Fatalf("expected peer promoted into routing table")
	}
	if len(net.sent) != 0 {
		t.Fatalf("expected no further reply from the responder side, got %+v", net.sent)
	}
}

func TestHandleConnectSuccessAckIsIdempotentForUnknownPeer(t *testing.T) {
	net := &fakeNetwork{}
	r, dir := newTestHandler(net, true)
	ack := proto.ConnectSuccessAcknowledgement{Type: "connect_success_ack", NodeID: testID(1)}
	msg := wrapResponse(t, testID(1), dir.LocalId(), ack)
	r.HandleResponse(context.Background(), msg)
	if dir.InRoutingTable(testID(1)) {
		t.Fatalf("expected no promotion for an ack with no matching pending entry")
	}
}

func TestHandlePublicKeyResponseResolvesWaiter(t *testing.T) {
	net := &fakeNetwork{}
	r, dir := newTestHandler(net, true)

	original := []byte(`{"type":"public_key_request"}`)
	got := make(chan []byte, 1)
	r.timer.Register(messageID(original), func(payload []byte, err error) {
		got <- payload
	})

	resp := proto.PublicKeyResponse{Type: "public_key_response", PublicKey: []byte("peer-pub")}
	resp.OriginalRequest = original
	msg := wrapResponse(t, testID(1), dir.LocalId(), resp)
	r.HandleResponse(context.Background(), msg)

	select {
	case payload := <-got:
		var decoded proto.PublicKeyResponse
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("unmarshal resolved payload: %v", err)
		}
		if string(decoded.PublicKey) != "peer-pub" {
			t.Fatalf("expected peer-pub, got %q", decoded.PublicKey)
		}
	default:
		t.Fatal("expected waiter to be resolved synchronously")
	}
}

func TestHandleCloseNodeUpdateDensifiesForLocalClient(t *testing.T) {
	net := &fakeNetwork{}
	r, dir := newTestHandler(net, true)
	update := proto.CloseNodeUpdate{Type: "close_node_update", ClientID: dir.LocalId(), CloseIDs: []kademlia.NodeID{testID(4)}}
	msg := wrapResponse(t, testID(1), dir.LocalId(), update)
	r.HandleResponse(context.Background(), msg)
	if len(net.sent) != 1 || net.sent[0].peer != testID(4) {
		t.Fatalf("expected close-group shift to trigger densification, got %+v", net.sent)
	}
}
