package service

import (
	"context"
	"encoding/json"
	"testing"

	"kadmesh/internal/kademlia"
	"kadmesh/internal/proto"
)

func testID(b byte) kademlia.NodeID {
	var id kademlia.NodeID
	id[len(id)-1] = b
	return id
}

type fakeNetwork struct {
	endpointErr error
	addErr      error
	sent        []sentDirect
}

type sentDirect struct {
	frame []byte
	peer  kademlia.NodeID
	conn  kademlia.NodeID
}

func (f *fakeNetwork) GetAvailableEndpoint(ctx context.Context, peerConnID kademlia.NodeID, peerEndpoints kademlia.EndpointPair) (kademlia.EndpointPair, kademlia.NatType, error) {
	if f.endpointErr != nil {
		return kademlia.EndpointPair{}, kademlia.NatUnknown, f.endpointErr
	}
	return kademlia.EndpointPair{Public: "127.0.0.1:9000"}, kademlia.NatFullCone, nil
}

func (f *fakeNetwork) Add(ctx context.Context, localID, localConnID, peerID, peerConnID kademlia.NodeID, peerEndpoints kademlia.EndpointPair, requestor, clientMode bool) error {
	return f.addErr
}

func (f *fakeNetwork) Remove(peerConnID kademlia.NodeID) {}

func (f *fakeNetwork) SendToDirect(ctx context.Context, frame []byte, peerID, peerConnID kademlia.NodeID) error {
	f.sent = append(f.sent, sentDirect{frame: frame, peer: peerID, conn: peerConnID})
	return nil
}

func (f *fakeNetwork) SendToClosestNode(ctx context.Context, frame []byte, destinationID kademlia.NodeID) error {
	return nil
}

func newTestService() (*Service, *kademlia.NodeDirectory, *fakeNetwork) {
	local := testID(0)
	dir := kademlia.NewNodeDirectory(local, testID(255), kademlia.KeyPair{}, false, kademlia.Options{
		ClosestNodesSize:    3,
		MaxRoutingTableSize: 3,
	})
	net := &fakeNetwork{}
	rpc := proto.NewRpcFactory(local, 0, 0)
	return New(dir, net, rpc), dir, net
}

func TestServicePingReplies(t *testing.T) {
	svc, dir, _ := newTestService()
	req := proto.PingRequest{Type: "ping_request", Timestamp: 42}
	msg := &proto.Message{
		SourceID:      testID(1),
		DestinationID: dir.LocalId(),
		Request:       true,
		Data:          [][]byte{mustMarshalT(t, req)},
	}
	svc.Ping(context.Background(), msg)
	if msg.Request {
		t.Fatalf("expected reply to clear request flag")
	}
	if msg.SourceID != dir.LocalId() || msg.DestinationID != testID(1) {
		t.Fatalf("expected source/destination swap, got %+v/%+v", msg.SourceID, msg.DestinationID)
	}
	var resp proto.PingResponse
	unmarshalT(t, msg.Data[0], &resp)
	if !resp.Pong {
		t.Fatalf("expected pong=true")
	}
}

func TestServicePingDropsOnDestinationMismatch(t *testing.T) {
	svc, _, _ := newTestService()
	msg := &proto.Message{
		SourceID:      testID(1),
		DestinationID: testID(99),
		Data:          [][]byte{mustMarshalT(t, proto.PingRequest{})},
	}
	svc.Ping(context.Background(), msg)
	if !msg.Empty() {
		t.Fatalf("expected mismatched destination to be dropped")
	}
}

func TestServiceConnectAdmitsAndReplies(t *testing.T) {
	svc, dir, _ := newTestService()
	req := proto.ConnectRequest{
		Type: "connect_request",
		Contact: proto.ContactBlock{
			NodeID:         testID(1),
			ConnectionID:   testID(2),
			PublicEndpoint: "1.2.3.4:1000",
		},
	}
	msg := &proto.Message{
		SourceID:      testID(1),
		DestinationID: dir.LocalId(),
		Request:       true,
		Data:          [][]byte{mustMarshalT(t, req)},
	}
	svc.Connect(context.Background(), msg)
	var resp proto.ConnectResponse
	unmarshalT(t, msg.Data[0], &resp)
	if !resp.Answer {
		t.Fatalf("expected admission to succeed")
	}
	if resp.Contact.NodeID != dir.LocalId() {
		t.Fatalf("expected local contact block in response")
	}
}

func TestServiceConnectDropsOnUnspecifiedEndpoints(t *testing.T) {
	svc, dir, _ := newTestService()
	req := proto.ConnectRequest{Type: "connect_request", Contact: proto.ContactBlock{NodeID: testID(1)}}
	msg := &proto.Message{
		SourceID:      testID(1),
		DestinationID: dir.LocalId(),
		Data:          [][]byte{mustMarshalT(t, req)},
	}
	svc.Connect(context.Background(), msg)
	if !msg.Empty() {
		t.Fatalf("expected drop when both endpoints unspecified")
	}
}

func TestServiceConnectTransportErrorSuppressesReply(t *testing.T) {
	local := testID(0)
	dir := kademlia.NewNodeDirectory(local, testID(255), kademlia.KeyPair{}, false, kademlia.Options{})
	net := &fakeNetwork{endpointErr: errBoom}
	rpc := proto.NewRpcFactory(local, 0, 0)
	svc := New(dir, net, rpc)

	req := proto.ConnectRequest{Type: "connect_request", Contact: proto.ContactBlock{NodeID: testID(1), PublicEndpoint: "1.2.3.4:1"}}
	msg := &proto.Message{SourceID: testID(1), DestinationID: local, Data: [][]byte{mustMarshalT(t, req)}}
	svc.Connect(context.Background(), msg)
	if !msg.Empty() {
		t.Fatalf("expected endpoint-acquisition failure to suppress the reply")
	}
}

func TestServiceFindNodesOrdering(t *testing.T) {
	svc, dir, _ := newTestService()
	for _, b := range []byte{1, 3, 7, 15, 31} {
		var full kademlia.NodeID
		full[len(full)-1] = b
		dir.AddPendingNode(kademlia.NodeInfo{NodeID: full}, true)
		dir.ConfirmPending(full)
	}
	target := testID(1) // the all-zero id is empty and would be rejected
	req := proto.FindNodesRequest{Type: "find_nodes_request", TargetNode: target, NumNodesRequested: 3}
	msg := &proto.Message{SourceID: testID(200), DestinationID: dir.LocalId(), Data: [][]byte{mustMarshalT(t, req)}}
	svc.FindNodes(context.Background(), msg)
	var resp proto.FindNodesResponse
	unmarshalT(t, msg.Data[0], &resp)
	if len(resp.Nodes) != 3 {
		t.Fatalf("expected 3 nodes (local + 2 closest), got %d", len(resp.Nodes))
	}
	if resp.Nodes[0] != dir.LocalId() {
		t.Fatalf("expected local id first")
	}
	if resp.Nodes[1] != testID(1) || resp.Nodes[2] != testID(3) {
		t.Fatalf("unexpected ordering: %+v", resp.Nodes)
	}
}

func TestServiceFindNodesRejectsZeroNum(t *testing.T) {
	svc, dir, _ := newTestService()
	req := proto.FindNodesRequest{Type: "find_nodes_request", TargetNode: testID(1), NumNodesRequested: 0}
	msg := &proto.Message{SourceID: testID(1), DestinationID: dir.LocalId(), Data: [][]byte{mustMarshalT(t, req)}}
	svc.FindNodes(context.Background(), msg)
	if !msg.Empty() {
		t.Fatalf("expected zero num_nodes_requested to be rejected")
	}
}

func TestServiceConnectSuccessRequestorAddsPendingAndAcks(t *testing.T) {
	svc, dir, net := newTestService()
	body := proto.ConnectSuccessMessage{Type: "connect_success", NodeID: testID(5), ConnectionID: testID(6), Requestor: true}
	msg := &proto.Message{SourceID: testID(5), DestinationID: dir.LocalId(), Data: [][]byte{mustMarshalT(t, body)}}
	svc.ConnectSuccess(context.Background(), msg)
	if !msg.Empty() {
		t.Fatalf("expected inbound envelope to be cleared")
	}
	_, _, ok := dir.PendingEntry(testID(5))
	if !ok {
		t.Fatalf("expected peer to be added to pending set")
	}
	if len(net.sent) != 1 {
		t.Fatalf("expected an acknowledgement sent back to the requester, got %d sends", len(net.sent))
	}
	if net.sent[0].peer != testID(5) {
		t.Fatalf("expected ack sent to the requesting peer")
	}
}

func TestServiceConnectSuccessResponderSendsAck(t *testing.T) {
	svc, dir, net := newTestService()
	body := proto.ConnectSuccessMessage{Type: "connect_success", NodeID: testID(5), ConnectionID: testID(6), Requestor: false}
	msg := &proto.Message{SourceID: testID(5), DestinationID: dir.LocalId(), Data: [][]byte{mustMarshalT(t, body)}}
	svc.ConnectSuccess(context.Background(), msg)
	if len(net.sent) != 1 {
		t.Fatalf("expected an out-of-band ack to be sent, got %d sends", len(net.sent))
	}
	if net.sent[0].peer != testID(5) {
		t.Fatalf("expected ack sent to the confirming peer")
	}
}

func TestServicePublicKeyEchoesLocalKey(t *testing.T) {
	local := testID(0)
	dir := kademlia.NewNodeDirectory(local, testID(255), kademlia.KeyPair{Public: []byte("local-pub")}, false, kademlia.Options{})
	net := &fakeNetwork{}
	rpc := proto.NewRpcFactory(local, 0, 0)
	svc := New(dir, net, rpc)

	req := proto.PublicKeyRequest{Type: "public_key_request", NodeID: local}
	msg := &proto.Message{
		SourceID:      testID(1),
		DestinationID: dir.LocalId(),
		Request:       true,
		Data:          [][]byte{mustMarshalT(t, req)},
	}
	svc.PublicKey(context.Background(), msg)
	var resp proto.PublicKeyResponse
	unmarshalT(t, msg.Data[0], &resp)
	if string(resp.PublicKey) != "local-pub" {
		t.Fatalf("expected local public key echoed, got %q", resp.PublicKey)
	}
}

var errBoom = &boomError{}

type boomError struct{}

func (e *boomError) Error() string { return "boom" }

func mustMarshalT(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return b
}

func unmarshalT(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
}
