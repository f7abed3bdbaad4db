package kademlia

import "testing"

func TestRoutingTableAdmissionAndCapacity(t *testing.T) {
	local := idFromByte(0)
	table := NewRoutingTable(local, 2)

	a := NodeInfo{NodeID: idFromByte(1), PublicEndpoint: "a:1"}
	b := NodeInfo{NodeID: idFromByte(20), PublicEndpoint: "b:1"}
	c := NodeInfo{NodeID: idFromByte(30), PublicEndpoint: "c:1"} // farther than a, b

	if !table.Add(a) || !table.Add(b) {
		t.Fatalf("expected first two inserts to succeed")
	}
	if table.Size() != 2 {
		t.Fatalf("expected size 2, got %d", table.Size())
	}
	if table.CheckNode(c) {
		t.Fatalf("expected farther candidate to be rejected at capacity")
	}
	if table.Add(c) {
		t.Fatalf("expected farther candidate insert to be rejected")
	}

	closer := NodeInfo{NodeID: idFromByte(3), PublicEndpoint: "d:1"}
	if !table.CheckNode(closer) {
		t.Fatalf("expected closer candidate to be admissible at capacity")
	}
}

func TestRoutingTableRejectsLocalAndEmpty(t *testing.T) {
	local := idFromByte(0)
	table := NewRoutingTable(local, 10)
	if table.CheckNode(NodeInfo{NodeID: local}) {
		t.Fatalf("expected local id to be rejected")
	}
	if table.CheckNode(NodeInfo{}) {
		t.Fatalf("expected empty id to be rejected")
	}
}

func TestRoutingTableDuplicateAddIdempotent(t *testing.T) {
	local := idFromByte(0)
	table := NewRoutingTable(local, 10)
	a := NodeInfo{NodeID: idFromByte(5)}
	if !table.Add(a) {
		t.Fatalf("expected first add to succeed")
	}
	if !table.Add(a) {
		t.Fatalf("expected duplicate add to be a no-op success")
	}
	if table.Size() != 1 {
		t.Fatalf("expected size 1 after duplicate add, got %d", table.Size())
	}
}

func TestGetClosestNodesOrderingAndBounds(t *testing.T) {
	local := idFromByte(0)
	table := NewRoutingTable(local, 10)
	for _, b := range []byte{1, 3, 7, 15, 31} {
		table.Add(NodeInfo{NodeID: idFromByte(b)})
	}
	got := table.GetClosestNodes(idFromByte(0), 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	want := []byte{1, 3, 7}
	for i, w := range want {
		if got[i] != idFromByte(w) {
			t.Fatalf("result[%d] = %v, want %v", i, got[i], idFromByte(w))
		}
	}
	for _, id := range got {
		if id == local {
			t.Fatalf("local id must never appear in closest-nodes result")
		}
	}
}

func TestGetClosestNodesFewerThanRequested(t *testing.T) {
	local := idFromByte(0)
	table := NewRoutingTable(local, 10)
	table.Add(NodeInfo{NodeID: idFromByte(1)})
	got := table.GetClosestNodes(idFromByte(0), 5)
	if len(got) != 1 {
		t.Fatalf("expected min(k, size)=1 result, got %d", len(got))
	}
}

func TestGetNthClosestNodeFallsBackToFarthest(t *testing.T) {
	local := idFromByte(0)
	table := NewRoutingTable(local, 10)
	table.Add(NodeInfo{NodeID: idFromByte(1)})
	table.Add(NodeInfo{NodeID: idFromByte(2)})
	got, ok := table.GetNthClosestNode(idFromByte(0), 10)
	if !ok {
		t.Fatalf("expected an entry")
	}
	if got.NodeID != idFromByte(2) {
		t.Fatalf("expected farthest entry as fallback, got %v", got.NodeID)
	}
}
