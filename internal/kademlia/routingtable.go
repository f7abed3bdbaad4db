package kademlia

import (
	"container/list"
	"sync"
)

// DefaultMaxRoutingTableSize is used when Options.MaxRoutingTableSize is
// left at zero, following the "zero means default" convention used
// throughout this module's tunable structs.
const DefaultMaxRoutingTableSize = 160

// DefaultClosestNodesSize is the default close-group cardinality (k in
// most Kademlia writeups).
const DefaultClosestNodesSize = 20

// RoutingTable holds server peers this node routes through, bounded and
// kept sorted by XOR distance from the local id. It reuses a
// container/list-backed bounded-eviction shape rather than LRU
// semantics — eviction here is distance-driven, not recency-driven.
type RoutingTable struct {
	mu       sync.RWMutex
	localID  NodeID
	capacity int
	entries  *list.List // list of *NodeInfo, kept sorted by distance to localID
	byID     map[NodeID]*list.Element
}

func NewRoutingTable(localID NodeID, capacity int) *RoutingTable {
	if capacity <= 0 {
		capacity = DefaultMaxRoutingTableSize
	}
	return &RoutingTable{
		localID:  localID,
		capacity: capacity,
		entries:  list.New(),
		byID:     make(map[NodeID]*list.Element),
	}
}

// farthest returns the current farthest entry from the local id, or nil
// when the table is empty.
func (t *RoutingTable) farthestLocked() *list.Element {
	if t.entries.Len() == 0 {
		return nil
	}
	return t.entries.Back()
}

// CheckNode reports admissibility without insertion: a candidate is
// admissible if the table has room, or if it is strictly closer than the
// current farthest entry (proximity-monotone admission).
func (t *RoutingTable) CheckNode(candidate NodeInfo) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.checkNodeLocked(candidate)
}

func (t *RoutingTable) checkNodeLocked(candidate NodeInfo) bool {
	if candidate.NodeID.Empty() || candidate.NodeID.Equal(t.localID) {
		return false
	}
	if _, exists := t.byID[candidate.NodeID]; exists {
		return false
	}
	if t.entries.Len() < t.capacity {
		return true
	}
	farthest := t.farthestLocked()
	if farthest == nil {
		return true
	}
	current := farthest.Value.(*NodeInfo)
	return CloserToTarget(candidate.NodeID, current.NodeID, t.localID)
}

// Add inserts a peer, evicting the farthest entry if the table is full
// and the candidate displaces it. Duplicate adds are idempotent no-ops.
// Returns false if the candidate was not admissible.
func (t *RoutingTable) Add(info NodeInfo) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byID[info.NodeID]; exists {
		return true
	}
	if !t.checkNodeLocked(info) {
		return false
	}
	if t.entries.Len() >= t.capacity {
		if back := t.entries.Back(); back != nil {
			evicted := back.Value.(*NodeInfo)
			delete(t.byID, evicted.NodeID)
			t.entries.Remove(back)
		}
	}
	cp := info
	elem := t.insertSortedLocked(&cp)
	t.byID[info.NodeID] = elem
	return true
}

func (t *RoutingTable) insertSortedLocked(info *NodeInfo) *list.Element {
	for e := t.entries.Front(); e != nil; e = e.Next() {
		existing := e.Value.(*NodeInfo)
		if CloserToTarget(info.NodeID, existing.NodeID, t.localID) {
			return t.entries.InsertBefore(info, e)
		}
	}
	return t.entries.PushBack(info)
}

// Remove drops a peer by id.
func (t *RoutingTable) Remove(id NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if elem, ok := t.byID[id]; ok {
		t.entries.Remove(elem)
		delete(t.byID, id)
	}
}

// Contains reports whether id is present.
func (t *RoutingTable) Contains(id NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byID[id]
	return ok
}

// Get returns the entry for id, if present.
func (t *RoutingTable) Get(id NodeID) (NodeInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	elem, ok := t.byID[id]
	if !ok {
		return NodeInfo{}, false
	}
	return *elem.Value.(*NodeInfo), true
}

// Size returns the number of entries currently held.
func (t *RoutingTable) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries.Len()
}

// GetClosestNodes returns up to count ids closest to target, excluding
// the local id, strictly ordered by CloserToTarget and with ties broken
// by raw lexical id order.
func (t *RoutingTable) GetClosestNodes(target NodeID, count int) []NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if count <= 0 {
		return nil
	}
	all := make([]*NodeInfo, 0, t.entries.Len())
	for e := t.entries.Front(); e != nil; e = e.Next() {
		info := e.Value.(*NodeInfo)
		if info.NodeID.Equal(t.localID) {
			continue
		}
		all = append(all, info)
	}
	sortByDistance(all, target)
	if count > len(all) {
		count = len(all)
	}
	out := make([]NodeID, count)
	for i := 0; i < count; i++ {
		out[i] = all[i].NodeID
	}
	return out
}

// GetNthClosestNode returns the n-th closest entry (1-indexed) to target.
// When fewer than n entries exist, it returns the farthest available.
func (t *RoutingTable) GetNthClosestNode(target NodeID, n int) (NodeInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.entries.Len() == 0 {
		return NodeInfo{}, false
	}
	all := make([]*NodeInfo, 0, t.entries.Len())
	for e := t.entries.Front(); e != nil; e = e.Next() {
		all = append(all, e.Value.(*NodeInfo))
	}
	sortByDistance(all, target)
	if n < 1 {
		n = 1
	}
	idx := n - 1
	if idx >= len(all) {
		idx = len(all) - 1
	}
	return *all[idx], true
}

// All returns a snapshot of every entry, in distance-from-local order.
func (t *RoutingTable) All() []NodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]NodeInfo, 0, t.entries.Len())
	for e := t.entries.Front(); e != nil; e = e.Next() {
		out = append(out, *e.Value.(*NodeInfo))
	}
	return out
}

func sortByDistance(infos []*NodeInfo, target NodeID) {
	// insertion sort: routing tables are small (bounded by capacity,
	// typically well under a few hundred entries).
	for i := 1; i < len(infos); i++ {
		j := i
		for j > 0 && lessByDistance(infos[j], infos[j-1], target) {
			infos[j], infos[j-1] = infos[j-1], infos[j]
			j--
		}
	}
}

func lessByDistance(a, b *NodeInfo, target NodeID) bool {
	if CloserToTarget(a.NodeID, b.NodeID, target) {
		return true
	}
	if CloserToTarget(b.NodeID, a.NodeID, target) {
		return false
	}
	return a.NodeID.Less(b.NodeID)
}
