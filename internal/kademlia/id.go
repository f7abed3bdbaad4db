// Package kademlia implements the routing core's data model: node
// identities, the XOR metric, the routing and client tables, and the
// pending-peer admission lifecycle described by the overlay's routing
// protocol. It owns no transport and no wire codec — those are external
// collaborators (see internal/transport and internal/proto).
package kademlia

import (
	"encoding/hex"
	"encoding/json"
)

// IDLength is the width of a NodeID in bytes. Node ids in this module
// are derived as SHA3-256(pubkey); this keeps that natural 32-byte
// width rather than the "conventionally 512 bits" figure sometimes
// quoted as a Kademlia convention rather than a requirement.
const IDLength = 32

// NodeID is an opaque fixed-width identifier in the overlay's id space.
type NodeID [IDLength]byte

// Empty reports whether the id is the all-zero value, which is never a
// valid peer identity.
func (id NodeID) Empty() bool {
	var zero NodeID
	return id == zero
}

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

func (id NodeID) Equal(other NodeID) bool {
	return id == other
}

// Distance returns the XOR distance between two ids.
func Distance(a, b NodeID) NodeID {
	var d NodeID
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less compares two ids as big-endian unsigned integers. Used to break
// ties deterministically and to compare XOR distances.
func (id NodeID) Less(other NodeID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// CloserToTarget reports whether a is closer to target than b under the
// XOR metric: a XOR target < b XOR target.
func CloserToTarget(a, b, target NodeID) bool {
	da := Distance(a, target)
	db := Distance(b, target)
	return da.Less(db)
}

// MarshalJSON encodes the id as a hex string, matching the wire format
// the response/request echoes rely on for correlation.
func (id NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*id = NodeID{}
		return nil
	}
	parsed, err := IDFromHex(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// IDFromHex parses a hex-encoded NodeID. Used by the CLI and by wire
// message decoding.
func IDFromHex(s string) (NodeID, error) {
	var id NodeID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != IDLength {
		return id, errBadIDLength
	}
	copy(id[:], b)
	return id, nil
}
