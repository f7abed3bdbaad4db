// Package node owns local identity: the RSA-PSS keypair a routing-core
// instance signs with and the derived NodeId that keypair identifies it
// by. It has no table, transport, or session state of its own — those
// live in internal/kademlia, internal/transport, and internal/overlay
// respectively.
package node

import (
	"os"

	"kadmesh/internal/crypto"
	"kadmesh/internal/kademlia"
)

// Node is a local node's identity: its derived id and its signing
// keypair (PKIX/PKCS8 DER, per internal/crypto's encoding).
type Node struct {
	ID      kademlia.NodeID
	PubKey  []byte
	PrivKey []byte
}

// NewNode loads a keypair from home, generating and persisting one on
// first run.
func NewNode(home string) (*Node, error) {
	if err := os.MkdirAll(home, 0700); err != nil {
		return nil, err
	}
	pub, priv, err := crypto.LoadKeypair(home)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		pub, priv, err = crypto.GenKeypair()
		if err != nil {
			return nil, err
		}
		if err := crypto.SaveKeypair(home, pub, priv); err != nil {
			return nil, err
		}
	}
	return &Node{ID: DeriveNodeID(pub), PubKey: pub, PrivKey: priv}, nil
}

// nodeIDLabel domain-separates node-id derivation from any other use
// of crypto.KDF.
const nodeIDLabel = "kadmesh:nodeid:v1"

// DeriveNodeID computes a node's identity from its public key. The
// routing protocol treats key generation and identity derivation as
// out of scope for the routing core itself; this is this module's own
// choice of scheme, not a requirement it implements.
func DeriveNodeID(pub []byte) kademlia.NodeID {
	sum := crypto.KDF(nodeIDLabel, pub)
	var id kademlia.NodeID
	copy(id[:], sum)
	return id
}
