package overlay

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"kadmesh/internal/crypto"
	"kadmesh/internal/kademlia"
	"kadmesh/internal/node"
	"kadmesh/internal/proto"
)

// messageID mirrors response.messageID: the Timer correlation key is
// the hash of a request's serialized bytes, since the envelope carries
// no separate message-id field.
func messageID(originalRequest []byte) string {
	return hex.EncodeToString(crypto.SHA3_256(originalRequest))
}

// signEnvelope signs an outbound sub-message with the local node's
// private key, the signature a peer's Service/ResponseHandler echoes
// back as original_signature for the requester's own bookkeeping.
func (r *Runner) signEnvelope(env *proto.Message) {
	if len(env.Data) == 0 {
		return
	}
	env.Signature = crypto.Sign(r.self.PrivKey, crypto.SHA3_256(env.Data[0]))
}

// fetchPublicKey implements keyvalidator.Fetcher: it asks a pending
// peer directly for its own raw public key and verifies the answer
// against the peer's claimed identity before trusting it, since node
// ids in this overlay are self-certifying (id = hash(pubkey)).
func (r *Runner) fetchPublicKey(ctx context.Context, id kademlia.NodeID) ([]byte, error) {
	info, _, ok := r.dir.PendingEntry(id)
	if !ok {
		return nil, fmt.Errorf("overlay: %s is not a pending peer", id)
	}

	env := r.rpc.PublicKeyRequest(id)
	r.signEnvelope(&env)
	frame, err := marshalEnvelope(env)
	if err != nil {
		return nil, err
	}

	result := make(chan struct {
		key []byte
		err error
	}, 1)
	mid := messageID(env.Data[0])
	r.timer.Register(mid, func(payload []byte, err error) {
		if err != nil {
			result <- struct {
				key []byte
				err error
			}{nil, err}
			return
		}
		var resp proto.PublicKeyResponse
		if uerr := json.Unmarshal(payload, &resp); uerr != nil {
			result <- struct {
				key []byte
				err error
			}{nil, uerr}
			return
		}
		if node.DeriveNodeID(resp.PublicKey) != id {
			result <- struct {
				key []byte
				err error
			}{nil, fmt.Errorf("overlay: public key for %s does not derive its claimed id", id)}
			return
		}
		result <- struct {
			key []byte
			err error
		}{resp.PublicKey, nil}
	})

	if err := r.net.SendToDirect(ctx, frame, id, info.ConnectionID); err != nil {
		r.timer.Cancel(mid)
		return nil, err
	}

	select {
	case res := <-result:
		return res.key, res.err
	case <-ctx.Done():
		r.timer.Cancel(mid)
		return nil, ctx.Err()
	}
}
