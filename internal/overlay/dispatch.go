package overlay

import (
	"context"
	"encoding/json"

	"kadmesh/internal/debuglog"
	"kadmesh/internal/proto"
)

type subHeader struct {
	Type string `json:"type"`
}

// dispatch is the transport.Handler bound to Serve: every inbound frame
// on every accepted stream passes through here. Requests route to
// Service by sniffed sub-message type; responses route to
// ResponseHandler, which sniffs the type itself.
func (r *Runner) dispatch(ctx context.Context, frame []byte) ([]byte, bool) {
	var msg proto.Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		r.metrics.IncDropByReason("parse_error")
		debuglog.Debugf("overlay: envelope parse error: %v", err)
		return nil, false
	}

	if !msg.Request {
		r.resp.HandleResponse(ctx, &msg)
		return nil, false
	}

	if len(msg.Data) == 0 {
		r.metrics.IncDropByReason("empty_request")
		return nil, false
	}
	var h subHeader
	if err := json.Unmarshal(msg.Data[0], &h); err != nil {
		r.metrics.IncDropByReason("parse_error")
		return nil, false
	}
	r.metrics.IncRecvByType(h.Type)

	switch h.Type {
	case "ping_request":
		r.svc.Ping(ctx, &msg)
	case "connect_request":
		r.svc.Connect(ctx, &msg)
	case "find_nodes_request":
		r.svc.FindNodes(ctx, &msg)
	case "connect_success":
		r.svc.ConnectSuccess(ctx, &msg)
	case "public_key_request":
		r.svc.PublicKey(ctx, &msg)
	default:
		r.metrics.IncDropByReason("unrecognized_type")
		return nil, false
	}

	if msg.Empty() {
		return nil, false
	}
	reply, err := marshalEnvelope(msg)
	if err != nil {
		debuglog.Debugf("overlay: reply encode failed: %v", err)
		return nil, false
	}
	return reply, true
}
