package overlay

import (
	"context"
	"time"

	"kadmesh/internal/debuglog"
	"kadmesh/internal/kademlia"
)

// bootstrapAll issues an initial ConnectRequest to every pinned seed
// contact. Unlike ordinary densification, a bootstrap peer's address is
// known in advance — there is no routing-table entry yet to source-route
// through — so the pending entry carries the endpoint up front and
// SendToClosestNode resolves it straight from the pending set.
func (r *Runner) bootstrapAll(ctx context.Context) {
	for _, bp := range r.cfg.Bootstrap {
		if err := r.connectBootstrap(ctx, bp); err != nil {
			debuglog.Debugf("overlay: bootstrap to %s failed: %v", bp.NodeID, err)
		}
	}
}

func (r *Runner) connectBootstrap(ctx context.Context, bp BootstrapPeer) error {
	if bp.NodeID.Empty() || bp.NodeID == r.dir.LocalId() || r.dir.Known(bp.NodeID) {
		return nil
	}
	r.dir.AddPendingNode(kademlia.NodeInfo{NodeID: bp.NodeID, PublicEndpoint: bp.Addr}, true)

	env := r.rpc.ConnectRequest(bp.NodeID, r.localContact())
	r.signEnvelope(&env)
	frame, err := marshalEnvelope(env)
	if err != nil {
		r.dir.DropPending(bp.NodeID)
		return err
	}
	if err := r.net.SendToClosestNode(ctx, frame, bp.NodeID); err != nil {
		r.dir.DropPending(bp.NodeID)
		r.metrics.IncTransportFailure()
		return err
	}
	r.metrics.IncConnectSent()
	return nil
}

// connectionManager runs the two background ticks a live instance needs
// once bootstrapped: periodic bucket refresh (rediscovering the overlay
// around this node's own id) and periodic pending-set sweeping (reaping
// handshakes that never completed). A ticker-driven loop generalized
// from an outbound/pex/seed tick shape to this module's refresh/sweep
// pair.
func (r *Runner) connectionManager(ctx context.Context) {
	refresh := time.NewTicker(r.cfg.RefreshInterval)
	sweep := time.NewTicker(r.cfg.SweepInterval)
	defer refresh.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			r.refreshBuckets(ctx)
		case <-sweep.C:
			r.sweepPending()
			r.reportGauges()
		}
	}
}

// refreshBuckets asks one known server peer, chosen round-robin, for the
// nodes closest to this node's own id. The discovered ids feed the same
// densification path ordinary find_nodes_response handling uses.
func (r *Runner) refreshBuckets(ctx context.Context) {
	peers := r.dir.RoutingTableSnapshot()
	if len(peers) == 0 {
		return
	}
	r.refreshCursor = (r.refreshCursor + 1) % len(peers)
	peer := peers[r.refreshCursor]

	nodes, err := r.resp.GetGroup(ctx, peer, r.dir.LocalId(), r.dir.Options().ClosestNodesSize)
	if err != nil {
		debuglog.Debugf("overlay: bucket refresh via %s failed: %v", peer.NodeID, err)
		return
	}
	for _, id := range nodes {
		r.resp.CheckAndSendConnectRequest(ctx, id)
	}
}

// sweepPending reaps expired handshakes and tears down whatever
// transport association each one reserved.
func (r *Runner) sweepPending() {
	for _, info := range r.dir.SweepExpiredPending() {
		r.net.Remove(info.ConnectionID)
		r.metrics.IncTimedOut()
	}
}

func (r *Runner) reportGauges() {
	r.metrics.SetRoutingTableSize(int64(r.dir.Size()))
	r.metrics.SetClientTableSize(int64(r.dir.ClientSize()))
	r.metrics.SetPendingPeers(int64(r.dir.PendingSize()))
	if r.cfg.MetricsPath != "" {
		if err := r.metrics.WriteSnapshot(r.cfg.MetricsPath); err != nil {
			debuglog.Debugf("overlay: metrics snapshot write failed: %v", err)
		}
	}
}
