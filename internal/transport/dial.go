package transport

import (
	"context"
	"errors"

	"kadmesh/internal/debuglog"
)

// dialer owns the pooled outbound connections used to exchange frames
// with a peer address. insecure controls whether the client verifies
// the peer's certificate against this module's own dev-TLS root.
type dialer struct {
	pool     *clientPool
	insecure bool
}

func newDialer(insecure bool) *dialer {
	return &dialer{pool: newClientPool(clientConnIdle), insecure: insecure}
}

// exchange opens a stream to addr, writes frame, reads the peer's
// reply frame, and returns it. It retries the whole dial-open-write-
// read sequence up to clientMaxRetries times with exponential backoff.
func (d *dialer) exchange(ctx context.Context, addr string, frame []byte) ([]byte, error) {
	return d.roundTrip(ctx, addr, frame, true)
}

// send is exchange without waiting for a reply, used for the routing
// protocol's fire-and-forget notifications (ConnectSuccess,
// ConnectSuccessAcknowledgement).
func (d *dialer) send(ctx context.Context, addr string, frame []byte) error {
	_, err := d.roundTrip(ctx, addr, frame, false)
	return err
}

func (d *dialer) roundTrip(ctx context.Context, addr string, payload []byte, wantReply bool) ([]byte, error) {
	tlsConf, err := clientTLSConfig(d.insecure)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= clientMaxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ctx.Err()
		}
		conn, err := d.pool.get(ctx, addr, tlsConf, quicConfig())
		if err != nil {
			lastErr = err
			if !backoffRetry(ctx, d.pool.recordFailure(addr)) {
				break
			}
			continue
		}
		stream, err := conn.OpenStreamSync(ctx)
		if err != nil {
			lastErr = err
			d.pool.drop(addr, conn, "open stream failed")
			if !backoffRetry(ctx, d.pool.recordFailure(addr)) {
				break
			}
			continue
		}
		if err := writeFrameWithTimeout(stream, streamRWTimeout, payload); err != nil {
			lastErr = err
			_ = stream.Close()
			d.pool.drop(addr, conn, "write failed")
			if !backoffRetry(ctx, d.pool.recordFailure(addr)) {
				break
			}
			continue
		}
		if cw, ok := any(stream).(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
		if !wantReply {
			_ = stream.Close()
			d.pool.touch(addr, conn)
			d.pool.resetFailures(addr)
			return nil, nil
		}
		resp, err := readFrameWithTimeout(stream, streamRWTimeout)
		if err != nil {
			lastErr = err
			_ = stream.Close()
			d.pool.drop(addr, conn, "read failed")
			if !backoffRetry(ctx, d.pool.recordFailure(addr)) {
				break
			}
			continue
		}
		_ = stream.Close()
		d.pool.touch(addr, conn)
		d.pool.resetFailures(addr)
		return resp, nil
	}
	if lastErr == nil {
		lastErr = errors.New("transport: round trip failed")
	}
	debuglog.Debugf("transport: round trip to %s failed: %v", addr, lastErr)
	return nil, lastErr
}
