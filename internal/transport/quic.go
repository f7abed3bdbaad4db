// Package transport implements the routing core's external Network
// collaborator over QUIC: dev-TLS certificate generation, the
// accept-loop that turns inbound streams into decoded envelopes, and
// the pooled-dial path outbound sends use. Generalized from a
// ledger-message framing shape to the length-framed proto.Message
// envelope this module exchanges.
package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"net"
	"time"

	quic "github.com/quic-go/quic-go"

	"kadmesh/internal/debuglog"
	"kadmesh/internal/proto"
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// devTLSCert generates a deterministic self-signed certificate for
// local development and tests. Production deployments are expected to
// supply their own certificate; this module carries no CA integration
// (out of scope per the routing core's own boundaries).
func devTLSCert() (tls.Certificate, []byte, error) {
	seed := sha256.Sum256([]byte("kadmesh-quic-dev-key"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(zeroReader{}, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
	return cert, der, nil
}

const alpn = "kadmesh-quic"

func serverTLSConfig() (*tls.Config, error) {
	cert, _, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{alpn}}, nil
}

// clientTLSConfig builds the dialer's TLS config. insecure skips
// verification entirely (useful against third-party certificates in
// production); otherwise the connection is pinned to this module's own
// dev certificate, since there is no CA distribution mechanism here.
func clientTLSConfig(insecure bool) (*tls.Config, error) {
	if insecure {
		return &tls.Config{InsecureSkipVerify: true, NextProtos: []string{alpn}}, nil
	}
	_, der, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return &tls.Config{RootCAs: pool, NextProtos: []string{alpn}}, nil
}

const (
	maxIdleTimeout       = 45 * time.Second
	keepAlivePeriod      = 15 * time.Second
	handshakeIdleTimeout = 8 * time.Second
	streamRWTimeout      = 8 * time.Second
)

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:       maxIdleTimeout,
		KeepAlivePeriod:      keepAlivePeriod,
		HandshakeIdleTimeout: handshakeIdleTimeout,
	}
}

// Handler decodes and reacts to one inbound envelope frame, replying
// on the same stream when the handler produces a non-empty response.
type Handler func(ctx context.Context, frame []byte) (reply []byte, sendReply bool)

// Listen accepts QUIC connections on addr and dispatches every inbound
// stream's frame to handle. It blocks until the listener errors or ctx
// is cancelled.
func Listen(ctx context.Context, addr string, limiter *ipLimiter, handle Handler) error {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return err
	}
	listener, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return err
	}
	debuglog.Logf("transport: listening on %s", addr)
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()
	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			return err
		}
		remoteIP := hostOf(conn.RemoteAddr())
		if limiter != nil && !limiter.acquireConn(remoteIP) {
			debuglog.Debugf("transport: conn cap reached for %s", remoteIP)
			_ = conn.CloseWithError(0, "conn cap reached")
			continue
		}
		go serveConn(ctx, conn, remoteIP, limiter, handle)
	}
}

func serveConn(ctx context.Context, conn *quic.Conn, remoteIP string, limiter *ipLimiter, handle Handler) {
	defer func() {
		if limiter != nil {
			limiter.releaseConn(remoteIP)
		}
	}()
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		if limiter != nil && !limiter.acquireStream(remoteIP) {
			debuglog.Debugf("transport: stream cap reached for %s", remoteIP)
			_ = stream.Close()
			continue
		}
		go serveStream(stream, remoteIP, limiter, handle)
	}
}

func serveStream(stream *quic.Stream, remoteIP string, limiter *ipLimiter, handle Handler) {
	defer func() {
		stream.Close()
		if limiter != nil {
			limiter.releaseStream(remoteIP)
		}
	}()
	frame, err := readFrameWithTimeout(stream, streamRWTimeout)
	if err != nil {
		debuglog.Debugf("transport: read failed from %s: %v", remoteIP, err)
		return
	}
	reply, ok := handle(context.Background(), frame)
	if !ok || len(reply) == 0 {
		return
	}
	if err := writeFrameWithTimeout(stream, streamRWTimeout, reply); err != nil {
		debuglog.Debugf("transport: reply write failed to %s: %v", remoteIP, err)
	}
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func readFrameWithTimeout(stream *quic.Stream, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		_ = stream.SetReadDeadline(time.Now().Add(timeout))
	}
	return proto.ReadFrame(stream)
}

func writeFrameWithTimeout(stream *quic.Stream, timeout time.Duration, payload []byte) error {
	if timeout > 0 {
		_ = stream.SetWriteDeadline(time.Now().Add(timeout))
	}
	return proto.WriteFrame(stream, payload)
}
