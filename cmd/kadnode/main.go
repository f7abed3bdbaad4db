package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"kadmesh/internal/kademlia"
	"kadmesh/internal/metrics"
	"kadmesh/internal/node"
	"kadmesh/internal/overlay"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(stdout)
		return 0
	}
	switch args[0] {
	case "run":
		return runNode(args[1:], stdout, stderr)
	case "status":
		return runStatus(args[1:], stdout, stderr)
	case "table":
		return runTable(args[1:], stdout, stderr)
	case "clients":
		return runClients(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: kadnode <run|status|table|clients> [args]")
	fmt.Fprintln(w, "  run     --addr <ip:port> --devtls [--bootstrap <id@host:port,...>] [--debug] [--client]")
	fmt.Fprintln(w, "  status")
	fmt.Fprintln(w, "  table")
	fmt.Fprintln(w, "  clients")
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return filepath.Join(h, ".kadmesh")
}

func runNode(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "", "listen addr (host:port)")
	public := fs.String("public-addr", "", "publicly reachable addr, if different from --addr")
	bootstrap := fs.String("bootstrap", "", "comma-separated id@host:port seed contacts")
	devTLS := fs.Bool("devtls", false, "allow deterministic dev TLS certs (unsafe)")
	debug := fs.Bool("debug", false, "enable debug logging")
	clientMode := fs.Bool("client", false, "run as a client (never admitted into peers' routing tables)")
	metricsPath := fs.String("metrics-path", "", "write a metrics snapshot to this path on every sweep tick")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *addr == "" {
		fmt.Fprintln(stderr, "missing --addr")
		return 1
	}
	if *debug {
		_ = os.Setenv("KADMESH_DEBUG", "1")
	}
	if !*devTLS {
		fmt.Fprintln(stderr, "dev TLS disabled by default; pass --devtls to enable")
		return 1
	}
	fmt.Fprintln(stderr, "WARNING: using deterministic dev TLS certificates")

	root := homeDir()
	self, err := node.NewNode(root)
	if err != nil {
		fmt.Fprintf(stderr, "load identity failed: %v\n", err)
		return 1
	}

	seeds, err := parseBootstrap(*bootstrap)
	if err != nil {
		fmt.Fprintf(stderr, "bad --bootstrap: %v\n", err)
		return 1
	}

	publicAddr := *public
	if publicAddr == "" {
		publicAddr = *addr
	}
	cfg := overlay.Config{
		ListenAddr:     *addr,
		PublicEndpoint: kademlia.Endpoint(publicAddr),
		Insecure:       *devTLS,
		ClientMode:     *clientMode,
		Bootstrap:      seeds,
		MetricsPath:    *metricsPath,
	}
	r, err := overlay.NewRunner(self, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "build node failed: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "READY addr=%s node_id=%s\n", *addr, self.ID)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "run failed: %v\n", err)
		return 1
	}
	return 0
}

// parseBootstrap accepts "id@host:port" entries, hex-encoded node ids.
// The public key is left unset; the first PublicKeyRequest exchange
// fills it in and verifies self-certification before trust is granted.
func parseBootstrap(spec string) ([]overlay.BootstrapPeer, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	var peers []overlay.BootstrapPeer
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		at := strings.IndexByte(entry, '@')
		if at < 0 {
			return nil, fmt.Errorf("expected id@host:port, got %q", entry)
		}
		id, err := kademlia.IDFromHex(entry[:at])
		if err != nil {
			return nil, fmt.Errorf("%q: %w", entry, err)
		}
		peers = append(peers, overlay.BootstrapPeer{
			NodeID: id,
			Addr:   kademlia.Endpoint(entry[at+1:]),
		})
	}
	return peers, nil
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	root := homeDir()
	self, err := node.NewNode(root)
	if err != nil {
		fmt.Fprintf(stdout, "status: identity unavailable: %v\n", err)
		return 1
	}
	snap := readMetricsSnapshot(filepath.Join(root, "metrics.json"))
	fmt.Fprintf(stdout, "node_id: %s\n", self.ID)
	fmt.Fprintln(stdout, "Local observation summary (not consensus):")
	fmt.Fprintf(stdout, "  routing table: %d\n", snap.RoutingTable)
	fmt.Fprintf(stdout, "  client table:  %d\n", snap.ClientTable)
	fmt.Fprintf(stdout, "  pending:       %d\n", snap.PendingPeers)
	fmt.Fprintf(stdout, "  connect sent=%d admitted=%d rejected=%d acknowledged=%d timed_out=%d\n",
		snap.Handshake.ConnectSent, snap.Handshake.ConnectAdmitted, snap.Handshake.ConnectRejected,
		snap.Handshake.Acknowledged, snap.Handshake.TimedOut)
	fmt.Fprintf(stdout, "  transport failures=%d key validation fails=%d\n",
		snap.Handshake.TransportFailures, snap.Handshake.KeyValidationFails)
	for typ, n := range snap.DropByReason {
		fmt.Fprintf(stdout, "  dropped[%s]: %d\n", typ, n)
	}
	return 0
}

// runTable and runClients read the same metrics snapshot status does;
// this process has no IPC to a running node's live directory, only the
// gauges the running instance last wrote out.
func runTable(args []string, stdout, _ io.Writer) int {
	fs := flag.NewFlagSet("table", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	root := homeDir()
	snap := readMetricsSnapshot(filepath.Join(root, "metrics.json"))
	fmt.Fprintf(stdout, "routing table size: %d\n", snap.RoutingTable)
	return 0
}

func runClients(args []string, stdout, _ io.Writer) int {
	fs := flag.NewFlagSet("clients", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	root := homeDir()
	snap := readMetricsSnapshot(filepath.Join(root, "metrics.json"))
	fmt.Fprintf(stdout, "client table size: %d\n", snap.ClientTable)
	return 0
}

func readMetricsSnapshot(path string) metrics.Snapshot {
	data, err := os.ReadFile(path)
	if err != nil {
		return metrics.Snapshot{}
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return metrics.Snapshot{}
	}
	return snap
}
