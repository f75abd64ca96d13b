// Command dtls-server is a demo DTLS server built on the dtlsd driver: it
// listens on a UDP socket, accepts handshakes one peer at a time, and
// echoes datagrams back over the (unprotected, see dtlsd's RecordLayer
// Non-goal) resulting channel. Adapted from the teacher's
// bin/mint-server/main.go, rebuilt on net.ListenUDP (DTLS is datagram
// oriented) and cobra instead of the flag package.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	dtls "github.com/dtls-server/dtlsd"
	"github.com/dtls-server/dtlsd/internal/metrics"
)

var (
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:   "dtls-server",
		Short: "Demo DTLS server handshake driver",
		RunE:  run,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dtls-server:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := &dtls.FileConfig{Listen: "0.0.0.0:4433", VerifyRequests: true}
	if configPath != "" {
		loaded, err := dtls.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	collectors := metrics.New()
	reg := prometheus.NewRegistry()
	if err := collectors.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if cfg.MetricsListen != "" {
		go serveMetrics(cfg.MetricsListen, reg)
	}

	verify := cfg.VerifyRequests
	acceptCfg := &dtls.Config{
		VerifyRequests:   &verify,
		HandshakeTimeout: cfg.HandshakeTimeoutDuration(),
		Metrics:          collectors,
	}

	policy := dtls.NewAnonymousECDHEPolicy()
	policy.SupportedSuites = cfg.ResolveCipherSuites()
	policy.PreferredSuite = policy.SupportedSuites[0]

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer conn.Close()

	// One UDP socket is shared across every handshake; until a real
	// demultiplexer keys the socket by source address (out of scope for
	// this demo), the server accepts and serves one peer at a time.
	fmt.Printf("dtls-server: listening on %s\n", cfg.Listen)
	for {
		transport, err := dtls.Accept(policy, conn, acceptCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dtls-server: accept: %v\n", err)
			continue
		}
		fmt.Printf("dtls-server: accepted %s\n", transport.RemoteAddr())
		echoLoop(transport)
	}
}

func echoLoop(t *dtls.Transport) {
	defer t.Close()
	buf := make([]byte, 2048)
	for {
		n, _, err := t.ReadFrom(buf)
		if err != nil {
			return
		}
		if _, err := t.WriteTo(buf[:n]); err != nil {
			return
		}
	}
}

func serveMetrics(listen string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	_ = server.ListenAndServe()
}
