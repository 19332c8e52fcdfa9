// Command rudp runs the echo host or the chat client.
//
// The host echoes every chat line it receives and answers pings; the client
// sends stdin lines on a reliable channel and pings on an unreliable one.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -port, -address, -bind, -bindAll, -config).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"

	"github.com/1ureka/rudp/engine/rtc"
	"github.com/1ureka/rudp/internal/app"
	"github.com/1ureka/rudp/internal/config"
	"github.com/1ureka/rudp/internal/stats"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	role := flag.String("role", "", "Role: host or client")
	port := flag.Int("port", 0, "Port the host listens on or the client dials, 1~65535")
	address := flag.String("address", "127.0.0.1", "Host address to dial (client only)")
	bind := flag.String("bind", "", "Address the host binds (host only)")
	bindAll := flag.Bool("bindAll", false, "Listen on all network interfaces (host only)")
	configPath := flag.String("config", "", "YAML configuration file")
	stun := flag.String("stun", "", "Comma-separated STUN server URLs")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address, e.g. :9090")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("rudp v%s", version))
	pterm.Println()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.Debug = cfg.Debug || *debugMode
	if *bind != "" {
		cfg.BindAddress = *bind
	}
	if *bindAll {
		cfg.BindAll = true
	}

	opts := transport.Options{Config: cfg, Engine: newEngine(*stun)}
	if *metricsAddr != "" {
		m, err := serveMetrics(ctx, *metricsAddr)
		if err != nil {
			util.LogError("metrics: %v", err)
			os.Exit(1)
		}
		opts.Metrics = m
	}

	switch *role {
	case "":
		// No -role flag → interactive mode.
		runInteractive(ctx, opts)

	case "host":
		if *port != 0 {
			opts.Config.Port = requirePort(*port)
		}
		runHost(ctx, opts)

	case "client":
		runClient(ctx, *address, requirePort(*port), opts)

	default:
		util.LogError("invalid -role: must be 'host' or 'client'")
		os.Exit(1)
	}

	util.LogInfo("session closed")
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInteractive asks for the role and port when no -role flag is provided.
func runInteractive(ctx context.Context, opts transport.Options) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host: echo chat lines", "Client: chat with a host"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Host") {
		opts.Config.Port = askPort("Port to listen on (1 ~ 65535)")
		runHost(ctx, opts)
	} else {
		address := askAddress()
		port := askPort("Host port (1 ~ 65535)")
		runClient(ctx, address, port, opts)
	}
}

// runHost runs the echo host until ctx is cancelled.
func runHost(ctx context.Context, opts transport.Options) {
	err := app.RunHost(ctx, opts, func(s *transport.Server) {
		util.LogSuccess("listening on %s", s.URI())
	})
	if err != nil {
		util.LogError("host failed: %v", err)
		os.Exit(1)
	}
}

// runClient chats with the host at address:port until stdin is exhausted.
func runClient(ctx context.Context, address string, port int, opts transport.Options) {
	util.LogInfo("connecting to %s:%d", address, port)

	err := app.RunClient(ctx, address, port, opts, os.Stdin, os.Stdout)
	switch {
	case errors.Is(err, transport.ErrConnectionRefused):
		util.LogError("host %s:%d refused the connection", address, port)
		os.Exit(1)
	case err != nil && ctx.Err() == nil:
		util.LogError("client failed: %v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// newEngine builds the WebRTC engine, with STUN servers when stun is set.
func newEngine(stun string) *rtc.Engine {
	if stun == "" {
		return rtc.New()
	}
	var urls []string
	for _, u := range strings.Split(stun, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return rtc.WithSTUN(urls...)
}

// serveMetrics exposes per-connection gauges on addr until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string) (*stats.Metrics, error) {
	reg := prometheus.NewRegistry()
	m, err := stats.NewMetrics(reg, "rudp")
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("metrics server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	util.LogInfo("metrics on http://%s/metrics", addr)
	return m, nil
}

// requirePort exits unless port is within 1~65535.
func requirePort(port int) int {
	if port < 1 || port > 65535 {
		util.LogError("invalid or missing -port (must be 1~65535)")
		os.Exit(1)
	}
	return port
}

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && port >= 1 && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}

// askAddress prompts the user for the host address, defaulting to loopback.
func askAddress() string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText("Host address (empty for 127.0.0.1)").
		Show()
	pterm.Println()

	if addr := strings.TrimSpace(raw); addr != "" {
		return addr
	}
	return "127.0.0.1"
}
