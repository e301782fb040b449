// Command edged is the edge fabric daemon: it terminates TLS with
// locally-issued, auto-rotated certificates, serves the peer/discovery/
// dispatch HTTP surface, and supervises its own process lifecycle.
// Grounded on the teacher's cmd/example/main.go entrypoint shape and
// sweetmcp-daemon's manager.rs process-supervision model, rendered
// through pkg/supervisor.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cogforge/coc/core"
	"github.com/cogforge/coc/pkg/discoverytoken"
	"github.com/cogforge/coc/pkg/edge"
	"github.com/cogforge/coc/pkg/supervisor"
	"github.com/cogforge/coc/pkg/tlsmanager"
)

func main() {
	addr := flag.String("addr", ":8443", "address the edge service listens on")
	commonName := flag.String("common-name", "edge.local", "leaf certificate common name")
	renewBefore := flag.Duration("renew-before", 30*24*time.Hour, "reissue certificates within this window of expiry")
	rotationInterval := flag.Duration("rotation-check-interval", time.Hour, "how often to check whether the serving certificate needs rotation")
	flag.Parse()

	logger := core.NewSimpleLogger().WithComponent("edged").(*core.SimpleLogger)

	ca, err := tlsmanager.NewCA("edge-fabric-root", 10*365*24*time.Hour)
	if err != nil {
		logger.Error("failed to initialize local CA", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	tlsMgr, err := tlsmanager.NewManager(ca, *commonName, []string{*commonName}, []net.IP{net.ParseIP("127.0.0.1")}, 90*24*time.Hour, logger)
	if err != nil {
		logger.Error("failed to issue initial leaf certificate", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	tokens, err := discoverytoken.New(logger)
	if err != nil {
		logger.Error("failed to initialize discovery token manager", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	cfg := edge.DefaultConfig()
	cfg.Addr = *addr
	cfg.TLSConfig = tlsMgr.TLSConfig()
	svc := edge.New(cfg, tokens, passthroughUpstream{}, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := supervisor.NewBus(256, 0, nil)
	mgr := supervisor.NewManager(bus, cfg.ShutdownTimeout, logger)
	go logEvents(logger, mgr.Events())

	mgr.Spawn(ctx, supervisor.Workload{
		Name:              "edge-service",
		HealthInterval:    15 * time.Second,
		LogRotateInterval: time.Hour,
		Run:               svc.Run,
	})

	mgr.Spawn(ctx, supervisor.Workload{
		Name: "tls-rotation",
		Run: func(ctx context.Context) error {
			tlsMgr.RunRotationLoop(ctx, *rotationInterval, *renewBefore)
			return nil
		},
	})

	mgr.Run(ctx)
}

func logEvents(logger core.ComponentAwareLogger, events <-chan supervisor.Event) {
	for e := range events {
		logger.Info("supervisor event", map[string]interface{}{
			"kind": e.Kind.String(), "workload": e.Workload, "state": e.State,
		})
	}
}

// passthroughUpstream never claims a request; with no configured mesh
// peer to proxy to, dispatch falls through and reports 502, which is the
// correct behavior for a daemon started without an upstream wired in.
type passthroughUpstream struct{}

func (passthroughUpstream) ServeHTTP(http.ResponseWriter, *http.Request) bool { return false }
