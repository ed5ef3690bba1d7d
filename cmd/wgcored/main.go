// Command wgcored wires the core's Device and Peer Server to a real UDP
// transport and TUN interface. It exists to exercise the core end to end;
// the config/IPC surface, routing table, and logging policy it uses here
// are deliberately minimal since the core treats all three as external
// collaborators.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kobuchi/wgcore/internal/config"
	"github.com/kobuchi/wgcore/internal/device"
	"github.com/kobuchi/wgcore/internal/endpoint"
	"github.com/kobuchi/wgcore/internal/identity"
	"github.com/kobuchi/wgcore/internal/server"
	"github.com/kobuchi/wgcore/internal/transport"
	"github.com/kobuchi/wgcore/internal/tundevice"
	"github.com/kobuchi/wgcore/internal/tunnel"
)

var version = "dev"

func main() {
	var (
		configPath   = flag.String("config", "", "path to YAML device configuration")
		identityPath = flag.String("identity", "/etc/wgcore/identity.key", "path to identity key file")
		listenPort   = flag.Int("port", 51820, "UDP listen port")
		tunName      = flag.String("tun", "wg0", "TUN device name")
		tunIP        = flag.String("tun-ip", "", "IP/mask to assign to the TUN device (e.g. 10.0.0.1/24)")
		tunMTU       = flag.Int("mtu", 1420, "TUN device MTU")
		logLevel     = flag.String("log-level", "info", "log level: debug, info, warn, error")
		showVersion  = flag.Bool("version", false, "show version and exit")
		showIdentity = flag.Bool("show-identity", false, "show identity and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("wgcored %s\n", version)
		os.Exit(0)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))

	id, err := identity.LoadOrGenerate(*identityPath)
	if err != nil {
		log.Error("load identity", "err", err)
		os.Exit(1)
	}

	if *showIdentity {
		fmt.Printf("Public Key: %s\n", id.Hex())
		os.Exit(0)
	}

	dev := device.New(id, log)

	var cfgFile *config.File
	if *configPath != "" {
		cfgFile, err = config.Load(*configPath)
		if err != nil {
			log.Error("load config", "err", err)
			os.Exit(1)
		}
	} else {
		cfgFile = config.Default()
		cfgFile.ListenPort = *listenPort
	}

	events, err := cfgFile.ToEvents()
	if err != nil {
		log.Error("translate config to events", "err", err)
		os.Exit(1)
	}

	tp, err := transport.Listen(cfgFile.ListenPort, log)
	if err != nil {
		log.Error("bind transport", "err", err)
		os.Exit(1)
	}
	defer tp.Close()

	if len(cfgFile.STUNServers) > 0 {
		disc := endpoint.NewDiscoverer(cfgFile.STUNServers, log)
		if pub, err := disc.Discover(tp); err != nil {
			log.Warn("endpoint discovery failed", "err", err)
		} else {
			log.Info("public endpoint", "addr", pub)
		}
	}

	tun, err := newTunnel(*tunName, *tunIP, *tunMTU, log)
	if err != nil {
		log.Error("create TUN device", "err", err)
		os.Exit(1)
	}
	defer tun.Close()

	srv := server.New(dev, tp, tun, nil, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("wgcored starting", "peers", len(dev.Peers()), "listen_port", tp.Port())

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()

eventLoop:
	for _, ev := range events {
		select {
		case srv.ConfigEvents() <- ev:
		case <-ctx.Done():
			break eventLoop
		}
	}

	if err := <-runErr; err != nil && ctx.Err() == nil {
		log.Error("peer server exited", "err", err)
		os.Exit(1)
	}
	dev.Teardown()
}

// newTunnel creates the platform TUN device and assigns it the requested
// address, returning it wrapped as the tunnel.Tunnel the Peer Server reads
// from and writes to.
func newTunnel(name, cidr string, mtu int, log *slog.Logger) (tunnel.Tunnel, error) {
	dev, err := tundevice.NewLinuxTUN(name)
	if err != nil {
		return nil, err
	}
	if err := dev.SetMTU(mtu); err != nil {
		log.Warn("set TUN MTU", "err", err)
	}
	if cidr != "" {
		ip, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("parse tun-ip %q: %w", cidr, err)
		}
		if err := dev.AddIPAddress(ip, ipnet.Mask); err != nil {
			log.Warn("assign TUN address", "err", err)
		}
	}
	if err := dev.SetUp(); err != nil {
		log.Warn("bring up TUN device", "err", err)
	}
	return tundevice.NewAdapter(dev, mtu+64), nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
