// Package node runs the cluster node daemon: discovery, registry, and the
// telemetry broadcast server.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"exomon/internal/discovery"
	"exomon/internal/metrics"
	"exomon/internal/registry"
	"exomon/internal/service"
	"exomon/internal/sysinfo"
	"exomon/internal/telemetry"
	"exomon/pkg/config"
	"exomon/pkg/logger"
)

const version = "1.0.0"

// Run starts the node and blocks until a shutdown signal arrives.
func Run(configPath string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	baseLog := logger.Init(cfg.Node.LogLevel)

	announceInterval, err := cfg.Node.ParseAnnounceInterval()
	if err != nil {
		return fmt.Errorf("parsing announce interval: %w", err)
	}
	scanInterval, err := cfg.Node.ParseScanInterval()
	if err != nil {
		return fmt.Errorf("parsing scan interval: %w", err)
	}
	ttl, err := cfg.Node.ParseNodeTTL()
	if err != nil {
		return fmt.Errorf("parsing node TTL: %w", err)
	}
	sweepInterval, err := cfg.Node.ParseSweepInterval()
	if err != nil {
		return fmt.Errorf("parsing sweep interval: %w", err)
	}
	metricsInterval, err := cfg.Node.ParseMetricsInterval()
	if err != nil {
		return fmt.Errorf("parsing metrics interval: %w", err)
	}
	statusInterval, err := cfg.Node.ParseStatusInterval()
	if err != nil {
		return fmt.Errorf("parsing status interval: %w", err)
	}

	info, err := sysinfo.Collect()
	if err != nil {
		return fmt.Errorf("collecting system info: %w", err)
	}

	// Telemetry server and hub come up first so every later component can
	// stream through them. The server keeps the un-hooked logger; all other
	// components get a logger whose lines are mirrored into the stream.
	srv, err := telemetry.NewServer(fmt.Sprintf(":%d", cfg.Node.TelemetryPort), version, baseLog)
	if err != nil {
		return fmt.Errorf("starting telemetry server: %w", err)
	}
	defer srv.Close()
	go srv.Run()

	hub := telemetry.NewHub(srv, baseLog)
	log := baseLog.Hook(hub.LogHook())

	log.Info().
		Str("host", info.Hostname).
		Str("ip", info.IPAddress).
		Strs("capabilities", info.Capabilities).
		Msg("Starting exomon node")

	reg := registry.New(log)
	reg.Subscribe(hub.RegistryListener())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.RunSweeper(ctx, sweepInterval, ttl)

	listener, err := discovery.NewListener(
		cfg.Node.DiscoveryPort,
		cfg.Node.MulticastGroup,
		cfg.Node.Interface,
		info.IPAddress,
		reg,
		log,
	)
	if err != nil {
		return fmt.Errorf("starting discovery listener: %w", err)
	}
	defer listener.Close()
	go listener.Run()

	announcer, err := discovery.NewAnnouncer(discovery.AnnouncerConfig{
		Name:           cfg.Node.Name,
		DiscoveryPort:  cfg.Node.DiscoveryPort,
		ServicePort:    cfg.Node.ServicePort,
		BroadcastAddrs: cfg.Node.BroadcastAddrs,
		IfaceBroadcast: cfg.Node.InterfaceBroadcast,
		MulticastGroup: cfg.Node.MulticastGroup,
		Interface:      cfg.Node.Interface,
	}, log)
	if err != nil {
		return fmt.Errorf("starting announcer: %w", err)
	}
	go announcer.Run(ctx, announceInterval)

	if !cfg.Node.DisableScan {
		scanner := discovery.NewScanner(
			cfg.Node.ScanPrefixes,
			cfg.Node.ServicePort,
			cfg.Node.ScanWorkers,
			info.IPAddress,
			reg,
			log,
		)
		go scanner.Run(ctx, scanInterval)
	}

	sampler := metrics.NewSampler(cfg.Node.ServicePort, hub.PublishMetrics, log)
	go sampler.Run(ctx, metricsInterval)

	poller := service.NewPoller(cfg.Node.ServiceProcess, hub.PublishServiceStatus, log)
	go poller.Run(ctx, statusInterval)

	hub.PublishDebug("node", "exomon node started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")
	return nil
}
