package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"minitalk/internal/application"
	"minitalk/internal/config"
	"minitalk/internal/domain"
	"minitalk/internal/infrastructure/epoll"
	"minitalk/internal/infrastructure/network"
	"minitalk/internal/infrastructure/resolver"
	"minitalk/pkg/logger"
)

var version = "0.1.0"

var errHelp = errors.New("help requested")

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, errHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.Setup(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log.Info("Initializing relay server...", "version", version)

	eventLoop, err := epoll.New(log)
	if err != nil {
		log.Error("Failed to create event loop", "error", err)
		os.Exit(1)
	}
	defer eventLoop.Close()

	listenerFD, err := network.ListenTCP(cfg.Listen.Address, cfg.Listen.Port)
	if err != nil {
		log.Error("Failed to listen", "address", cfg.Listen.Address, "port", cfg.Listen.Port, "error", err)
		os.Exit(1)
	}

	opts := application.Options{
		Capacity:          cfg.Limits.Capacity,
		MaxUsernameLength: cfg.Limits.MaxUsernameLength,
		MaxLineLength:     cfg.Limits.MaxLineLength,
		MaxPendingBytes:   cfg.Limits.MaxPendingBytes,
	}
	if cfg.Resolver.ResolvePeers {
		r, err := resolver.NewPTRResolver(cfg.Resolver.Server)
		if err != nil {
			log.Error("Failed to create peer resolver", "server", cfg.Resolver.Server, "error", err)
			os.Exit(1)
		}
		opts.Resolver = r
	}

	relay, err := application.NewRelayService(eventLoop, network.SocketTransport{}, listenerFD, log, opts)
	if err != nil {
		log.Error("Failed to create relay service", "error", err)
		os.Exit(1)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for sig := range signals {
			if sig == syscall.SIGUSR1 {
				eventLoop.Submit(relay.LogDirectory)
				continue
			}
			log.Info("Shutting down", "signal", sig.String())
			eventLoop.Stop()
			return
		}
	}()

	port := cfg.Listen.Port
	if p, err := network.LocalPort(listenerFD); err == nil {
		port = p
	}
	log.Info("Relay listening", "address", cfg.Listen.Address, "port", port)

	if err := relay.Start(); err != nil {
		log.Error("Relay stopped unexpectedly", "error", err)
	}
	signal.Stop(signals)
	relay.Close()
}

// parseConfig layers defaults, the optional config file, the
// environment and finally the command line.
func parseConfig(args []string, stderr io.Writer) (*config.Config, error) {
	fs := flag.NewFlagSet("minitalk", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath   string
		address      string
		port         int
		capacity     int
		resolvePeers bool
		dnsServer    string
		logLevel     string
		logFormat    string
		showVersion  bool
		showHelp     bool
	)
	fs.StringVar(&configPath, "config", "", "YAML configuration file")
	fs.StringVarP(&address, "listen", "l", "", "Address to bind (default all IPv4)")
	fs.IntVarP(&port, "port", "p", domain.DefaultPort, "Port to listen on")
	fs.IntVar(&capacity, "capacity", domain.DefaultCapacity, "Maximum simultaneous users")
	fs.BoolVar(&resolvePeers, "resolve-peers", false, "Resolve client host names for logging")
	fs.StringVar(&dnsServer, "dns-server", config.DefaultDNSServer, "DNS server for --resolve-peers")
	fs.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: minitalk [options]\n\nText chat relay over TCP.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if showHelp {
		fs.Usage()
		return nil, errHelp
	}
	if showVersion {
		fmt.Fprintf(stderr, "minitalk %s\n", version)
		return nil, errHelp
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg := config.Default()
	if configPath == "" {
		configPath = os.Getenv("MINITALK_CONFIG")
	}
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if fs.Changed("listen") {
		cfg.Listen.Address = address
	}
	if fs.Changed("port") {
		cfg.Listen.Port = port
	}
	if fs.Changed("capacity") {
		cfg.Limits.Capacity = capacity
	}
	if fs.Changed("resolve-peers") {
		cfg.Resolver.ResolvePeers = resolvePeers
	}
	if fs.Changed("dns-server") {
		cfg.Resolver.Server = dnsServer
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
