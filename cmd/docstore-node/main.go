// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// docstore-node runs a full or relay node on the docstore overlay. It
// listens for webrtc-direct links on SIGNALING_PORT (UDP), native TCP
// links on the configured TCP port, and serves the HTTP surface (offer
// signaling, the browser harness, status and the event stream) on
// SIGNALING_PORT (TCP).
//
// Configuration comes from an optional YAML or JSONC file named by
// --config or DOCSTORE_CONFIG, overlaid by environment variables and
// then by flags. Log level changes in the config file apply without a
// restart.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/clock"
	"github.com/simplep2p/docstore/lib/codec"
	"github.com/simplep2p/docstore/lib/config"
	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/peerstore"
	"github.com/simplep2p/docstore/lib/process"
	"github.com/simplep2p/docstore/lib/secret"
	"github.com/simplep2p/docstore/lib/version"
	"github.com/simplep2p/docstore/lib/wire"
	"github.com/simplep2p/docstore/node"
	"github.com/simplep2p/docstore/transport"
	"github.com/simplep2p/docstore/web"
)

const programName = "docstore-node"

// passphraseEnv holds the identity key passphrase. It is cleared from
// the environment once read.
const passphraseEnv = "DOCSTORE_IDENTITY_PASSPHRASE"

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

// flags holds command-line overrides. Unset flags leave the loaded
// configuration alone.
type flags struct {
	configPath     string
	role           string
	signalingPort  int
	tcpPort        int
	bootstrapPeers []string
	keyPath        string
	passphraseFile string
	logLevel       string
	logFormat      string
	noWeb          bool
	showVersion    bool
}

func parseFlags(args []string) (*flags, *pflag.FlagSet, error) {
	var parsed flags
	flagSet := pflag.NewFlagSet(programName, pflag.ContinueOnError)
	flagSet.StringVar(&parsed.configPath, "config", os.Getenv(config.PathEnv), "config file (YAML, or JSON with comments)")
	flagSet.StringVar(&parsed.role, "role", "", "node role: full, relay or client")
	flagSet.IntVar(&parsed.signalingPort, "signaling-port", 0, "UDP port for webrtc-direct and TCP port for HTTP")
	flagSet.IntVar(&parsed.tcpPort, "tcp-port", 0, "TCP port for native links")
	flagSet.StringSliceVar(&parsed.bootstrapPeers, "bootstrap", nil, "bootstrap locator (repeatable, comma separated)")
	flagSet.StringVar(&parsed.keyPath, "key", "", "identity key file")
	flagSet.StringVar(&parsed.passphraseFile, "passphrase-file", "", "file holding the identity key passphrase (- for stdin)")
	flagSet.StringVar(&parsed.logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.StringVar(&parsed.logFormat, "log-format", "", "text or json")
	flagSet.BoolVar(&parsed.noWeb, "no-web", false, "do not serve the HTTP surface")
	flagSet.BoolVar(&parsed.showVersion, "version", false, "print version information and exit")
	flagSet.SetOutput(io.Discard)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, flagSet, err
		}
		return nil, flagSet, process.Usagef("%v", err)
	}
	if flagSet.NArg() > 0 {
		return nil, flagSet, process.Usagef("unexpected argument %q", flagSet.Arg(0))
	}
	return &parsed, flagSet, nil
}

// apply overlays the flags that were set onto cfg.
func (f *flags) apply(flagSet *pflag.FlagSet, cfg *config.Config) {
	if flagSet.Changed("role") {
		cfg.Node.Role = f.role
	}
	if flagSet.Changed("signaling-port") {
		cfg.Node.SignalingPort = f.signalingPort
	}
	if flagSet.Changed("tcp-port") {
		cfg.Node.TCPPort = f.tcpPort
	}
	if flagSet.Changed("bootstrap") {
		cfg.Node.BootstrapPeers = f.bootstrapPeers
	}
	if flagSet.Changed("key") {
		cfg.Identity.KeyPath = f.keyPath
	}
	if flagSet.Changed("passphrase-file") {
		cfg.Identity.PassphraseFile = f.passphraseFile
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if flagSet.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if f.noWeb {
		cfg.Web.Disabled = true
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `%s runs a docstore overlay node.

Usage:
  %s [flags]

Environment:
  SIGNALING_PORT     UDP port for webrtc-direct, TCP port for HTTP (default %d)
  BOOTSTRAP_PEERS    comma-separated locators dialed on start
  IDENTITY_KEY_PATH  identity key file
  DOCSTORE_CONFIG    config file

Flags:
`, programName, programName, config.DefaultSignalingPort)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

func run(args []string) error {
	parsed, flagSet, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		printHelp(flagSet)
		return nil
	}
	if err != nil {
		return err
	}
	if parsed.showVersion {
		fmt.Printf("%s %s\n", programName, version.Full())
		return nil
	}

	cfg, err := loadConfig(parsed, flagSet)
	if err != nil {
		return err
	}

	var level slog.LevelVar
	logLevel, _ := cfg.Log.SlogLevel()
	level.Set(logLevel)
	logger := newLogger(os.Stderr, cfg.Log.Format, &level)

	ctx, stop := process.SignalContext(context.Background())
	defer stop()

	if parsed.configPath != "" {
		go func() {
			err := config.Watch(ctx, parsed.configPath, logger, func(reloaded *config.Config) {
				parsed.apply(flagSet, reloaded)
				if newLevel, err := reloaded.Log.SlogLevel(); err == nil && newLevel != level.Level() {
					logger.Info("log level changed", "level", newLevel)
					level.Set(newLevel)
				}
			})
			if err != nil && ctx.Err() == nil {
				logger.Warn("config watch stopped", "error", err)
			}
		}()
	}

	return serve(ctx, cfg, logger)
}

// loadConfig reads the config file and environment, applies flags and
// validates the result.
func loadConfig(parsed *flags, flagSet *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.LoadFile(parsed.configPath)
	if err != nil {
		return nil, err
	}
	parsed.apply(flagSet, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(output io.Writer, format string, level slog.Leveler) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(output, options))
	}
	return slog.New(slog.NewTextHandler(output, options))
}

// serve builds the node and the HTTP surface and runs both until ctx is
// cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	keypair, err := loadIdentity(cfg.Identity, logger)
	if err != nil {
		return err
	}

	nodeConfig, cleanup, err := buildNodeConfig(ctx, cfg, keypair, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	overlay, err := node.New(nodeConfig)
	if err != nil {
		return err
	}

	logger.Info("starting node",
		"peer", keypair.PeerID(),
		"role", nodeConfig.Role,
		"topic", overlay.Topic(),
		"version", version.Info(),
	)
	for _, locator := range overlay.Addresses() {
		logger.Info("listening", "address", locator.String())
	}

	var server *web.Server
	if nodeConfig.Role != node.RoleClient && !cfg.Web.Disabled {
		server, err = web.NewServer(web.Config{
			Address: net.JoinHostPort(cfg.Node.ListenHost, strconv.Itoa(cfg.Node.SignalingPort)),
			Node:    overlay,
			Logger:  logger.With("component", "web"),
		})
		if err != nil {
			return err
		}
	}

	runContext, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errsLock sync.Mutex
		errs     []error
	)
	record := func(err error) {
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		errsLock.Lock()
		errs = append(errs, err)
		errsLock.Unlock()
		cancel()
	}

	wg.Go(func() { record(overlay.Run(runContext)) })
	if server != nil {
		wg.Go(func() { record(server.Serve(runContext)) })
	}
	wg.Wait()
	logger.Info("node stopped")
	return errors.Join(errs...)
}

// loadIdentity loads the identity key, creating it on first run. A
// passphrase comes from the environment, a file, or an interactive
// prompt when the existing key is encrypted and stdin is a terminal.
func loadIdentity(cfg config.IdentityConfig, logger *slog.Logger) (*identity.Keypair, error) {
	keyPath := cfg.KeyPath
	if keyPath == "" {
		keyPath = identity.DefaultKeyPath()
	}

	passphrase, err := secret.FromEnvironment(passphraseEnv)
	if err != nil {
		return nil, err
	}
	if passphrase == nil && cfg.PassphraseFile != "" {
		passphrase, err = secret.ReadFromPath(cfg.PassphraseFile)
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
	}
	if passphrase != nil {
		defer passphrase.Close()
	}

	options := identity.KeyFileOptions{
		Passphrase: passphrase,
		WorkFactor: cfg.WorkFactor,
		Logger:     logger,
	}
	keypair, err := identity.LoadOrCreate(keyPath, options)
	if errors.Is(err, identity.ErrPassphraseRequired) && passphrase == nil {
		prompted, promptErr := secret.Prompt(os.Stdin, os.Stderr, "identity key passphrase: ")
		if promptErr != nil {
			return nil, errors.Join(err, promptErr)
		}
		defer prompted.Close()
		options.Passphrase = prompted
		keypair, err = identity.Load(keyPath, options)
	}
	if err != nil {
		return nil, fmt.Errorf("loading identity %s: %w", keyPath, err)
	}
	return keypair, nil
}

// buildNodeConfig translates the file configuration into node.Config.
// The returned cleanup closes the peer store.
func buildNodeConfig(ctx context.Context, cfg *config.Config, keypair *identity.Keypair, logger *slog.Logger) (node.Config, func(), error) {
	cleanup := func() {}

	role, err := node.ParseRole(cfg.Node.Role)
	if err != nil {
		return node.Config{}, cleanup, err
	}
	compression, err := codec.ParseCompression(cfg.Node.Compression)
	if err != nil {
		return node.Config{}, cleanup, err
	}
	dialTimeout, err := cfg.Node.DialTimeoutDuration()
	if err != nil {
		return node.Config{}, cleanup, err
	}

	protocol, err := frameProtocol(cfg.Node.Protocol)
	if err != nil {
		return node.Config{}, cleanup, err
	}

	bootstrap, err := address.ParseList(strings.Join(cfg.Node.BootstrapPeers, ","))
	for _, rejected := range address.ListErrors(err) {
		logger.Warn("skipping bootstrap peer", "error", rejected)
	}

	certificate, err := transport.LoadOrCreateCertificate(cfg.Identity.CertificatePath, logger)
	if err != nil {
		return node.Config{}, cleanup, err
	}

	nodeConfig := node.Config{
		Keypair:               keypair,
		Role:                  role,
		Topic:                 cfg.Node.Topic,
		AgentVersion:          version.Agent(programName),
		ListenHost:            cfg.Node.ListenHost,
		WebRTCPort:            cfg.Node.SignalingPort,
		DisableWebRTCListener: role == node.RoleClient,
		TCPPort:               cfg.Node.TCPPort,
		DisableTCPListener:    role == node.RoleClient,
		PublicIPs:             cfg.Node.PublicIPs,
		IncludeLoopback:       cfg.Node.IncludeLoopback,
		Certificate:           certificate,
		ICE:                   transport.ICEConfigFromURLs(cfg.Node.ICEServers, cfg.Node.TURNUsername, cfg.Node.TURNCredential),
		Protocol:              protocol,
		Compression:           compression,
		BootstrapPeers:        bootstrap,
		DialTimeout:           dialTimeout,
		Logger:                logger,
	}

	if cfg.PeerStore.Path != "" {
		store, err := openPeerStore(ctx, cfg.PeerStore, logger)
		if err != nil {
			return node.Config{}, cleanup, err
		}
		nodeConfig.PeerStore = store
		cleanup = func() {
			if err := store.Close(); err != nil {
				logger.Warn("closing peer store", "error", err)
			}
		}
	}
	return nodeConfig, cleanup, nil
}

// frameProtocol maps the configured encoding name to a frame protocol.
func frameProtocol(name string) (string, error) {
	switch name {
	case "json":
		return wire.ProtocolJSON, nil
	case "cbor":
		return wire.ProtocolCBOR, nil
	default:
		return "", fmt.Errorf("unknown frame protocol %q (want json or cbor)", name)
	}
}

// openPeerStore opens the peer store and drops entries not seen within
// max_age.
func openPeerStore(ctx context.Context, cfg config.PeerStoreConfig, logger *slog.Logger) (*peerstore.Store, error) {
	wallClock := clock.Real()
	store, err := peerstore.Open(cfg.Path, wallClock, logger.With("component", "peerstore"))
	if err != nil {
		return nil, fmt.Errorf("opening peer store: %w", err)
	}
	maxAge, err := cfg.MaxAgeDuration()
	if err != nil {
		store.Close()
		return nil, err
	}
	if maxAge > 0 {
		pruneContext, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pruned, err := store.Prune(pruneContext, wallClock.Now().Add(-maxAge))
		if err != nil {
			logger.Warn("pruning peer store", "error", err)
		} else if pruned > 0 {
			logger.Info("pruned stale peers", "count", pruned)
		}
	}
	return store, nil
}
