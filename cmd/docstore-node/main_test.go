// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/codec"
	"github.com/simplep2p/docstore/lib/config"
	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/process"
	"github.com/simplep2p/docstore/lib/testutil"
	"github.com/simplep2p/docstore/lib/wire"
	"github.com/simplep2p/docstore/node"
)

func TestParseFlags_OverridesOnlyChangedFields(t *testing.T) {
	parsed, flagSet, err := parseFlags([]string{
		"--role", "relay",
		"--signaling-port", "9191",
		"--bootstrap", "/ip4/10.0.0.1/tcp/4001,/ip4/10.0.0.2/tcp/4001",
		"--no-web",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}

	cfg := config.Default()
	cfg.Node.TCPPort = 4500
	cfg.Log.Level = "debug"
	parsed.apply(flagSet, cfg)

	if cfg.Node.Role != "relay" || cfg.Node.SignalingPort != 9191 {
		t.Errorf("role %q port %d", cfg.Node.Role, cfg.Node.SignalingPort)
	}
	if len(cfg.Node.BootstrapPeers) != 2 {
		t.Errorf("bootstrap peers = %v", cfg.Node.BootstrapPeers)
	}
	if !cfg.Web.Disabled {
		t.Error("--no-web did not disable the web surface")
	}
	if cfg.Node.TCPPort != 4500 || cfg.Log.Level != "debug" {
		t.Error("unset flags overwrote configured values")
	}
}

func TestParseFlags_Errors(t *testing.T) {
	if _, _, err := parseFlags([]string{"--no-such-flag"}); !errors.Is(err, process.ErrUsage) {
		t.Errorf("unknown flag: %v, want ErrUsage", err)
	}
	if _, _, err := parseFlags([]string{"stray"}); !errors.Is(err, process.ErrUsage) {
		t.Errorf("positional argument: %v, want ErrUsage", err)
	}
	if _, _, err := parseFlags([]string{"--help"}); !errors.Is(err, pflag.ErrHelp) {
		t.Errorf("--help: %v, want ErrHelp", err)
	}
}

func TestNewLogger(t *testing.T) {
	var output bytes.Buffer
	var level slog.LevelVar
	level.Set(slog.LevelWarn)

	logger := newLogger(&output, "json", &level)
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")
	if strings.Contains(output.String(), "hidden") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(output.String(), `"msg":"shown"`) {
		t.Errorf("json handler output = %q", output.String())
	}

	output.Reset()
	level.Set(slog.LevelInfo)
	newLogger(&output, "text", &level).Info("plain")
	if !strings.Contains(output.String(), "msg=plain") {
		t.Errorf("text handler output = %q", output.String())
	}
}

func TestFrameProtocol(t *testing.T) {
	if got, err := frameProtocol("cbor"); err != nil || got != wire.ProtocolCBOR {
		t.Errorf("cbor = %q, %v", got, err)
	}
	if got, err := frameProtocol("json"); err != nil || got != wire.ProtocolJSON {
		t.Errorf("json = %q, %v", got, err)
	}
	if _, err := frameProtocol("xml"); err == nil {
		t.Error("unknown protocol mapped to a frame protocol")
	}
}

// unsetPassphrase clears the passphrase variable for the test.
func unsetPassphrase(t *testing.T) {
	t.Helper()
	t.Setenv(passphraseEnv, "unused")
	os.Unsetenv(passphraseEnv)
}

func TestLoadIdentity_CreatesThenReloads(t *testing.T) {
	unsetPassphrase(t)
	directory := t.TempDir()
	cfg := config.IdentityConfig{KeyPath: filepath.Join(directory, "identity.key")}

	first, err := loadIdentity(cfg, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := loadIdentity(cfg, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if first.PeerID() != second.PeerID() {
		t.Errorf("identity changed across loads: %s then %s", first.PeerID(), second.PeerID())
	}
}

func TestLoadIdentity_Encrypted(t *testing.T) {
	directory := t.TempDir()
	cfg := config.IdentityConfig{
		KeyPath:    filepath.Join(directory, "identity.key"),
		WorkFactor: 10,
	}

	t.Setenv(passphraseEnv, "correct horse")
	created, err := loadIdentity(cfg, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("creating encrypted identity: %v", err)
	}
	if _, set := os.LookupEnv(passphraseEnv); set {
		t.Error("passphrase left in the environment")
	}

	passphraseFile := filepath.Join(directory, "passphrase")
	if err := os.WriteFile(passphraseFile, []byte("correct horse\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg.PassphraseFile = passphraseFile
	loaded, err := loadIdentity(cfg, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("loading with passphrase file: %v", err)
	}
	if loaded.PeerID() != created.PeerID() {
		t.Error("passphrase file loaded a different identity")
	}

	// Without a passphrase the key cannot be opened, and there is no
	// terminal to prompt on.
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer devNull.Close()
	stdin := os.Stdin
	os.Stdin = devNull
	defer func() { os.Stdin = stdin }()
	cfg.PassphraseFile = ""
	if _, err := loadIdentity(cfg, testutil.DiscardLogger()); !errors.Is(err, identity.ErrPassphraseRequired) {
		t.Errorf("loading without passphrase: %v, want ErrPassphraseRequired", err)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	directory := t.TempDir()
	cfg := config.Default()
	cfg.Root = directory
	cfg.Node.ListenHost = "127.0.0.1"
	cfg.Node.SignalingPort = 0
	cfg.Node.Protocol = "cbor"
	cfg.Node.Compression = "lz4"
	cfg.Node.BootstrapPeers = []string{"/ip4/10.0.0.1/tcp/4001"}
	cfg.Identity.CertificatePath = filepath.Join(directory, "webrtc-cert.pem")
	cfg.PeerStore.Path = filepath.Join(directory, "peers.db")
	return cfg
}

func TestBuildNodeConfig(t *testing.T) {
	cfg := testConfig(t)
	keypair, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	nodeConfig, cleanup, err := buildNodeConfig(context.Background(), cfg, keypair, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("buildNodeConfig: %v", err)
	}
	defer cleanup()

	if nodeConfig.Role != node.RoleFull {
		t.Errorf("role = %q", nodeConfig.Role)
	}
	if nodeConfig.Protocol != wire.ProtocolCBOR || nodeConfig.Compression != codec.CompressLZ4 {
		t.Errorf("protocol %q compression %q", nodeConfig.Protocol, nodeConfig.Compression)
	}
	if len(nodeConfig.BootstrapPeers) != 1 {
		t.Errorf("bootstrap peers = %v", nodeConfig.BootstrapPeers)
	}
	if nodeConfig.Certificate == nil || nodeConfig.PeerStore == nil {
		t.Error("certificate or peer store not set up")
	}
	if nodeConfig.DisableWebRTCListener || nodeConfig.DisableTCPListener {
		t.Error("full node has a listener disabled")
	}
	if !strings.HasPrefix(nodeConfig.AgentVersion, programName+"/") {
		t.Errorf("agent version = %q", nodeConfig.AgentVersion)
	}
}

func TestBuildNodeConfig_ClientDoesNotListen(t *testing.T) {
	cfg := testConfig(t)
	cfg.Node.Role = "client"
	cfg.PeerStore.Path = ""
	keypair, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	nodeConfig, cleanup, err := buildNodeConfig(context.Background(), cfg, keypair, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("buildNodeConfig: %v", err)
	}
	defer cleanup()
	if !nodeConfig.DisableWebRTCListener || !nodeConfig.DisableTCPListener {
		t.Error("client role left a listener enabled")
	}
	if nodeConfig.PeerStore != nil {
		t.Error("peer store opened without a path")
	}
}

func TestBuildNodeConfig_SkipsBadBootstrapPeers(t *testing.T) {
	cfg := testConfig(t)
	cfg.PeerStore.Path = ""
	cfg.Node.BootstrapPeers = []string{
		"/ip4/127.0.0.1/tcp/4001",
		" /ip4/127.0.0.2/tcp/4001",
		"",
		"garbage",
		"/ip4/not-an-ip/tcp/1",
	}
	keypair, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var logged bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logged, nil))
	nodeConfig, cleanup, err := buildNodeConfig(context.Background(), cfg, keypair, logger)
	if err != nil {
		t.Fatalf("buildNodeConfig: %v", err)
	}
	defer cleanup()

	got := address.Strings(nodeConfig.BootstrapPeers)
	want := []string{"/ip4/127.0.0.1/tcp/4001", "/ip4/127.0.0.2/tcp/4001"}
	if !slices.Equal(got, want) {
		t.Errorf("bootstrap peers = %v, want %v", got, want)
	}
	if count := strings.Count(logged.String(), "skipping bootstrap peer"); count != 2 {
		t.Errorf("logged %d skipped entries, want 2:\n%s", count, logged.String())
	}
}

func TestBuildNodeConfig_UnknownProtocol(t *testing.T) {
	cfg := testConfig(t)
	cfg.Node.Protocol = "xml"
	keypair, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, cleanup, err := buildNodeConfig(context.Background(), cfg, keypair, testutil.DiscardLogger()); err == nil {
		cleanup()
		t.Fatal("unknown frame protocol accepted")
	}
}
