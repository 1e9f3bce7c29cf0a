// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// PathEnv names the environment variable Load reads the config file
// path from.
const PathEnv = "DOCSTORE_CONFIG"

// DefaultSignalingPort is the UDP port for webrtc-direct and the TCP
// port for HTTP signaling.
const DefaultSignalingPort = 9090

// Config is the configuration shared by the docstore binaries.
type Config struct {
	// Root is the base directory for node state. ${DOCSTORE_ROOT} in
	// other paths expands to it.
	Root string `yaml:"root" json:"root" env:"DOCSTORE_ROOT"`

	Node      NodeConfig      `yaml:"node" json:"node"`
	Identity  IdentityConfig  `yaml:"identity" json:"identity"`
	PeerStore PeerStoreConfig `yaml:"peerstore" json:"peerstore"`
	Web       WebConfig       `yaml:"web" json:"web"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// NodeConfig configures the overlay node.
type NodeConfig struct {
	// Role is client, relay or full.
	Role string `yaml:"role" json:"role" env:"DOCSTORE_ROLE"`

	// ListenHost is the address listeners bind to.
	ListenHost string `yaml:"listen_host" json:"listen_host" env:"DOCSTORE_LISTEN_HOST"`

	// SignalingPort is the UDP port for webrtc-direct and the TCP port
	// the HTTP surface serves /signal on.
	SignalingPort int `yaml:"signaling_port" json:"signaling_port" env:"SIGNALING_PORT"`

	// TCPPort is the native TCP link port. Zero picks a free port.
	TCPPort int `yaml:"tcp_port" json:"tcp_port" env:"DOCSTORE_TCP_PORT"`

	// PublicIPs replace interface addresses in advertised locators.
	PublicIPs []string `yaml:"public_ips" json:"public_ips" env:"DOCSTORE_PUBLIC_IPS" envSeparator:","`

	// BootstrapPeers are locators dialed on start.
	BootstrapPeers []string `yaml:"bootstrap_peers" json:"bootstrap_peers" env:"BOOTSTRAP_PEERS" envSeparator:","`

	// Topic overrides the update topic.
	Topic string `yaml:"topic" json:"topic" env:"DOCSTORE_TOPIC"`

	// Protocol is the frame encoding requested on outbound links: json
	// or cbor.
	Protocol string `yaml:"protocol" json:"protocol" env:"DOCSTORE_PROTOCOL"`

	// Compression is none, lz4, zstd or auto.
	Compression string `yaml:"compression" json:"compression" env:"DOCSTORE_COMPRESSION"`

	// ICEServers are stun:, turn: and turns: URLs.
	ICEServers     []string `yaml:"ice_servers" json:"ice_servers" env:"DOCSTORE_ICE_SERVERS" envSeparator:","`
	TURNUsername   string   `yaml:"turn_username" json:"turn_username" env:"DOCSTORE_TURN_USERNAME"`
	TURNCredential string   `yaml:"turn_credential" json:"turn_credential" env:"DOCSTORE_TURN_CREDENTIAL"`

	// IncludeLoopback gathers loopback ICE candidates.
	IncludeLoopback bool `yaml:"include_loopback" json:"include_loopback" env:"DOCSTORE_INCLUDE_LOOPBACK"`

	// DialTimeout is a Go duration string.
	DialTimeout string `yaml:"dial_timeout" json:"dial_timeout" env:"DOCSTORE_DIAL_TIMEOUT"`
}

// IdentityConfig locates the node's key material.
type IdentityConfig struct {
	// KeyPath is the Ed25519 key file. Empty uses .p2p/identity.key
	// under the working directory.
	KeyPath string `yaml:"key_path" json:"key_path" env:"IDENTITY_KEY_PATH"`

	// PassphraseFile holds the key file passphrase; "-" reads stdin.
	PassphraseFile string `yaml:"passphrase_file" json:"passphrase_file" env:"DOCSTORE_IDENTITY_PASSPHRASE_FILE"`

	// WorkFactor is the scrypt log2(N) for newly encrypted key files.
	WorkFactor int `yaml:"work_factor" json:"work_factor" env:"DOCSTORE_IDENTITY_WORK_FACTOR"`

	// CertificatePath persists the DTLS certificate so the certhash in
	// advertised locators survives restarts. Empty generates one per
	// run.
	CertificatePath string `yaml:"certificate_path" json:"certificate_path" env:"DOCSTORE_CERTIFICATE_PATH"`
}

// PeerStoreConfig configures the persistent address book.
type PeerStoreConfig struct {
	// Path is the SQLite database. Empty disables persistence.
	Path string `yaml:"path" json:"path" env:"DOCSTORE_PEERSTORE"`

	// MaxAge prunes peers not seen for this long on start. Empty keeps
	// everything.
	MaxAge string `yaml:"max_age" json:"max_age" env:"DOCSTORE_PEERSTORE_MAX_AGE"`
}

// WebConfig configures the HTTP surface.
type WebConfig struct {
	// Disabled turns off the HTTP listener. Browsers can then not
	// signal this node.
	Disabled bool `yaml:"disabled" json:"disabled" env:"DOCSTORE_WEB_DISABLED"`
}

// LogConfig configures slog output.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" json:"level" env:"DOCSTORE_LOG_LEVEL"`

	// Format is text or json.
	Format string `yaml:"format" json:"format" env:"DOCSTORE_LOG_FORMAT"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Root: filepath.Join(homeDir, ".local", "share", "docstore"),
		Node: NodeConfig{
			Role:          "full",
			ListenHost:    "0.0.0.0",
			SignalingPort: DefaultSignalingPort,
			Protocol:      "json",
			Compression:   "auto",
			DialTimeout:   "30s",
		},
		Identity: IdentityConfig{
			CertificatePath: "${DOCSTORE_ROOT}/webrtc-cert.pem",
		},
		PeerStore: PeerStoreConfig{
			Path:   "${DOCSTORE_ROOT}/peers.db",
			MaxAge: "720h",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file named by DOCSTORE_CONFIG, or starts from Default
// when it is unset. Either way the environment overlay applies.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(PathEnv))
}

// LoadFile reads the configuration at path over Default, then applies
// environment overrides and expands ${VAR} references in paths. An
// empty path skips the file. Files ending in .json or .jsonc are
// parsed as JSON with comments; anything else is YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnvironment(); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

// loadFile merges one configuration file into c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	return c.decode(path, data)
}

func (c *Config) decode(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return nil
}

// ApplyEnvironment overrides fields whose environment variables are set
// (SIGNALING_PORT, BOOTSTRAP_PEERS, IDENTITY_KEY_PATH, DOCSTORE_*).
// Unset variables leave the field alone.
func (c *Config) ApplyEnvironment() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Root = expandVars(c.Root, vars)
	vars["DOCSTORE_ROOT"] = c.Root

	c.Identity.KeyPath = expandVars(c.Identity.KeyPath, vars)
	c.Identity.PassphraseFile = expandVars(c.Identity.PassphraseFile, vars)
	c.Identity.CertificatePath = expandVars(c.Identity.CertificatePath, vars)
	c.PeerStore.Path = expandVars(c.PeerStore.Path, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. vars take precedence
// over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var (
	validRoles        = []string{"client", "relay", "full"}
	validProtocols    = []string{"json", "cbor"}
	validCompressions = []string{"none", "lz4", "zstd", "auto"}
	validLogFormats   = []string{"text", "json"}
)

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains(validRoles, c.Node.Role) {
		errs = append(errs, fmt.Errorf("node.role must be one of %v, got %q", validRoles, c.Node.Role))
	}
	// The signaling URL advertised to browsers carries this port, so it
	// cannot be left for the kernel to pick.
	if c.Node.SignalingPort < 1 || c.Node.SignalingPort > 65535 {
		errs = append(errs, fmt.Errorf("node.signaling_port %d is out of range", c.Node.SignalingPort))
	}
	if c.Node.TCPPort < 0 || c.Node.TCPPort > 65535 {
		errs = append(errs, fmt.Errorf("node.tcp_port %d is out of range", c.Node.TCPPort))
	}
	if c.Node.TCPPort == c.Node.SignalingPort {
		errs = append(errs, fmt.Errorf("node.tcp_port %d collides with the HTTP signaling port", c.Node.TCPPort))
	}
	if !slices.Contains(validProtocols, c.Node.Protocol) {
		errs = append(errs, fmt.Errorf("node.protocol must be one of %v, got %q", validProtocols, c.Node.Protocol))
	}
	if !slices.Contains(validCompressions, c.Node.Compression) {
		errs = append(errs, fmt.Errorf("node.compression must be one of %v, got %q", validCompressions, c.Node.Compression))
	}
	if _, err := parseDuration(c.Node.DialTimeout); err != nil {
		errs = append(errs, fmt.Errorf("node.dial_timeout: %w", err))
	}
	if c.Identity.WorkFactor < 0 || c.Identity.WorkFactor > 30 {
		errs = append(errs, fmt.Errorf("identity.work_factor %d is out of range", c.Identity.WorkFactor))
	}
	if _, err := parseDuration(c.PeerStore.MaxAge); err != nil {
		errs = append(errs, fmt.Errorf("peerstore.max_age: %w", err))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains(validLogFormats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of %v, got %q", validLogFormats, c.Log.Format))
	}

	return errors.Join(errs...)
}

// DialTimeoutDuration parses Node.DialTimeout. Zero means the node's
// default.
func (n NodeConfig) DialTimeoutDuration() (time.Duration, error) {
	return parseDuration(n.DialTimeout)
}

// MaxAgeDuration parses PeerStore.MaxAge. Zero disables pruning.
func (p PeerStoreConfig) MaxAgeDuration() (time.Duration, error) {
	return parseDuration(p.MaxAge)
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

func parseDuration(text string) (time.Duration, error) {
	if text == "" {
		return 0, nil
	}
	duration, err := time.ParseDuration(text)
	if err != nil {
		return 0, err
	}
	if duration < 0 {
		return 0, fmt.Errorf("negative duration %s", text)
	}
	return duration, nil
}

// EnsurePaths creates the directories holding configured state files.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Identity.KeyPath, c.Identity.CertificatePath, c.PeerStore.Path} {
		if path == "" {
			continue
		}
		directory := filepath.Dir(path)
		if err := os.MkdirAll(directory, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	return nil
}
