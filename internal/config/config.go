package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"Assembler-Trainman/internal/logging"
	"Assembler-Trainman/internal/trainman"
)

const (
	ModeHost   = "host"
	ModeClient = "client"

	TransportMemory = "memory"
	TransportLibp2p = "libp2p"
)

// Config is the daemon configuration.
type Config struct {
	Mode              string
	Address           string
	HandshakeInterval time.Duration
	Debug             bool
	Log               logging.Config
	Transport         TransportConfig
	HTTPAddr          string
	Clients           []trainman.ClientSpec
}

type TransportConfig struct {
	Kind            string
	Listen          []string
	Bootstrap       []string
	Rendezvous      string
	MDNS            bool
	IdentityKeyFile string
}

type fileConfig struct {
	Mode              string `toml:"mode"`
	Address           string `toml:"address"`
	HandshakeInterval string `toml:"handshake_interval"`
	Debug             bool   `toml:"debug"`
	Log               struct {
		Level       string `toml:"level"`
		Format      string `toml:"format"`
		Development bool   `toml:"development"`
	} `toml:"log"`
	Transport struct {
		Kind            string   `toml:"kind"`
		Listen          []string `toml:"listen"`
		Bootstrap       []string `toml:"bootstrap"`
		Rendezvous      string   `toml:"rendezvous"`
		MDNS            bool     `toml:"mdns"`
		IdentityKeyFile string   `toml:"identity_key_file"`
	} `toml:"transport"`
	HTTP struct {
		Addr string `toml:"addr"`
	} `toml:"http"`
	Clients []struct {
		ID      string `toml:"id"`
		Address string `toml:"address"`
	} `toml:"clients"`
}

func Default() Config {
	return Config{
		Mode:              ModeHost,
		HandshakeInterval: trainman.DefaultHandshakeInterval,
		Log:               logging.Config{Level: "info", Format: "console"},
		Transport: TransportConfig{
			Kind:       TransportLibp2p,
			Rendezvous: "trainman",
			MDNS:       true,
		},
		HTTPAddr: ":8090",
	}
}

// Load reads a TOML file over Default. Keys absent from the file keep their defaults.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := apply(Default(), raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

// Parse is Load for in-memory TOML.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	return apply(Default(), raw, meta)
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if meta.IsDefined("mode") {
		cfg.Mode = strings.ToLower(strings.TrimSpace(raw.Mode))
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("handshake_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandshakeInterval))
		if err != nil {
			return Config{}, fmt.Errorf("parse handshake_interval: %w", err)
		}
		cfg.HandshakeInterval = d
	}
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = raw.Log.Level
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = raw.Log.Format
	}
	if meta.IsDefined("log", "development") {
		cfg.Log.Development = raw.Log.Development
	}
	if meta.IsDefined("transport", "kind") {
		cfg.Transport.Kind = strings.ToLower(strings.TrimSpace(raw.Transport.Kind))
	}
	if meta.IsDefined("transport", "listen") {
		cfg.Transport.Listen = raw.Transport.Listen
	}
	if meta.IsDefined("transport", "bootstrap") {
		cfg.Transport.Bootstrap = raw.Transport.Bootstrap
	}
	if meta.IsDefined("transport", "rendezvous") {
		cfg.Transport.Rendezvous = strings.TrimSpace(raw.Transport.Rendezvous)
	}
	if meta.IsDefined("transport", "mdns") {
		cfg.Transport.MDNS = raw.Transport.MDNS
	}
	if meta.IsDefined("transport", "identity_key_file") {
		cfg.Transport.IdentityKeyFile = strings.TrimSpace(raw.Transport.IdentityKeyFile)
	}
	if meta.IsDefined("http", "addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTP.Addr)
	}
	for _, c := range raw.Clients {
		cfg.Clients = append(cfg.Clients, trainman.ClientSpec{
			ID:      strings.TrimSpace(c.ID),
			Address: strings.TrimSpace(c.Address),
		})
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	switch cfg.Mode {
	case ModeHost, ModeClient:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeHost, ModeClient, cfg.Mode)
	}
	if cfg.Address == "" {
		return fmt.Errorf("address is required")
	}
	if cfg.HandshakeInterval <= 0 {
		return fmt.Errorf("handshake_interval must be positive")
	}
	switch cfg.Transport.Kind {
	case TransportMemory, TransportLibp2p:
	default:
		return fmt.Errorf("transport.kind must be %q or %q, got %q", TransportMemory, TransportLibp2p, cfg.Transport.Kind)
	}
	if cfg.Mode == ModeClient && len(cfg.Clients) > 0 {
		return fmt.Errorf("clients are only valid in host mode")
	}
	seen := make(map[string]struct{}, len(cfg.Clients))
	for i, c := range cfg.Clients {
		if c.ID == "" {
			return fmt.Errorf("clients[%d] missing id", i)
		}
		if c.Address == "" {
			return fmt.Errorf("clients[%d] missing address", i)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("clients[%d] duplicate id %q", i, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}
