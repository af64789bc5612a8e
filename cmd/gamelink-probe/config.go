package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gamelink-protocol/gamelink-go/pkg/cert"
	"github.com/gamelink-protocol/gamelink-go/pkg/connection"
	"github.com/gamelink-protocol/gamelink-go/pkg/multicast"
	"github.com/gamelink-protocol/gamelink-go/pkg/transport"
)

// Config is the probe configuration. It is loaded from YAML and then
// overlaid with explicitly set flags.
type Config struct {
	Server      ServerConfig    `yaml:"server"`
	Multicast   MulticastConfig `yaml:"multicast"`
	ProtocolLog string          `yaml:"protocol_log"`
	LogLevel    string          `yaml:"log_level"`
}

// ServerConfig describes the TLS server connection.
type ServerConfig struct {
	Address          string        `yaml:"address"`
	ServerName       string        `yaml:"server_name"`
	CA               string        `yaml:"ca"`
	Cert             string        `yaml:"cert"`
	Key              string        `yaml:"key"`
	Insecure         bool          `yaml:"insecure"`
	KeepAlive        bool          `yaml:"keep_alive"`
	NoDelay          *bool         `yaml:"no_delay"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	AutoReconnect    bool          `yaml:"auto_reconnect"`
	ReconnectInitial time.Duration `yaml:"reconnect_initial"`
	ReconnectMax     time.Duration `yaml:"reconnect_max"`
}

// MulticastConfig describes the inbound group listener.
type MulticastConfig struct {
	Address    string        `yaml:"address"`
	Interface  string        `yaml:"interface"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ConnectTimeout: 10 * time.Second,
			AutoReconnect:  true,
		},
		Multicast: MulticastConfig{
			RetryDelay: multicast.DefaultRetryDelay,
		},
		LogLevel: "info",
	}
}

// LoadConfig reads a YAML file over the defaults. Unknown keys are errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration describes something to do.
func (c Config) Validate() error {
	if c.Server.Address == "" && c.Multicast.Address == "" {
		return errors.New("nothing to probe: set a server address, a multicast address, or both")
	}
	if (c.Server.Cert == "") != (c.Server.Key == "") {
		return errors.New("client certificate and key must be given together")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// clientConfig builds the transport configuration, loading PEM material.
func (c ServerConfig) clientConfig() (transport.ClientConfig, error) {
	cc := transport.DefaultClientConfig(c.Address)
	cc.KeepAlive = c.KeepAlive
	if c.NoDelay != nil {
		cc.NoDelay = *c.NoDelay
	}
	cc.ConnectTimeout = c.ConnectTimeout
	cc.Session.ServerName = c.ServerName
	cc.Session.InsecureSkipVerify = c.Insecure

	if c.CA != "" {
		pool, err := cert.LoadCertPool(c.CA)
		if err != nil {
			return cc, err
		}
		cc.Session.RootCAs = pool
	}
	if c.Cert != "" {
		pair, err := cert.LoadKeyPair(c.Cert, c.Key)
		if err != nil {
			return cc, err
		}
		if err := cert.CheckValidity(pair.Leaf, time.Now()); err != nil {
			return cc, fmt.Errorf("client certificate %s: %w", c.Cert, err)
		}
		cc.Session.Certificates = []tls.Certificate{pair}
	}
	return cc, nil
}

// backoff returns the reconnect schedule for the server connection.
func (c ServerConfig) backoff() *connection.Backoff {
	cfg := connection.DefaultBackoffConfig()
	if c.ReconnectInitial > 0 {
		cfg.Initial = c.ReconnectInitial
	}
	if c.ReconnectMax > 0 {
		cfg.Max = c.ReconnectMax
	}
	return connection.NewBackoffWithConfig(cfg)
}

// listenerConfig builds the multicast listener configuration.
func (c MulticastConfig) listenerConfig() (multicast.Config, error) {
	lc := multicast.Config{
		Address:    c.Address,
		RetryDelay: c.RetryDelay,
	}
	if c.Interface != "" {
		iface, err := net.InterfaceByName(c.Interface)
		if err != nil {
			return lc, fmt.Errorf("interface %s: %w", c.Interface, err)
		}
		lc.Interface = iface
	}
	return lc, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
	}
}
