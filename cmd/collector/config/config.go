// Package config provides configuration parsing for the collector.
//
// Settings come from command-line flags, environment variables and an
// optional YAML file holding the peer list. Precedence, highest first:
//  1. Command-line flags
//  2. Environment variables
//  3. YAML config file
//  4. Default values
//
// Example file:
//
//	grpc_address: ":50051"
//	rest_address: ":8080"
//	memory_storage_size: 1024
//	message_channel_size: 128
//	peers:
//	  - identifier: shallan
//	    address: http://10.0.0.5:50051
//	    polling_interval: 5
//	  - identifier: web-1
//	    kind: http
//	    address: http://10.0.0.6:9100/stats
//	    polling_interval: 10
//	    timeout: 2s
//	    options:
//	      valuePath: cpu.usage
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HatiCode/hawkeye/pkg/adapters"
	"github.com/HatiCode/hawkeye/pkg/storage"
	"github.com/HatiCode/hawkeye/pkg/tls"
)

// Config holds all collector configuration.
type Config struct {
	HTTPListen string
	GRPCListen string
	RESPListen string

	StorageSize  int
	MailboxSize  int
	QueryTimeout time.Duration

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string

	ConfigFile string
	LogFormat  string
	LogLevel   string
	TLS        tls.Config

	Peers []PeerConfig
}

// PeerConfig describes one polled peer.
type PeerConfig struct {
	// Identifier tags every sample read from this peer. Defaults to the
	// address host.
	Identifier string `yaml:"identifier"`
	Address    string `yaml:"address"`
	// PollingInterval is in whole seconds.
	PollingInterval uint64            `yaml:"polling_interval"`
	Kind            string            `yaml:"kind"`
	Timeout         time.Duration     `yaml:"timeout"`
	Options         map[string]string `yaml:"options"`
}

// Interval returns the polling interval as a duration.
func (p PeerConfig) Interval() time.Duration {
	return time.Duration(p.PollingInterval) * time.Second
}

// AdapterConfig returns the map handed to adapters.New: the options plus the
// address under the key the adapter kind expects.
func (p PeerConfig) AdapterConfig() map[string]string {
	cfg := make(map[string]string, len(p.Options)+1)
	for k, v := range p.Options {
		cfg[k] = v
	}
	key := "url"
	if p.Kind == adapters.KindGRPC {
		key = "address"
	}
	if _, ok := cfg[key]; !ok {
		cfg[key] = p.Address
	}
	return cfg
}

// fileConfig is the YAML document. Pointer fields distinguish "absent" from
// zero.
type fileConfig struct {
	GRPCAddress        *string        `yaml:"grpc_address"`
	RESTAddress        *string        `yaml:"rest_address"`
	RESPAddress        *string        `yaml:"resp_address"`
	MemoryStorageSize  *int           `yaml:"memory_storage_size"`
	MessageChannelSize *int           `yaml:"message_channel_size"`
	QueryTimeout       *time.Duration `yaml:"query_timeout"`
	Peers              []PeerConfig   `yaml:"peers"`
}

// ParseFlags parses os.Args and the environment, loads the config file and
// validates the result. It exits the process on error.
func ParseFlags() *Config {
	cfg, err := Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// Parse builds a validated Config from args, the environment and the config
// file named by -config-file.
func Parse(args []string) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("collector", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.HTTPListen, "http-listen", getEnv("HTTP_LISTEN", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":50051"), "gRPC listen address")
	fs.StringVar(&cfg.RESPListen, "resp-listen", getEnv("RESP_LISTEN", ""), "RESP listen address (empty disables)")

	fs.IntVar(&cfg.StorageSize, "storage-size", getEnvInt("STORAGE_SIZE", 1024), "Maximum number of buffered samples")
	fs.IntVar(&cfg.MailboxSize, "mailbox-size", getEnvInt("MAILBOX_SIZE", 128), "Storage actor mailbox capacity")
	fs.DurationVar(&cfg.QueryTimeout, "query-timeout", getEnvDuration("QUERY_TIMEOUT", 2*time.Second), "Maximum wait for a history query")

	fs.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "History backend: memory or redis")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	fs.StringVar(&cfg.RedisKey, "redis-key", getEnv("REDIS_KEY", storage.DefaultRedisKey), "Redis list key")

	fs.StringVar(&cfg.ConfigFile, "config-file", getEnv("CONFIG_FILE", ""), "YAML config file with the peer list")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable TLS for the HTTP and gRPC listeners")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.ConfigFile != "" {
		explicit := make(map[string]bool)
		fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

		if err := cfg.loadFile(cfg.ConfigFile, explicit); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, explicit map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	// file values only fill settings nobody set on the command line or in
	// the environment
	fill := func(flagName, envKey string, apply func()) {
		if explicit[flagName] || os.Getenv(envKey) != "" {
			return
		}
		apply()
	}
	if fc.RESTAddress != nil {
		fill("http-listen", "HTTP_LISTEN", func() { c.HTTPListen = *fc.RESTAddress })
	}
	if fc.GRPCAddress != nil {
		fill("grpc-listen", "GRPC_LISTEN", func() { c.GRPCListen = *fc.GRPCAddress })
	}
	if fc.RESPAddress != nil {
		fill("resp-listen", "RESP_LISTEN", func() { c.RESPListen = *fc.RESPAddress })
	}
	if fc.MemoryStorageSize != nil {
		fill("storage-size", "STORAGE_SIZE", func() { c.StorageSize = *fc.MemoryStorageSize })
	}
	if fc.MessageChannelSize != nil {
		fill("mailbox-size", "MAILBOX_SIZE", func() { c.MailboxSize = *fc.MessageChannelSize })
	}
	if fc.QueryTimeout != nil {
		fill("query-timeout", "QUERY_TIMEOUT", func() { c.QueryTimeout = *fc.QueryTimeout })
	}

	c.Peers = fc.Peers
	return nil
}

// Validate checks the configuration and fills peer defaults.
func (c *Config) Validate() error {
	if c.HTTPListen == "" {
		return errors.New("http listen address cannot be empty")
	}
	if c.GRPCListen == "" {
		return errors.New("grpc listen address cannot be empty")
	}
	if c.StorageSize <= 0 {
		return fmt.Errorf("storage size must be > 0, got %d", c.StorageSize)
	}
	if c.MailboxSize <= 0 {
		return fmt.Errorf("mailbox size must be > 0, got %d", c.MailboxSize)
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be > 0, got %v", c.QueryTimeout)
	}

	switch c.Storage {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("redis storage requires a redis address")
		}
		if c.RedisDB < 0 {
			return errors.New("redis database number must be >= 0")
		}
	default:
		return fmt.Errorf("invalid storage backend %q (must be memory or redis)", c.Storage)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format %q (must be text or json)", c.LogFormat)
	}

	if err := c.TLS.Validate(); err != nil {
		return err
	}
	if c.TLS.Enabled && c.TLS.CertFile == "" {
		return errors.New("tls enabled but cert/key files not specified")
	}

	seen := make(map[string]bool, len(c.Peers))
	for i := range c.Peers {
		if err := validatePeer(&c.Peers[i], i); err != nil {
			return err
		}
		id := c.Peers[i].Identifier
		if seen[id] {
			return fmt.Errorf("peer %q: duplicate identifier", id)
		}
		seen[id] = true
	}

	return nil
}

// maxPollingInterval is the largest interval, in seconds, a time.Duration holds.
const maxPollingInterval = uint64(math.MaxInt64 / int64(time.Second))

func validatePeer(p *PeerConfig, index int) error {
	if p.Address == "" {
		return fmt.Errorf("peer[%d]: address cannot be empty", index)
	}
	if p.Identifier == "" {
		p.Identifier = hostOf(p.Address)
	}
	if err := storage.ValidateIdentifier(p.Identifier); err != nil {
		return fmt.Errorf("peer[%d]: %w", index, err)
	}
	if p.PollingInterval == 0 {
		return fmt.Errorf("peer %q: polling_interval must be > 0", p.Identifier)
	}
	if p.PollingInterval > maxPollingInterval {
		return fmt.Errorf("peer %q: polling_interval must be <= %d seconds", p.Identifier, maxPollingInterval)
	}
	if p.Kind == "" {
		p.Kind = adapters.KindGRPC
	}
	if !slices.Contains(adapters.Kinds(), p.Kind) {
		return fmt.Errorf("peer %q: invalid kind %q (must be one of %s)", p.Identifier, p.Kind, strings.Join(adapters.Kinds(), ", "))
	}
	if p.Timeout < 0 {
		return fmt.Errorf("peer %q: timeout cannot be negative", p.Identifier)
	}
	return nil
}

// hostOf extracts the host from "scheme://host:port/path", "host:port" or a
// bare host.
func hostOf(address string) string {
	if strings.Contains(address, "://") {
		if u, err := url.Parse(address); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	if host, _, err := net.SplitHostPort(address); err == nil {
		return host
	}
	return address
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
