// Package config provides configuration management for the KubeVirt
// inventory source.
//
// Configuration is loaded from:
// 1. kubevirt-inventory.yaml file (optional)
// 2. Environment variables (standard names like LOG_LEVEL, SERVER_PORT)
// 3. Default values
//
// Per-connection credential fields additionally fall back to the K8S_AUTH_*
// environment variables, resolved by the provider client, not here.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	apperrors "kv-inventory.io/kvinv/internal/pkg/errors"
)

// DefaultAPIVersion is the KubeVirt group/version used when a connection
// does not set one.
const DefaultAPIVersion = "kubevirt.io/v1"

// DefaultHostFormat is the host identifier format used when host_format is
// not set.
const DefaultHostFormat = "{namespace}-{name}"

// Config is the root configuration structure.
type Config struct {
	HostFormat  string       `mapstructure:"host_format"`
	Connections []Connection `mapstructure:"connections"`
	Log         LogConfig    `mapstructure:"log"`
	Worker      WorkerConfig `mapstructure:"worker"`
	Server      ServerConfig `mapstructure:"server"`
}

// Connection contains the settings for one cluster connection.
// Credential fields mirror the kubernetes client auth surface; any field left
// empty may be supplied via its K8S_AUTH_* environment variable.
type Connection struct {
	Name          string   `mapstructure:"name"`
	Kubeconfig    string   `mapstructure:"kubeconfig"`
	Context       string   `mapstructure:"context"`
	Host          string   `mapstructure:"host"`
	APIKey        string   `mapstructure:"api_key"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	ClientCert    string   `mapstructure:"client_cert"`
	ClientKey     string   `mapstructure:"client_key"`
	CACert        string   `mapstructure:"ca_cert"`
	ValidateCerts *bool    `mapstructure:"validate_certs"`
	Namespaces    []string `mapstructure:"namespaces"`
	LabelSelector string   `mapstructure:"label_selector"`

	// NetworkName selects which VMI interface provides the primary IP.
	// interface_name is an accepted alias.
	NetworkName      string `mapstructure:"network_name"`
	InterfaceName    string `mapstructure:"interface_name"`
	KubeSecondaryDNS bool   `mapstructure:"kube_secondary_dns"`
	BaseDomain       string `mapstructure:"base_domain"`
	APIVersion       string `mapstructure:"api_version"`
}

// Network resolves the network_name / interface_name alias pair.
func (c Connection) Network() string {
	if c.NetworkName != "" {
		return c.NetworkName
	}
	return c.InterfaceName
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	NamespacePoolSize int `mapstructure:"namespace_pool_size"`
}

// ServerConfig contains HTTP server settings for the serve mode.
type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	ReadTimeout     string `mapstructure:"read_timeout"`
	WriteTimeout    string `mapstructure:"write_timeout"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom reads configuration from an explicit file path, or from the
// default search paths when path is empty.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kubevirt-inventory")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/kubevirt-inventory")
	}

	// Environment variable override, no prefix: LOG_LEVEL, SERVER_PORT,
	// WORKER_NAMESPACE_POOL_SIZE, HOST_FORMAT.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars
	}

	// The connections shape is validated on the raw value so a scalar or a
	// list of scalars fails with the operator-facing message instead of a
	// mapstructure decode error.
	if err := validateConnectionsShape(v.Get("connections")); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "unmarshal config", 400)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateConnectionsShape enforces that connections is a list of mappings.
func validateConnectionsShape(raw interface{}) error {
	if raw == nil {
		return nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return apperrors.ErrConfigInvalidf("expecting connections to be a list")
	}
	for _, item := range list {
		switch item.(type) {
		case map[string]interface{}, map[interface{}]interface{}:
		default:
			return apperrors.ErrConfigInvalidf("expecting connection to be a dictionary")
		}
	}
	return nil
}

// applyDefaults substitutes per-connection defaults so api_version and
// host_format are never empty at projection time.
func (c *Config) applyDefaults() {
	if c.HostFormat == "" {
		c.HostFormat = DefaultHostFormat
	}
	for i := range c.Connections {
		if c.Connections[i].APIVersion == "" {
			c.Connections[i].APIVersion = DefaultAPIVersion
		}
	}
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if err := validateHostFormat(c.HostFormat); err != nil {
		return err
	}
	return nil
}

// validateHostFormat rejects host_format templates referencing unknown keys.
// The recognized substitutions are {namespace}, {name} and {uid}.
func validateHostFormat(format string) error {
	rest := format
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			return nil
		}
		close := strings.IndexByte(rest[open:], '}')
		if close < 0 {
			return apperrors.ErrHostFormatf(format, rest[open:])
		}
		key := rest[open+1 : open+close]
		switch key {
		case "namespace", "name", "uid":
		default:
			return apperrors.ErrHostFormatf(format, key)
		}
		rest = rest[open+close+1:]
	}
}

func setDefaults(v *viper.Viper) {
	// Inventory
	v.SetDefault("host_format", DefaultHostFormat)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Worker pool
	v.SetDefault("worker.namespace_pool_size", 20)

	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
}
