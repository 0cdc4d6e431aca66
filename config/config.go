// Package config carries the connection settings for the payment and
// registry services. The rest of the SDK never reads the environment or the
// filesystem directly; everything flows through a validated Config.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "github.com/agentpay-network/agentpay-go/errors"
	"github.com/agentpay-network/agentpay-go/pkg/logger"
)

// Defaults applied when the corresponding fields are left empty.
const (
	DefaultNetwork = "Preprod"

	// DefaultContractAddress is the escrow contract used on the preprod
	// network. Mainnet deployments must configure their own address.
	DefaultContractAddress = "addr_test1wrm4l7k9qgw9878ymvw223u45fje48tnhqsxk2tewe47z7se03mca"
)

// Config describes how to reach the payment service and, optionally, the
// agent registry.
type Config struct {
	PaymentServiceURL string `yaml:"payment_service_url"`
	PaymentAPIKey     string `yaml:"payment_api_key"`

	RegistryServiceURL string `yaml:"registry_service_url"`
	RegistryAPIKey     string `yaml:"registry_api_key"`

	Network         string `yaml:"network"`
	ContractAddress string `yaml:"contract_address"`

	Log LogConfig `yaml:"log"`
}

// LogConfig mirrors logger.Config in a YAML-friendly shape.
type LogConfig struct {
	Level       string   `yaml:"level"`
	Format      string   `yaml:"format"`
	OutputPaths []string `yaml:"output_paths"`

	AuditEnabled bool   `yaml:"audit_enabled"`
	AuditPath    string `yaml:"audit_path"`
}

// New builds a validated Config for the payment service. The registry fields
// stay empty; sellers that register agents should fill them in before use.
func New(paymentServiceURL, paymentAPIKey string) (*Config, error) {
	cfg := &Config{
		PaymentServiceURL: paymentServiceURL,
		PaymentAPIKey:     paymentAPIKey,
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a YAML config file, applies environment overrides and defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "config path is empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, fmt.Sprintf("read config %s", path))
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "parse config")
	}
	cfg.applyEnv(os.Getenv)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds a Config purely from AGENTPAY_* environment variables.
func FromEnv() (*Config, error) {
	var cfg Config
	cfg.applyEnv(os.Getenv)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays environment values onto the config. Environment wins over
// file values so deployments can override a checked-in config.
func (c *Config) applyEnv(getenv func(string) string) {
	overlay := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	overlay(&c.PaymentServiceURL, "AGENTPAY_PAYMENT_SERVICE_URL")
	overlay(&c.PaymentAPIKey, "AGENTPAY_PAYMENT_API_KEY")
	overlay(&c.RegistryServiceURL, "AGENTPAY_REGISTRY_SERVICE_URL")
	overlay(&c.RegistryAPIKey, "AGENTPAY_REGISTRY_API_KEY")
	overlay(&c.Network, "AGENTPAY_NETWORK")
	overlay(&c.ContractAddress, "AGENTPAY_CONTRACT_ADDRESS")
}

// ApplyDefaults fills empty optional fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Network == "" {
		c.Network = DefaultNetwork
	}
	if c.ContractAddress == "" {
		c.ContractAddress = DefaultContractAddress
	}
}

// Validate checks that every required field is present and well formed.
func (c *Config) Validate() error {
	if c.PaymentServiceURL == "" {
		return xerrors.New(xerrors.CodeValidation, "payment_service_url is required")
	}
	if err := validateURL(c.PaymentServiceURL); err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "payment_service_url")
	}
	if c.PaymentAPIKey == "" {
		return xerrors.New(xerrors.CodeValidation, "payment_api_key is required")
	}
	if c.RegistryServiceURL != "" {
		if err := validateURL(c.RegistryServiceURL); err != nil {
			return xerrors.Wrap(xerrors.CodeValidation, err, "registry_service_url")
		}
	}
	return nil
}

// HasRegistry reports whether the registry service is configured.
func (c *Config) HasRegistry() bool {
	return c.RegistryServiceURL != "" && c.RegistryAPIKey != ""
}

// LoggerConfig converts the YAML log block into the logger package's Config.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:       c.Log.Level,
		Format:      c.Log.Format,
		OutputPaths: c.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: c.Log.AuditEnabled,
			Path:    c.Log.AuditPath,
		},
	}
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}
