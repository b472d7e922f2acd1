// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/wabridge/pkg/credstore"
	"github.com/aiku/wabridge/pkg/relay"
	"github.com/aiku/wabridge/pkg/transport/wsgateway"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config holds the bridge configuration.
type Config struct {
	// ListenAddr is the listen address of the control API. Defaults to ":3001".
	ListenAddr string `yaml:"listen_addr"`
	// APIToken, when set, is required as a bearer token on every control API
	// request except /metrics.
	APIToken string `yaml:"api_token"`

	// AutoConnect starts a connection attempt when the bridge starts.
	AutoConnect bool `yaml:"auto_connect"`
	// ReconnectDelay and ErrorRetryDelay are in seconds.
	ReconnectDelay  int `yaml:"reconnect_delay"`
	ErrorRetryDelay int `yaml:"error_retry_delay"`
	// BackoffMultiplier grows the retry delay per consecutive failure. 1 keeps
	// the delay fixed.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	BackoffMaxDelay   int     `yaml:"backoff_max_delay"`
	// RelayOwnMessages relays messages sent from the paired phone itself as
	// human-response-detected notifications.
	RelayOwnMessages bool `yaml:"relay_own_messages"`
	// ContactNameTemplate renders the contact_name of relayed messages.
	ContactNameTemplate string `yaml:"contact_name_template"`

	Credentials credstore.Config  `yaml:"credentials"`
	Gateway     wsgateway.Config  `yaml:"gateway"`
	Webhook     relay.Config      `yaml:"webhook"`
	Logging     zeroconfig.Config `yaml:"logging"`

	contactNameTemplate *template.Template `yaml:"-"`
}

// ContactNameParams holds the parameters for rendering the contact name template.
type ContactNameParams struct {
	PushName string
	Phone    string
}

const (
	DefaultListenAddr      = ":3001"
	DefaultReconnectDelay  = 3 * time.Second
	DefaultErrorRetryDelay = 5 * time.Second
	DefaultBackoffMaxDelay = 60 * time.Second
)

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

func (c *Config) PostProcess() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.ReconnectDelay < 0 || c.ErrorRetryDelay < 0 || c.BackoffMaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.BackoffMultiplier != 0 && c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be at least 1, got %v", c.BackoffMultiplier)
	}
	c.contactNameTemplate = nil
	if c.ContactNameTemplate == "" {
		return nil
	}
	var err error
	c.contactNameTemplate, err = template.New("contact_name").Parse(c.ContactNameTemplate)
	if err != nil {
		return fmt.Errorf("invalid contact_name_template: %w", err)
	}
	return nil
}

func (c *Config) reconnectBackoff() BackoffConfig {
	return c.backoff(c.ReconnectDelay, DefaultReconnectDelay)
}

func (c *Config) errorBackoff() BackoffConfig {
	return c.backoff(c.ErrorRetryDelay, DefaultErrorRetryDelay)
}

func (c *Config) backoff(seconds int, def time.Duration) BackoffConfig {
	cfg := BackoffConfig{
		InitialDelay: def,
		Multiplier:   c.BackoffMultiplier,
		MaxDelay:     DefaultBackoffMaxDelay,
	}
	if seconds > 0 {
		cfg.InitialDelay = time.Duration(seconds) * time.Second
	}
	if c.BackoffMaxDelay > 0 {
		cfg.MaxDelay = time.Duration(c.BackoffMaxDelay) * time.Second
	}
	return cfg
}

// FormatContactName renders the contact name of an inbound message, falling
// back to the push name.
func (c *Config) FormatContactName(params ContactNameParams) string {
	if c.contactNameTemplate == nil {
		return params.PushName
	}
	var sb strings.Builder
	if err := c.contactNameTemplate.Execute(&sb, params); err != nil {
		return params.PushName
	}
	return sb.String()
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "listen_addr")
	helper.Copy(up.Str|up.Null, "api_token")
	helper.Copy(up.Bool, "auto_connect")
	helper.Copy(up.Int, "reconnect_delay")
	helper.Copy(up.Int, "error_retry_delay")
	helper.Copy(up.Float|up.Int, "backoff_multiplier")
	helper.Copy(up.Int, "backoff_max_delay")
	helper.Copy(up.Bool, "relay_own_messages")
	helper.Copy(up.Str, "contact_name_template")

	helper.Copy(up.Str, "credentials", "type")
	helper.Copy(up.Str, "credentials", "path")
	helper.Copy(up.Str|up.Null, "credentials", "redis_url")
	helper.Copy(up.Str, "credentials", "redis_key")

	helper.Copy(up.Str, "gateway", "url")
	helper.Copy(up.Str|up.Null, "gateway", "token")
	helper.Copy(up.List, "gateway", "browser")
	helper.Copy(up.Int, "gateway", "handshake_timeout")
	helper.Copy(up.Int, "gateway", "command_timeout")

	helper.Copy(up.Str|up.Null, "webhook", "base_url")
	helper.Copy(up.Map, "webhook", "paths")
	helper.Copy(up.Int, "webhook", "timeout")
	helper.Copy(up.Int, "webhook", "queue_size")
	helper.Copy(up.Str|up.Null, "webhook", "secret")

	helper.Copy(up.Map, "logging")
}

// Upgrader returns the upgrader that carries user values over into the
// current example config layout.
func Upgrader() *up.StructUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Base:           ExampleConfig,
	}
}

// LoadConfig reads the config at path, upgrading it to the current layout.
// The upgraded file is written back unless save is false.
func LoadConfig(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, Upgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteExampleConfig writes the example config to path.
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(ExampleConfig), 0o600)
}
