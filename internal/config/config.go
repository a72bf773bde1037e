package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models vikabot.yml.
type Config struct {
	Telegram struct {
		Token      string  `yaml:"token"`
		AllowedIDs []int64 `yaml:"allowed_ids"`
	} `yaml:"telegram"`
	Vikunja struct {
		URL string `yaml:"url"`
	} `yaml:"vikunja"`
	Credentials struct {
		Path string `yaml:"path"`
	} `yaml:"credentials"`
	Tasks struct {
		DefaultProjectID int64 `yaml:"default_project_id"`
	} `yaml:"tasks"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with vikabot config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("config.telegram.token is required")
	}
	if c.Vikunja.URL == "" {
		return fmt.Errorf("config.vikunja.url is required")
	}
	if !strings.HasPrefix(c.Vikunja.URL, "http://") && !strings.HasPrefix(c.Vikunja.URL, "https://") {
		return fmt.Errorf("config.vikunja.url must be an http(s) URL")
	}
	for _, id := range c.Telegram.AllowedIDs {
		if id == 0 {
			return fmt.Errorf("config.telegram.allowed_ids contains a zero id")
		}
	}
	if c.Tasks.DefaultProjectID < 0 {
		return fmt.Errorf("config.tasks.default_project_id must not be negative")
	}
	return nil
}

// CredentialsPath resolves the credential file location, defaulting into
// the workspace data directory.
func (c *Config) CredentialsPath(workspace string) string {
	if c.Credentials.Path != "" {
		return c.Credentials.Path
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".vikabot", "credentials.json")
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "vikabot.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `telegram:
  # Bot token from @BotFather. Can also be set via VIKABOT_TELEGRAM_TOKEN.
  token: ""
  # Chat ids allowed to talk to the bot. Empty means everyone.
  allowed_ids: []

vikunja:
  # Base URL of the Vikunja API, e.g. https://vikunja.example.com/api/v1
  url: ""

credentials:
  # Where saved logins are kept. Defaults to .vikabot/credentials.json.
  path: ""

tasks:
  # Project used when quick-add text names no project and none are cached.
  default_project_id: 1
`
