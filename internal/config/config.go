package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sidequest/internal/domain"
	"sidequest/internal/gesture"
)

// Config models sidequest.yml.
type Config struct {
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
	Store     Store     `yaml:"store"`
	Gesture   Gesture   `yaml:"gesture"`
	Generator Generator `yaml:"generator"`
	Server    Server    `yaml:"server"`
	Redis     Redis     `yaml:"redis"`
	Seed      Seed      `yaml:"seed"`
	Webhooks  []Webhook `yaml:"webhooks"`
}

type Store struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Gesture struct {
	Threshold     float64       `yaml:"threshold"`
	DeadZone      float64       `yaml:"dead_zone"`
	ExitOffset    float64       `yaml:"exit_offset"`
	MaxRotation   float64       `yaml:"max_rotation"`
	AdvanceDelay  time.Duration `yaml:"advance_delay"`
	CommitTimeout time.Duration `yaml:"commit_timeout"`
}

// Params converts the gesture section into translator parameters.
func (g Gesture) Params() gesture.Params {
	return gesture.Params{
		Threshold:    g.Threshold,
		DeadZone:     g.DeadZone,
		ExitOffset:   g.ExitOffset,
		MaxRotation:  g.MaxRotation,
		AdvanceDelay: g.AdvanceDelay,
	}
}

type Generator struct {
	BaseURL     string            `yaml:"base_url"`
	APIKeyEnv   string            `yaml:"api_key_env"`
	Model       string            `yaml:"model"`
	Temperature float64           `yaml:"temperature"`
	MaxTokens   int               `yaml:"max_tokens"`
	Timeout     time.Duration     `yaml:"timeout"`
	ImageURL    string            `yaml:"image_url"`
	ImageQuery  map[string]string `yaml:"image_query"`
}

// APIKey reads the LLM key from the configured environment variable.
func (g Generator) APIKey() string {
	if g.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(g.APIKeyEnv)
}

type Server struct {
	Addr          string        `yaml:"addr"`
	JWTSecretEnv  string        `yaml:"jwt_secret_env"`
	DevAuth       bool          `yaml:"dev_auth"`
	CORSOrigins   []string      `yaml:"cors_origins"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	GenerateRate  float64       `yaml:"generate_rate"`
	GenerateBurst int           `yaml:"generate_burst"`
}

// JWTSecret reads the token signing secret from the configured environment variable.
func (s Server) JWTSecret() string {
	if s.JWTSecretEnv == "" {
		return ""
	}
	return os.Getenv(s.JWTSecretEnv)
}

type Redis struct {
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
	Channel string `yaml:"channel"`
}

type Seed struct {
	Concurrency int            `yaml:"concurrency"`
	Interval    time.Duration  `yaml:"interval"`
	Temperature float64        `yaml:"temperature"`
	MaxTokens   int            `yaml:"max_tokens"`
	Templates   []SeedTemplate `yaml:"templates"`
}

type SeedTemplate struct {
	City     string `yaml:"city"`
	Country  string `yaml:"country"`
	Theme    string `yaml:"theme"`
	Budget   string `yaml:"budget"`
	Duration int    `yaml:"duration"`
}

// Webhook forwards audit events to an HTTP endpoint.
type Webhook struct {
	URL     string        `yaml:"url"`
	Events  []string      `yaml:"events,omitempty"`
	Secret  string        `yaml:"secret,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	Enabled *bool         `yaml:"enabled,omitempty"`
}

func (w Webhook) Active() bool {
	return strings.TrimSpace(w.URL) != "" && (w.Enabled == nil || *w.Enabled)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config.store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if err := c.Gesture.Params().Validate(); err != nil {
		return fmt.Errorf("config.gesture: %w", err)
	}
	if c.Gesture.CommitTimeout <= 0 {
		return fmt.Errorf("config.gesture.commit_timeout must be positive")
	}
	if c.Generator.Model == "" {
		return fmt.Errorf("config.generator.model is required")
	}
	if c.Generator.MaxTokens <= 0 {
		return fmt.Errorf("config.generator.max_tokens must be positive")
	}
	if c.Generator.Temperature < 0 || c.Generator.Temperature > 2 {
		return fmt.Errorf("config.generator.temperature must be within [0,2]")
	}
	if c.Server.SessionTTL <= 0 {
		return fmt.Errorf("config.server.session_ttl must be positive")
	}
	if c.Server.GenerateRate < 0 || c.Server.GenerateBurst < 0 {
		return fmt.Errorf("config.server generate limits must not be negative")
	}
	if c.Redis.Addr != "" && c.Redis.Channel == "" {
		return fmt.Errorf("config.redis.channel is required when redis.addr is set")
	}
	if c.Seed.Concurrency <= 0 {
		return fmt.Errorf("config.seed.concurrency must be positive")
	}
	for i, t := range c.Seed.Templates {
		if strings.TrimSpace(t.City) == "" || strings.TrimSpace(t.Country) == "" {
			return fmt.Errorf("seed template %d: city and country are required", i)
		}
		if !domain.IsTheme(t.Theme) {
			return fmt.Errorf("seed template %d: unknown theme %q", i, t.Theme)
		}
		if !domain.IsPriceTier(t.Budget) {
			return fmt.Errorf("seed template %d: unknown budget %q", i, t.Budget)
		}
		if t.Duration < 1 || t.Duration > 30 {
			return fmt.Errorf("seed template %d: duration must be within 1..30", i)
		}
	}
	for i, w := range c.Webhooks {
		if w.Active() && !strings.HasPrefix(w.URL, "http://") && !strings.HasPrefix(w.URL, "https://") {
			return fmt.Errorf("webhook %d: url must be http or https", i)
		}
		if w.Timeout < 0 {
			return fmt.Errorf("webhook %d: timeout must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "sidequest.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sq config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the defaults when the config file does not exist.
func LoadOrDefault(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `log:
  mode: development

store:
  driver: sqlite
  dsn: ""

gesture:
  threshold: 100
  dead_zone: 20
  exit_offset: 300
  max_rotation: 30
  advance_delay: 300ms
  commit_timeout: 10s

generator:
  base_url: https://api.openai.com/v1
  api_key_env: OPENAI_API_KEY
  model: gpt-3.5-turbo
  temperature: 0.8
  max_tokens: 500
  timeout: 30s
  image_url: https://images.unsplash.com/photo-1500835556837-99ac94a94552?w=800&q=80
  image_query:
    adventure: adventure+travel+mountain
    culture: cultural+heritage+architecture
    relaxation: spa+wellness+beach+sunset
    nightlife: city+night+lights
    nature: landscape+nature+wilderness

server:
  addr: 127.0.0.1:8080
  jwt_secret_env: SIDEQUEST_JWT_SECRET
  dev_auth: true
  cors_origins: ["http://localhost:3000"]
  session_ttl: 30m
  generate_rate: 0.2
  generate_burst: 3

# webhooks:
#   - url: https://example.com/hooks/sidequest
#     events: [decision.recorded, session.exhausted]
#     secret: change-me
#     timeout: 5s

redis:
  addr: ""
  db: 0
  channel: sidequest.sessions

seed:
  concurrency: 2
  interval: 1s
  temperature: 0.9
  max_tokens: 400
  templates:
    - {city: Reykjavik, country: Iceland, theme: adventure, budget: luxury, duration: 6}
    - {city: Queenstown, country: New Zealand, theme: adventure, budget: mid-range, duration: 5}
    - {city: Interlaken, country: Switzerland, theme: adventure, budget: luxury, duration: 4}
    - {city: Costa Rica, country: Costa Rica, theme: adventure, budget: budget, duration: 8}
    - {city: Moab, country: USA, theme: adventure, budget: mid-range, duration: 3}
    - {city: Kyoto, country: Japan, theme: culture, budget: luxury, duration: 7}
    - {city: Rome, country: Italy, theme: culture, budget: mid-range, duration: 5}
    - {city: Istanbul, country: Turkey, theme: culture, budget: budget, duration: 6}
    - {city: Cusco, country: Peru, theme: culture, budget: mid-range, duration: 4}
    - {city: Varanasi, country: India, theme: culture, budget: budget, duration: 5}
    - {city: Santorini, country: Greece, theme: relaxation, budget: luxury, duration: 6}
    - {city: Ubud, country: Indonesia, theme: relaxation, budget: budget, duration: 8}
    - {city: Tulum, country: Mexico, theme: relaxation, budget: mid-range, duration: 5}
    - {city: Maldives, country: Maldives, theme: relaxation, budget: luxury, duration: 7}
    - {city: Sedona, country: USA, theme: relaxation, budget: mid-range, duration: 4}
    - {city: Berlin, country: Germany, theme: nightlife, budget: budget, duration: 4}
    - {city: Barcelona, country: Spain, theme: nightlife, budget: mid-range, duration: 5}
    - {city: Tel Aviv, country: Israel, theme: nightlife, budget: mid-range, duration: 4}
    - {city: Bangkok, country: Thailand, theme: nightlife, budget: budget, duration: 6}
    - {city: Miami, country: USA, theme: nightlife, budget: luxury, duration: 3}
    - {city: Banff, country: Canada, theme: nature, budget: mid-range, duration: 6}
    - {city: Patagonia, country: Chile, theme: nature, budget: luxury, duration: 10}
    - {city: Madagascar, country: Madagascar, theme: nature, budget: mid-range, duration: 9}
    - {city: Yellowstone, country: USA, theme: nature, budget: budget, duration: 5}
    - {city: Tasmania, country: Australia, theme: nature, budget: mid-range, duration: 7}
`
