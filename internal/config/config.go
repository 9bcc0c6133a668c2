package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"xynconsole/internal/domain"
)

// FileName is the workspace config file.
const FileName = "console.yml"

// Dir is the per-workspace state directory (database, logs, blobs).
const Dir = ".xyn"

// Config models console.yml.
type Config struct {
	API struct {
		BaseURL string        `yaml:"base_url"`
		Token   string        `yaml:"token"`
		APIKey  string        `yaml:"api_key"`
		ActorID string        `yaml:"actor_id"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"api"`
	Poll struct {
		Interval time.Duration `yaml:"interval"`
		Merge    string        `yaml:"merge"`
	} `yaml:"poll"`
	Revisions struct {
		PageSize  int `yaml:"page_size"`
		CacheSize int `yaml:"cache_size"`
	} `yaml:"revisions"`
	Catalog struct {
		TTL  time.Duration `yaml:"ttl"`
		Size int           `yaml:"size"`
	} `yaml:"catalog"`
	Server       ServerConfig         `yaml:"server"`
	ContextPacks []ContextPackSeed    `yaml:"context_packs"`
	Required     []RequiredPackRule   `yaml:"required_packs"`
	Recommend    []RecommendationRule `yaml:"recommendations"`
}

// ServerConfig configures the reference backend started by `xyn serve`.
type ServerConfig struct {
	Addr           string          `yaml:"addr"`
	BasePath       string          `yaml:"base_path"`
	JWTSecret      string          `yaml:"jwt_secret"`
	AllowActorHdr  bool            `yaml:"allow_actor_header"`
	WorkerInterval time.Duration   `yaml:"worker_interval"`
	Generator      string          `yaml:"generator"`
	GeminiModel    string          `yaml:"gemini_model"`
	Blob           BlobConfig      `yaml:"blob"`
	Webhooks       []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig forwards session audit events to an HTTP endpoint.
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Events  []string      `yaml:"events"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
	Enabled *bool         `yaml:"enabled"`
}

// Active reports whether the hook should receive deliveries.
func (w WebhookConfig) Active() bool {
	return strings.TrimSpace(w.URL) != "" && (w.Enabled == nil || *w.Enabled)
}

type BlobConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	S3      struct {
		Endpoint  string `yaml:"endpoint"`
		Region    string `yaml:"region"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"s3"`
}

// ContextPackSeed is a catalog entry loaded into the reference backend.
type ContextPackSeed struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Purpose    string `yaml:"purpose"`
	Scope      string `yaml:"scope"`
	Namespace  string `yaml:"namespace"`
	ProjectKey string `yaml:"project_key"`
	Version    string `yaml:"version"`
}

// RequiredPackRule makes pack names mandatory for matching submissions.
// Empty selectors match everything.
type RequiredPackRule struct {
	Kind         string   `yaml:"kind"`
	Namespace    string   `yaml:"namespace"`
	GenerateCode *bool    `yaml:"generate_code"`
	Names        []string `yaml:"names"`
}

// RecommendationRule maps a draft kind to the pack purposes recommended for it.
type RecommendationRule struct {
	Kind         string   `yaml:"kind"`
	GenerateCode *bool    `yaml:"generate_code"`
	Purposes     []string `yaml:"purposes"`
}

func (p ContextPackSeed) Summary() domain.ContextPackSummary {
	return domain.ContextPackSummary{
		ID:         p.ID,
		Name:       p.Name,
		Purpose:    p.Purpose,
		Scope:      p.Scope,
		Namespace:  p.Namespace,
		ProjectKey: p.ProjectKey,
		Version:    p.Version,
	}
}

// Matches reports whether the rule applies to the given tuple.
func (r RequiredPackRule) Matches(q domain.ContextPackQuery) bool {
	if r.Kind != "" && r.Kind != q.DraftKind {
		return false
	}
	if r.Namespace != "" && r.Namespace != q.Namespace {
		return false
	}
	if r.GenerateCode != nil && *r.GenerateCode != q.GenerateCode {
		return false
	}
	return true
}

// Matches reports whether the rule applies to the given tuple.
func (r RecommendationRule) Matches(q domain.ContextPackQuery) bool {
	if r.Kind != "" && r.Kind != q.DraftKind {
		return false
	}
	if r.GenerateCode != nil && *r.GenerateCode != q.GenerateCode {
		return false
	}
	return true
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with xyn config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

var validPurposes = map[string]bool{"planner": true, "coder": true, "deployer": true, "operator": true, "any": true}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("config.api.base_url is required")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("config.poll.interval must be positive")
	}
	switch c.Poll.Merge {
	case "", "preserve", "replace":
	default:
		return fmt.Errorf("config.poll.merge must be preserve or replace")
	}
	if c.Revisions.PageSize <= 0 {
		return fmt.Errorf("config.revisions.page_size must be positive")
	}
	switch c.Server.Generator {
	case "", "stub", "gemini":
	default:
		return fmt.Errorf("config.server.generator must be stub or gemini")
	}
	switch c.Server.Blob.Backend {
	case "", "fs", "s3":
	default:
		return fmt.Errorf("config.server.blob.backend must be fs or s3")
	}
	for i, hook := range c.Server.Webhooks {
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config.server.webhooks[%d].url must be an http(s) URL", i)
		}
		if hook.Timeout < 0 {
			return fmt.Errorf("config.server.webhooks[%d].timeout must not be negative", i)
		}
	}
	seen := map[string]bool{}
	names := map[string]bool{}
	for _, p := range c.ContextPacks {
		if p.ID == "" || p.Name == "" {
			return fmt.Errorf("context pack requires id and name")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate context pack id %s", p.ID)
		}
		seen[p.ID] = true
		names[p.Name] = true
		if !validPurposes[p.Purpose] {
			return fmt.Errorf("context pack %s has invalid purpose %q", p.ID, p.Purpose)
		}
		switch p.Scope {
		case domain.ScopeGlobal:
		case domain.ScopeNamespace:
			if p.Namespace == "" {
				return fmt.Errorf("context pack %s: namespace scope requires namespace", p.ID)
			}
		case domain.ScopeProject:
			if p.ProjectKey == "" {
				return fmt.Errorf("context pack %s: project scope requires project_key", p.ID)
			}
		default:
			return fmt.Errorf("context pack %s has invalid scope %q", p.ID, p.Scope)
		}
	}
	for i, rule := range c.Required {
		if rule.Kind != "" && !domain.ValidKind(rule.Kind) {
			return fmt.Errorf("required_packs[%d] has invalid kind %q", i, rule.Kind)
		}
		for _, name := range rule.Names {
			if name == "" {
				return fmt.Errorf("required_packs[%d] has empty pack name", i)
			}
			if len(names) > 0 && !names[name] {
				return fmt.Errorf("required_packs[%d] references unknown pack %s", i, name)
			}
		}
	}
	for i, rule := range c.Recommend {
		for _, purpose := range rule.Purposes {
			if !validPurposes[purpose] {
				return fmt.Errorf("recommendations[%d] has invalid purpose %q", i, purpose)
			}
		}
	}
	return nil
}

// MergePreserve reports whether poll reconciliation keeps fields under edit.
func (c *Config) MergePreserve() bool {
	return c.Poll.Merge != "replace"
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// StateDir returns the state directory for a workspace.
func StateDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, Dir)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("config: default template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys fall back to defaults.
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

const defaultTemplate = `api:
  base_url: http://127.0.0.1:8080/v0
  actor_id: local-user
  timeout: 10s

poll:
  interval: 2s
  # preserve keeps fields under active edit when a poll result lands; replace overwrites them
  merge: preserve

revisions:
  page_size: 5
  cache_size: 64

catalog:
  ttl: 5m
  size: 32

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  allow_actor_header: true
  worker_interval: 2s
  generator: stub
  gemini_model: gemini-2.0-flash
  blob:
    backend: fs
  # webhooks receive session audit events as signed JSON POSTs
  # webhooks:
  #   - url: https://hooks.example.com/xyn
  #     events: ["session.*", "voice_note.transcribed"]
  #     secret: change-me
  #     timeout: 5s

context_packs:
  - id: cp-platform-planner
    name: platform-planner
    purpose: planner
    scope: global
    version: "1.0.0"
  - id: cp-security-baseline
    name: security-baseline
    purpose: any
    scope: global
    version: "2.1.0"
  - id: cp-go-service-coder
    name: go-service-coder
    purpose: coder
    scope: global
    version: "0.9.0"
  - id: cp-deployer-k8s
    name: deployer-k8s
    purpose: deployer
    scope: global
    version: "1.2.0"
  - id: cp-payments-conventions
    name: payments-conventions
    purpose: planner
    scope: namespace
    namespace: payments
    version: "1.0.0"

recommendations:
  - kind: blueprint
    purposes: [planner, any]
  - kind: solution
    generate_code: false
    purposes: [planner, any, deployer]
  - kind: solution
    generate_code: true
    purposes: [planner, any, deployer, coder]

required_packs:
  - kind: solution
    names: [security-baseline]
`
