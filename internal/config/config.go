package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"capexline/internal/domain"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// IdentificationFields are the record fields the Identification stage may require.
var IdentificationFields = []string{"name", "macro_key", "type", "local_amount", "director", "manager", "metric", "justification"}

// Config models capex.yml.
type Config struct {
	Cycle struct {
		ID   string `yaml:"id"`
		Mode string `yaml:"mode"`
	} `yaml:"cycle"`
	Currency struct {
		Local        string `yaml:"local"`
		Reference    string `yaml:"reference"`
		ExchangeRate string `yaml:"exchange_rate"`
		VATRate      string `yaml:"vat_rate"`
	} `yaml:"currency"`
	Validation struct {
		RatioFloor string `yaml:"ratio_floor"`
		RatioUpper string `yaml:"ratio_upper"`
	} `yaml:"validation"`
	Planning struct {
		IdentificationRequired []string `yaml:"identification_required"`
		PressureTestChecklist  []string `yaml:"pressure_test_checklist"`
	} `yaml:"planning"`
	FollowUp struct {
		AdjustmentThreshold string `yaml:"adjustment_threshold"`
	} `yaml:"followup"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Auth struct {
		TimeoutSeconds  int `yaml:"timeout_seconds"`
		TokenTTLMinutes int `yaml:"token_ttl_minutes"`
	} `yaml:"auth"`
	Insight struct {
		Model          string `yaml:"model"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"insight"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with capex config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Cycle.ID == "" {
		return fmt.Errorf("config.cycle.id is required")
	}
	if c.Cycle.Mode != ModeDevelopment && c.Cycle.Mode != ModeProduction {
		return fmt.Errorf("config.cycle.mode must be %q or %q", ModeDevelopment, ModeProduction)
	}
	rate, err := decimal.NewFromString(c.Currency.ExchangeRate)
	if err != nil || !rate.IsPositive() {
		return fmt.Errorf("config.currency.exchange_rate must be a positive number")
	}
	vat, err := decimal.NewFromString(c.Currency.VATRate)
	if err != nil || vat.IsNegative() || vat.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("config.currency.vat_rate must be between 0 and 100")
	}
	floor, err := decimal.NewFromString(c.Validation.RatioFloor)
	if err != nil || floor.IsNegative() {
		return fmt.Errorf("config.validation.ratio_floor must be a non-negative number")
	}
	upper, err := decimal.NewFromString(c.Validation.RatioUpper)
	if err != nil || upper.LessThan(floor) {
		return fmt.Errorf("config.validation.ratio_upper must be a number >= ratio_floor")
	}
	threshold, err := decimal.NewFromString(c.FollowUp.AdjustmentThreshold)
	if err != nil || !threshold.IsPositive() {
		return fmt.Errorf("config.followup.adjustment_threshold must be a positive fraction")
	}
	for _, field := range c.Planning.IdentificationRequired {
		if !knownField(field) {
			return fmt.Errorf("config.planning.identification_required has unknown field %s", field)
		}
	}
	for _, item := range c.Planning.PressureTestChecklist {
		if !domain.ReviewItem(item).Valid() {
			return fmt.Errorf("config.planning.pressure_test_checklist has unknown item %s", item)
		}
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["ADMIN"]; !ok {
			return fmt.Errorf("config.rbac.roles must include ADMIN")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	if c.Auth.TimeoutSeconds < 0 || c.Insight.TimeoutSeconds < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	return nil
}

func knownField(name string) bool {
	for _, f := range IdentificationFields {
		if f == name {
			return true
		}
	}
	return false
}

func (c *Config) ExchangeRate() decimal.Decimal {
	return decimal.RequireFromString(c.Currency.ExchangeRate)
}

func (c *Config) VATRate() decimal.Decimal {
	return decimal.RequireFromString(c.Currency.VATRate)
}

func (c *Config) RatioFloor() decimal.Decimal {
	return decimal.RequireFromString(c.Validation.RatioFloor)
}

func (c *Config) RatioUpper() decimal.Decimal {
	return decimal.RequireFromString(c.Validation.RatioUpper)
}

func (c *Config) AdjustmentThreshold() decimal.Decimal {
	return decimal.RequireFromString(c.FollowUp.AdjustmentThreshold)
}

func (c *Config) Production() bool { return c.Cycle.Mode == ModeProduction }

// AuthTimeout bounds a credential check.
func (c *Config) AuthTimeout() time.Duration {
	return seconds(c.Auth.TimeoutSeconds, 5)
}

func (c *Config) InsightTimeout() time.Duration {
	return seconds(c.Insight.TimeoutSeconds, 20)
}

func (c *Config) TokenTTL() time.Duration {
	if c.Auth.TokenTTLMinutes <= 0 {
		return 8 * time.Hour
	}
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

// Permissions returns the permissions granted to a role.
func (c *Config) Permissions(role string) []string {
	r, ok := c.RBAC.Roles[role]
	if !ok {
		return nil
	}
	return append([]string(nil), r.Permissions...)
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

// Checklist returns the review items PressureTest must attest before Consolidation.
func (c *Config) Checklist() []domain.ReviewItem {
	if c.Planning.PressureTestChecklist == nil {
		return domain.ReviewItems[:4]
	}
	out := make([]domain.ReviewItem, len(c.Planning.PressureTestChecklist))
	for i, item := range c.Planning.PressureTestChecklist {
		out[i] = domain.ReviewItem(item)
	}
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "capex.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(cycleID string) string {
	return fmt.Sprintf(defaultTemplate, cycleID)
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

// Default returns the default Config struct for a planning cycle.
func Default(cycleID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(cycleID))).Decode(&cfg)
	return &cfg
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `cycle:
  id: %s
  mode: production

currency:
  local: COP
  reference: USD
  exchange_rate: "4250"
  vat_rate: "19"

validation:
  ratio_floor: "0.3"
  ratio_upper: "1.0"

planning:
  identification_required: [name, macro_key, type, local_amount, director, manager]
  pressure_test_checklist: [support_files, value_at_risk, methodology, npv_assumptions]

followup:
  adjustment_threshold: "0.15"

rbac:
  roles:
    ADMIN:
      description: "Administrator"
      permissions: [portfolio.read, planning.edit, planning.approve, cases.edit, cases.approve, users.manage, parameters.edit, insight.run, events.read]
    DIR:
      description: "Area director"
      permissions: [portfolio.read, planning.approve, cases.approve, insight.run, events.read]
    RESP:
      description: "Project manager"
      permissions: [portfolio.read, planning.edit, cases.edit, insight.run]
    AUDIT:
      description: "Auditor"
      permissions: [portfolio.read, events.read]

auth:
  timeout_seconds: 5
  token_ttl_minutes: 480

insight:
  model: gemini-2.5-flash
  timeout_seconds: 20
`
