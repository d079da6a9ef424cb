package config

import (
	"time"
)

// Config is the top-level agentgate configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Gate      GateConfig      `yaml:"gate"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Emergency EmergencyConfig `yaml:"emergency"`
	Decision  DecisionConfig  `yaml:"decision"`
	Rules     []RuleConfig    `yaml:"rules"`
	Alerts    AlertsConfig    `yaml:"alerts"`

	// DataDir is the root for runtime state: the sqlite database and the
	// gate transport directory live under it.
	DataDir string `yaml:"data_dir"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	CORS     bool   `yaml:"cors"`
}

type StorageConfig struct {
	Driver    string        `yaml:"driver"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// GateConfig tunes the blocking human-confirmation protocol.
type GateConfig struct {
	Dir            string        `yaml:"dir"`
	CollectTimeout time.Duration `yaml:"collect_timeout"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`

	// SpoofPatterns are case-insensitive substrings that mark a response as
	// self-answered by the relaying process rather than by a real human.
	// Matching responses are discarded and polling continues.
	SpoofPatterns []string `yaml:"spoof_patterns"`
}

// RateLimitConfig holds the sliding-window categories plus the static
// refactor-scale ceilings, which are evaluated per request rather than over
// a time window.
type RateLimitConfig struct {
	Categories []CategoryConfig    `yaml:"categories"`
	Refactor   RefactorScaleConfig `yaml:"refactor"`

	// OperationCategories maps operation names to rate-limit categories.
	// Operations without a mapping are not rate limited.
	OperationCategories map[string]string `yaml:"operation_categories"`
}

type CategoryConfig struct {
	Name      string        `yaml:"name"`
	Window    time.Duration `yaml:"window"`
	Threshold int           `yaml:"threshold"`
	Severity  string        `yaml:"severity"` // info, warning, critical
}

type RefactorScaleConfig struct {
	MaxFiles      int     `yaml:"max_files"`
	MaxComplexity float64 `yaml:"max_complexity"`
}

type EmergencyConfig struct {
	MaxPauseDuration   time.Duration `yaml:"max_pause_duration"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	AutoPauseThreshold int           `yaml:"auto_pause_threshold"`
	AutoPauseWindow    time.Duration `yaml:"auto_pause_window"`
}

// DecisionConfig holds the per-tier confidence thresholds. Critical has no
// threshold: it always escalates.
type DecisionConfig struct {
	SimpleThreshold   float64 `yaml:"simple_threshold"`
	ModerateThreshold float64 `yaml:"moderate_threshold"`
	ComplexThreshold  float64 `yaml:"complex_threshold"`
}

// RuleConfig is a static operation-pattern rule evaluated before the
// decision strategy. Condition is a CEL expression over op.* variables.
type RuleConfig struct {
	Name      string `yaml:"name"`
	Condition string `yaml:"condition"`
	Effect    string `yaml:"effect"` // gate, deny
	Message   string `yaml:"message"`
}

type AlertsConfig struct {
	Slack   SlackAlertConfig   `yaml:"slack"`
	Webhook WebhookAlertConfig `yaml:"webhook"`
}

type SlackAlertConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type WebhookAlertConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// DefaultConfig returns a config with sensible defaults for zero-config startup.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     7343,
			LogLevel: "info",
			CORS:     false,
		},
		DataDir: "./.agentgate",
		Storage: StorageConfig{
			Driver:    "sqlite",
			Path:      "./.agentgate/agentgate.db",
			Retention: 30 * 24 * time.Hour,
		},
		Gate: GateConfig{
			Dir:            "./.agentgate/gate",
			CollectTimeout: 5 * time.Minute,
			ConfirmTimeout: 2 * time.Minute,
			PollInterval:   time.Second,
			SpoofPatterns: []string{
				"on behalf of the user",
				"answering for the user",
				"as the user, i",
				"the user would say",
				"assuming the user agrees",
			},
		},
		RateLimit: RateLimitConfig{
			Categories: []CategoryConfig{
				{Name: "file_creation", Window: time.Hour, Threshold: 30, Severity: "warning"},
				{Name: "file_deletion", Window: time.Hour, Threshold: 10, Severity: "critical"},
				{Name: "file_modification", Window: time.Hour, Threshold: 100, Severity: "info"},
				{Name: "dependency_addition", Window: time.Hour, Threshold: 5, Severity: "warning"},
				{Name: "bulk_change", Window: 5 * time.Minute, Threshold: 25, Severity: "critical"},
			},
			Refactor: RefactorScaleConfig{
				MaxFiles:      12,
				MaxComplexity: 0.8,
			},
			OperationCategories: map[string]string{
				"file.create":    "file_creation",
				"file.delete":    "file_deletion",
				"file.modify":    "file_modification",
				"dependency.add": "dependency_addition",
				"bulk.change":    "bulk_change",
			},
		},
		Emergency: EmergencyConfig{
			MaxPauseDuration:   30 * time.Minute,
			SweepInterval:      10 * time.Second,
			AutoPauseThreshold: 3,
			AutoPauseWindow:    time.Hour,
		},
		Decision: DecisionConfig{
			SimpleThreshold:   0.6,
			ModerateThreshold: 0.7,
			ComplexThreshold:  0.8,
		},
		Rules: []RuleConfig{
			{
				Name:      "destructive-operations",
				Condition: `op.name.contains("delete") || op.name.contains("remove") || op.name.contains("cleanup")`,
				Effect:    "gate",
				Message:   "destructive operation requires human confirmation",
			},
		},
	}
}
