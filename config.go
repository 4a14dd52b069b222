package ticketflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AbilityConfig declares one ability in the loaded configuration.
type AbilityConfig struct {
	Name           string `json:"name" yaml:"name"`
	Classification string `json:"classification" yaml:"classification"`
	Endpoint       string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	TimeoutMS      int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	MaxRetries     int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Backoff        string `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	RetryDelayMS   int    `json:"retry_delay_ms,omitempty" yaml:"retry_delay_ms,omitempty"`
	Transient      *bool  `json:"transient,omitempty" yaml:"transient,omitempty"`
}

// StageAbilityConfig references a declared ability from a stage.
type StageAbilityConfig struct {
	Name      string   `json:"name" yaml:"name"`
	Optional  bool     `json:"optional,omitempty" yaml:"optional,omitempty"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// StageConfig declares one pipeline stage.
type StageConfig struct {
	Name      string               `json:"name" yaml:"name"`
	Mode      string               `json:"mode" yaml:"mode"`
	Abilities []StageAbilityConfig `json:"abilities" yaml:"abilities"`
}

// Config is the immutable stage/ability table loaded once at process start.
type Config struct {
	Abilities []AbilityConfig `json:"abilities" yaml:"abilities"`
	Stages    []StageConfig   `json:"stages" yaml:"stages"`
}

const (
	defaultLocalTimeout    = 2 * time.Second
	defaultExternalTimeout = 5 * time.Second
	defaultMaxRetries      = 2
	defaultRetryDelay      = 100 * time.Millisecond
)

// LoadConfig reads a YAML configuration file and validates it.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(raw)
}

// ParseConfig decodes and validates YAML configuration bytes.
func ParseConfig(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("config does not parse: %v", err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast with a ConfigError on any malformed declaration:
// duplicate or unknown abilities, a stage list that is not the fixed
// pipeline, or nonsensical retry/timeout values.
func (c *Config) Validate() error {
	declared := make(map[string]bool, len(c.Abilities))
	for _, a := range c.Abilities {
		if a.Name == "" {
			return &ConfigError{Reason: "ability with empty name"}
		}
		if declared[a.Name] {
			return &ConfigError{Reason: fmt.Sprintf("ability %q declared twice", a.Name)}
		}
		declared[a.Name] = true
		switch Classification(a.Classification) {
		case ClassificationLocal, ClassificationExternal:
		default:
			return &ConfigError{Reason: fmt.Sprintf("ability %q: classification must be local or external, got %q", a.Name, a.Classification)}
		}
		switch BackoffKind(a.Backoff) {
		case "", BackoffFixed, BackoffExponential:
		default:
			return &ConfigError{Reason: fmt.Sprintf("ability %q: backoff must be fixed or exponential, got %q", a.Name, a.Backoff)}
		}
		if a.TimeoutMS < 0 || a.MaxRetries < 0 || a.RetryDelayMS < 0 {
			return &ConfigError{Reason: fmt.Sprintf("ability %q: negative timeout, retry or delay", a.Name)}
		}
	}

	if len(c.Stages) != len(StageOrder) {
		return &ConfigError{Reason: fmt.Sprintf("pipeline must declare exactly %d stages, got %d", len(StageOrder), len(c.Stages))}
	}
	for i, s := range c.Stages {
		if Stage(s.Name) != StageOrder[i] {
			return &ConfigError{Reason: fmt.Sprintf("stage %d must be %s, got %q", i, StageOrder[i], s.Name)}
		}
		switch Mode(s.Mode) {
		case ModeDeterministic, ModeNonDeterministic:
		default:
			return &ConfigError{Reason: fmt.Sprintf("stage %s: mode must be deterministic or non-deterministic, got %q", s.Name, s.Mode)}
		}
		if len(s.Abilities) == 0 {
			return &ConfigError{Reason: fmt.Sprintf("stage %s declares no abilities", s.Name)}
		}
		seen := make(map[string]bool, len(s.Abilities))
		for _, sa := range s.Abilities {
			if !declared[sa.Name] {
				return &ConfigError{Reason: fmt.Sprintf("stage %s references undeclared ability %q", s.Name, sa.Name)}
			}
			if seen[sa.Name] {
				return &ConfigError{Reason: fmt.Sprintf("stage %s lists ability %q twice", s.Name, sa.Name)}
			}
			seen[sa.Name] = true
			for _, dep := range sa.DependsOn {
				if dep == sa.Name {
					return &ConfigError{Reason: fmt.Sprintf("stage %s: ability %q depends on itself", s.Name, sa.Name)}
				}
			}
		}
		// Dependencies must point at earlier-declared siblings so the wave
		// schedule is acyclic by construction.
		for _, sa := range s.Abilities {
			for _, dep := range sa.DependsOn {
				if !seen[dep] {
					return &ConfigError{Reason: fmt.Sprintf("stage %s: ability %q depends on %q which is not in the stage", s.Name, sa.Name, dep)}
				}
				if !declaredBefore(s.Abilities, dep, sa.Name) {
					return &ConfigError{Reason: fmt.Sprintf("stage %s: ability %q must be declared after its dependency %q", s.Name, sa.Name, dep)}
				}
			}
		}
	}
	return nil
}

func declaredBefore(abilities []StageAbilityConfig, dep, name string) bool {
	for _, a := range abilities {
		if a.Name == dep {
			return true
		}
		if a.Name == name {
			return false
		}
	}
	return false
}

// definition resolves an AbilityConfig into an immutable AbilityDefinition,
// applying the per-classification defaults.
func (a AbilityConfig) definition() AbilityDefinition {
	def := AbilityDefinition{
		Name:           a.Name,
		Classification: Classification(a.Classification),
		Endpoint:       a.Endpoint,
		Timeout:        time.Duration(a.TimeoutMS) * time.Millisecond,
		MaxRetries:     a.MaxRetries,
		Backoff:        BackoffKind(a.Backoff),
		RetryDelay:     time.Duration(a.RetryDelayMS) * time.Millisecond,
		Transient:      true,
	}
	if def.Timeout == 0 {
		if def.Classification == ClassificationExternal {
			def.Timeout = defaultExternalTimeout
		} else {
			def.Timeout = defaultLocalTimeout
		}
	}
	if def.Backoff == "" {
		def.Backoff = BackoffExponential
	}
	if def.RetryDelay == 0 {
		def.RetryDelay = defaultRetryDelay
	}
	if a.Transient != nil {
		def.Transient = *a.Transient
	}
	return def
}

// DefaultConfig returns the stock customer-support pipeline: 11 stages and
// the abilities they invoke, split between in-process state management and
// the two external systems ("common" for reasoning, "atlas" for systems of
// record).
func DefaultConfig() *Config {
	local := func(name string) AbilityConfig {
		return AbilityConfig{Name: name, Classification: string(ClassificationLocal)}
	}
	external := func(name, endpoint string) AbilityConfig {
		return AbilityConfig{
			Name:           name,
			Classification: string(ClassificationExternal),
			Endpoint:       endpoint,
			MaxRetries:     defaultMaxRetries,
		}
	}
	return &Config{
		Abilities: []AbilityConfig{
			local("accept_payload"),
			external("parse_request_text", "common"),
			external("extract_entities", "atlas"),
			external("normalize_fields", "common"),
			external("enrich_records", "atlas"),
			external("add_flags_calculations", "common"),
			external("clarify_question", "atlas"),
			external("extract_answer", "atlas"),
			local("store_answer"),
			external("knowledge_base_search", "atlas"),
			local("store_data"),
			external("solution_evaluation", "common"),
			external("escalation_decision", "atlas"),
			local("update_payload"),
			external("update_ticket", "atlas"),
			external("close_ticket", "atlas"),
			external("response_generation", "common"),
			external("execute_api_calls", "atlas"),
			external("trigger_notifications", "atlas"),
			local("output_payload"),
		},
		Stages: []StageConfig{
			{Name: string(StageIntake), Mode: string(ModeDeterministic), Abilities: []StageAbilityConfig{
				{Name: "accept_payload"},
			}},
			{Name: string(StageUnderstand), Mode: string(ModeDeterministic), Abilities: []StageAbilityConfig{
				{Name: "parse_request_text"},
				{Name: "extract_entities"},
			}},
			{Name: string(StagePrepare), Mode: string(ModeDeterministic), Abilities: []StageAbilityConfig{
				{Name: "normalize_fields"},
				{Name: "enrich_records"},
				{Name: "add_flags_calculations"},
			}},
			{Name: string(StageAsk), Mode: string(ModeDeterministic), Abilities: []StageAbilityConfig{
				{Name: "clarify_question"},
			}},
			{Name: string(StageWait), Mode: string(ModeDeterministic), Abilities: []StageAbilityConfig{
				{Name: "extract_answer"},
				{Name: "store_answer", DependsOn: []string{"extract_answer"}},
			}},
			{Name: string(StageRetrieve), Mode: string(ModeDeterministic), Abilities: []StageAbilityConfig{
				{Name: "knowledge_base_search"},
				{Name: "store_data", DependsOn: []string{"knowledge_base_search"}},
			}},
			{Name: string(StageDecide), Mode: string(ModeNonDeterministic), Abilities: []StageAbilityConfig{
				{Name: "solution_evaluation"},
				{Name: "escalation_decision", DependsOn: []string{"solution_evaluation"}},
				{Name: "update_payload", DependsOn: []string{"escalation_decision"}},
			}},
			{Name: string(StageUpdate), Mode: string(ModeDeterministic), Abilities: []StageAbilityConfig{
				{Name: "update_ticket"},
				{Name: "close_ticket", DependsOn: []string{"update_ticket"}},
			}},
			{Name: string(StageCreate), Mode: string(ModeDeterministic), Abilities: []StageAbilityConfig{
				{Name: "response_generation"},
			}},
			{Name: string(StageDo), Mode: string(ModeDeterministic), Abilities: []StageAbilityConfig{
				{Name: "execute_api_calls"},
				{Name: "trigger_notifications"},
			}},
			{Name: string(StageComplete), Mode: string(ModeDeterministic), Abilities: []StageAbilityConfig{
				{Name: "output_payload"},
			}},
		},
	}
}
