package ticketflow

import (
	"github.com/sasha-s/go-deadlock"
)

// Registry maps ability names to their execution definitions and holds the
// resolved stage table. It is read-only after construction and safe for
// concurrent lookup by in-flight ability calls.
type Registry struct {
	mu        deadlock.RWMutex
	abilities map[string]AbilityDefinition
	stages    []StageDefinition
}

// NewRegistry builds a registry from validated configuration. A nil config
// loads the stock pipeline.
func NewRegistry(cfg *Config) (*Registry, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Registry{
		abilities: make(map[string]AbilityDefinition, len(cfg.Abilities)),
		stages:    make([]StageDefinition, 0, len(cfg.Stages)),
	}
	for _, a := range cfg.Abilities {
		r.abilities[a.Name] = a.definition()
	}
	for _, s := range cfg.Stages {
		def := StageDefinition{
			Name:      Stage(s.Name),
			Mode:      Mode(s.Mode),
			Abilities: make([]StageAbility, 0, len(s.Abilities)),
		}
		for _, sa := range s.Abilities {
			def.Abilities = append(def.Abilities, StageAbility{
				Name:      sa.Name,
				Optional:  sa.Optional,
				DependsOn: append([]string(nil), sa.DependsOn...),
			})
		}
		r.stages = append(r.stages, def)
	}
	return r, nil
}

// Resolve returns the definition of a declared ability.
func (r *Registry) Resolve(name string) (AbilityDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.abilities[name]
	if !ok {
		return AbilityDefinition{}, &UnknownAbilityError{Name: name}
	}
	return def, nil
}

// Stages returns the pipeline's stage definitions in execution order.
func (r *Registry) Stages() []StageDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StageDefinition, len(r.stages))
	copy(out, r.stages)
	return out
}

// Stage returns the definition of a single stage.
func (r *Registry) Stage(name Stage) (StageDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageDefinition{}, false
}
