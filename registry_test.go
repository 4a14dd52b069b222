package ticketflow

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryDefaultsToStockPipeline(t *testing.T) {
	registry, err := NewRegistry(nil)
	require.NoError(t, err)

	stages := registry.Stages()
	require.Len(t, stages, 11)
	for i, s := range stages {
		assert.Equal(t, StageOrder[i], s.Name)
	}
	decide, ok := registry.Stage(StageDecide)
	require.True(t, ok)
	assert.Equal(t, ModeNonDeterministic, decide.Mode)
}

func TestNewRegistryRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stages = cfg.Stages[:5]

	_, err := NewRegistry(cfg)
	var cErr *ConfigError
	require.ErrorAs(t, err, &cErr)
}

func TestResolveKnownAbility(t *testing.T) {
	registry, err := NewRegistry(nil)
	require.NoError(t, err)

	def, err := registry.Resolve("knowledge_base_search")
	require.NoError(t, err)
	assert.Equal(t, ClassificationExternal, def.Classification)
	assert.Equal(t, "atlas", def.Endpoint)
	assert.Equal(t, 5*time.Second, def.Timeout)
	assert.Equal(t, 2, def.MaxRetries)
	assert.Equal(t, BackoffExponential, def.Backoff)
	assert.True(t, def.Transient)

	def, err = registry.Resolve("accept_payload")
	require.NoError(t, err)
	assert.Equal(t, ClassificationLocal, def.Classification)
	assert.Equal(t, 2*time.Second, def.Timeout)
}

func TestResolveUnknownAbility(t *testing.T) {
	registry, err := NewRegistry(nil)
	require.NoError(t, err)

	_, err = registry.Resolve("summon_agent")
	var uErr *UnknownAbilityError
	require.ErrorAs(t, err, &uErr)
	assert.Equal(t, "summon_agent", uErr.Name)
}

func TestRegistryConcurrentResolve(t *testing.T) {
	registry, err := NewRegistry(nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := registry.Resolve("parse_request_text")
				assert.NoError(t, err)
				registry.Stages()
			}
		}()
	}
	wg.Wait()
}

func TestStagesReturnsCopy(t *testing.T) {
	registry, err := NewRegistry(nil)
	require.NoError(t, err)

	stages := registry.Stages()
	stages[0].Name = Stage("MUTATED")

	fresh := registry.Stages()
	assert.Equal(t, StageIntake, fresh[0].Name)
}
