package config

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetSingleton() {
	instance = nil
	once = sync.Once{}
	loadErr = nil
}

// TestGetUninitialized verifies that calling Get() before Load() causes a panic.
func TestGetUninitialized(t *testing.T) {
	resetSingleton()

	assert.Panics(t, func() {
		Get()
	}, "Get() should panic if configuration is not initialized")
}

// TestLoadAndGet verifies the basic singleton load and get functionality.
func TestLoadAndGet(t *testing.T) {
	resetSingleton()

	yamlConfig := []byte(`
oracle:
  model: "llama-3.2-90b-vision-preview"
  max_attempts: 5
  backoff_base: 2s
resolver:
  puzzle_rounds: 6
  submit_on_abstain: false
browser:
  humanoid:
    key_delay_min_ms: 70
`)

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	require.NoError(t, Load(v))

	cfg := Get()
	require.NotNil(t, cfg)
	assert.Equal(t, "llama-3.2-90b-vision-preview", cfg.Oracle.Model)
	assert.Equal(t, 5, cfg.Oracle.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Oracle.BackoffBase)
	assert.Equal(t, 6, cfg.Resolver.PuzzleRounds)
	assert.False(t, cfg.Resolver.SubmitOnAbstain)
	assert.Equal(t, 70, cfg.Browser.Humanoid.KeyDelayMinMs)
	// Untouched keys keep their defaults.
	assert.Equal(t, 150, cfg.Browser.Humanoid.KeyDelayMaxMs)
	assert.Equal(t, "li_at", cfg.Session.AuthCookie)
	assert.NoError(t, cfg.Validate())

	// Subsequent calls to Load do not change the instance.
	v2 := viper.New()
	v2.SetConfigType("yaml")
	require.NoError(t, v2.ReadConfig(bytes.NewBuffer([]byte(`oracle: {model: "other"}`))))
	require.NoError(t, Load(v2))

	cfg2 := Get()
	assert.Same(t, cfg, cfg2, "Get() should return the same instance")
	assert.Equal(t, "llama-3.2-90b-vision-preview", cfg2.Oracle.Model, "Configuration should not be reloaded")
}

func TestSet(t *testing.T) {
	resetSingleton()
	cfg := Default()
	Set(cfg)
	assert.Same(t, cfg, Get())
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Oracle.MaxAttempts)
	assert.Equal(t, 1, cfg.Oracle.MalformedRetries)
	assert.Equal(t, 1, cfg.Oracle.MaxSelections)
	assert.Equal(t, 3, cfg.Resolver.CheckboxRounds)
	assert.Equal(t, 12, cfg.Resolver.PuzzleRounds)
	assert.True(t, cfg.Resolver.SubmitOnAbstain)
	assert.Equal(t, GridLayout{OriginX: 70, OriginY: 190, StepX: 130, StepY: 130}, cfg.Resolver.Grid3x3)
	assert.Equal(t, GridLayout{OriginX: 55, OriginY: 175, StepX: 97, StepY: 97}, cfg.Resolver.Grid4x4)
	assert.Equal(t, 2, cfg.Classifier.LoggedInThreshold)
	assert.Contains(t, cfg.Classifier.LoginURLKeywords, "/checkpoint")
	assert.Contains(t, cfg.Oracle.HedgeWords, "unclear")
	assert.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 0.1, cfg.Browser.Humanoid.ThinkingPauseProbability)
	assert.Equal(t, LoginModeManual, cfg.Login.Mode)
}

// TestConfigValidation verifies the Validate() method.
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:     "zero guardian retries",
			mutate:   func(c *Config) { c.Guardian.MaxRetries = 0 },
			errorMsg: "guardian.max_retries must be a positive integer",
		},
		{
			name:     "zero resolver rounds",
			mutate:   func(c *Config) { c.Resolver.PuzzleRounds = 0 },
			errorMsg: "resolver.checkbox_rounds and resolver.puzzle_rounds must be positive integers",
		},
		{
			name: "inverted inter-attempt delay",
			mutate: func(c *Config) {
				c.Resolver.InterAttemptMin = 5 * time.Second
				c.Resolver.InterAttemptMax = time.Second
			},
			errorMsg: "resolver.inter_attempt_max",
		},
		{
			name:     "zero grid step",
			mutate:   func(c *Config) { c.Resolver.Grid4x4.StepX = 0 },
			errorMsg: "resolver.grid_4x4 steps must be positive",
		},
		{
			name:     "zero oracle attempts",
			mutate:   func(c *Config) { c.Oracle.MaxAttempts = 0 },
			errorMsg: "oracle.max_attempts must be a positive integer",
		},
		{
			name:     "negative selection cap",
			mutate:   func(c *Config) { c.Oracle.MaxSelections = -1 },
			errorMsg: "oracle.max_selections cannot be negative",
		},
		{
			name:     "inverted key delays",
			mutate:   func(c *Config) { c.Browser.Humanoid.KeyDelayMinMs = 500 },
			errorMsg: "key_delay_min_ms must not exceed key_delay_max_ms",
		},
		{
			name:     "zero thinking pause",
			mutate:   func(c *Config) { c.Browser.Humanoid.ThinkingPauseMinMs = 0 },
			errorMsg: "thinking_pause_min_ms must be at least 1",
		},
		{
			name: "inverted thinking pause",
			mutate: func(c *Config) {
				c.Browser.Humanoid.ThinkingPauseMinMs = 900
				c.Browser.Humanoid.ThinkingPauseMaxMs = 800
			},
			errorMsg: "not exceed thinking_pause_max_ms",
		},
		{
			name:     "micro adjust larger than a chunk",
			mutate:   func(c *Config) { c.Browser.Humanoid.MicroAdjustMax = 100 },
			errorMsg: "micro_adjust_max must be smaller than scroll_chunk_min",
		},
		{
			name:     "missing auth cookie",
			mutate:   func(c *Config) { c.Session.AuthCookie = "" },
			errorMsg: "session.auth_cookie is a required configuration field",
		},
		{
			name:     "unknown login mode",
			mutate:   func(c *Config) { c.Login.Mode = "magic" },
			errorMsg: `login.mode "magic" is not supported`,
		},
		{
			name: "credentials mode without selectors",
			mutate: func(c *Config) {
				c.Login.Mode = LoginModeCredentials
				c.Login.PasswordSelector = ""
			},
			errorMsg: "required in credentials mode",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errorMsg)
		})
	}
}
