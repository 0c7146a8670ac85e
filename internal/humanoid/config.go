package humanoid

import (
	"math/rand"
	"time"
)

// SamplesPerSecond is the fixed sampling rate of planned pointer paths.
const SamplesPerSecond = 30.0

// Config holds the tunables for planning and executing human-like input.
type Config struct {
	// Rng overrides the random source. It is never read from configuration files.
	Rng *rand.Rand `mapstructure:"-" json:"-" yaml:"-"`
	// Seed fixes the random source when non-zero.
	Seed int64 `mapstructure:"seed" json:"seed" yaml:"seed"`

	// -- Pointer --
	JitterPx        float64       `mapstructure:"jitter_px" json:"jitter_px" yaml:"jitter_px"`
	MoveDurationMin time.Duration `mapstructure:"move_duration_min" json:"move_duration_min" yaml:"move_duration_min"`
	MoveDurationMax time.Duration `mapstructure:"move_duration_max" json:"move_duration_max" yaml:"move_duration_max"`
	ClickDelayMin   time.Duration `mapstructure:"click_delay_min" json:"click_delay_min" yaml:"click_delay_min"`
	ClickDelayMax   time.Duration `mapstructure:"click_delay_max" json:"click_delay_max" yaml:"click_delay_max"`
	DriftAmplitude  float64       `mapstructure:"drift_amplitude" json:"drift_amplitude" yaml:"drift_amplitude"`

	// -- Keyboard --
	KeyDelayMinMs            int     `mapstructure:"key_delay_min_ms" json:"key_delay_min_ms" yaml:"key_delay_min_ms"`
	KeyDelayMaxMs            int     `mapstructure:"key_delay_max_ms" json:"key_delay_max_ms" yaml:"key_delay_max_ms"`
	ThinkingPauseProbability float64 `mapstructure:"thinking_pause_probability" json:"thinking_pause_probability" yaml:"thinking_pause_probability"`
	ThinkingPauseMinMs       int     `mapstructure:"thinking_pause_min_ms" json:"thinking_pause_min_ms" yaml:"thinking_pause_min_ms"`
	ThinkingPauseMaxMs       int     `mapstructure:"thinking_pause_max_ms" json:"thinking_pause_max_ms" yaml:"thinking_pause_max_ms"`

	// -- Scrolling --
	ScrollChunkMin          float64       `mapstructure:"scroll_chunk_min" json:"scroll_chunk_min" yaml:"scroll_chunk_min"`
	ScrollChunkMax          float64       `mapstructure:"scroll_chunk_max" json:"scroll_chunk_max" yaml:"scroll_chunk_max"`
	ScrollDelayMin          time.Duration `mapstructure:"scroll_delay_min" json:"scroll_delay_min" yaml:"scroll_delay_min"`
	ScrollDelayMax          time.Duration `mapstructure:"scroll_delay_max" json:"scroll_delay_max" yaml:"scroll_delay_max"`
	ReadingPauseProbability float64       `mapstructure:"reading_pause_probability" json:"reading_pause_probability" yaml:"reading_pause_probability"`
	ReadingPauseMin         time.Duration `mapstructure:"reading_pause_min" json:"reading_pause_min" yaml:"reading_pause_min"`
	ReadingPauseMax         time.Duration `mapstructure:"reading_pause_max" json:"reading_pause_max" yaml:"reading_pause_max"`
	MicroAdjustProbability  float64       `mapstructure:"micro_adjust_probability" json:"micro_adjust_probability" yaml:"micro_adjust_probability"`
	MicroAdjustMin          float64       `mapstructure:"micro_adjust_min" json:"micro_adjust_min" yaml:"micro_adjust_min"`
	MicroAdjustMax          float64       `mapstructure:"micro_adjust_max" json:"micro_adjust_max" yaml:"micro_adjust_max"`
}

// DefaultConfig returns the baseline persona.
func DefaultConfig() Config {
	return Config{
		JitterPx:        2,
		MoveDurationMin: 400 * time.Millisecond,
		MoveDurationMax: 1200 * time.Millisecond,
		ClickDelayMin:   80 * time.Millisecond,
		ClickDelayMax:   250 * time.Millisecond,
		DriftAmplitude:  3,

		KeyDelayMinMs:            50,
		KeyDelayMaxMs:            150,
		ThinkingPauseProbability: 0.1,
		ThinkingPauseMinMs:       300,
		ThinkingPauseMaxMs:       800,

		ScrollChunkMin:          80,
		ScrollChunkMax:          250,
		ScrollDelayMin:          100 * time.Millisecond,
		ScrollDelayMax:          400 * time.Millisecond,
		ReadingPauseProbability: 0.1,
		ReadingPauseMin:         1000 * time.Millisecond,
		ReadingPauseMax:         2500 * time.Millisecond,
		MicroAdjustProbability:  0.05,
		MicroAdjustMin:          10,
		MicroAdjustMax:          30,
	}
}

// newRand resolves the random source for a config.
func (c Config) newRand() *rand.Rand {
	if c.Rng != nil {
		return c.Rng
	}
	seed := c.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
