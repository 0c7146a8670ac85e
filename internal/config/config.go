// Package config holds the application's root configuration.
package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/gatewalk/internal/humanoid"
)

var (
	instance *Config
	once     sync.Once
	loadErr  error
	mu       sync.RWMutex
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Network    NetworkConfig    `mapstructure:"network"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
	Guardian   GuardianConfig   `mapstructure:"guardian"`
	Session    SessionConfig    `mapstructure:"session"`
	Login      LoginConfig      `mapstructure:"login"`
	Target     TargetConfig     `mapstructure:"target"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// ViewportConfig is the window size presented to pages.
type ViewportConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// BrowserConfig holds settings for the Chrome process and the input persona.
type BrowserConfig struct {
	Headless             bool            `mapstructure:"headless"`
	ExecPath             string          `mapstructure:"exec_path"`
	UserDataDir          string          `mapstructure:"user_data_dir"`
	UserAgent            string          `mapstructure:"user_agent"`
	Languages            []string        `mapstructure:"languages"`
	Platform             string          `mapstructure:"platform"`
	IgnoreTLSErrors      bool            `mapstructure:"ignore_tls_errors"`
	// DisableSiteIsolation renders cross-site frames in the page process. Frame
	// documents are still reached through the DOM domain, not page scripts.
	DisableSiteIsolation bool            `mapstructure:"disable_site_isolation"`
	Stealth              bool            `mapstructure:"stealth"`
	Args                 []string        `mapstructure:"args"`
	Viewport             ViewportConfig  `mapstructure:"viewport"`
	NavigationTimeout    time.Duration   `mapstructure:"navigation_timeout"`
	Humanoid             humanoid.Config `mapstructure:"humanoid"`
}

// NetworkConfig holds settings for outbound HTTP requests (the oracle transport).
type NetworkConfig struct {
	Timeout             time.Duration     `mapstructure:"timeout"`
	DialTimeout         time.Duration     `mapstructure:"dial_timeout"`
	TLSHandshakeTimeout time.Duration     `mapstructure:"tls_handshake_timeout"`
	IgnoreTLSErrors     bool              `mapstructure:"ignore_tls_errors"`
	Proxy               string            `mapstructure:"proxy"`
	Headers             map[string]string `mapstructure:"headers"`
}

// OracleProvider defines the supported perception oracle APIs.
type OracleProvider string

const (
	// ProviderOpenAI covers any OpenAI-compatible chat completions endpoint.
	ProviderOpenAI OracleProvider = "openai"
	ProviderGroq   OracleProvider = "groq"
	// ProviderOllama is for connecting to a local, self-hosted model.
	ProviderOllama OracleProvider = "ollama"
)

// OracleConfig holds settings for the vision model used on grid puzzles.
type OracleConfig struct {
	Provider         OracleProvider `mapstructure:"provider"`
	Model            string         `mapstructure:"model"`
	APIKey           string         `mapstructure:"api_key"`
	Endpoint         string         `mapstructure:"endpoint"`
	APITimeout       time.Duration  `mapstructure:"api_timeout"`
	Temperature      float32        `mapstructure:"temperature"`
	MaxTokens        int            `mapstructure:"max_tokens"`
	MaxAttempts      int            `mapstructure:"max_attempts"`
	MalformedRetries int            `mapstructure:"malformed_retries"`
	BackoffBase      time.Duration  `mapstructure:"backoff_base"`
	BackoffMax       time.Duration  `mapstructure:"backoff_max"`
	// MinInterval paces consecutive oracle calls.
	MinInterval time.Duration `mapstructure:"min_interval"`
	HedgeWords  []string      `mapstructure:"hedge_words"`
	// MaxSelections caps how many regions survive filtering.
	MaxSelections int `mapstructure:"max_selections"`
}

// ClassifierConfig lists every marker the classifier looks for.
type ClassifierConfig struct {
	CheckboxSelectors      []string `mapstructure:"checkbox_selectors"`
	PuzzleSelectors        []string `mapstructure:"puzzle_selectors"`
	ChallengeTitleKeywords []string `mapstructure:"challenge_title_keywords"`
	LoginTitleKeywords     []string `mapstructure:"login_title_keywords"`
	ChallengeURLKeywords   []string `mapstructure:"challenge_url_keywords"`
	LoginURLKeywords       []string `mapstructure:"login_url_keywords"`
	ContentURLMarkers      []string `mapstructure:"content_url_markers"`
	LoggedInMarkers        []string `mapstructure:"logged_in_markers"`
	LoginFieldSelectors    []string `mapstructure:"login_field_selectors"`
	LoggedInThreshold      int      `mapstructure:"logged_in_threshold"`
	LoginFieldThreshold    int      `mapstructure:"login_field_threshold"`
}

// GridLayout maps region ids to tile centers. Offsets are relative to the
// puzzle frame's top-left corner when it can be located, otherwise to the page.
type GridLayout struct {
	OriginX float64 `mapstructure:"origin_x"`
	OriginY float64 `mapstructure:"origin_y"`
	StepX   float64 `mapstructure:"step_x"`
	StepY   float64 `mapstructure:"step_y"`
}

// ResolverConfig holds the resolver's budgets, delays and widget selectors.
type ResolverConfig struct {
	CheckboxRounds  int           `mapstructure:"checkbox_rounds"`
	PuzzleRounds    int           `mapstructure:"puzzle_rounds"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	CheckedTimeout  time.Duration `mapstructure:"checked_timeout"`
	InterAttemptMin time.Duration `mapstructure:"inter_attempt_min"`
	InterAttemptMax time.Duration `mapstructure:"inter_attempt_max"`
	// SubmitOnAbstain submits with zero tiles when the oracle has no confident region.
	SubmitOnAbstain bool `mapstructure:"submit_on_abstain"`

	CheckboxFrameSelectors []string `mapstructure:"checkbox_frame_selectors"`
	CheckboxCandidates     []string `mapstructure:"checkbox_candidates"`
	CheckedSelectors       []string `mapstructure:"checked_selectors"`
	PuzzleFrameSelectors   []string `mapstructure:"puzzle_frame_selectors"`
	Grid4x4Selectors       []string `mapstructure:"grid_4x4_selectors"`
	InstructionSelectors   []string `mapstructure:"instruction_selectors"`
	VerifySelectors        []string `mapstructure:"verify_selectors"`
	ReloadSelectors        []string `mapstructure:"reload_selectors"`
	SuccessSelectors       []string `mapstructure:"success_selectors"`

	Grid3x3 GridLayout `mapstructure:"grid_3x3"`
	Grid4x4 GridLayout `mapstructure:"grid_4x4"`
}

// GuardianConfig holds navigation recovery settings.
type GuardianConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	PopupPasses       int           `mapstructure:"popup_passes"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	DismissSelectors  []string      `mapstructure:"dismiss_selectors"`
	BackdropSelectors []string      `mapstructure:"backdrop_selectors"`
	DialogSelectors   []string      `mapstructure:"dialog_selectors"`
	CloseSelectors    []string      `mapstructure:"close_selectors"`
	// ContinueParam is the query parameter carrying the original URL on interstitials.
	ContinueParam string `mapstructure:"continue_param"`
}

// SessionConfig controls where and how the authentication snapshot is kept.
type SessionConfig struct {
	Dir string `mapstructure:"dir"`
	// Path overrides the per-domain file inside Dir.
	Path             string   `mapstructure:"path"`
	AuthCookie       string   `mapstructure:"auth_cookie"`
	TrackedCookies   []string `mapstructure:"tracked_cookies"`
	AuthenticatedURL string   `mapstructure:"authenticated_url"`
}

// LoginMode selects how an interactive login is performed.
type LoginMode string

const (
	LoginModeManual      LoginMode = "manual"
	LoginModeCredentials LoginMode = "credentials"
)

// LoginConfig holds the interactive login settings.
type LoginConfig struct {
	Mode             LoginMode     `mapstructure:"mode"`
	URL              string        `mapstructure:"url"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	UsernameSelector string        `mapstructure:"username_selector"`
	PasswordSelector string        `mapstructure:"password_selector"`
	SubmitSelector   string        `mapstructure:"submit_selector"`
	ManualTimeout    time.Duration `mapstructure:"manual_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
}

// TargetConfig names the site the engine works against.
type TargetConfig struct {
	Domain string `mapstructure:"domain"`
	URL    string `mapstructure:"url"`
	// RunTimeout bounds a whole EnsureAuthenticatedAndChallengeFree call.
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		mu.Lock()
		instance = &cfg
		mu.Unlock()
	})
	return loadErr
}

// Set replaces the global configuration instance.
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}

// Validate checks the settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var errs []error

	if c.Guardian.MaxRetries < 1 {
		errs = append(errs, errors.New("guardian.max_retries must be a positive integer"))
	}
	if c.Guardian.PopupPasses < 0 {
		errs = append(errs, errors.New("guardian.popup_passes cannot be negative"))
	}
	if c.Resolver.CheckboxRounds < 1 || c.Resolver.PuzzleRounds < 1 {
		errs = append(errs, errors.New("resolver.checkbox_rounds and resolver.puzzle_rounds must be positive integers"))
	}
	if c.Resolver.InterAttemptMax < c.Resolver.InterAttemptMin {
		errs = append(errs, errors.New("resolver.inter_attempt_max must not be less than resolver.inter_attempt_min"))
	}
	for name, g := range map[string]GridLayout{"grid_3x3": c.Resolver.Grid3x3, "grid_4x4": c.Resolver.Grid4x4} {
		if g.StepX <= 0 || g.StepY <= 0 {
			errs = append(errs, fmt.Errorf("resolver.%s steps must be positive", name))
		}
	}
	if c.Oracle.MaxAttempts < 1 {
		errs = append(errs, errors.New("oracle.max_attempts must be a positive integer"))
	}
	if c.Oracle.MaxSelections < 0 {
		errs = append(errs, errors.New("oracle.max_selections cannot be negative"))
	}
	if c.Oracle.MalformedRetries < 0 {
		errs = append(errs, errors.New("oracle.malformed_retries cannot be negative"))
	}
	h := c.Browser.Humanoid
	if h.KeyDelayMinMs > h.KeyDelayMaxMs {
		errs = append(errs, errors.New("browser.humanoid.key_delay_min_ms must not exceed key_delay_max_ms"))
	}
	if h.ThinkingPauseMinMs < 1 || h.ThinkingPauseMinMs > h.ThinkingPauseMaxMs {
		errs = append(errs, errors.New("browser.humanoid.thinking_pause_min_ms must be at least 1 and not exceed thinking_pause_max_ms"))
	}
	if h.ScrollChunkMin <= 0 || h.ScrollChunkMin > h.ScrollChunkMax {
		errs = append(errs, errors.New("browser.humanoid scroll chunk bounds are invalid"))
	}
	if h.MicroAdjustMax >= h.ScrollChunkMin {
		errs = append(errs, errors.New("browser.humanoid.micro_adjust_max must be smaller than scroll_chunk_min"))
	}
	if c.Session.AuthCookie == "" {
		errs = append(errs, errors.New("session.auth_cookie is a required configuration field"))
	}
	switch c.Login.Mode {
	case LoginModeManual:
	case LoginModeCredentials:
		if c.Login.UsernameSelector == "" || c.Login.PasswordSelector == "" {
			errs = append(errs, errors.New("login.username_selector and login.password_selector are required in credentials mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("login.mode %q is not supported", c.Login.Mode))
	}

	return errors.Join(errs...)
}
