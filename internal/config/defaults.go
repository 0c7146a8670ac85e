package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/gatewalk/internal/humanoid"
)

// SetDefaults registers a default for every key so the tool runs from an empty config file.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "gatewalk")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36")
	v.SetDefault("browser.languages", []string{"en-US", "en"})
	v.SetDefault("browser.platform", "Win32")
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.disable_site_isolation", true)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.viewport.width", 1366)
	v.SetDefault("browser.viewport.height", 768)
	v.SetDefault("browser.navigation_timeout", 30*time.Second)

	h := humanoid.DefaultConfig()
	v.SetDefault("browser.humanoid.seed", h.Seed)
	v.SetDefault("browser.humanoid.jitter_px", h.JitterPx)
	v.SetDefault("browser.humanoid.move_duration_min", h.MoveDurationMin)
	v.SetDefault("browser.humanoid.move_duration_max", h.MoveDurationMax)
	v.SetDefault("browser.humanoid.click_delay_min", h.ClickDelayMin)
	v.SetDefault("browser.humanoid.click_delay_max", h.ClickDelayMax)
	v.SetDefault("browser.humanoid.drift_amplitude", h.DriftAmplitude)
	v.SetDefault("browser.humanoid.key_delay_min_ms", h.KeyDelayMinMs)
	v.SetDefault("browser.humanoid.key_delay_max_ms", h.KeyDelayMaxMs)
	v.SetDefault("browser.humanoid.thinking_pause_probability", h.ThinkingPauseProbability)
	v.SetDefault("browser.humanoid.thinking_pause_min_ms", h.ThinkingPauseMinMs)
	v.SetDefault("browser.humanoid.thinking_pause_max_ms", h.ThinkingPauseMaxMs)
	v.SetDefault("browser.humanoid.scroll_chunk_min", h.ScrollChunkMin)
	v.SetDefault("browser.humanoid.scroll_chunk_max", h.ScrollChunkMax)
	v.SetDefault("browser.humanoid.scroll_delay_min", h.ScrollDelayMin)
	v.SetDefault("browser.humanoid.scroll_delay_max", h.ScrollDelayMax)
	v.SetDefault("browser.humanoid.reading_pause_probability", h.ReadingPauseProbability)
	v.SetDefault("browser.humanoid.reading_pause_min", h.ReadingPauseMin)
	v.SetDefault("browser.humanoid.reading_pause_max", h.ReadingPauseMax)
	v.SetDefault("browser.humanoid.micro_adjust_probability", h.MicroAdjustProbability)
	v.SetDefault("browser.humanoid.micro_adjust_min", h.MicroAdjustMin)
	v.SetDefault("browser.humanoid.micro_adjust_max", h.MicroAdjustMax)

	// -- Network --
	v.SetDefault("network.timeout", 90*time.Second)
	v.SetDefault("network.dial_timeout", 10*time.Second)
	v.SetDefault("network.tls_handshake_timeout", 10*time.Second)
	v.SetDefault("network.ignore_tls_errors", false)
	v.SetDefault("network.proxy", "")

	// -- Oracle --
	v.SetDefault("oracle.provider", string(ProviderOpenAI))
	v.SetDefault("oracle.model", "gpt-4o-mini")
	v.SetDefault("oracle.endpoint", "https://api.openai.com/v1")
	v.SetDefault("oracle.api_timeout", 60*time.Second)
	v.SetDefault("oracle.temperature", 0.1)
	v.SetDefault("oracle.max_tokens", 800)
	v.SetDefault("oracle.max_attempts", 3)
	v.SetDefault("oracle.malformed_retries", 1)
	v.SetDefault("oracle.backoff_base", 4*time.Second)
	v.SetDefault("oracle.backoff_max", 12*time.Second)
	v.SetDefault("oracle.min_interval", 2*time.Second)
	v.SetDefault("oracle.hedge_words", DefaultHedgeWords)
	v.SetDefault("oracle.max_selections", 1)

	// -- Classifier --
	v.SetDefault("classifier.checkbox_selectors", []string{
		`iframe[title*="reCAPTCHA"]`,
		`iframe[src*="recaptcha/api2/anchor"]`,
		`iframe[src*="recaptcha/enterprise/anchor"]`,
		`.g-recaptcha`,
		`[data-sitekey]`,
		`iframe[src*="hcaptcha.com"]`,
		`#px-captcha`,
	})
	v.SetDefault("classifier.puzzle_selectors", []string{
		`iframe[title*="recaptcha challenge"]`,
		`iframe[src*="recaptcha/api2/bframe"]`,
		`iframe[src*="recaptcha/enterprise/bframe"]`,
		`.rc-imageselect`,
		`.rc-challenge`,
	})
	v.SetDefault("classifier.challenge_title_keywords", []string{
		"captcha", "security verification", "security check", "are you a robot",
		"verify you are human", "unusual traffic", "just a moment",
	})
	v.SetDefault("classifier.login_title_keywords", []string{"sign in", "log in", "login", "join linkedin"})
	v.SetDefault("classifier.challenge_url_keywords", []string{"/sorry", "captcha", "/challenge"})
	v.SetDefault("classifier.login_url_keywords", []string{"/login", "/checkpoint", "/uas/login", "authwall", "/signup"})
	v.SetDefault("classifier.content_url_markers", []string{
		"/feed", "/in/", "/search/results", "/mynetwork", "/jobs", "/company/", "/messaging",
	})
	v.SetDefault("classifier.logged_in_markers", []string{
		`img[alt*="profile photo"]`,
		`nav[aria-label="Primary"]`,
		`a[href*="/mynetwork/"]`,
		`a[href*="/jobs/"]`,
		`a[href*="/messaging/"]`,
		`[data-control-name="nav.homepage"]`,
		`.global-nav__me-photo`,
		`.global-nav__primary-link`,
	})
	v.SetDefault("classifier.login_field_selectors", []string{
		`input[name="session_key"]`,
		`input[name="session_password"]`,
		`#username`,
		`#password`,
		`input[type="password"]`,
	})
	v.SetDefault("classifier.logged_in_threshold", 2)
	v.SetDefault("classifier.login_field_threshold", 2)

	// -- Resolver --
	v.SetDefault("resolver.checkbox_rounds", 3)
	v.SetDefault("resolver.puzzle_rounds", 12)
	v.SetDefault("resolver.settle_delay", 5*time.Second)
	v.SetDefault("resolver.checked_timeout", 3*time.Second)
	v.SetDefault("resolver.inter_attempt_min", 2*time.Second)
	v.SetDefault("resolver.inter_attempt_max", 5*time.Second)
	v.SetDefault("resolver.submit_on_abstain", true)
	v.SetDefault("resolver.checkbox_frame_selectors", []string{
		`iframe[title*="reCAPTCHA"]`,
		`iframe[src*="recaptcha"]`,
		`iframe[src*="hcaptcha.com"]`,
	})
	v.SetDefault("resolver.checkbox_candidates", []string{
		`#recaptcha-anchor`,
		`.recaptcha-checkbox-border`,
		`.recaptcha-checkbox`,
		`#checkbox`,
		`[role="checkbox"]`,
		`input[type="checkbox"]`,
	})
	v.SetDefault("resolver.checked_selectors", []string{`.recaptcha-checkbox-checked`, `[aria-checked="true"]`})
	v.SetDefault("resolver.puzzle_frame_selectors", []string{
		`iframe[title*="recaptcha challenge"]`,
		`iframe[src*="bframe"]`,
	})
	v.SetDefault("resolver.grid_4x4_selectors", []string{`table.rc-imageselect-table-44`})
	v.SetDefault("resolver.instruction_selectors", []string{
		`.rc-imageselect-desc-wrapper strong`,
		`.rc-imageselect-desc strong`,
		`.rc-imageselect-instructions`,
	})
	v.SetDefault("resolver.verify_selectors", []string{`#recaptcha-verify-button`, `.rc-button-default`, `button[type="submit"]`})
	v.SetDefault("resolver.reload_selectors", []string{`#recaptcha-reload-button`})
	v.SetDefault("resolver.success_selectors", []string{`input[name="q"]`, `#search`, `#searchbox`, `[aria-label*="Search"]`})
	// Offsets within the 400px wide challenge frame: tiles start below the instruction header.
	v.SetDefault("resolver.grid_3x3.origin_x", 70)
	v.SetDefault("resolver.grid_3x3.origin_y", 190)
	v.SetDefault("resolver.grid_3x3.step_x", 130)
	v.SetDefault("resolver.grid_3x3.step_y", 130)
	v.SetDefault("resolver.grid_4x4.origin_x", 55)
	v.SetDefault("resolver.grid_4x4.origin_y", 175)
	v.SetDefault("resolver.grid_4x4.step_x", 97)
	v.SetDefault("resolver.grid_4x4.step_y", 97)

	// -- Guardian --
	v.SetDefault("guardian.max_retries", 3)
	v.SetDefault("guardian.popup_passes", 3)
	v.SetDefault("guardian.settle_delay", 2*time.Second)
	v.SetDefault("guardian.dismiss_selectors", []string{
		`button[aria-label="Dismiss"]`,
		`button[aria-label*="dismiss"]`,
		`.artdeco-modal__dismiss`,
		`.artdeco-toast-item__dismiss`,
		`.msg-overlay-bubble-header__control--close`,
		`[data-test-modal-close-btn]`,
		`button[data-control-name="overlay.close_conversation_window"]`,
	})
	v.SetDefault("guardian.backdrop_selectors", []string{`.artdeco-modal-overlay`, `.modal-backdrop`, `[class*="modal-overlay"]`})
	v.SetDefault("guardian.dialog_selectors", []string{`[role="dialog"]`, `.artdeco-modal`, `[class*="modal"]`})
	v.SetDefault("guardian.close_selectors", []string{
		`button[aria-label*="Close"]`,
		`button[aria-label*="close"]`,
		`button[aria-label*="Dismiss"]`,
		`.close`,
		`[data-dismiss]`,
	})
	v.SetDefault("guardian.continue_param", "continue")

	// -- Session --
	v.SetDefault("session.dir", ".gatewalk/sessions")
	v.SetDefault("session.path", "")
	v.SetDefault("session.auth_cookie", "li_at")
	v.SetDefault("session.tracked_cookies", []string{"li_at", "JSESSIONID", "li_rm"})
	v.SetDefault("session.authenticated_url", "https://www.linkedin.com/feed/")

	// -- Login --
	v.SetDefault("login.mode", string(LoginModeManual))
	v.SetDefault("login.url", "https://www.linkedin.com/login")
	v.SetDefault("login.username_selector", "#username")
	v.SetDefault("login.password_selector", "#password")
	v.SetDefault("login.submit_selector", `button[type="submit"]`)
	v.SetDefault("login.manual_timeout", 5*time.Minute)
	v.SetDefault("login.poll_interval", 3*time.Second)
	v.SetDefault("login.settle_delay", 3*time.Second)

	// -- Target --
	v.SetDefault("target.domain", "linkedin.com")
	v.SetDefault("target.url", "https://www.linkedin.com/feed/")
	v.SetDefault("target.run_timeout", 15*time.Minute)
}

// DefaultHedgeWords are phrases that mark an oracle justification as unsure.
var DefaultHedgeWords = []string{
	"might", "maybe", "possibly", "perhaps", "unclear", "ambiguous", "not sure",
	"uncertain", "difficult", "hard to tell", "could be", "seems", "appears", "looks like",
}

// Default returns a fully populated configuration without reading any file.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; failing to decode them is a programming error.
		panic(err)
	}
	return &cfg
}
