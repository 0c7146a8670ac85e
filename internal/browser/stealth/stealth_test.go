package stealth

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/gatewalk/internal/config"
)

func TestPersonaFromConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := PersonaFromConfig(config.BrowserConfig{})
		assert.Equal(t, DefaultPersona, p)
	})

	t.Run("overrides", func(t *testing.T) {
		p := PersonaFromConfig(config.BrowserConfig{
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64)",
			Platform:  "Linux x86_64",
			Languages: []string{"de-DE"},
			Viewport:  config.ViewportConfig{Width: 1920, Height: 1080},
		})
		assert.Equal(t, "Mozilla/5.0 (X11; Linux x86_64)", p.UserAgent)
		assert.Equal(t, "Linux x86_64", p.Platform)
		assert.Equal(t, []string{"de-DE"}, p.Languages)
		assert.Equal(t, 1920, p.Width)
		assert.Equal(t, 1080, p.Height)
		assert.Equal(t, DefaultPersona.WebGLVendor, p.WebGLVendor, "unset fields keep the default")
	})

	t.Run("half a viewport is ignored", func(t *testing.T) {
		p := PersonaFromConfig(config.BrowserConfig{Viewport: config.ViewportConfig{Width: 800}})
		assert.Equal(t, DefaultPersona.Width, p.Width)
	})
}

func TestScript(t *testing.T) {
	require.NotEmpty(t, EvasionsJS)

	script, err := Script(DefaultPersona)
	require.NoError(t, err)

	prefix, rest, found := strings.Cut(script, ";\n")
	require.True(t, found)
	assert.Equal(t, EvasionsJS, rest)

	raw := strings.TrimPrefix(prefix, "window.__gatewalkPersona = ")
	var decoded Persona
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, DefaultPersona, decoded)
}

func TestEvasionsCoverWebdriver(t *testing.T) {
	assert.Contains(t, EvasionsJS, "'webdriver'")
	assert.Contains(t, EvasionsJS, "__gatewalkPersona")
}
