package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/herald/api/schemas"
)

func TestResolvePersona(t *testing.T) {
	p := ResolvePersona(schemas.Persona{UserAgent: "custom-agent", Width: 1366})
	assert.Equal(t, "custom-agent", p.UserAgent)
	assert.Equal(t, schemas.DefaultPersona.Width, p.Width, "a half-specified size falls back as a pair")
	assert.Equal(t, schemas.DefaultPersona.Height, p.Height)
	assert.Equal(t, "Europe/Budapest", p.Timezone)
	assert.Equal(t, schemas.DefaultPersona.Languages, p.Languages)

	p.Languages[0] = "xx"
	assert.Equal(t, "hu-HU", schemas.DefaultPersona.Languages[0], "defaults must not be aliased")
}

func TestAcceptLanguage(t *testing.T) {
	assert.Equal(t, "hu-HU,hu;q=0.9,en-US;q=0.8,en;q=0.7", acceptLanguage([]string{"hu-HU", "hu", "en-US", "en"}))
	assert.Equal(t, "en", acceptLanguage([]string{"en"}))
}

func TestEvasionsForEmbedsLanguages(t *testing.T) {
	script := evasionsFor(schemas.Persona{Languages: []string{"hu-HU", "en"}})
	assert.Contains(t, script, `const languages = ["hu-HU","en"];`)
	assert.False(t, strings.Contains(script, "__LANGUAGES__"))
}

func TestApplyPersonaTasks(t *testing.T) {
	tasks := ApplyPersona(schemas.Persona{}, zaptest.NewLogger(t))
	assert.Len(t, tasks, 5)
}
