// internal/browser/stealth.go
package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/api/schemas"
)

// evasionsScript hides the automation markers a launched Chrome exposes. The persona's
// languages are substituted for __LANGUAGES__.
const evasionsScript = `(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
  if (!window.chrome) window.chrome = {};
  if (!window.chrome.runtime) window.chrome.runtime = {};
  const languages = __LANGUAGES__;
  Object.defineProperty(navigator, 'languages', { get: () => languages.slice() });
  if (navigator.permissions && navigator.permissions.query) {
    const originalQuery = navigator.permissions.query.bind(navigator.permissions);
    navigator.permissions.query = (parameters) => (
      parameters && parameters.name === 'notifications'
        ? Promise.resolve({ state: Notification.permission })
        : originalQuery(parameters)
    );
  }
})();`

// ResolvePersona fills the zero fields of p from schemas.DefaultPersona.
func ResolvePersona(p schemas.Persona) schemas.Persona {
	d := schemas.DefaultPersona
	if p.UserAgent == "" {
		p.UserAgent = d.UserAgent
	}
	if p.Platform == "" {
		p.Platform = d.Platform
	}
	if len(p.Languages) == 0 {
		p.Languages = append([]string(nil), d.Languages...)
	}
	if p.Width <= 0 || p.Height <= 0 {
		p.Width, p.Height = d.Width, d.Height
	}
	if p.Timezone == "" {
		p.Timezone = d.Timezone
	}
	if p.Locale == "" {
		p.Locale = d.Locale
	}
	return p
}

// acceptLanguage renders languages with descending q-values.
func acceptLanguage(languages []string) string {
	parts := make([]string, 0, len(languages))
	for i, lang := range languages {
		if i == 0 {
			parts = append(parts, lang)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", lang, q))
	}
	return strings.Join(parts, ",")
}

func evasionsFor(p schemas.Persona) string {
	langs, err := json.Marshal(p.Languages)
	if err != nil {
		langs = []byte("[]")
	}
	return strings.Replace(evasionsScript, "__LANGUAGES__", string(langs), 1)
}

// ApplyPersona returns the CDP actions that make a launched tab look like the persona.
// Attached browsers keep the user's own fingerprint and never get these.
func ApplyPersona(p schemas.Persona, logger *zap.Logger) chromedp.Tasks {
	p = ResolvePersona(p)
	if logger != nil {
		logger.Debug("Applying browser persona.",
			zap.String("userAgent", p.UserAgent),
			zap.String("platform", p.Platform),
			zap.String("timezone", p.Timezone),
		)
	}
	acceptLang := acceptLanguage(p.Languages)
	return chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).
			WithAcceptLanguage(acceptLang).
			WithPlatform(p.Platform),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := cdppage.AddScriptToEvaluateOnNewDocument(evasionsFor(p)).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": acceptLang}),
	}
}
