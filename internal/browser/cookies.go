// internal/browser/cookies.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/herald/api/schemas"
)

// Cookies returns the browser's cookies for the given URLs.
func (m *Manager) Cookies(ctx context.Context, urls ...string) ([]schemas.Cookie, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}
	var raw []*network.Cookie
	runCtx, cancel := CombineContext(m.rootCtx, ctx)
	defer cancel()
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().WithURLs(urls).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	out := make([]schemas.Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, schemas.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: c.Expires,
			Session: c.Session,
		})
	}
	return out, nil
}

// LoggedIn reports which of platforms have a live login cookie in the browser.
func (m *Manager) LoggedIn(ctx context.Context, platforms []schemas.PlatformID) ([]schemas.PlatformID, error) {
	urls := make([]string, 0, len(platforms))
	for _, p := range platforms {
		if info, ok := p.Info(); ok {
			urls = append(urls, info.BaseURL)
		}
	}
	if len(urls) == 0 {
		return nil, nil
	}
	cookies, err := m.Cookies(ctx, urls...)
	if err != nil {
		return nil, err
	}
	return LoggedInPlatforms(cookies, platforms, time.Now()), nil
}

// LoggedInPlatforms filters platforms to those whose login cookie is present, non-empty
// and unexpired, keeping the input order.
func LoggedInPlatforms(cookies []schemas.Cookie, platforms []schemas.PlatformID, now time.Time) []schemas.PlatformID {
	out := make([]schemas.PlatformID, 0, len(platforms))
	for _, p := range platforms {
		info, ok := p.Info()
		if !ok {
			continue
		}
		for _, c := range cookies {
			if c.Name != info.LoginCookie || c.Value == "" || !domainMatches(c.Domain, info.CookieDomain) {
				continue
			}
			if !c.Session && c.Expires > 0 && time.Unix(int64(c.Expires), 0).Before(now) {
				continue
			}
			out = append(out, p)
			break
		}
	}
	return out
}

// domainMatches compares a cookie domain with a platform's ".example.com" domain.
func domainMatches(cookieDomain, platformDomain string) bool {
	cd := strings.TrimPrefix(strings.ToLower(cookieDomain), ".")
	pd := strings.TrimPrefix(strings.ToLower(platformDomain), ".")
	return cd == pd || strings.HasSuffix(cd, "."+pd)
}
