package schemas

import (
	"fmt"
	"strings"
)

// PlatformID identifies a supported social platform.
type PlatformID string

const (
	PlatformFacebook  PlatformID = "facebook"
	PlatformInstagram PlatformID = "instagram"
	PlatformTwitter   PlatformID = "twitter"
)

// Platform binds a PlatformID to the site it automates and the cookie that proves a
// human has logged in.
type Platform struct {
	ID           PlatformID
	Name         string
	BaseURL      string
	CookieDomain string
	LoginCookie  string
}

var platforms = map[PlatformID]Platform{
	PlatformFacebook: {
		ID:           PlatformFacebook,
		Name:         "Facebook",
		BaseURL:      "https://www.facebook.com",
		CookieDomain: ".facebook.com",
		LoginCookie:  "c_user",
	},
	PlatformInstagram: {
		ID:           PlatformInstagram,
		Name:         "Instagram",
		BaseURL:      "https://www.instagram.com",
		CookieDomain: ".instagram.com",
		LoginCookie:  "sessionid",
	},
	PlatformTwitter: {
		ID:           PlatformTwitter,
		Name:         "X (Twitter)",
		BaseURL:      "https://x.com",
		CookieDomain: ".x.com",
		LoginCookie:  "auth_token",
	},
}

// AllPlatforms lists the closed platform enumeration in a stable order.
var AllPlatforms = []PlatformID{PlatformFacebook, PlatformInstagram, PlatformTwitter}

// ParsePlatform resolves a platform name case-insensitively.
func ParsePlatform(s string) (PlatformID, error) {
	id := PlatformID(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := platforms[id]; !ok {
		return "", fmt.Errorf("unsupported platform: %q", s)
	}
	return id, nil
}

// Info returns the static description of the platform.
func (p PlatformID) Info() (Platform, bool) {
	info, ok := platforms[p]
	return info, ok
}

// Valid reports whether p is part of the closed enumeration.
func (p PlatformID) Valid() bool {
	_, ok := platforms[p]
	return ok
}

func (p PlatformID) String() string { return string(p) }

// PlatformStrings converts a slice of ids to plain strings for the wire.
func PlatformStrings(ids []PlatformID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}
