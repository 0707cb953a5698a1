package browser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// storedCookie is one entry of a saved cookie blob. The layout matches the
// cookie arrays browser automation tools export.
type storedCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

// ParseCookies decodes a cookie blob. It accepts either a bare array or an
// object with a "cookies" array.
func ParseCookies(data []byte) ([]*network.CookieParam, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	var stored []storedCookie
	if data[0] == '{' {
		var state struct {
			Cookies []storedCookie `json:"cookies"`
		}
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("decode cookie state: %w", err)
		}
		stored = state.Cookies
	} else if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode cookies: %w", err)
	}

	out := make([]*network.CookieParam, 0, len(stored))
	for _, c := range stored {
		if c.Name == "" {
			continue
		}
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			expires := cdp.TimeSinceEpoch(time.Unix(int64(sec), int64(frac*1e9)))
			param.Expires = &expires
		}
		switch ss := network.CookieSameSite(c.SameSite); ss {
		case network.CookieSameSiteStrict, network.CookieSameSiteLax, network.CookieSameSiteNone:
			param.SameSite = ss
		}
		out = append(out, param)
	}
	return out, nil
}

// LoadCookies reads and parses a cookie file. An empty path yields no
// cookies.
func LoadCookies(path string) ([]*network.CookieParam, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	return ParseCookies(data)
}

// EncodeCookies renders browser cookies in the blob format ParseCookies reads.
func EncodeCookies(cookies []*network.Cookie) ([]byte, error) {
	stored := make([]storedCookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		expires := c.Expires
		if c.Session {
			expires = -1
		}
		stored = append(stored, storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode cookies: %w", err)
	}
	return data, nil
}
