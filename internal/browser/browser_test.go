package browser

import (
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestParseCookiesArray(t *testing.T) {
	t.Parallel()

	blob := []byte(`[
  {"name": "SID", "value": "abc", "domain": ".google.com", "path": "/", "expires": 1767225600.5,
   "httpOnly": true, "secure": true, "sameSite": "Lax"},
  {"name": "NID", "value": "def", "domain": ".google.com", "path": "/", "expires": -1, "sameSite": "weird"},
  {"name": "", "value": "ignored"}
]`)
	cookies, err := ParseCookies(blob)
	require.NoError(t, err)
	require.Len(t, cookies, 2)

	sid := cookies[0]
	require.Equal(t, "SID", sid.Name)
	require.True(t, sid.HTTPOnly)
	require.Equal(t, network.CookieSameSiteLax, sid.SameSite)
	require.NotNil(t, sid.Expires)
	require.Equal(t, int64(1767225600), sid.Expires.Time().Unix())

	nid := cookies[1]
	require.Nil(t, nid.Expires)
	require.Empty(t, nid.SameSite)
}

func TestParseCookiesStateObject(t *testing.T) {
	t.Parallel()

	cookies, err := ParseCookies([]byte(`{"cookies": [{"name": "SID", "value": "abc"}], "origins": []}`))
	require.NoError(t, err)
	require.Len(t, cookies, 1)

	none, err := ParseCookies([]byte("  "))
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = ParseCookies([]byte(`[{"name": 1}]`))
	require.Error(t, err)
}

func TestEncodeCookiesRoundTripsThroughParse(t *testing.T) {
	t.Parallel()

	data, err := EncodeCookies([]*network.Cookie{
		{Name: "SID", Value: "abc", Domain: ".google.com", Path: "/", Session: true, SameSite: network.CookieSameSiteNone},
	})
	require.NoError(t, err)

	cookies, err := ParseCookies(data)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	require.Nil(t, cookies[0].Expires)
	require.Equal(t, network.CookieSameSiteNone, cookies[0].SameSite)
}

func TestRequestFilterAllowsOnlyListedHosts(t *testing.T) {
	t.Parallel()

	f := newRequestFilter(DefaultImageHosts)
	require.True(t, f.allowed("https://lh3.googleusercontent.com/a/photo=w36-h36"))
	require.True(t, f.allowed("https://STREETVIEWPIXELS-PA.googleapis.com/v1/thumbnail"))
	require.True(t, f.allowed("data:image/png;base64,AAAA"))
	require.False(t, f.allowed("https://maps.gstatic.com/tactile/pane/icon.png"))
	require.False(t, f.allowed("://bad"))
	require.Len(t, f.patterns(), 2)
}

func TestLocatorScriptsQuoteSelectors(t *testing.T) {
	t.Parallel()

	item := Locator{Selector: `div[data-review-id][aria-label]`, Index: 3}
	img := Locator{Selector: `img[alt="写真: Cafe \"A\""]`}.In(item)

	js := img.elementJS()
	require.Contains(t, js, `"div[data-review-id][aria-label]"`)
	require.Contains(t, js, `[3]`)
	require.Contains(t, js, `"img[alt=\"写真: Cafe \\\"A\\\"\"]"`)

	button := Locator{Selector: "button", Text: "場所の詳細"}
	require.Contains(t, button.countJS(), `.includes("場所の詳細")`)
	require.Equal(t, `button[0](text "場所の詳細")`, button.String())
	require.True(t, strings.HasPrefix(img.String(), "div[data-review-id][aria-label][3] >> "))
	require.Equal(t, 5, item.Nth(5).Index)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, "ja", cfg.Lang)
	require.Equal(t, 30*time.Second, cfg.ActionTimeout)
	require.Equal(t, 60*time.Second, cfg.NavigationTimeout)
	require.Equal(t, DefaultImageHosts, cfg.ImageHosts)
}
