// Package pages models the Maps screens the crawler reads: a contributor's
// review list and a place's details and review tab.
package pages

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contrib-graph-crawler/internal/browser"
)

// Browser is the subset of browser.Session the pages drive.
type Browser interface {
	Navigate(ctx context.Context, rawURL string) error
	Reload(ctx context.Context) error
	NewTab(ctx context.Context) error
	Location(ctx context.Context) (string, error)
	WaitURL(ctx context.Context, match func(string) bool, timeout time.Duration) (string, error)
	WaitVisible(ctx context.Context, loc browser.Locator, timeout time.Duration) error
	Count(ctx context.Context, loc browser.Locator) (int, error)
	Attribute(ctx context.Context, loc browser.Locator, name string) (string, bool, error)
	Property(ctx context.Context, loc browser.Locator, name string) (string, bool, error)
	Click(ctx context.Context, loc browser.Locator) error
	ClickOffset(ctx context.Context, loc browser.Locator, dx, dy float64) error
	Wheel(ctx context.Context, anchor browser.Locator, opts browser.WheelOptions) error
	PressEscape(ctx context.Context) error
	Sleep(ctx context.Context, d time.Duration) error
}

// Waits bounds the page-level wait conditions.
type Waits struct {
	// Element bounds URL and element waits.
	Element time.Duration
	// Settle is the pause after each wheel step.
	Settle time.Duration
	// Reload is the pause after an in-place reload.
	Reload time.Duration
	// Interstitial bounds the wait for the "keep using web" prompt.
	Interstitial time.Duration
}

// DefaultWaits returns the tuned wait budgets.
func DefaultWaits() Waits {
	return Waits{
		Element:      30 * time.Second,
		Settle:       time.Second,
		Reload:       5 * time.Second,
		Interstitial: 5 * time.Second,
	}
}

func (w Waits) withDefaults() Waits {
	def := DefaultWaits()
	if w.Element <= 0 {
		w.Element = def.Element
	}
	if w.Settle < 0 {
		w.Settle = 0
	}
	if w.Reload < 0 {
		w.Reload = 0
	}
	if w.Interstitial <= 0 {
		w.Interstitial = def.Interstitial
	}
	return w
}

// pathContains reports whether the path of rawURL contains fragment.
func pathContains(rawURL, fragment string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(u.EscapedPath(), fragment) || strings.Contains(u.Path, fragment)
}

func isContributorList(rawURL string) bool {
	return pathContains(rawURL, "/contrib/") && pathContains(rawURL, "/reviews")
}

func isPlaceView(rawURL string) bool {
	return pathContains(rawURL, "/place/")
}

func isPlaceDetails(rawURL string) bool {
	return pathContains(rawURL, "/maps/place/")
}

// stripLabel drops the four-rune label ("住所: ") Maps prefixes to the
// address aria-label.
func stripLabel(s string) string {
	r := []rune(s)
	if len(r) <= addressLabelRunes {
		return ""
	}
	return strings.TrimSpace(string(r[addressLabelRunes:]))
}

// DismissWebVersionPrompt clicks through the "keep using the web version"
// interstitial when it appears.
func DismissWebVersionPrompt(ctx context.Context, b Browser, timeout time.Duration, logger *zap.Logger) error {
	if err := b.WaitVisible(ctx, webVersionButton, timeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
	if err := b.Click(ctx, webVersionButton); err != nil && !errors.Is(err, browser.ErrNoElement) {
		return err
	}
	logger.Debug("dismissed web version prompt")
	return nil
}
