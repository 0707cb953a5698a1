// Package browser drives a single headless Chrome tab through chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrTimeout is returned when a wait condition is not met in time.
var ErrTimeout = errors.New("browser wait timed out")

// DefaultImageHosts are the only hosts images and media may load from.
var DefaultImageHosts = []string{
	"lh3.googleusercontent.com",
	"lh5.googleusercontent.com",
	"streetviewpixels-pa.googleapis.com",
}

const pollInterval = 250 * time.Millisecond

// Config controls the browser process and per-operation timeouts.
type Config struct {
	Headless          bool
	Lang              string
	UserAgent         string
	ExecPath          string
	ActionTimeout     time.Duration
	NavigationTimeout time.Duration
	ImageHosts        []string
	// NavigateQPS paces Navigate calls. Zero disables pacing.
	NavigateQPS float64
}

func (c Config) withDefaults() Config {
	if c.Lang == "" {
		c.Lang = "ja"
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 30 * time.Second
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 60 * time.Second
	}
	if c.ImageHosts == nil {
		c.ImageHosts = DefaultImageHosts
	}
	return c
}

// Session owns the browser process and its current tab. Operations on a
// Session are sequential; the mutex only guards tab replacement.
type Session struct {
	cfg     Config
	logger  *zap.Logger
	limiter *rate.Limiter
	filter  *requestFilter

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu        sync.Mutex
	tabCtx    context.Context
	tabCancel context.CancelFunc
	cookies   []*network.CookieParam
}

// New launches Chrome and opens the first tab.
func New(cfg Config, cookies []*network.CookieParam, logger *zap.Logger) (*Session, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("deny-permission-prompts", true),
		chromedp.Flag("lang", cfg.Lang),
		chromedp.WindowSize(1280, 960),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Debugf),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	limit := rate.Inf
	if cfg.NavigateQPS > 0 {
		limit = rate.Limit(cfg.NavigateQPS)
	}
	s := &Session{
		cfg:           cfg,
		logger:        logger.Named("browser"),
		limiter:       rate.NewLimiter(limit, 1),
		filter:        newRequestFilter(cfg.ImageHosts),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		cookies:       cookies,
	}
	if err := s.NewTab(context.Background()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close tears down the tab, the browser and the allocator.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.tabCancel != nil {
		s.tabCancel()
	}
	s.mu.Unlock()
	s.browserCancel()
	s.allocCancel()
}

// NewTab closes the current tab and opens a fresh one with interception and
// cookies installed.
func (s *Session) NewTab(ctx context.Context) error {
	s.mu.Lock()
	if s.tabCancel != nil {
		s.tabCancel()
	}
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	s.tabCtx, s.tabCancel = tabCtx, tabCancel
	s.mu.Unlock()

	chromedp.ListenTarget(tabCtx, func(ev any) {
		if paused, ok := ev.(*fetch.EventRequestPaused); ok {
			go s.filter.handle(tabCtx, paused, s.logger)
		}
	})
	if err := s.run(ctx, s.cfg.ActionTimeout, s.setupAction()); err != nil {
		return fmt.Errorf("open tab: %w", err)
	}
	return nil
}

func (s *Session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).WithAcceptLanguage(s.cfg.Lang).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(s.cookies) > 0 {
			if err := network.SetCookies(s.cookies).Do(ctx); err != nil {
				return fmt.Errorf("set cookies: %w", err)
			}
		}
		if err := fetch.Enable().WithPatterns(s.filter.patterns()).Do(ctx); err != nil {
			return fmt.Errorf("enable request interception: %w", err)
		}
		return nil
	})
}

func (s *Session) tab() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tabCtx
}

// run executes actions on the current tab, bounded by timeout and by ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(s.tab(), timeout)
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// Navigate loads rawURL in the current tab.
func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("navigate rate limit: %w", err)
	}
	s.logger.Debug("navigating", zap.String("url", rawURL))
	if err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.Navigate(rawURL)); err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	return nil
}

// Reload reloads the current page.
func (s *Session) Reload(ctx context.Context) error {
	if err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

// Location returns the current tab URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// WaitURL polls the tab URL until match accepts it.
func (s *Session) WaitURL(ctx context.Context, match func(string) bool, timeout time.Duration) (string, error) {
	var last string
	err := s.poll(ctx, timeout, func() (bool, error) {
		loc, err := s.Location(ctx)
		if err != nil {
			return false, err
		}
		last = loc
		return match(loc), nil
	})
	if err != nil {
		return last, fmt.Errorf("wait for url (last %q): %w", last, err)
	}
	return last, nil
}

// WaitVisible polls until loc resolves to a rendered element.
func (s *Session) WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error {
	err := s.poll(ctx, timeout, func() (bool, error) {
		var visible bool
		if err := s.eval(ctx, loc.visibleJS(), &visible); err != nil {
			return false, err
		}
		return visible, nil
	})
	if err != nil {
		return fmt.Errorf("wait for %s: %w", loc, err)
	}
	return nil
}

// PressEscape sends the Escape key to the page.
func (s *Session) PressEscape(ctx context.Context) error {
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.KeyEvent(kb.Escape)); err != nil {
		return fmt.Errorf("press escape: %w", err)
	}
	return nil
}

// Sleep waits for d or until ctx ends.
func (s *Session) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Session) poll(ctx context.Context, timeout time.Duration, check func() (bool, error)) error {
	if timeout <= 0 {
		timeout = s.cfg.ActionTimeout
	}
	deadline := time.Now().Add(timeout)
	for {
		ok, err := check()
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil && ok {
			return nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("%w: %w", ErrTimeout, err)
			}
			return ErrTimeout
		}
		if err := s.Sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
}

// SignIn clicks the login control and waits for the user to finish an
// interactive login, returning the resulting cookies.
func (s *Session) SignIn(ctx context.Context, startURL string, timeout time.Duration) ([]*network.Cookie, error) {
	if err := s.Navigate(ctx, startURL); err != nil {
		return nil, err
	}
	if err := s.Click(ctx, Locator{Selector: `[aria-label="ログイン"]`}); err != nil {
		return nil, fmt.Errorf("open login: %w", err)
	}
	s.logger.Info("waiting for interactive login", zap.Duration("timeout", timeout))
	_, err := s.WaitURL(ctx, func(loc string) bool {
		return strings.Contains(loc, "/maps") && !strings.Contains(loc, "accounts.google.")
	}, timeout)
	if err != nil {
		return nil, err
	}
	var cookies []*network.Cookie
	err = s.run(ctx, s.cfg.ActionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return cookies, nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
