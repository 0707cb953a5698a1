package browser

import (
	"context"
	"net/url"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// requestFilter pauses image and media requests and lets through only those
// served from allow-listed hosts.
type requestFilter struct {
	hosts map[string]struct{}
}

func newRequestFilter(hosts []string) *requestFilter {
	f := &requestFilter{hosts: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			f.hosts[h] = struct{}{}
		}
	}
	return f
}

func (f *requestFilter) patterns() []*fetch.RequestPattern {
	return []*fetch.RequestPattern{
		{URLPattern: "*", ResourceType: network.ResourceTypeImage, RequestStage: fetch.RequestStageRequest},
		{URLPattern: "*", ResourceType: network.ResourceTypeMedia, RequestStage: fetch.RequestStageRequest},
	}
}

func (f *requestFilter) allowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme == "data" || u.Scheme == "blob" {
		return true
	}
	_, ok := f.hosts[strings.ToLower(u.Hostname())]
	return ok
}

// handle resolves one paused request. It runs on its own goroutine because
// CDP calls cannot be issued from inside a ListenTarget callback.
func (f *requestFilter) handle(tabCtx context.Context, ev *fetch.EventRequestPaused, logger *zap.Logger) {
	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		return
	}
	ctx := cdp.WithExecutor(tabCtx, c.Target)
	var err error
	if ev.Request != nil && f.allowed(ev.Request.URL) {
		err = fetch.ContinueRequest(ev.RequestID).Do(ctx)
	} else {
		err = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(ctx)
	}
	if err != nil && tabCtx.Err() == nil {
		logger.Debug("resolve intercepted request", zap.Error(err))
	}
}
