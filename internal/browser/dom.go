package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// ErrNoElement is returned when a locator matches nothing.
var ErrNoElement = errors.New("element not found")

// Locator addresses the Index-th element matching Selector, optionally
// filtered to elements whose text contains Text and scoped to Within. It is
// resolved afresh on every call.
type Locator struct {
	Selector string
	Text     string
	Index    int
	Within   *Locator
}

// Nth returns a copy of l pointing at index i.
func (l Locator) Nth(i int) Locator {
	l.Index = i
	return l
}

// In returns a copy of l scoped to parent.
func (l Locator) In(parent Locator) Locator {
	l.Within = &parent
	return l
}

func (l Locator) String() string {
	s := fmt.Sprintf("%s[%d]", l.Selector, l.Index)
	if l.Text != "" {
		s += fmt.Sprintf("(text %q)", l.Text)
	}
	if l.Within != nil {
		s = l.Within.String() + " >> " + s
	}
	return s
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (l Locator) rootJS() string {
	if l.Within == nil {
		return "document"
	}
	return l.Within.elementJS()
}

func (l Locator) matchesJS() string {
	expr := fmt.Sprintf("Array.from(r.querySelectorAll(%s))", jsString(l.Selector))
	if l.Text != "" {
		expr += fmt.Sprintf(`.filter(e => (e.textContent || "").includes(%s))`, jsString(l.Text))
	}
	return expr
}

func (l Locator) elementJS() string {
	return fmt.Sprintf("(() => { const r = %s; if (!r) return null; return %s[%d] || null; })()",
		l.rootJS(), l.matchesJS(), l.Index)
}

func (l Locator) countJS() string {
	return fmt.Sprintf("(() => { const r = %s; if (!r) return 0; return %s.length; })()",
		l.rootJS(), l.matchesJS())
}

func (l Locator) attributeJS(name string) string {
	return fmt.Sprintf(`(() => { const e = %s; if (!e) return {found: false, value: ""};
const v = e.getAttribute(%s); return {found: v !== null, value: v || ""}; })()`,
		l.elementJS(), jsString(name))
}

func (l Locator) propertyJS(name string) string {
	return fmt.Sprintf(`(() => { const e = %s; if (!e) return {found: false, value: ""};
const v = e[%s]; return {found: v !== undefined && v !== null, value: v == null ? "" : String(v)}; })()`,
		l.elementJS(), jsString(name))
}

func (l Locator) visibleJS() string {
	return fmt.Sprintf(`(() => { const e = %s; if (!e) return false;
const r = e.getBoundingClientRect(); return r.width > 0 && r.height > 0; })()`, l.elementJS())
}

func (l Locator) rectJS() string {
	return fmt.Sprintf(`(() => { const e = %s; if (!e) return {found: false};
e.scrollIntoView({block: "center", inline: "center"});
const r = e.getBoundingClientRect();
return {found: true, x: r.left, y: r.top, width: r.width, height: r.height}; })()`, l.elementJS())
}

type lookup struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
}

type rect struct {
	Found  bool    `json:"found"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r rect) center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

func (s *Session) eval(ctx context.Context, js string, out any) error {
	return s.run(ctx, s.cfg.ActionTimeout, chromedp.Evaluate(js, out))
}

// Count returns how many elements loc's selector currently matches.
func (s *Session) Count(ctx context.Context, loc Locator) (int, error) {
	var n int
	if err := s.eval(ctx, loc.countJS(), &n); err != nil {
		return 0, fmt.Errorf("count %s: %w", loc.Selector, err)
	}
	return n, nil
}

// Attribute returns an attribute value and whether it was present.
func (s *Session) Attribute(ctx context.Context, loc Locator, name string) (string, bool, error) {
	var res lookup
	if err := s.eval(ctx, loc.attributeJS(name), &res); err != nil {
		return "", false, fmt.Errorf("read %s of %s: %w", name, loc, err)
	}
	return res.Value, res.Found, nil
}

// Property returns a DOM property (value, src, textContent) as a string.
func (s *Session) Property(ctx context.Context, loc Locator, name string) (string, bool, error) {
	var res lookup
	if err := s.eval(ctx, loc.propertyJS(name), &res); err != nil {
		return "", false, fmt.Errorf("read %s of %s: %w", name, loc, err)
	}
	return res.Value, res.Found, nil
}

func (s *Session) locate(ctx context.Context, loc Locator) (rect, error) {
	var r rect
	if err := s.eval(ctx, loc.rectJS(), &r); err != nil {
		return rect{}, fmt.Errorf("locate %s: %w", loc, err)
	}
	if !r.Found {
		return rect{}, fmt.Errorf("%s: %w", loc, ErrNoElement)
	}
	return r, nil
}

// Click scrolls loc into view and clicks its center.
func (s *Session) Click(ctx context.Context, loc Locator) error {
	r, err := s.locate(ctx, loc)
	if err != nil {
		return err
	}
	x, y := r.center()
	return s.clickXY(ctx, x, y)
}

// ClickOffset scrolls loc into view and clicks at (dx, dy) from its top-left
// corner.
func (s *Session) ClickOffset(ctx context.Context, loc Locator, dx, dy float64) error {
	r, err := s.locate(ctx, loc)
	if err != nil {
		return err
	}
	return s.clickXY(ctx, r.X+dx, r.Y+dy)
}

func (s *Session) clickXY(ctx context.Context, x, y float64) error {
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.MouseClickXY(x, y)); err != nil {
		return fmt.Errorf("click at %.0f,%.0f: %w", x, y, err)
	}
	return nil
}

// WheelOptions shapes a Wheel gesture.
type WheelOptions struct {
	Steps  int
	DeltaY float64
	Settle time.Duration
	// Below positions the pointer this many pixels under the anchor instead
	// of at its center.
	Below float64
}

// Wheel moves the pointer over anchor and dispatches wheel events.
func (s *Session) Wheel(ctx context.Context, anchor Locator, opts WheelOptions) error {
	r, err := s.locate(ctx, anchor)
	if err != nil {
		return err
	}
	x, y := r.center()
	if opts.Below > 0 {
		x, y = r.X, r.Y+r.Height+opts.Below
	}
	if err := s.run(ctx, s.cfg.ActionTimeout, input.DispatchMouseEvent(input.MouseMoved, x, y)); err != nil {
		return fmt.Errorf("move pointer: %w", err)
	}
	for range max(opts.Steps, 1) {
		wheel := input.DispatchMouseEvent(input.MouseWheel, x, y).WithDeltaX(0).WithDeltaY(opts.DeltaY)
		if err := s.run(ctx, s.cfg.ActionTimeout, wheel); err != nil {
			return fmt.Errorf("wheel: %w", err)
		}
		if err := s.Sleep(ctx, opts.Settle); err != nil {
			return err
		}
	}
	return nil
}
