package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// RodPage adapts a *rod.Page to Page.
type RodPage struct {
	page *rod.Page
}

func NewRodPage(page *rod.Page) *RodPage {
	return &RodPage{page: page}
}

// Raw exposes the underlying Rod page.
func (p *RodPage) Raw() *rod.Page {
	return p.page
}

func (p *RodPage) bound(ctx context.Context, timeout time.Duration) *rod.Page {
	pg := p.page.Context(ctx)
	if timeout > 0 {
		pg = pg.Timeout(timeout)
	}
	return pg
}

func (p *RodPage) element(ctx context.Context, selector string, timeout time.Duration) (*rod.Element, error) {
	el, err := p.bound(ctx, timeout).Element(selector)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
		}
		return nil, err
	}
	return el, nil
}

// Navigate returns once the new document fires DOMContentLoaded or, for
// same-document URLs, once the fragment navigation is reported. Running out
// of time before either happens is an error even when the navigation committed.
func (p *RodPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	pg := p.bound(ctx, timeout)
	_ = proto.PageSetLifecycleEventsEnabled{Enabled: true}.Call(pg)
	defer func() { _ = proto.PageSetLifecycleEventsEnabled{Enabled: false}.Call(p.page) }()

	wait := pg.EachEvent(
		func(e *proto.PageLifecycleEvent) bool {
			return e.Name == proto.PageLifecycleEventNameDOMContentLoaded
		},
		func(e *proto.PageNavigatedWithinDocument) bool {
			return true
		},
	)
	if err := pg.Navigate(url); err != nil {
		return err
	}
	wait()
	if err := pg.GetContext().Err(); err != nil {
		return fmt.Errorf("waiting for DOM ready on %s: %w", url, err)
	}
	return nil
}

func (p *RodPage) WaitLoad(ctx context.Context, timeout time.Duration) error {
	return p.bound(ctx, timeout).WaitLoad()
}

func (p *RodPage) Info(ctx context.Context) (PageInfo, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return PageInfo{}, err
	}
	return PageInfo{URL: info.URL, Title: info.Title}, nil
}

func (p *RodPage) Eval(ctx context.Context, js string, args ...interface{}) (json.RawMessage, error) {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(res.Value)
	if err != nil {
		return nil, fmt.Errorf("encode eval result: %w", err)
	}
	return raw, nil
}

func (p *RodPage) Exists(ctx context.Context, selector string) (bool, error) {
	has, _, err := p.page.Context(ctx).Has(selector)
	return has, err
}

func (p *RodPage) ScrollIntoView(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := p.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	return el.ScrollIntoView()
}

func (p *RodPage) Click(ctx context.Context, selector string, clicks int, timeout time.Duration) error {
	el, err := p.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	if clicks <= 0 {
		clicks = 1
	}
	return el.Click(proto.InputMouseButtonLeft, clicks)
}

func (p *RodPage) ForceClick(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := p.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	_, err = el.Eval(`() => this.click()`)
	return err
}

func (p *RodPage) Focus(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := p.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	_, err = el.Eval(`() => {
		this.focus();
		if (typeof this.select === 'function') this.select();
	}`)
	return err
}

func (p *RodPage) SetValue(ctx context.Context, selector, value string, timeout time.Duration) error {
	el, err := p.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	_, err = el.Eval(`(v) => {
		this.focus();
		const proto = this instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
		const setter = Object.getOwnPropertyDescriptor(proto, 'value');
		if (setter && setter.set) { setter.set.call(this, v); } else { this.value = v; }
		this.dispatchEvent(new Event('input', { bubbles: true }));
		this.dispatchEvent(new Event('change', { bubbles: true }));
	}`, value)
	return err
}

// Keyboard and Mouse stay bound to the page they were created on, so input
// events are dispatched directly on the context-bound page instead.

func (p *RodPage) PressKey(ctx context.Context, key Key) error {
	var k input.Key
	switch key {
	case KeyEnter:
		k = input.Enter
	case KeyBackspace:
		k = input.Backspace
	case KeyTab:
		k = input.Tab
	default:
		return fmt.Errorf("unsupported key %q", key)
	}
	return p.typeKey(p.page.Context(ctx), k)
}

func (p *RodPage) typeKey(pg *rod.Page, k input.Key) error {
	if err := k.Encode(proto.InputDispatchKeyEventTypeKeyDown, 0).Call(pg); err != nil {
		return err
	}
	return k.Encode(proto.InputDispatchKeyEventTypeKeyUp, 0).Call(pg)
}

// TypeRune sends printable ASCII as real key events and inserts anything else
// as composed text, which the keyboard map cannot express.
func (p *RodPage) TypeRune(ctx context.Context, r rune) error {
	pg := p.page.Context(ctx)
	if r >= 0x20 && r < 0x7f {
		return p.typeKey(pg, input.Key(r))
	}
	return pg.InsertText(string(r))
}

func (p *RodPage) Wheel(ctx context.Context, dy float64) error {
	pos := p.page.Mouse.Position()
	return proto.InputDispatchMouseEvent{
		Type:   proto.InputDispatchMouseEventTypeMouseWheel,
		Button: proto.InputMouseButtonNone,
		DeltaY: dy,
		X:      pos.X,
		Y:      pos.Y,
	}.Call(p.page.Context(ctx))
}
