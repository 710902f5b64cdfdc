// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/browser"
)

// Element is one addressable node of the fake document.
type Element struct {
	Value string

	ScrollErr     error
	ClickErr      error
	ForceClickErr error
	FocusErr      error
	SetValueErr   error

	Clicks      int
	ForceClicks int
}

// Page records every call and answers from Elements. A selector that is not
// in Elements behaves like a node removed from the document.
type Page struct {
	mu sync.Mutex

	CurrentURL string
	Title      string
	Elements   map[string]*Element

	// NavigateErrs are consumed one per Navigate call; nil entries succeed.
	NavigateErrs []error
	WaitLoadErr  error
	// EvalFunc answers Eval. Nil returns JSON null.
	EvalFunc func(js string, args ...interface{}) (json.RawMessage, error)
	// TypeErr fails every TypeRune when set.
	TypeErr error
	KeyErr  error

	Navigations []string
	NavTimeouts []time.Duration
	Keys        []browser.Key
	Wheels      []float64
	Calls       []string

	focused   string
	selectAll bool
}

var _ browser.Page = (*Page)(nil)

func New() *Page {
	return &Page{Elements: make(map[string]*Element)}
}

// Add registers an element under selector and returns it.
func (p *Page) Add(selector string) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	el := &Element{}
	p.Elements[selector] = el
	return el
}

// Remove detaches selector from the document.
func (p *Page) Remove(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.Elements, selector)
	if p.focused == selector {
		p.focused = ""
	}
}

// Value returns the current value of selector.
func (p *Page) Value(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.Elements[selector]; ok {
		return el.Value
	}
	return ""
}

// CallLog returns a copy of the call log.
func (p *Page) CallLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Calls...)
}

func (p *Page) record(format string, args ...interface{}) {
	p.Calls = append(p.Calls, fmt.Sprintf(format, args...))
}

func (p *Page) lookup(selector string) (*Element, error) {
	el, ok := p.Elements[selector]
	if !ok {
		return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	return el, nil
}

func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigate %s", url)
	p.Navigations = append(p.Navigations, url)
	p.NavTimeouts = append(p.NavTimeouts, timeout)
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(p.NavigateErrs) > 0 {
		err := p.NavigateErrs[0]
		p.NavigateErrs = p.NavigateErrs[1:]
		if err != nil {
			return err
		}
	}
	p.CurrentURL = url
	return nil
}

func (p *Page) WaitLoad(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("waitload")
	return p.WaitLoadErr
}

func (p *Page) Info(ctx context.Context) (browser.PageInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return browser.PageInfo{URL: p.CurrentURL, Title: p.Title}, nil
}

func (p *Page) Eval(ctx context.Context, js string, args ...interface{}) (json.RawMessage, error) {
	p.mu.Lock()
	fn := p.EvalFunc
	p.record("eval")
	p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn == nil {
		return json.RawMessage("null"), nil
	}
	return fn(js, args...)
}

func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.Elements[selector]
	return ok, nil
}

func (p *Page) ScrollIntoView(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("scroll-into-view %s", selector)
	el, err := p.lookup(selector)
	if err != nil {
		return err
	}
	return el.ScrollErr
}

func (p *Page) Click(ctx context.Context, selector string, clicks int, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("click %s x%d", selector, clicks)
	el, err := p.lookup(selector)
	if err != nil {
		return err
	}
	if el.ClickErr != nil {
		return el.ClickErr
	}
	el.Clicks++
	p.focused = selector
	p.selectAll = clicks >= 3
	return nil
}

func (p *Page) ForceClick(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("force-click %s", selector)
	el, err := p.lookup(selector)
	if err != nil {
		return err
	}
	if el.ForceClickErr != nil {
		return el.ForceClickErr
	}
	el.ForceClicks++
	return nil
}

func (p *Page) Focus(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("focus %s", selector)
	el, err := p.lookup(selector)
	if err != nil {
		return err
	}
	if el.FocusErr != nil {
		return el.FocusErr
	}
	p.focused = selector
	p.selectAll = true
	return nil
}

func (p *Page) SetValue(ctx context.Context, selector, value string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("set-value %s", selector)
	el, err := p.lookup(selector)
	if err != nil {
		return err
	}
	if el.SetValueErr != nil {
		return el.SetValueErr
	}
	el.Value = value
	p.focused = selector
	return nil
}

func (p *Page) PressKey(ctx context.Context, key browser.Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("key %s", key)
	if p.KeyErr != nil {
		return p.KeyErr
	}
	p.Keys = append(p.Keys, key)
	if key == browser.KeyBackspace {
		if el, ok := p.Elements[p.focused]; ok {
			if p.selectAll {
				el.Value = ""
			} else if n := len([]rune(el.Value)); n > 0 {
				el.Value = string([]rune(el.Value)[:n-1])
			}
		}
		p.selectAll = false
	}
	return nil
}

func (p *Page) TypeRune(ctx context.Context, r rune) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TypeErr != nil {
		return p.TypeErr
	}
	el, ok := p.Elements[p.focused]
	if !ok {
		return errors.New("no focused element")
	}
	if p.selectAll {
		el.Value = ""
		p.selectAll = false
	}
	el.Value += string(r)
	return nil
}

func (p *Page) Wheel(ctx context.Context, dy float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("wheel %.0f", dy)
	p.Wheels = append(p.Wheels, dy)
	return nil
}
