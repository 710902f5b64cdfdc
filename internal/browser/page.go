package browser

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a selector matches nothing in the live document.
var ErrNotFound = errors.New("element not found")

// Key names the few special keys the agent ever presses.
type Key string

const (
	KeyEnter     Key = "Enter"
	KeyBackspace Key = "Backspace"
	KeyTab       Key = "Tab"
)

// PageInfo is the cheap identity of the current document.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Page is the controllable page the agent drives. Every call is a suspension
// point and must not be issued concurrently with another call on the same Page.
type Page interface {
	// Navigate loads url and returns once the DOM is ready or timeout elapses.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// WaitLoad waits for the load event, best effort.
	WaitLoad(ctx context.Context, timeout time.Duration) error
	Info(ctx context.Context) (PageInfo, error)
	// Eval runs a JS function expression and returns its JSON-encoded value.
	Eval(ctx context.Context, js string, args ...interface{}) (json.RawMessage, error)
	// Exists reports whether selector currently matches, without waiting.
	Exists(ctx context.Context, selector string) (bool, error)
	ScrollIntoView(ctx context.Context, selector string, timeout time.Duration) error
	// Click performs a real mouse click, waiting for actionability up to timeout.
	Click(ctx context.Context, selector string, clicks int, timeout time.Duration) error
	// ForceClick dispatches a DOM click, bypassing visibility and interception checks.
	ForceClick(ctx context.Context, selector string, timeout time.Duration) error
	// Focus focuses the element and selects its current content.
	Focus(ctx context.Context, selector string, timeout time.Duration) error
	// SetValue assigns the value in bulk and fires input and change events.
	SetValue(ctx context.Context, selector, value string, timeout time.Duration) error
	PressKey(ctx context.Context, key Key) error
	TypeRune(ctx context.Context, r rune) error
	// Wheel scrolls the viewport by dy pixels.
	Wheel(ctx context.Context, dy float64) error
}
