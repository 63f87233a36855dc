// Package page defines the minimal document surface the automation needs.
// The production implementation drives Chrome over CDP; tests use pagetest.
package page

import (
	"context"
	"strconv"
	"strings"
)

// Element addresses the Index-th match of Selector, searched inside Scope
// (or the whole document when Scope is nil). Handles are resolved lazily, so
// an element can go stale when the page re-renders.
type Element struct {
	Selector string
	Index    int
	Scope    *Element
}

// String renders the handle for logs.
func (e Element) String() string {
	var b strings.Builder
	if e.Scope != nil {
		b.WriteString(e.Scope.String())
		b.WriteString(" >> ")
	}
	b.WriteString(e.Selector)
	b.WriteString("[")
	b.WriteString(strconv.Itoa(e.Index))
	b.WriteString("]")
	return b.String()
}

// Page is a live document. Implementations return an error from QueryAll when
// selector is not valid CSS; callers decide whether that is fatal.
type Page interface {
	QueryAll(ctx context.Context, selector string, scope *Element) ([]Element, error)
	Text(ctx context.Context, el Element) (string, error)
	Attribute(ctx context.Context, el Element, name string) (string, bool, error)
	ComputedColor(ctx context.Context, el Element) (string, error)
	Click(ctx context.Context, el Element) error
	ScrollToBottom(ctx context.Context) error
	ScrollHeight(ctx context.Context) (int64, error)
	Location(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
	PressKey(ctx context.Context, key string) error
}

// KeyEscape is the key name passed to PressKey to dismiss overlays.
const KeyEscape = "Escape"
