// Package pagetest provides an in-memory page.Page backed by a parsed HTML
// document, with hooks for scripting how the fake site reacts to clicks,
// scrolling and key presses.
package pagetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/ibeckermayer/unrepost/internal/page"
)

// DefaultColor is reported by ComputedColor for elements without an inline color.
const DefaultColor = "rgb(22, 24, 35)"

// Page is a fake document. Hooks run without the page lock held and may call
// any Page method, including SetHTML and Mutate.
type Page struct {
	mu     sync.Mutex
	doc    *goquery.Document
	url    string
	height int64

	clicks      []string
	keys        []string
	navigations []string

	OnClick  func(p *Page, el *goquery.Selection)
	OnScroll func(p *Page)
	OnKey    func(p *Page, key string)
}

var _ page.Page = (*Page)(nil)

// New parses html into a fake page at url.
func New(url, html string) *Page {
	p := &Page{url: url}
	p.SetHTML(html)
	return p
}

// SetHTML replaces the whole document.
func (p *Page) SetHTML(html string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		panic(fmt.Sprintf("pagetest: parse html: %v", err))
	}
	p.mu.Lock()
	p.doc = doc
	p.mu.Unlock()
}

// Mutate runs fn against the document under the page lock.
func (p *Page) Mutate(fn func(doc *goquery.Document)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.doc)
}

// SetScrollHeight sets the value ScrollHeight reports.
func (p *Page) SetScrollHeight(h int64) {
	p.mu.Lock()
	p.height = h
	p.mu.Unlock()
}

// SetURL changes the current location without recording a navigation.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

// Clicks returns a description of every clicked element in order.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Keys returns every key pressed in order.
func (p *Page) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// Navigations returns every URL navigated to in order.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

func (p *Page) QueryAll(ctx context.Context, selector string, scope *page.Element) ([]page.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	root := p.doc.Selection
	if scope != nil {
		s, err := p.resolveLocked(*scope)
		if err != nil {
			return nil, err
		}
		root = s
	}

	n := root.FindMatcher(matcher).Length()
	out := make([]page.Element, n)
	for i := range out {
		out[i] = page.Element{Selector: selector, Index: i, Scope: scope}
	}
	return out, nil
}

func (p *Page) Text(ctx context.Context, el page.Element) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.resolveLocked(el)
	if err != nil {
		return "", err
	}
	return s.Text(), nil
}

func (p *Page) Attribute(ctx context.Context, el page.Element, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.resolveLocked(el)
	if err != nil {
		return "", false, err
	}
	v, ok := s.Attr(name)
	return v, ok, nil
}

// ComputedColor reads the color declaration from the inline style attribute.
func (p *Page) ComputedColor(ctx context.Context, el page.Element) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.resolveLocked(el)
	if err != nil {
		return "", err
	}
	style, _ := s.Attr("style")
	for _, decl := range strings.Split(style, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if ok && strings.TrimSpace(name) == "color" {
			return strings.TrimSpace(value), nil
		}
	}
	return DefaultColor, nil
}

func (p *Page) Click(ctx context.Context, el page.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	s, err := p.resolveLocked(el)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if _, disabled := s.Attr("disabled"); disabled {
		p.mu.Unlock()
		return fmt.Errorf("element %s is disabled", el)
	}
	p.clicks = append(p.clicks, el.String())
	hook := p.OnClick
	p.mu.Unlock()

	if hook != nil {
		hook(p, s)
	}
	return nil
}

func (p *Page) ScrollToBottom(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.OnScroll != nil {
		p.OnScroll(p)
	}
	return nil
}

func (p *Page) ScrollHeight(ctx context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.height, nil
}

func (p *Page) Location(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	p.navigations = append(p.navigations, url)
	p.mu.Unlock()
	return nil
}

func (p *Page) PressKey(ctx context.Context, key string) error {
	p.mu.Lock()
	p.keys = append(p.keys, key)
	hook := p.OnKey
	p.mu.Unlock()

	if hook != nil {
		hook(p, key)
	}
	return nil
}

func (p *Page) resolveLocked(el page.Element) (*goquery.Selection, error) {
	root := p.doc.Selection
	if el.Scope != nil {
		s, err := p.resolveLocked(*el.Scope)
		if err != nil {
			return nil, err
		}
		root = s
	}
	matcher, err := cascadia.Compile(el.Selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", el.Selector, err)
	}
	matches := root.FindMatcher(matcher)
	if el.Index >= matches.Length() {
		return nil, fmt.Errorf("element %s is stale", el)
	}
	return matches.Eq(el.Index), nil
}
