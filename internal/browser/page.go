package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/ibeckermayer/unrepost/internal/page"
)

// Page implements page.Page on a chromedp tab. Every element operation is a
// single Evaluate that re-resolves the handle, so stale handles fail cleanly
// instead of pointing at a detached node.
type Page struct {
	ctx context.Context // chromedp tab context
}

var _ page.Page = (*Page)(nil)

// NewPage wraps a chromedp tab context.
func NewPage(tabCtx context.Context) *Page {
	return &Page{ctx: tabCtx}
}

// resolverJS walks a [[selector, index], ...] path from document downwards.
const resolverJS = `
	const resolve = (path) => {
		let node = document;
		for (const [sel, idx] of path) {
			const found = node.querySelectorAll(sel)[idx];
			if (!found) throw new Error('stale element: ' + sel + '[' + idx + ']');
			node = found;
		}
		return node;
	};
`

func (p *Page) QueryAll(ctx context.Context, selector string, scope *page.Element) ([]page.Element, error) {
	var count int
	js := fmt.Sprintf(`(() => {%s
		const root = resolve(%s);
		return root.querySelectorAll(%s).length;
	})()`, resolverJS, pathJSON(scope), quoteJS(selector))

	if err := p.run(ctx, chromedp.Evaluate(js, &count)); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}

	out := make([]page.Element, count)
	for i := range out {
		out[i] = page.Element{Selector: selector, Index: i, Scope: scope}
	}
	return out, nil
}

func (p *Page) Text(ctx context.Context, el page.Element) (string, error) {
	var text string
	err := p.evalOn(ctx, el, `return (el.innerText || el.textContent || '');`, &text)
	return text, err
}

type attrResult struct {
	Present bool   `json:"present"`
	Value   string `json:"value"`
}

func (p *Page) Attribute(ctx context.Context, el page.Element, name string) (string, bool, error) {
	var res attrResult
	body := fmt.Sprintf(`const n = %s;
		return { present: el.hasAttribute(n), value: el.getAttribute(n) || '' };`, quoteJS(name))
	if err := p.evalOn(ctx, el, body, &res); err != nil {
		return "", false, err
	}
	return res.Value, res.Present, nil
}

func (p *Page) ComputedColor(ctx context.Context, el page.Element) (string, error) {
	var color string
	err := p.evalOn(ctx, el, `return getComputedStyle(el).color;`, &color)
	return color, err
}

func (p *Page) Click(ctx context.Context, el page.Element) error {
	var ok bool
	body := `
		if (el.disabled || el.getAttribute('aria-disabled') === 'true') {
			throw new Error('element is disabled');
		}
		el.scrollIntoView({ block: 'center' });
		el.click();
		return true;`
	return p.evalOn(ctx, el, body, &ok)
}

func (p *Page) ScrollToBottom(ctx context.Context) error {
	return p.run(ctx, chromedp.Evaluate(
		`window.scrollTo(0, document.documentElement.scrollHeight)`, nil))
}

func (p *Page) ScrollHeight(ctx context.Context) (int64, error) {
	var h float64
	if err := p.run(ctx, chromedp.Evaluate(`document.documentElement.scrollHeight`, &h)); err != nil {
		return 0, err
	}
	return int64(h), nil
}

func (p *Page) Location(ctx context.Context) (string, error) {
	var url string
	err := p.run(ctx, chromedp.Location(&url))
	return url, err
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

// PressKey dispatches a raw keydown/keyup pair to the focused document.
func (p *Page) PressKey(ctx context.Context, key string) error {
	code := 0
	if key == page.KeyEscape {
		code = 27
	}
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, typ := range []input.KeyType{input.KeyDown, input.KeyUp} {
			err := input.DispatchKeyEvent(typ).
				WithKey(key).
				WithCode(key).
				WithWindowsVirtualKeyCode(int64(code)).
				Do(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	}))
}

func (p *Page) evalOn(ctx context.Context, el page.Element, body string, res any) error {
	js := fmt.Sprintf(`(() => {%s
		const el = resolve(%s);
		%s
	})()`, resolverJS, pathJSON(&el), body)
	if err := p.run(ctx, chromedp.Evaluate(js, res)); err != nil {
		return fmt.Errorf("%s: %w", el, err)
	}
	return nil
}

// run executes actions on the tab, aborting when either the tab or the
// caller's context ends.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// pathJSON renders the scope chain outermost-first as a JS array literal.
func pathJSON(el *page.Element) string {
	var chain [][2]any
	for e := el; e != nil; e = e.Scope {
		chain = append(chain, [2]any{e.Selector, e.Index})
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	if chain == nil {
		return "[]"
	}
	b, _ := json.Marshal(chain)
	return string(b)
}

// quoteJS renders s as a JS string literal. encoding/json already escapes
// U+2028 and U+2029.
func quoteJS(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
