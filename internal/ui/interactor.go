// Package ui turns logical selector keys into page actions. Lookups never
// fail loudly: a missing or invalid selector yields "not found" and the
// caller decides what that means.
package ui

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/unrepost/internal/bridge"
	"github.com/ibeckermayer/unrepost/internal/config"
	"github.com/ibeckermayer/unrepost/internal/page"
)

// Selectors resolves a key to its candidate selectors.
type Selectors interface {
	Get(key string) ([]string, bool)
}

// Sleeper is the wait primitive used between polls.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Interactor performs selector-key based lookups and actions on a page.
type Interactor struct {
	page    page.Page
	sel     Selectors
	emitter bridge.Emitter
	pacing  config.PacingConfig
	sleeper Sleeper
	log     *logrus.Entry
}

// New creates an Interactor whose waits only observe ctx.
func New(p page.Page, sel Selectors, emitter bridge.Emitter, pacing config.PacingConfig) *Interactor {
	return &Interactor{
		page:    p,
		sel:     sel,
		emitter: emitter,
		pacing:  pacing,
		sleeper: ctxSleeper{},
		log:     logrus.WithField("component", "ui"),
	}
}

// WithSleeper returns a copy of the Interactor that waits through s, so polls
// inside a run honour pause and stop.
func (in *Interactor) WithSleeper(s Sleeper) *Interactor {
	cp := *in
	cp.sleeper = s
	return &cp
}

// Page returns the underlying page.
func (in *Interactor) Page() page.Page {
	return in.page
}

// FindOne returns the first match of the first candidate selector that
// matches anything inside scope (nil means the whole document).
func (in *Interactor) FindOne(ctx context.Context, key string, scope *page.Element) (page.Element, bool) {
	candidates, ok := in.sel.Get(key)
	if !ok {
		in.log.WithField("key", key).Debug("Unknown selector key")
		return page.Element{}, false
	}
	for _, sel := range candidates {
		els, err := in.page.QueryAll(ctx, sel, scope)
		if err != nil {
			in.log.WithError(err).WithField("key", key).Debug("Skipping selector")
			continue
		}
		if len(els) > 0 {
			return els[0], true
		}
	}
	return page.Element{}, false
}

// FindAll queries every candidate as one selector group. When the group is
// rejected, candidates that fail on their own are dropped and the rest retried.
func (in *Interactor) FindAll(ctx context.Context, key string, scope *page.Element) []page.Element {
	candidates, ok := in.sel.Get(key)
	if !ok {
		return nil
	}

	els, err := in.page.QueryAll(ctx, strings.Join(candidates, ", "), scope)
	if err == nil {
		return els
	}

	var valid []string
	for _, sel := range candidates {
		if _, err := in.page.QueryAll(ctx, sel, scope); err == nil {
			valid = append(valid, sel)
		}
	}
	if len(valid) == 0 {
		in.log.WithError(err).WithField("key", key).Debug("No valid selectors")
		return nil
	}
	els, err = in.page.QueryAll(ctx, strings.Join(valid, ", "), scope)
	if err != nil {
		in.log.WithError(err).WithField("key", key).Debug("Selector group rejected")
		return nil
	}
	return els
}

// FindByText returns the first FindAll match whose trimmed text contains text.
func (in *Interactor) FindByText(ctx context.Context, key, text string, caseSensitive bool) (page.Element, bool) {
	needle := strings.TrimSpace(text)
	if !caseSensitive {
		needle = strings.ToLower(needle)
	}
	for _, el := range in.FindAll(ctx, key, nil) {
		got, err := in.page.Text(ctx, el)
		if err != nil {
			continue
		}
		got = strings.TrimSpace(got)
		if !caseSensitive {
			got = strings.ToLower(got)
		}
		if strings.Contains(got, needle) {
			return el, true
		}
	}
	return page.Element{}, false
}

// WaitFor polls FindOne until it matches or timeout of waiting has passed. A
// timeout is reported as a uiWaitTimeout event and (false, nil). The error is
// non-nil only when the wait itself was cancelled or the run stopped.
func (in *Interactor) WaitFor(ctx context.Context, key string, timeout time.Duration) (page.Element, bool, error) {
	if timeout <= 0 {
		timeout = in.pacing.WaitTimeout.Duration
	}
	poll := in.pacing.PollInterval.Duration

	var waited time.Duration
	for {
		if el, ok := in.FindOne(ctx, key, nil); ok {
			return el, true, nil
		}
		if waited >= timeout {
			break
		}
		if err := in.sleeper.Sleep(ctx, poll); err != nil {
			return page.Element{}, false, err
		}
		waited += poll
	}

	url, _ := in.page.Location(ctx)
	in.log.WithFields(logrus.Fields{"key": key, "timeout": timeout, "url": url}).Warn("Timed out waiting for element")
	if in.emitter != nil {
		in.emitter.Emit(bridge.EvtUIWaitTimeout, map[string]any{
			"selectorKey": key,
			"timeout":     timeout.Milliseconds(),
			"url":         url,
		})
	}
	return page.Element{}, false, nil
}

// Click waits up to the click timeout for key and clicks it. It reports
// whether the click happened; the error is only for cancellation.
func (in *Interactor) Click(ctx context.Context, key string) (bool, error) {
	el, ok, err := in.WaitFor(ctx, key, in.pacing.ClickTimeout.Duration)
	if err != nil || !ok {
		return false, err
	}
	return in.ClickElement(ctx, el), nil
}

// ClickElement clicks an element already located.
func (in *Interactor) ClickElement(ctx context.Context, el page.Element) bool {
	if err := in.page.Click(ctx, el); err != nil {
		in.log.WithError(err).WithField("element", el.String()).Debug("Click failed")
		return false
	}
	return true
}

// PressEscape dispatches an Escape key press to the page.
func (in *Interactor) PressEscape(ctx context.Context) bool {
	if err := in.page.PressKey(ctx, page.KeyEscape); err != nil {
		in.log.WithError(err).Debug("Escape failed")
		return false
	}
	return true
}

// AutoScrollToBottom scrolls until the page height holds still for the
// configured number of ticks or the scroll timeout passes, and returns the
// number of itemKey matches. onProgress runs exactly twice: after the first
// tick and once the count is final.
func (in *Interactor) AutoScrollToBottom(ctx context.Context, itemKey string, onProgress func(count int)) (int, error) {
	tick := in.pacing.ScrollTick.Duration
	report := func(n int) {
		if onProgress != nil {
			onProgress(n)
		}
	}

	last, _ := in.page.ScrollHeight(ctx)
	count := 0
	stable := 0
	var elapsed time.Duration

	for ticks := 1; ; ticks++ {
		if err := in.page.ScrollToBottom(ctx); err != nil {
			in.log.WithError(err).Debug("Scroll failed")
		}
		if err := in.sleeper.Sleep(ctx, tick); err != nil {
			return count, err
		}
		elapsed += tick

		count = len(in.FindAll(ctx, itemKey, nil))
		height, err := in.page.ScrollHeight(ctx)
		if err != nil {
			in.log.WithError(err).Debug("Could not measure scroll height")
		}
		if ticks == 1 {
			report(count)
		}

		if height == last {
			stable++
		} else {
			stable = 0
			last = height
		}

		if stable >= in.pacing.ScrollStableTicks {
			break
		}
		if elapsed >= in.pacing.ScrollTimeout.Duration {
			in.log.WithField("count", count).Warn("Scroll timeout reached")
			break
		}
	}

	in.log.WithField("count", count).Info("Scrolling finished")
	report(count)
	return count, nil
}

type ctxSleeper struct{}

func (ctxSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
