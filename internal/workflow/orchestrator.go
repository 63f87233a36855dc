// Package workflow drives a removal run: open the profile, list the reposts,
// then walk them one by one in the player view and undo each active repost.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/unrepost/internal/bridge"
	"github.com/ibeckermayer/unrepost/internal/config"
	"github.com/ibeckermayer/unrepost/internal/page"
	"github.com/ibeckermayer/unrepost/internal/runstate"
	"github.com/ibeckermayer/unrepost/internal/ui"
)

// Selector keys used by the run.
const (
	keyNavProfile     = "nav.profile"
	keyRepostsTab     = "profile.repostsTab"
	keyRepostsTabText = "profile.repostsTabText"
	keyVideoItem      = "video.item"
	keyRepostButton   = "video.repostButton"
	keyNextButton     = "video.nextButton"
	keyCloseButton    = "video.closeButton"
	keyTitle          = "video.title"
	keyAuthor         = "video.author"
)

// RepostsTabLabel is matched against tab text when no tab selector hits.
const RepostsTabLabel = "Reposts"

// Skip reasons.
const (
	ReasonNotReposted = "not reposted"
	ReasonNoControl   = "repost button not found"
	ReasonClickFailed = "repost button click failed"
	ReasonUnconfirmed = "removal not confirmed"
	placeholderTitle  = "Untitled video"
	placeholderAuthor = "Unknown author"
	placeholderURL    = "unknown"
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeComplete  Outcome = "complete"
	OutcomeNoReposts Outcome = "no_reposts"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// ItemRecord is the per-item outcome kept for reporting.
type ItemRecord struct {
	Index   int           `json:"index"`
	Item    runstate.Item `json:"item"`
	Removed bool          `json:"removed"`
	Reason  string        `json:"reason,omitempty"`
}

// Result summarises a finished run.
type Result struct {
	Outcome   Outcome       `json:"outcome"`
	Found     int           `json:"found"`
	Processed int           `json:"processed"`
	Removed   int           `json:"removed"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
	Items     []ItemRecord  `json:"items"`
	Error     string        `json:"error,omitempty"`
}

// Options configures an Orchestrator.
type Options struct {
	UI      *ui.Interactor
	State   *runstate.State
	Emitter bridge.Emitter
	Pacing  config.PacingConfig
	Signals config.SignalsConfig

	// StartURL is loaded first when the page is not already on the site.
	StartURL string

	// Rand seeds the delay jitter; nil picks a random seed.
	Rand rand.Source
}

// Orchestrator runs the removal sequence. One Orchestrator serves many runs
// but only one at a time, enforced by State.Start.
type Orchestrator struct {
	plain   *ui.Interactor // waits observe ctx only
	ui      *ui.Interactor // waits also observe pause and stop
	state   *runstate.State
	sleeper *runstate.Sleeper
	emitter bridge.Emitter
	pacing  *Pacing
	signals Signals
	start   string
	log     *logrus.Entry

	items      []ItemRecord
	terminated bool
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	sleeper := runstate.NewSleeper(opts.State, opts.Pacing.PausePollInterval.Duration)
	return &Orchestrator{
		plain:   opts.UI,
		ui:      opts.UI.WithSleeper(sleeper),
		state:   opts.State,
		sleeper: sleeper,
		emitter: opts.Emitter,
		pacing:  NewPacing(opts.Pacing, opts.Rand),
		signals: SignalsFromConfig(opts.Signals),
		start:   opts.StartURL,
		log:     logrus.WithField("component", "workflow"),
	}
}

// Run executes one removal run and reports it through the emitter. Every
// run that starts ends in exactly one of complete, noRepostsFound or error,
// except a cancelled run, which ends in complete with cancelled set.
func (o *Orchestrator) Run(ctx context.Context) (res *Result, err error) {
	if !o.state.Start() {
		return nil, ErrAlreadyRunning
	}
	o.items = nil
	o.terminated = false
	started := o.state.Snapshot().StartedAt

	o.emit(bridge.EvtProcessStarted, nil)
	o.status("Removal started")
	o.log.Info("Removal run started")

	defer func() {
		if r := recover(); r != nil {
			if o.terminated && res != nil {
				// The run already reported its outcome; keep it.
				o.log.WithField("panic", r).Error("Unexpected failure after run ended")
			} else {
				err = fmt.Errorf("unexpected failure: %v", r)
				res = o.fail(err)
			}
		}
		if res != nil {
			res.StartedAt = started
		}
	}()

	outcome, runErr := o.run(ctx)
	switch {
	case runErr == nil:
		res = o.result(outcome)
		if outcome == OutcomeComplete {
			o.afterRun(ctx)
		}
		return res, nil
	case errors.Is(runErr, runstate.ErrStopped), errors.Is(runErr, context.Canceled):
		return o.cancel(), nil
	default:
		return o.fail(runErr), runErr
	}
}

func (o *Orchestrator) run(ctx context.Context) (Outcome, error) {
	if err := o.navigateToProfile(ctx); err != nil {
		return "", err
	}
	found, err := o.switchToRepostsTabAndScroll(ctx)
	if err != nil {
		return "", err
	}
	if found == 0 {
		o.noReposts()
		return OutcomeNoReposts, nil
	}
	if err := o.openFirstItem(ctx); err != nil {
		return "", err
	}
	if err := o.processItemQueue(ctx, found); err != nil {
		return "", err
	}
	o.finish()
	return OutcomeComplete, nil
}

func (o *Orchestrator) navigateToProfile(ctx context.Context) error {
	if err := o.openSite(ctx); err != nil {
		return err
	}
	o.status("Opening profile")
	ok, err := o.ui.Click(ctx, keyNavProfile)
	if err != nil {
		return err
	}
	if !ok {
		return stepErr("navigateToProfile", "could not find the profile button, are you logged in?")
	}
	return o.sleeper.Sleep(ctx, o.pacing.Settle())
}

// openSite loads the start URL when the page shows some other origin.
func (o *Orchestrator) openSite(ctx context.Context) error {
	if o.start == "" {
		return nil
	}
	want, err := url.Parse(o.start)
	if err != nil || want.Host == "" {
		return nil
	}
	if loc, err := o.ui.Page().Location(ctx); err == nil {
		if cur, err := url.Parse(loc); err == nil && cur.Host == want.Host {
			return nil
		}
	}
	o.status("Loading site")
	if err := o.ui.Page().Navigate(ctx, o.start); err != nil {
		return stepErr("navigateToProfile", "could not load "+o.start)
	}
	return o.sleeper.Sleep(ctx, o.pacing.Settle())
}

func (o *Orchestrator) switchToRepostsTabAndScroll(ctx context.Context) (int, error) {
	o.status("Opening reposts tab")
	tab, ok, err := o.findRepostsTab(ctx, o.ui)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, stepErr("switchToRepostsTab", "could not find the Reposts tab")
	}
	if !o.ui.ClickElement(ctx, tab) {
		return 0, stepErr("switchToRepostsTab", "could not open the Reposts tab")
	}
	if err := o.sleeper.Sleep(ctx, o.pacing.Settle()); err != nil {
		return 0, err
	}

	o.status("Loading reposts")
	first := true
	found, err := o.ui.AutoScrollToBottom(ctx, keyVideoItem, func(n int) {
		if first {
			first = false
			o.status(fmt.Sprintf("Loading reposts (%d so far)", n))
			return
		}
		o.status(fmt.Sprintf("Found %d reposts", n))
	})
	if err != nil {
		return 0, err
	}
	o.state.SetFound(found)
	o.log.WithField("found", found).Info("Reposts listed")
	return found, nil
}

// findRepostsTab tries the tab selectors, then the tab label text.
func (o *Orchestrator) findRepostsTab(ctx context.Context, in *ui.Interactor) (page.Element, bool, error) {
	tab, ok, err := in.WaitFor(ctx, keyRepostsTab, o.pacing.cfg.ClickTimeout.Duration)
	if err != nil || ok {
		return tab, ok, err
	}
	tab, ok = in.FindByText(ctx, keyRepostsTabText, RepostsTabLabel, false)
	if ok {
		o.log.Info("Reposts tab located by its label")
	}
	return tab, ok, nil
}

func (o *Orchestrator) openFirstItem(ctx context.Context) error {
	items := o.ui.FindAll(ctx, keyVideoItem, nil)
	if len(items) == 0 {
		return stepErr("openFirstItem", "no items to click")
	}
	if !o.ui.ClickElement(ctx, items[0]) {
		return stepErr("openFirstItem", "could not open the first repost")
	}
	return o.sleeper.Sleep(ctx, o.pacing.Settle())
}

func (o *Orchestrator) processItemQueue(ctx context.Context, found int) error {
	defer o.closeItemView(ctx)

	for i := 1; i <= found; i++ {
		if err := o.sleeper.WaitIfPaused(ctx); err != nil {
			return err
		}

		item := o.extractItem(ctx)
		o.state.SetCurrentItem(item)
		o.emit(bridge.EvtUpdateProgress, map[string]any{
			"current": i,
			"total":   found,
			"title":   item.Title,
			"author":  item.Author,
			"url":     item.URL,
		})

		removed, reason, err := o.processItem(ctx)
		if err != nil {
			return err
		}
		o.state.Advance()
		o.items = append(o.items, ItemRecord{Index: i, Item: item, Removed: removed, Reason: reason})

		fields := map[string]any{"index": i, "title": item.Title, "author": item.Author, "url": item.URL}
		if removed {
			o.state.MarkRemoved()
			o.emit(bridge.EvtVideoRemoved, fields)
			if err := o.sleeper.Sleep(ctx, o.pacing.RemovalDelay()); err != nil {
				return err
			}
		} else {
			fields["reason"] = reason
			o.emit(bridge.EvtVideoSkipped, fields)
		}

		if i == found {
			break
		}
		advanced, err := o.nextItem(ctx)
		if err != nil {
			return err
		}
		if !advanced {
			o.log.WithFields(logrus.Fields{"processed": i, "found": found}).Info("Next control unavailable, ending queue early")
			break
		}
	}
	return nil
}

// processItem removes the repost on the open item if it is active.
func (o *Orchestrator) processItem(ctx context.Context) (bool, string, error) {
	btn, ok, err := o.ui.WaitFor(ctx, keyRepostButton, o.pacing.cfg.ClickTimeout.Duration)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, ReasonNoControl, nil
	}
	if !o.isReposted(ctx, btn) {
		return false, ReasonNotReposted, nil
	}
	if !o.ui.ClickElement(ctx, btn) {
		return false, ReasonClickFailed, nil
	}
	confirmed, err := o.confirmRemoved(ctx)
	if err != nil {
		return false, "", err
	}
	if !confirmed {
		return false, ReasonUnconfirmed, nil
	}
	return true, "", nil
}

// confirmRemoved polls the repost control until it no longer shows an
// active repost. Only Running time counts against the click timeout.
func (o *Orchestrator) confirmRemoved(ctx context.Context) (bool, error) {
	budget := o.pacing.cfg.ClickTimeout.Duration
	poll := o.pacing.cfg.PollInterval.Duration
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	for waited := time.Duration(0); ; waited += poll {
		if btn, ok := o.ui.FindOne(ctx, keyRepostButton, nil); ok && !o.isReposted(ctx, btn) {
			return true, nil
		}
		if waited >= budget {
			o.log.Warn("Repost still active after click")
			return false, nil
		}
		if err := o.sleeper.Sleep(ctx, poll); err != nil {
			return false, err
		}
	}
}

// nextItem clicks the next control. A missing or disabled control ends the
// queue and is reported as false, not as an error.
func (o *Orchestrator) nextItem(ctx context.Context) (bool, error) {
	next, ok, err := o.ui.WaitFor(ctx, keyNextButton, o.pacing.cfg.ClickTimeout.Duration)
	if err != nil || !ok {
		return false, err
	}
	if o.disabled(ctx, next) || !o.ui.ClickElement(ctx, next) {
		return false, nil
	}
	return true, o.sleeper.Sleep(ctx, o.pacing.ItemDelay())
}

func (o *Orchestrator) disabled(ctx context.Context, el page.Element) bool {
	p := o.ui.Page()
	if _, ok, err := p.Attribute(ctx, el, "disabled"); err == nil && ok {
		return true
	}
	v, ok, err := p.Attribute(ctx, el, "aria-disabled")
	return err == nil && ok && v == "true"
}

// closeItemView leaves the player. It uses the ctx-only interactor so it
// still runs after a stop.
func (o *Orchestrator) closeItemView(ctx context.Context) {
	if el, ok := o.plain.FindOne(ctx, keyCloseButton, nil); ok && o.plain.ClickElement(ctx, el) {
		return
	}
	o.plain.PressEscape(ctx)
}

// extractItem reads the open item's details, substituting placeholders for
// anything missing.
func (o *Orchestrator) extractItem(ctx context.Context) runstate.Item {
	item := runstate.Item{
		Title:  o.text(ctx, keyTitle, placeholderTitle),
		Author: o.text(ctx, keyAuthor, placeholderAuthor),
		URL:    placeholderURL,
	}
	if loc, err := o.ui.Page().Location(ctx); err == nil && loc != "" {
		item.URL = loc
	}
	if item.Author == placeholderAuthor {
		if m := usernamePattern.FindStringSubmatch(item.URL); m != nil {
			item.Author = m[1]
		}
	}
	return item
}

func (o *Orchestrator) text(ctx context.Context, key, fallback string) string {
	el, ok := o.ui.FindOne(ctx, key, nil)
	if !ok {
		return fallback
	}
	t, err := o.ui.Page().Text(ctx, el)
	if t = strings.TrimSpace(t); err != nil || t == "" {
		return fallback
	}
	return t
}

func (o *Orchestrator) finish() {
	o.state.Stop()
	snap := o.state.Snapshot()
	o.log.WithFields(logrus.Fields{
		"removed":  snap.RemovedCount,
		"found":    snap.FoundCount,
		"duration": snap.Elapsed,
	}).Info("Removal run complete")
	o.emit(bridge.EvtComplete, map[string]any{
		"removedCount": snap.RemovedCount,
		"totalCount":   snap.FoundCount,
		"duration":     snap.Elapsed.Milliseconds(),
	})
}

func (o *Orchestrator) noReposts() {
	o.state.Stop()
	elapsed := o.state.Elapsed()
	o.log.Info("No reposts found")
	o.emit(bridge.EvtNoRepostsFound, map[string]any{"duration": elapsed.Milliseconds()})
}

func (o *Orchestrator) cancel() *Result {
	o.state.Stop()
	snap := o.state.Snapshot()
	o.log.WithField("removed", snap.RemovedCount).Info("Removal run cancelled")
	o.emit(bridge.EvtComplete, map[string]any{
		"removedCount": snap.RemovedCount,
		"totalCount":   snap.FoundCount,
		"duration":     snap.Elapsed.Milliseconds(),
		"cancelled":    true,
	})
	return o.result(OutcomeCancelled)
}

func (o *Orchestrator) fail(err error) *Result {
	o.state.Stop()
	msg := err.Error()
	var se *StepError
	if errors.As(err, &se) {
		msg = se.Message
	}
	o.log.WithError(err).Error("Removal run failed")
	o.emit(bridge.EvtError, map[string]any{
		"message": msg,
		"error":   err.Error(),
	})
	res := o.result(OutcomeFailed)
	res.Error = err.Error()
	return res
}

// afterRun shows the reposts tab again so the user can confirm the result.
func (o *Orchestrator) afterRun(ctx context.Context) {
	if err := o.NavigateToReposts(ctx); err != nil {
		o.log.WithError(err).Warn("Could not return to reposts tab")
	}
}

func (o *Orchestrator) result(outcome Outcome) *Result {
	snap := o.state.Snapshot()
	return &Result{
		Outcome:   outcome,
		Found:     snap.FoundCount,
		Processed: snap.CurrentIndex,
		Removed:   snap.RemovedCount,
		Duration:  snap.Elapsed,
		Items:     append([]ItemRecord(nil), o.items...),
	}
}

func (o *Orchestrator) status(s string) {
	o.emit(bridge.EvtStatusUpdate, map[string]any{"status": s})
}

func (o *Orchestrator) emit(action string, payload map[string]any) {
	if bridge.IsTerminal(action) {
		o.terminated = true
	}
	if o.emitter != nil {
		o.emitter.Emit(action, payload)
	}
}
