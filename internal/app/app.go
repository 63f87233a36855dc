// Package app owns every collaborator of a removal session and exposes the
// command surface used by the tray, the control API and the CLI.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/google/uuid"
	pkgbrowser "github.com/pkg/browser"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/unrepost/internal/auth"
	"github.com/ibeckermayer/unrepost/internal/bridge"
	"github.com/ibeckermayer/unrepost/internal/browser"
	"github.com/ibeckermayer/unrepost/internal/config"
	"github.com/ibeckermayer/unrepost/internal/notifier"
	"github.com/ibeckermayer/unrepost/internal/page"
	"github.com/ibeckermayer/unrepost/internal/report"
	"github.com/ibeckermayer/unrepost/internal/runstate"
	"github.com/ibeckermayer/unrepost/internal/scheduler"
	"github.com/ibeckermayer/unrepost/internal/selectors"
	"github.com/ibeckermayer/unrepost/internal/store"
	"github.com/ibeckermayer/unrepost/internal/telemetry"
	"github.com/ibeckermayer/unrepost/internal/ui"
	"github.com/ibeckermayer/unrepost/internal/workflow"
)

// ErrRunActive is returned by commands that need the page while a run owns it.
var ErrRunActive = errors.New("a removal run is in progress")

// PageOpener starts the page the automation drives and returns a func that
// releases it.
type PageOpener func(ctx context.Context) (page.Page, func(), error)

// Mailer delivers a saved run report.
type Mailer interface {
	SendReport(r *report.Report) error
}

// Deps are the collaborators built outside the App. Store, Auth, Artifacts
// and Mailer may be nil; OpenPage defaults to a chromedp browser session.
type Deps struct {
	Config     *config.Config
	Store      *store.Store
	Auth       *auth.Manager
	Artifacts  *store.Artifacts
	Mailer     Mailer
	OpenPage   PageOpener
	HTTPClient *http.Client
}

// Status is a point-in-time view of the App.
type Status struct {
	Run             runstate.Snapshot   `json:"run"`
	SelectorVersion string              `json:"selector_version"`
	Authenticated   bool                `json:"authenticated"`
	BrowserOpen     bool                `json:"browser_open"`
	SessionID       string              `json:"session_id,omitempty"`
	LastResult      *workflow.Result    `json:"last_result,omitempty"`
	Jobs            []scheduler.JobInfo `json:"jobs,omitempty"`
}

// App holds the application state. It is built once by New; there is no
// other initialisation path.
type App struct {
	mu  sync.RWMutex
	cfg *config.Config // replaced by ReloadConfig

	// immutable after New
	bus       *bridge.Bus
	router    *bridge.Router
	registry  *selectors.Registry
	state     *runstate.State
	store     *store.Store
	auth      *auth.Manager
	client    *telemetry.Client
	sink      *telemetry.Sink
	reports   *report.Builder
	mailer    Mailer
	scheduler *scheduler.Scheduler
	open      PageOpener
	log       *logrus.Entry

	baseCtx    context.Context
	baseCancel context.CancelFunc

	pageMu    sync.Mutex
	page      page.Page
	closePage func()
	orch      *workflow.Orchestrator

	runMu      sync.Mutex
	runDone    chan struct{}
	lastResult *workflow.Result

	closers []func() error

	serving     chan struct{}
	servingOnce sync.Once
}

// New creates the App and registers every command handler.
func New(deps Deps) (*App, error) {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}

	log := logrus.WithField("component", "app")
	a := &App{
		cfg:    cfg,
		bus:    bridge.NewBus(cfg.Bridge.DedupWindow.Duration, cfg.Bridge.Buffer),
		state:  runstate.New(),
		store:  deps.Store,
		auth:   deps.Auth,
		open:   deps.OpenPage,
		mailer: deps.Mailer,
		log:    log,

		serving: make(chan struct{}),
	}
	a.baseCtx, a.baseCancel = context.WithCancel(context.Background())
	a.router = bridge.NewRouter(cfg.Bridge.DedupWindow.Duration)

	regOpts := selectors.Options{
		RemoteURL:  cfg.Selectors.RemoteURL,
		VersionURL: cfg.Selectors.VersionURL,
		HTTPClient: deps.HTTPClient,
	}
	if deps.Store != nil {
		regOpts.Cache = deps.Store
	}
	a.registry = selectors.NewRegistry(regOpts)
	if err := a.registry.LoadCached(); err != nil {
		log.WithError(err).Warn("Ignoring cached selector table")
	}

	var sender telemetry.Sender
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint != "" {
		a.client = telemetry.NewClient(cfg.Telemetry, deps.HTTPClient)
		sender = a.client
	}
	var recorder telemetry.Recorder
	if deps.Store != nil {
		recorder = deps.Store
	}
	a.sink = telemetry.NewSink(sender, recorder, a.registry.Version)

	if deps.Artifacts != nil {
		b, err := report.New(deps.Artifacts)
		if err != nil {
			return nil, err
		}
		a.reports = b
	}

	sched, err := scheduler.New("", time.Minute)
	if err != nil {
		return nil, err
	}
	a.scheduler = sched
	if err := a.scheduleSelectorRefresh(cfg.Selectors); err != nil {
		return nil, err
	}

	if a.open == nil {
		a.open = a.openBrowser
	}

	a.registerHandlers()
	return a, nil
}

// Bootstrap opens the on-disk collaborators named by cfg (history database,
// cookie store, report directory) and builds the App on top of them.
func Bootstrap(cfg *config.Config) (*App, error) {
	dbPath := cfg.Store.Path
	if dbPath == "" {
		var err error
		if dbPath, err = config.DefaultStorePath(); err != nil {
			return nil, err
		}
	}
	st, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	cookiePath, err := auth.DefaultCookieStorePath()
	if err != nil {
		st.Close()
		return nil, err
	}

	cacheDir, err := config.CacheDir()
	if err != nil {
		st.Close()
		return nil, err
	}

	deps := Deps{
		Config:    cfg,
		Store:     st,
		Auth:      auth.NewManager(auth.NewCookieStore(cookiePath)),
		Artifacts: store.NewArtifacts(cacheDir),
	}
	n, err := notifier.NewFromConfig(cfg.Email)
	if err != nil {
		st.Close()
		return nil, err
	}
	if n != nil {
		deps.Mailer = n
	}

	a, err := New(deps)
	if err != nil {
		st.Close()
		return nil, err
	}
	a.closers = append(a.closers, st.Close)
	return a, nil
}

// Store returns the history store, or nil when the App runs without one.
func (a *App) Store() *store.Store {
	return a.store
}

// Bus returns the event bus.
func (a *App) Bus() *bridge.Bus {
	return a.bus
}

// Registry returns the selector registry.
func (a *App) Registry() *selectors.Registry {
	return a.registry
}

// Config returns the configuration currently in use.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Dispatch runs an inbound command.
func (a *App) Dispatch(ctx context.Context, msg bridge.Message) bridge.Response {
	return a.router.Dispatch(ctx, msg)
}

// Command builds and dispatches a command from sender.
func (a *App) Command(ctx context.Context, sender, action string, payload map[string]any) bridge.Response {
	return a.Dispatch(ctx, bridge.Message{
		Action:        action,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: uuid.NewString(),
		SenderID:      sender,
	})
}

// Status reports the run state and session details.
func (a *App) Status() Status {
	a.pageMu.Lock()
	open := a.page != nil
	a.pageMu.Unlock()

	a.runMu.Lock()
	last := a.lastResult
	a.runMu.Unlock()

	st := Status{
		Run:             a.state.Snapshot(),
		SelectorVersion: a.registry.Version(),
		BrowserOpen:     open,
		SessionID:       a.sink.SessionID(),
		LastResult:      last,
		Jobs:            a.scheduler.ListJobs(),
	}
	if a.auth != nil {
		st.Authenticated = a.auth.IsAuthenticated()
	}
	return st
}

// Serve runs the background services (event sink, telemetry sender,
// selector refresh, and any extra services such as the control API) until
// ctx ends or one of them fails.
func (a *App) Serve(ctx context.Context, extra ...func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)

	events, cancel := a.bus.Subscribe()
	defer cancel()
	g.Go(func() error { return a.sink.Run(ctx, events) })
	a.servingOnce.Do(func() { close(a.serving) })

	if a.client != nil {
		g.Go(func() error { return a.client.Run(ctx) })
	}

	g.Go(func() error {
		_ = a.registry.Refresh(ctx) // logged by the registry; the current table stays
		return a.scheduler.Run(ctx)
	})

	for _, svc := range extra {
		g.Go(func() error { return svc(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Serving is closed once Serve has subscribed the event sink, so runs
// started after it are recorded from their first event.
func (a *App) Serving() <-chan struct{} {
	return a.serving
}

// Wait blocks until the current run, if any, has finished.
func (a *App) Wait(ctx context.Context) error {
	a.runMu.Lock()
	done := a.runDone
	a.runMu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops any run and releases the browser.
func (a *App) Close() {
	a.state.Stop()
	a.baseCancel()

	a.pageMu.Lock()
	defer a.pageMu.Unlock()
	if a.closePage != nil {
		a.closePage()
	}
	a.page, a.closePage, a.orch = nil, nil, nil

	for _, c := range a.closers {
		if err := c(); err != nil {
			a.log.WithError(err).Warn("Close failed")
		}
	}
	a.closers = nil
}

// IsAuthenticated reports whether session cookies are stored.
func (a *App) IsAuthenticated() bool {
	return a.auth != nil && a.auth.IsAuthenticated()
}

// TriggerLogin opens a visible browser for the user to log in.
func (a *App) TriggerLogin(ctx context.Context) error {
	if a.auth == nil {
		return errors.New("no cookie store configured")
	}
	a.log.Info("Login triggered")
	if err := a.auth.Login(ctx, a.launchOptions()); err != nil {
		a.log.WithError(err).Warn("Login failed")
		return err
	}
	a.log.Info("Login successful, cookies saved")
	return nil
}

// TriggerLogout clears stored cookies and closes the browser.
func (a *App) TriggerLogout() error {
	if a.auth == nil {
		return nil
	}
	if err := a.auth.Logout(); err != nil {
		return err
	}
	a.pageMu.Lock()
	if a.closePage != nil {
		a.closePage()
	}
	a.page, a.closePage, a.orch = nil, nil, nil
	a.pageMu.Unlock()
	a.log.Info("Logout successful, cookies cleared")
	return nil
}

// ViewLastReport opens the most recent run report.
func (a *App) ViewLastReport() error {
	if a.reports == nil {
		return errors.New("reports are not enabled")
	}
	path, err := a.reports.Latest()
	if err != nil {
		return err
	}
	a.log.WithField("path", path).Info("Opening report")
	return pkgbrowser.OpenFile(path)
}

// LastResult loads the result saved with the most recent report.
func (a *App) LastResult() (*workflow.Result, error) {
	if a.reports == nil {
		return nil, errors.New("reports are not enabled")
	}
	return a.reports.LatestResult()
}

// ReloadConfig reloads the configuration from disk. Pacing and signal
// changes apply from the next run.
func (a *App) ReloadConfig() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()

	if err := a.scheduleSelectorRefresh(cfg.Selectors); err != nil {
		a.log.WithError(err).Warn("Selector refresh schedule not applied")
	}

	a.pageMu.Lock()
	if a.page != nil && !a.running() {
		a.orch = a.newOrchestrator(a.page)
	}
	a.pageMu.Unlock()

	ConfigureLogging(cfg.LogLevel)
	a.log.Info("Configuration reloaded")
	return nil
}

// scheduleSelectorRefresh replaces the selector polling job to match cfg. The
// job is removed when polling is not configured.
func (a *App) scheduleSelectorRefresh(cfg config.SelectorsConfig) error {
	if cfg.VersionURL == "" || cfg.RefreshSchedule == "" {
		a.scheduler.RemoveJob(scheduler.JobSelectorRefresh)
		return nil
	}
	return a.scheduler.AddSelectorRefreshJob(cfg.RefreshSchedule, a.registry)
}

// orchestrator returns the orchestrator, opening the page on first use.
// The first open also runs the login checks.
func (a *App) orchestrator() (*workflow.Orchestrator, error) {
	a.pageMu.Lock()
	defer a.pageMu.Unlock()
	if a.orch != nil {
		return a.orch, nil
	}

	p, closeFn, err := a.open(a.baseCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	a.page, a.closePage = p, closeFn
	a.orch = a.newOrchestrator(p)
	a.orch.RunInitialChecks(a.baseCtx)
	return a.orch, nil
}

func (a *App) newOrchestrator(p page.Page) *workflow.Orchestrator {
	cfg := a.Config()
	return workflow.New(workflow.Options{
		UI:       ui.New(p, a.registry, a.bus, cfg.Pacing),
		State:    a.state,
		Emitter:  a.bus,
		Pacing:   cfg.Pacing,
		Signals:  cfg.Signals,
		StartURL: cfg.Browser.StartURL,
	})
}

func (a *App) launchOptions() browser.LaunchOptions {
	cfg := a.Config()
	return browser.LaunchOptions{
		Headless:    cfg.Browser.Headless,
		UserDataDir: cfg.Browser.UserDataDir,
		ExecPath:    cfg.Browser.ExecPath,
	}
}

func (a *App) openBrowser(ctx context.Context) (page.Page, func(), error) {
	var cookies []*network.Cookie
	if a.auth != nil {
		c, err := a.auth.Cookies()
		if err != nil {
			return nil, nil, err
		}
		cookies = c
	}
	sess, err := browser.Open(ctx, a.launchOptions(), cookies, a.Config().Browser.StartURL)
	if err != nil {
		return nil, nil, err
	}
	return sess.Page(), sess.Close, nil
}

// startRun launches a removal run in the background.
func (a *App) startRun() error {
	a.runMu.Lock()
	if a.runDone != nil {
		a.runMu.Unlock()
		return ErrRunActive
	}
	done := make(chan struct{})
	a.runDone = done
	a.runMu.Unlock()

	finish := func(res *workflow.Result) {
		a.runMu.Lock()
		if res != nil {
			a.lastResult = res
		}
		a.runDone = nil
		a.runMu.Unlock()
		close(done)
	}

	orch, err := a.orchestrator()
	if err != nil {
		finish(nil)
		return err
	}

	go func() {
		res, err := orch.Run(a.baseCtx)
		if errors.Is(err, workflow.ErrAlreadyRunning) {
			finish(nil)
			return
		}
		if err != nil {
			a.log.WithError(err).Warn("Removal run ended with an error")
		}
		a.saveReport(res)
		finish(res)
	}()
	return nil
}

func (a *App) running() bool {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.runDone != nil
}

func (a *App) saveReport(res *workflow.Result) {
	if a.reports == nil || res == nil {
		return
	}
	r, err := a.reports.Build(res)
	if err != nil {
		a.log.WithError(err).Warn("Failed to build report")
		return
	}
	if err := a.reports.Save(r, res); err != nil {
		a.log.WithError(err).Warn("Failed to save report")
		return
	}
	a.log.WithField("path", r.FilePath).Info("Report saved")

	if a.mailer != nil {
		if err := a.mailer.SendReport(r); err != nil {
			a.log.WithError(err).Warn("Failed to mail report")
			return
		}
		a.log.Info("Report mailed")
	}
}

// selectorTable converts a selectorsUpdate payload into a table, accepting
// the same nested shape as the remote endpoint.
func selectorTable(msg bridge.Message) (selectors.Table, error) {
	raw, ok := msg.Get("selectors")
	if !ok {
		return nil, errors.New("selectorsUpdate needs a selectors object")
	}
	body, err := json.Marshal(map[string]any{"selectors": raw})
	if err != nil {
		return nil, err
	}
	snap, err := selectors.ParseRemote(body)
	if err != nil {
		return nil, err
	}
	return snap.Selectors, nil
}
