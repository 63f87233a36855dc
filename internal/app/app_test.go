package app

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ibeckermayer/unrepost/internal/bridge"
	"github.com/ibeckermayer/unrepost/internal/config"
	"github.com/ibeckermayer/unrepost/internal/page"
	"github.com/ibeckermayer/unrepost/internal/page/pagetest"
	"github.com/ibeckermayer/unrepost/internal/report"
	"github.com/ibeckermayer/unrepost/internal/runstate"
	"github.com/ibeckermayer/unrepost/internal/scheduler"
	"github.com/ibeckermayer/unrepost/internal/store"
	"github.com/ibeckermayer/unrepost/internal/workflow"
)

// emptyProfile is a logged-in profile whose reposts tab lists nothing.
const emptyProfile = `<html><body>
<a data-e2e="nav-profile" href="/@tester"><img src="me.png"></a>
<p data-e2e="videos-tab">Videos</p><p data-e2e="repost-tab">Reposts</p>
<div class="grid"></div>
</body></html>`

func testConfig(settle time.Duration) *config.Config {
	cfg := config.Default()
	cfg.Pacing = config.PacingConfig{
		SettleDelay:       config.Dur(settle),
		RemovalDelayMin:   config.Dur(time.Millisecond),
		RemovalDelayMax:   config.Dur(2 * time.Millisecond),
		ItemDelayMin:      config.Dur(time.Millisecond),
		ItemDelayMax:      config.Dur(2 * time.Millisecond),
		PollInterval:      config.Dur(time.Millisecond),
		PausePollInterval: config.Dur(time.Millisecond),
		WaitTimeout:       config.Dur(50 * time.Millisecond),
		ClickTimeout:      config.Dur(20 * time.Millisecond),
		ScrollTick:        config.Dur(time.Millisecond),
		ScrollStableTicks: 2,
		ScrollTimeout:     config.Dur(time.Second),
	}
	cfg.Bridge.DedupWindow = config.Dur(time.Second)
	return cfg
}

type opener struct {
	calls atomic.Int32
	p     *pagetest.Page
	err   error
}

func (o *opener) open(ctx context.Context) (page.Page, func(), error) {
	o.calls.Add(1)
	if o.err != nil {
		return nil, nil, o.err
	}
	return o.p, func() {}, nil
}

func newTestApp(t *testing.T, settle time.Duration) (*App, *opener, *store.Artifacts) {
	t.Helper()
	op := &opener{p: pagetest.New("https://www.tiktok.com/foryou", emptyProfile)}
	artifacts := store.NewArtifacts(t.TempDir())
	a, err := New(Deps{Config: testConfig(settle), OpenPage: op.open, Artifacts: artifacts})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	return a, op, artifacts
}

func TestPing(t *testing.T) {
	a, op, _ := newTestApp(t, time.Millisecond)
	resp := a.Command(context.Background(), "test", bridge.CmdPing, nil)
	if !resp.OK || resp.Data["pong"] != true {
		t.Fatalf("ping = %+v", resp)
	}
	if resp.Data["instanceId"] != a.Bus().InstanceID() {
		t.Errorf("instanceId = %v", resp.Data["instanceId"])
	}
	if op.calls.Load() != 0 {
		t.Error("ping should not open the browser")
	}
}

func TestUnknownCommand(t *testing.T) {
	a, _, _ := newTestApp(t, time.Millisecond)
	resp := a.Command(context.Background(), "test", "launchRockets", nil)
	if resp.OK || resp.Error == "" {
		t.Fatalf("unknown command = %+v", resp)
	}
}

func TestDuplicateCommandIgnored(t *testing.T) {
	a, _, _ := newTestApp(t, time.Millisecond)
	msg := bridge.Message{
		Action:        bridge.CmdPing,
		Timestamp:     time.Now(),
		CorrelationID: "same",
		SenderID:      "tray",
	}
	if resp := a.Dispatch(context.Background(), msg); !resp.OK || resp.Duplicate {
		t.Fatalf("first = %+v", resp)
	}
	if resp := a.Dispatch(context.Background(), msg); !resp.Duplicate {
		t.Fatalf("second = %+v, want duplicate", resp)
	}
}

func TestStartRemovalRunsAndSavesReport(t *testing.T) {
	a, op, artifacts := newTestApp(t, time.Millisecond)
	events, cancel := a.Bus().Subscribe()
	defer cancel()

	resp := a.Command(context.Background(), "test", bridge.CmdStartRemoval, nil)
	if !resp.OK {
		t.Fatalf("startRemoval = %+v", resp)
	}

	ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := a.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	st := a.Status()
	if st.LastResult == nil || st.LastResult.Outcome != workflow.OutcomeNoReposts {
		t.Fatalf("LastResult = %+v", st.LastResult)
	}
	if !st.BrowserOpen {
		t.Error("BrowserOpen = false after a run")
	}
	if op.calls.Load() != 1 {
		t.Errorf("opener called %d times", op.calls.Load())
	}

	var sawNoReposts bool
	for !sawNoReposts {
		select {
		case msg := <-events:
			sawNoReposts = msg.Action == bridge.EvtNoRepostsFound
		case <-ctx.Done():
			t.Fatal("noRepostsFound never published")
		}
	}

	path, err := artifacts.Latest(store.KindReports, ".html")
	if err != nil {
		t.Fatalf("report not saved: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}

	saved, err := a.LastResult()
	if err != nil {
		t.Fatalf("LastResult: %v", err)
	}
	if saved.Outcome != workflow.OutcomeNoReposts || saved.StartedAt.IsZero() {
		t.Errorf("saved result = %+v", saved)
	}
}

func TestStartRemovalRejectedWhileActive(t *testing.T) {
	a, _, _ := newTestApp(t, 300*time.Millisecond)

	if resp := a.Command(context.Background(), "test", bridge.CmdStartRemoval, nil); !resp.OK {
		t.Fatalf("first start = %+v", resp)
	}
	resp := a.Command(context.Background(), "test", bridge.CmdStartRemoval, nil)
	if resp.OK || resp.Error != ErrRunActive.Error() {
		t.Fatalf("second start = %+v", resp)
	}
	if resp := a.Command(context.Background(), "test", bridge.CmdNavigateToReposts, nil); resp.OK {
		t.Fatalf("navigate during run = %+v", resp)
	}

	waitForPhase(t, a, runstate.Running)
	if resp := a.Command(context.Background(), "test", bridge.CmdStopRemoval, nil); resp.Data["stopped"] != true {
		t.Fatalf("stop = %+v", resp)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if got := a.Status().LastResult; got == nil || got.Outcome != workflow.OutcomeCancelled {
		t.Fatalf("LastResult = %+v, want cancelled", got)
	}
}

func waitForPhase(t *testing.T, a *App, want runstate.Phase) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for a.Status().Run.Phase != want {
		if time.Now().After(deadline) {
			t.Fatalf("phase never reached %s", want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPauseResumeWhenIdle(t *testing.T) {
	a, _, _ := newTestApp(t, time.Millisecond)
	tests := []struct {
		action string
		key    string
	}{
		{bridge.CmdPauseRemoval, "paused"},
		{bridge.CmdResumeRemoval, "resumed"},
		{bridge.CmdStopRemoval, "stopped"},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			resp := a.Command(context.Background(), "test", tt.action, nil)
			if !resp.OK || resp.Data[tt.key] != false {
				t.Fatalf("%s = %+v", tt.action, resp)
			}
		})
	}
}

func TestCheckLoginStatusOpensPageOnce(t *testing.T) {
	a, op, _ := newTestApp(t, time.Millisecond)
	for i := 0; i < 2; i++ {
		resp := a.Command(context.Background(), "test", bridge.CmdCheckLoginStatus, nil)
		if !resp.OK {
			t.Fatalf("checkLoginStatus = %+v", resp)
		}
		if resp.Data["isLoggedIn"] != true || resp.Data["username"] != "tester" {
			t.Fatalf("login status = %+v", resp.Data)
		}
	}
	if op.calls.Load() != 1 {
		t.Errorf("opener called %d times, want 1", op.calls.Load())
	}
}

func TestOpenerFailureLeavesAppIdle(t *testing.T) {
	a, op, _ := newTestApp(t, time.Millisecond)
	op.err = errors.New("chrome not found")

	resp := a.Command(context.Background(), "test", bridge.CmdStartRemoval, nil)
	if resp.OK {
		t.Fatalf("start = %+v, want failure", resp)
	}
	if a.running() {
		t.Fatal("run still marked active")
	}

	op.err = nil
	if resp := a.Command(context.Background(), "test", bridge.CmdCheckLoginStatus, nil); !resp.OK {
		t.Fatalf("retry after failure = %+v", resp)
	}
}

func TestSelectorRefreshFollowsConfig(t *testing.T) {
	a, _, _ := newTestApp(t, time.Millisecond)
	if jobs := a.Status().Jobs; len(jobs) != 0 {
		t.Fatalf("jobs without a version URL = %+v", jobs)
	}

	cfg := config.SelectorsConfig{VersionURL: "http://127.0.0.1:1/version", RefreshSchedule: "@every 30m"}
	if err := a.scheduleSelectorRefresh(cfg); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	jobs := a.Status().Jobs
	if len(jobs) != 1 || jobs[0].Name != scheduler.JobSelectorRefresh {
		t.Fatalf("jobs = %+v", jobs)
	}

	cfg.RefreshSchedule = "not a schedule"
	if err := a.scheduleSelectorRefresh(cfg); err == nil {
		t.Error("invalid schedule accepted")
	}

	cfg.VersionURL = ""
	if err := a.scheduleSelectorRefresh(cfg); err != nil {
		t.Fatalf("unschedule: %v", err)
	}
	if jobs := a.Status().Jobs; len(jobs) != 0 {
		t.Errorf("jobs after removing the version URL = %+v", jobs)
	}
}

func TestSelectorsUpdate(t *testing.T) {
	a, _, _ := newTestApp(t, time.Millisecond)
	resp := a.Command(context.Background(), "test", bridge.CmdSelectorsUpdate, map[string]any{
		"selectors": map[string]any{
			"video": map[string]any{"nextButton": []any{".next-v2", ".next"}},
		},
	})
	if !resp.OK {
		t.Fatalf("selectorsUpdate = %+v", resp)
	}
	got, ok := a.Registry().Get("video.nextButton")
	if !ok || len(got) != 2 || got[0] != ".next-v2" {
		t.Fatalf("video.nextButton = %v", got)
	}
	if _, ok := a.Registry().Get("video.item"); !ok {
		t.Error("untouched key lost")
	}

	bad := a.Command(context.Background(), "test", bridge.CmdSelectorsUpdate, map[string]any{"version": "x"})
	if bad.OK {
		t.Fatalf("update without selectors = %+v", bad)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	a, _, _ := newTestApp(t, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	extraRan := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- a.Serve(ctx, func(ctx context.Context) error {
			close(extraRan)
			<-ctx.Done()
			return nil
		})
	}()

	<-extraRan
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

type recMailer struct {
	sent chan *report.Report
}

func (m *recMailer) SendReport(r *report.Report) error {
	m.sent <- r
	return nil
}

func TestRunMailsReport(t *testing.T) {
	op := &opener{p: pagetest.New("https://www.tiktok.com/foryou", emptyProfile)}
	mailer := &recMailer{sent: make(chan *report.Report, 1)}
	a, err := New(Deps{
		Config:    testConfig(time.Millisecond),
		OpenPage:  op.open,
		Artifacts: store.NewArtifacts(t.TempDir()),
		Mailer:    mailer,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if resp := a.Command(context.Background(), "test", bridge.CmdStartRemoval, nil); !resp.OK {
		t.Fatalf("start = %+v", resp)
	}
	select {
	case r := <-mailer.sent:
		if r.HTMLBody == "" || r.PlainBody == "" {
			t.Fatalf("mailed report = %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("report never mailed")
	}
}
