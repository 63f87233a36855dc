package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pkg/browser"

	"github.com/ibeckermayer/unrepost/internal/api"
	"github.com/ibeckermayer/unrepost/internal/app"
	chrome "github.com/ibeckermayer/unrepost/internal/browser"
	"github.com/ibeckermayer/unrepost/internal/bridge"
	"github.com/ibeckermayer/unrepost/internal/config"
)

// SenderID identifies commands sent from the terminal.
const SenderID = "cli"

// runRemoval starts a run and prints events until the terminal one. An
// interrupt stops the run instead of killing the process, so the run still
// reports what it removed.
func runRemoval(ctx context.Context, a *app.App) error {
	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()
	served := make(chan error, 1)
	go func() { served <- a.Serve(serveCtx) }()
	<-a.Serving()

	events, cancel := a.Bus().Subscribe()
	defer cancel()

	resp := a.Command(ctx, SenderID, bridge.CmdStartRemoval, nil)
	if !resp.OK {
		return errors.New(resp.Error)
	}

	p := newPrinter(os.Stdout)
	stopping := false
	var failed error
	for done := false; !done; {
		select {
		case msg, ok := <-events:
			if !ok {
				done = true
				break
			}
			p.Print(msg)
			if bridge.IsTerminal(msg.Action) {
				done = true
				if msg.Action == bridge.EvtError {
					failed = errors.New(msg.String("message"))
				}
			}
		case <-ctx.Done():
			if !stopping {
				stopping = true
				colorYellow.Println("Stopping...")
				a.Command(context.Background(), SenderID, bridge.CmdStopRemoval, nil)
			}
			ctx = context.Background()
		}
	}

	waitCtx, cancelWait := context.WithTimeout(context.Background(), time.Minute)
	defer cancelWait()
	err := drainUntil(events, p.Print, func() error { return a.Wait(waitCtx) })
	if err != nil {
		return err
	}

	// let the sink flush the terminal event to history
	cancel()
	cancelServe()
	if err := <-served; err != nil {
		return err
	}
	return failed
}

// drainUntil hands events to handle until wait returns. The bus blocks on a
// full subscriber, so events still published after the terminal one must be
// read for the run to finish.
func drainUntil(events <-chan bridge.Message, handle func(bridge.Message), wait func() error) error {
	waited := make(chan error, 1)
	go func() { waited <- wait() }()
	for {
		select {
		case err := <-waited:
			return err
		case msg, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			handle(msg)
		}
	}
}

// runServe hosts the control API until interrupted.
func runServe(ctx context.Context, a *app.App) error {
	events := api.NewEventLog(api.DefaultEventLogSize)
	msgs, cancel := a.Bus().Subscribe()
	defer cancel()

	srv := api.NewServer(a.Config().Control.Listen, a, events)
	colorGreen.Printf("Control API on http://%s\n", a.Config().Control.Listen)
	for _, j := range a.Status().Jobs {
		fmt.Printf("Scheduled %s\n", colorCyan.Sprint(j.Name))
	}
	return a.Serve(ctx, srv.Run, func(ctx context.Context) error {
		return events.Run(ctx, msgs)
	})
}

func runCheck(ctx context.Context, a *app.App) error {
	if !a.IsAuthenticated() {
		colorYellow.Println("No saved session. Run 'unrepost login' first.")
		return nil
	}
	resp := a.Command(ctx, SenderID, bridge.CmdCheckLoginStatus, nil)
	if !resp.OK {
		return errors.New(resp.Error)
	}
	if resp.Data["isLoggedIn"] == true {
		colorGreen.Printf("Logged in as @%v\n", resp.Data["username"])
		return nil
	}
	colorRed.Println("Saved session is not logged in. Run 'unrepost login' again.")
	return nil
}

func runSelectors(ctx context.Context, a *app.App, checkOnly bool) error {
	reg := a.Registry()
	if checkOnly {
		changed, err := reg.CheckVersion(ctx)
		if err != nil {
			return err
		}
		if changed {
			colorYellow.Printf("A newer selector table is available (current %s)\n", reg.Version())
		} else {
			colorGreen.Printf("Selector table %s is current\n", reg.Version())
		}
		return nil
	}

	if err := reg.Refresh(ctx); err != nil {
		return err
	}
	snap := reg.Snapshot()
	fmt.Printf("%s %s (%d keys, updated %s)\n",
		colorBold.Sprint("Selector table"), colorCyan.Sprint(snap.Version),
		len(snap.Selectors), snap.UpdatedAt.Format(time.RFC3339))
	return nil
}

func runHistory(a *app.App, id string) error {
	st := a.Store()
	if st == nil {
		return errors.New("no history database")
	}
	if id != "" {
		sess, err := st.GetSession(id)
		if err != nil {
			return fmt.Errorf("session %s: %w", id, err)
		}
		events, err := st.SessionEvents(id)
		if err != nil {
			return err
		}
		printSession(os.Stdout, sess, events)
		return nil
	}
	sessions, err := st.RecentSessions(10)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No runs yet.")
		return nil
	}
	for _, s := range sessions {
		outcome := s.Outcome
		if !s.Finished() {
			outcome = "unfinished"
		}
		fmt.Printf("%s  %-10s removed %d/%d  %s\n",
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			outcomeColor(outcome).Sprint(outcome),
			s.Removed, s.Found, colorPurple.Sprint(s.ID))
		if s.Error != "" {
			fmt.Printf("    %s\n", colorRed.Sprint(s.Error))
		}
	}
	return nil
}

// runReport prints the last saved result and opens its report.
func runReport(a *app.App) error {
	if res, err := a.LastResult(); err == nil {
		printResult(os.Stdout, res)
	}
	return a.ViewLastReport()
}

// runBotTest opens bot.sannysoft.com with the stealth launch options so the
// browser fingerprint can be audited by eye.
func runBotTest(ctx context.Context) error {
	fmt.Println("Opening bot.sannysoft.com with stealth browser options...")

	sess, err := chrome.Open(ctx, chrome.LaunchOptions{}, nil, "https://bot.sannysoft.com")
	if err != nil {
		return err
	}
	defer sess.Close()

	fmt.Println("Press Enter to end program...")
	fmt.Scanln()
	fmt.Println("Done.")
	return nil
}

func runOpen(target string) error {
	var path string
	var err error

	switch target {
	case "config":
		path, err = config.ConfigPath()
	case "cache":
		path, err = config.CacheDir()
	default:
		return fmt.Errorf("unknown target: %s", target)
	}
	if err != nil {
		return fmt.Errorf("failed to get path: %w", err)
	}

	if err := browser.OpenFile(path); err != nil {
		return fmt.Errorf("failed to open: %w", err)
	}
	return nil
}
