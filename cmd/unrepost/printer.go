package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/ibeckermayer/unrepost/internal/bridge"
	"github.com/ibeckermayer/unrepost/internal/store"
	"github.com/ibeckermayer/unrepost/internal/workflow"
)

// Colors for output
var (
	colorCyan   = color.New(color.FgCyan)
	colorGreen  = color.New(color.FgGreen)
	colorPurple = color.New(color.FgMagenta)
	colorYellow = color.New(color.FgYellow)
	colorRed    = color.New(color.FgRed)
	colorBold   = color.New(color.Bold)
	colorFaint  = color.New(color.Faint)
)

// printer renders bus events as terminal lines.
type printer struct {
	w io.Writer
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

// Print writes one line for msg. Events without a user-facing meaning are
// dropped.
func (p *printer) Print(msg bridge.Message) {
	ts := colorFaint.Sprint(msg.Timestamp.Local().Format("15:04:05"))

	switch msg.Action {
	case bridge.EvtStatusUpdate:
		fmt.Fprintf(p.w, "%s %s\n", ts, msg.String("status"))
	case bridge.EvtLoginStatusUpdate:
		if v, _ := msg.Get("isLoggedIn"); v == true {
			fmt.Fprintf(p.w, "%s %s %s\n", ts, colorGreen.Sprint("logged in"), colorCyan.Sprintf("@%s", msg.String("username")))
		} else {
			fmt.Fprintf(p.w, "%s %s\n", ts, colorRed.Sprint("not logged in"))
		}
	case bridge.EvtUpdateProgress:
		fmt.Fprintf(p.w, "%s [%d/%d] %s %s\n", ts, msg.Int("current"), msg.Int("total"),
			colorBold.Sprint(msg.String("title")), colorCyan.Sprint(msg.String("author")))
	case bridge.EvtVideoRemoved:
		fmt.Fprintf(p.w, "%s   %s\n", ts, colorGreen.Sprint("removed"))
	case bridge.EvtVideoSkipped:
		fmt.Fprintf(p.w, "%s   %s (%s)\n", ts, colorYellow.Sprint("skipped"), msg.String("reason"))
	case bridge.EvtUIWaitTimeout:
		fmt.Fprintf(p.w, "%s %s %s\n", ts, colorYellow.Sprint("timed out waiting for"), msg.String("selectorKey"))
	case bridge.EvtNoRepostsFound:
		fmt.Fprintf(p.w, "%s %s in %s\n", ts, colorGreen.Sprint("No reposts found"), millis(msg.Int("duration")))
	case bridge.EvtComplete:
		if v, _ := msg.Get("cancelled"); v == true {
			fmt.Fprintf(p.w, "%s %s after removing %d of %d (%s)\n", ts, colorYellow.Sprint("Stopped"),
				msg.Int("removedCount"), msg.Int("totalCount"), millis(msg.Int("duration")))
			return
		}
		fmt.Fprintf(p.w, "%s %s removed %d of %d in %s\n", ts, colorGreen.Sprint("Done:"),
			msg.Int("removedCount"), msg.Int("totalCount"), millis(msg.Int("duration")))
	case bridge.EvtError:
		fmt.Fprintf(p.w, "%s %s %s\n", ts, colorRed.Sprint("Failed:"), msg.String("message"))
	}
}

// printResult summarises a saved run result.
func printResult(w io.Writer, res *workflow.Result) {
	outcome := string(res.Outcome)
	fmt.Fprintf(w, "%s %s  %s  removed %d of %d in %s\n",
		colorBold.Sprint("Last run"),
		res.StartedAt.Local().Format("2006-01-02 15:04"),
		outcomeColor(outcome).Sprint(outcome),
		res.Removed, res.Found, res.Duration.Round(time.Second))
	if res.Error != "" {
		fmt.Fprintf(w, "    %s\n", colorRed.Sprint(res.Error))
	}
}

// printSession writes one session and its recorded events.
func printSession(w io.Writer, sess *store.Session, events []store.Event) {
	outcome := sess.Outcome
	if !sess.Finished() {
		outcome = "unfinished"
	}
	fmt.Fprintf(w, "%s %s\n", colorBold.Sprint("Session"), colorPurple.Sprint(sess.ID))
	fmt.Fprintf(w, "  started   %s\n", sess.StartedAt.Local().Format(time.RFC3339))
	if sess.Finished() {
		fmt.Fprintf(w, "  finished  %s\n", sess.FinishedAt.Time.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  outcome   %s\n", outcomeColor(outcome).Sprint(outcome))
	fmt.Fprintf(w, "  removed   %d of %d (%d processed)\n", sess.Removed, sess.Found, sess.Processed)
	if sess.SelectorVersion != "" {
		fmt.Fprintf(w, "  selectors %s\n", sess.SelectorVersion)
	}
	if sess.Error != "" {
		fmt.Fprintf(w, "  error     %s\n", colorRed.Sprint(sess.Error))
	}
	if len(events) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, ev := range events {
		ts := colorFaint.Sprint(ev.CreatedAt.Local().Format("15:04:05"))
		if len(ev.Payload) == 0 {
			fmt.Fprintf(w, "%s %s\n", ts, ev.Action)
			continue
		}
		fmt.Fprintf(w, "%s %s %s\n", ts, ev.Action, colorFaint.Sprint(string(ev.Payload)))
	}
}

func millis(ms int) time.Duration {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second)
}

func outcomeColor(outcome string) *color.Color {
	switch outcome {
	case "complete", "no_reposts":
		return colorGreen
	case "cancelled", "unfinished":
		return colorYellow
	default:
		return colorRed
	}
}
