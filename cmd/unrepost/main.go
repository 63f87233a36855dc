// Command unrepost runs removals from the terminal and hosts the local
// control API. The menu bar app lives in the repository root.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/unrepost/internal/app"
	"github.com/ibeckermayer/unrepost/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = withApp(func(a *app.App) error { return runRemoval(ctx, a) })
	case "serve":
		err = withApp(func(a *app.App) error { return runServe(ctx, a) })
	case "login":
		err = withApp(func(a *app.App) error { return a.TriggerLogin(ctx) })
	case "logout":
		err = withApp(func(a *app.App) error { return a.TriggerLogout() })
	case "check":
		err = withApp(func(a *app.App) error { return runCheck(ctx, a) })
	case "selectors":
		check := len(os.Args) > 2 && os.Args[2] == "check"
		err = withApp(func(a *app.App) error { return runSelectors(ctx, a, check) })
	case "history":
		var id string
		if len(os.Args) > 2 {
			id = os.Args[2]
		}
		err = withApp(func(a *app.App) error { return runHistory(a, id) })
	case "report":
		err = withApp(runReport)
	case "bot-test":
		err = runBotTest(ctx)
	case "open":
		if len(os.Args) < 3 {
			fmt.Println("Usage: unrepost open <config|cache>")
			os.Exit(1)
		}
		err = runOpen(os.Args[2])
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		colorRed.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: unrepost <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run              Remove every repost, printing progress")
	fmt.Println("  serve            Run the control API until interrupted")
	fmt.Println("  login            Log in through a visible browser and save cookies")
	fmt.Println("  logout           Delete saved cookies")
	fmt.Println("  check            Report the login status of the saved session")
	fmt.Println("  selectors        Fetch the remote selector table and print its version")
	fmt.Println("  selectors check  Ask the version endpoint whether a newer table exists")
	fmt.Println("  history          List recent runs")
	fmt.Println("  history <id>     Show one run and its events")
	fmt.Println("  report           Summarise and open the last run report")
	fmt.Println("  bot-test         Open bot.sannysoft.com to audit browser fingerprint")
	fmt.Println("  open config      Open config file in default editor")
	fmt.Println("  open cache       Open cache directory in file explorer")
}

// withApp loads the config, builds the App and closes it after fn.
func withApp(fn func(a *app.App) error) error {
	cfg, created, err := config.LoadOrInit()
	if err != nil {
		return err
	}
	app.ConfigureLogging(cfg.LogLevel)
	if created {
		path, _ := config.ConfigPath()
		logrus.WithField("path", path).Info("Created default config")
	}

	a, err := app.Bootstrap(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
