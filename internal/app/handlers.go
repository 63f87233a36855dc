package app

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/unrepost/internal/bridge"
)

func (a *App) registerHandlers() {
	a.router.Handle(bridge.CmdPing, a.handlePing)
	a.router.Handle(bridge.CmdStartRemoval, a.handleStart)
	a.router.Handle(bridge.CmdPauseRemoval, a.handlePause)
	a.router.Handle(bridge.CmdResumeRemoval, a.handleResume)
	a.router.Handle(bridge.CmdStopRemoval, a.handleStop)
	a.router.Handle(bridge.CmdCheckLoginStatus, a.handleCheckLogin)
	a.router.Handle(bridge.CmdNavigateToReposts, a.handleNavigate)
	a.router.Handle(bridge.CmdSelectorsUpdate, a.handleSelectorsUpdate)
}

func (a *App) handlePing(ctx context.Context, msg bridge.Message) (map[string]any, error) {
	return map[string]any{
		"pong":            true,
		"instanceId":      a.bus.InstanceID(),
		"selectorVersion": a.registry.Version(),
	}, nil
}

func (a *App) handleStart(ctx context.Context, msg bridge.Message) (map[string]any, error) {
	if err := a.startRun(); err != nil {
		return nil, err
	}
	return map[string]any{"started": true}, nil
}

func (a *App) handlePause(ctx context.Context, msg bridge.Message) (map[string]any, error) {
	ok := a.state.Pause()
	if ok {
		a.bus.Emit(bridge.EvtStatusUpdate, map[string]any{"status": "Paused"})
	}
	return map[string]any{"paused": ok}, nil
}

func (a *App) handleResume(ctx context.Context, msg bridge.Message) (map[string]any, error) {
	ok := a.state.Resume()
	if ok {
		a.bus.Emit(bridge.EvtStatusUpdate, map[string]any{"status": "Resumed"})
	}
	return map[string]any{"resumed": ok}, nil
}

func (a *App) handleStop(ctx context.Context, msg bridge.Message) (map[string]any, error) {
	return map[string]any{"stopped": a.state.Stop()}, nil
}

func (a *App) handleCheckLogin(ctx context.Context, msg bridge.Message) (map[string]any, error) {
	if a.running() {
		return nil, ErrRunActive
	}
	orch, err := a.orchestrator()
	if err != nil {
		return nil, err
	}
	st := orch.RunInitialChecks(ctx)
	return map[string]any{
		"isLoggedIn":    st.IsLoggedIn,
		"username":      st.Username,
		"hasUserAvatar": st.HasUserAvatar,
	}, nil
}

func (a *App) handleNavigate(ctx context.Context, msg bridge.Message) (map[string]any, error) {
	if a.running() {
		return nil, ErrRunActive
	}
	orch, err := a.orchestrator()
	if err != nil {
		return nil, err
	}
	if err := orch.NavigateToReposts(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"navigated": true}, nil
}

func (a *App) handleSelectorsUpdate(ctx context.Context, msg bridge.Message) (map[string]any, error) {
	table, err := selectorTable(msg)
	if err != nil {
		return nil, err
	}
	if len(table) == 0 {
		return nil, errors.New("selectorsUpdate carried no usable selectors")
	}
	a.registry.ApplyUpdate(table)
	return map[string]any{"applied": len(table), "version": a.registry.Version()}, nil
}

// ConfigureLogging sets the global logrus level and formatter. Unknown levels
// fall back to info.
func ConfigureLogging(level string) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
