// Package api serves the local HTTP control surface.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/unrepost/internal/app"
	"github.com/ibeckermayer/unrepost/internal/bridge"
)

// Controller is the part of the App the API drives.
type Controller interface {
	Dispatch(ctx context.Context, msg bridge.Message) bridge.Response
	Status() app.Status
}

// Server is the control API.
type Server struct {
	addr   string
	ctrl   Controller
	events *EventLog
	engine *gin.Engine
	log    *logrus.Entry
}

// NewServer builds the router. events may be nil, in which case
// /api/events always returns an empty list.
func NewServer(addr string, ctrl Controller, events *EventLog) *Server {
	if events == nil {
		events = NewEventLog(DefaultEventLogSize)
	}
	s := &Server{
		addr:   addr,
		ctrl:   ctrl,
		events: events,
		log:    logrus.WithField("component", "api"),
	}
	s.engine = NewRouter(s)
	return s
}

// NewRouter constructs a Gin engine with registered routes.
func NewRouter(s *Server) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	RegisterHealthRoutes(r)
	s.registerCommandRoutes(r)
	s.registerStatusRoutes(r)
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured address until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.addr).Info("Control API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
