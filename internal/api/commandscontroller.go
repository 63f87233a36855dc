package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ibeckermayer/unrepost/internal/bridge"
)

// SenderID is stamped on commands that arrive without one.
const SenderID = "api"

func (s *Server) registerCommandRoutes(r *gin.Engine) {
	r.POST("/api/commands", s.handleCommand)
}

// handleCommand accepts a protocol message and returns the handler response.
// A command that fails is still a 200 with ok=false; only malformed bodies
// are client errors.
func (s *Server) handleCommand(c *gin.Context) {
	var msg bridge.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if msg.SenderID == "" {
		msg.SenderID = SenderID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	resp := s.ctrl.Dispatch(c.Request.Context(), msg)
	c.JSON(http.StatusOK, resp)
}
