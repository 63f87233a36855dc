package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerStatusRoutes(r *gin.Engine) {
	r.GET("/api/status", s.handleStatus)
	r.GET("/api/events", s.handleEvents)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Status())
}

// handleEvents returns the most recent outbound events, oldest first.
// GET /api/events?limit=N
func (s *Server) handleEvents(c *gin.Context) {
	limit := s.events.Cap()
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"events": s.events.Last(limit)})
}
