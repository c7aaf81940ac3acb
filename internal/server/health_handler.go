package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleHealth implements GET /health.
func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
