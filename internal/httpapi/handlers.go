package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleMinionUsage(c *gin.Context) {
	minionID := c.Param("id")
	if minionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing minion id"})
		return
	}

	usage, err := s.ledger.Get(minionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"minionId":  minionID,
		"byModel":   usage.ByModel,
		"totalCost": usage.TotalCost(),
		"active":    s.streams != nil && s.streams.IsActive(minionID),
	})
}

func (s *Server) handleEvents(c *gin.Context) {
	s.hub.serveWS(c.Writer, c.Request)
}
