package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	dbStatus := "ok"
	if s.alerts == nil {
		dbStatus = "not_configured"
	} else if err := s.alerts.Ping(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
	}

	scanner := gin.H{"running": false, "scan_count": 0}
	if s.scanner != nil {
		scanner = gin.H{"running": s.scanner.Running(), "scan_count": s.scanner.ScanCount()}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"health":    "ok",
		"db":        dbStatus,
		"db_driver": s.dbDriver,
		"scanner":   scanner,
		"time":      time.Now().Format(time.RFC3339),
	})
}
