package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleScannerStart(c *gin.Context) {
	if s.scanner == nil {
		writeError(c, http.StatusNotFound, errCodeNotFound, "scanner not configured")
		return
	}
	started := s.scanner.Start(s.runCtx)
	s.log.Info().Bool("changed", started).Str("operator", c.GetString("operator")).Msg("scanner start requested")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"changed": started,
		"running": s.scanner.Running(),
	})
}

func (s *Server) handleScannerStop(c *gin.Context) {
	if s.scanner == nil {
		writeError(c, http.StatusNotFound, errCodeNotFound, "scanner not configured")
		return
	}
	stopped := s.scanner.Stop()
	s.log.Info().Bool("changed", stopped).Str("operator", c.GetString("operator")).Msg("scanner stop requested")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"changed": stopped,
		"running": s.scanner.Running(),
	})
}

func (s *Server) handleReconcileRun(c *gin.Context) {
	if s.reconciler == nil {
		writeError(c, http.StatusNotFound, errCodeNotFound, "reconciler not configured")
		return
	}
	res, err := s.reconciler.Run(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("manual reconcile failed")
		writeError(c, http.StatusInternalServerError, errCodeInternal, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    res,
	})
}
