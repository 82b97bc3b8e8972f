package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	appAlert "alert-scanner/internal/application/alert"
	alertDomain "alert-scanner/internal/domain/alert"
)

func (s *Server) handleListAlerts(c *gin.Context) {
	status := alertDomain.Status(c.Query("status"))
	if status != "" && !status.Valid() {
		writeError(c, http.StatusBadRequest, errCodeBadRequest, "invalid status")
		return
	}
	alerts, err := s.alerts.List(c.Request.Context(), status)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": alerts})
}

func (s *Server) handleCreateAlert(c *gin.Context) {
	var body appAlert.CreateInput
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, errCodeBadRequest, "invalid body")
		return
	}
	created, err := s.alerts.Create(c.Request.Context(), body)
	if err != nil {
		if errors.Is(err, appAlert.ErrInvalidInput) {
			writeError(c, http.StatusBadRequest, errCodeBadRequest, err.Error())
			return
		}
		s.writeStoreError(c, err)
		return
	}
	s.log.Info().Int64("alert_id", created.ID).Str("symbol", created.Symbol).Str("condition", string(created.Condition)).Msg("alert created")
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": created})
}

func (s *Server) handleCancelAlert(c *gin.Context) {
	id, ok := alertID(c)
	if !ok {
		return
	}
	canceled, err := s.alerts.Cancel(c.Request.Context(), id)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": canceled})
}

func (s *Server) handleDeleteAlert(c *gin.Context) {
	id, ok := alertID(c)
	if !ok {
		return
	}
	if err := s.alerts.Delete(c.Request.Context(), id); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func alertID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, errCodeBadRequest, "invalid alert id")
		return 0, false
	}
	return id, true
}
