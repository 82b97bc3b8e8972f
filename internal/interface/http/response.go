package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	alertDomain "alert-scanner/internal/domain/alert"
)

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Success:   false,
		Error:     msg,
		ErrorCode: code,
	})
}

// writeStoreError 將儲存層的 sentinel error 對應到 HTTP 狀態碼。
func (s *Server) writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, alertDomain.ErrNotFound):
		writeError(c, http.StatusNotFound, errCodeNotFound, err.Error())
	case errors.Is(err, alertDomain.ErrInvalidTransition):
		writeError(c, http.StatusConflict, errCodeConflict, err.Error())
	default:
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		writeError(c, http.StatusInternalServerError, errCodeInternal, "internal error")
	}
}
