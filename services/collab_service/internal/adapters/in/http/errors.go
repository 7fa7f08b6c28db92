package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/EthanQC/hrportal/pkg/zlog"
	collaberr "github.com/EthanQC/hrportal/services/collab_service/pkg/errors"
)

type errorResponse struct {
	Error string `json:"error"`
}

func mapCollabError(err error) int {
	switch {
	case errors.Is(err, collaberr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, collaberr.ErrControlNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, collaberr.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, collaberr.ErrSessionAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, collaberr.ErrStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := mapCollabError(err)
	if status >= http.StatusInternalServerError {
		zlog.C(c.Request.Context()).Error("request failed", zap.Error(err))
	}
	c.JSON(status, errorResponse{err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{msg})
}
