package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/pkg/apperr"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/response"
)

// writeError maps an error kind to its HTTP status and response code.
func writeError(c *gin.Context, log *zap.SugaredLogger, err error) {
	status, code := http.StatusInternalServerError, response.APIResponseCodeError
	switch {
	case errors.Is(err, apperr.ErrValidation):
		status, code = http.StatusBadRequest, response.APIResponseCodeBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status, code = http.StatusNotFound, response.APIResponseCodeNotFound
	case errors.Is(err, apperr.ErrConflict):
		status, code = http.StatusConflict, response.APIResponseCodeConflict
	case errors.Is(err, apperr.ErrServiceUnavailable):
		status, code = http.StatusServiceUnavailable, response.APIResponseCodeUnavailable
	}
	l := logctx.FromGin(c, log)
	if status >= http.StatusInternalServerError {
		l.Errorw("request failed", "path", c.FullPath(), "error", err)
	} else {
		l.Infow("request rejected", "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, response.ErrorT(code, err.Error()))
}
