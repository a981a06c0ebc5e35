package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/ctolnik/office-insight/server/analysis"
	"github.com/ctolnik/office-insight/server/database"
	"github.com/ctolnik/office-insight/zapctx"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// errInvalidParam marks malformed query or body parameters.
var errInvalidParam = errors.New("invalid parameter")

func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidParam), errors.Is(err, analysis.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound), errors.Is(err, analysis.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, analysis.ErrOracleUnavailable),
		errors.Is(err, analysis.ErrDataUnavailable),
		errors.Is(err, database.ErrNotReady),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes the error body for err. Client errors carry the error
// text; server errors carry msg only.
func respondError(c *gin.Context, err error, msg string) {
	ctx := c.Request.Context()
	status := statusFor(err)
	body := gin.H{"error": msg}

	switch {
	case status == http.StatusServiceUnavailable:
		body["retryable"] = true
		zapctx.Warn(ctx, msg, zap.Error(err))
	case status >= http.StatusInternalServerError:
		zapctx.Error(ctx, msg, zap.Error(err))
	default:
		body["error"] = err.Error()
		zapctx.Debug(ctx, msg, zap.Error(err))
	}
	c.JSON(status, body)
}
