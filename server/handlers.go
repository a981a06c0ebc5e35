package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ctolnik/office-insight/server/alerts"
	"github.com/ctolnik/office-insight/server/database"
	"github.com/ctolnik/office-insight/server/timeline"
	"github.com/ctolnik/office-insight/zapctx"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// queryInt reads an optional positive integer query parameter.
func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errInvalidParam, name)
	}
	return n, nil
}

// allSourcesFailed reports a stream with nothing to show because every
// source failed.
func allSourcesFailed(s timeline.Stream) bool {
	return len(s.Failed) == 3
}

// ========== Logs Handlers ==========

func (a *app) getLogsHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var logType database.LogType
	if raw := c.Query("type"); raw != "" {
		t, err := database.ParseLogType(raw)
		if err != nil {
			respondError(c, fmt.Errorf("%w: %w", errInvalidParam, err), "Invalid log type")
			return
		}
		logType = t
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		respondError(c, err, "Invalid page")
		return
	}
	limit, err := queryInt(c, "limit", timeline.DefaultPageSize)
	if err != nil {
		respondError(c, err, "Invalid limit")
		return
	}

	stream := a.timeline.All(ctx)
	if allSourcesFailed(stream) {
		respondError(c, database.ErrNotReady, "Failed to fetch logs")
		return
	}
	logs, pagination := timeline.Paginate(timeline.Filter(stream.Entries, logType, c.Query("user")), page, limit)

	body := gin.H{"logs": logs, "pagination": pagination}
	if stream.Degraded() {
		body["degraded"] = stream.Failed
	}
	c.JSON(http.StatusOK, body)
}

func (a *app) getRecentActivityHandler(c *gin.Context) {
	limit, err := queryInt(c, "limit", 5)
	if err != nil {
		respondError(c, err, "Invalid limit")
		return
	}
	stream := a.timeline.RecentActivity(c.Request.Context(), limit)
	if allSourcesFailed(stream) {
		respondError(c, database.ErrNotReady, "Failed to fetch recent activity")
		return
	}
	if stream.Degraded() {
		c.Header("X-Degraded-Sources", strings.Join(stream.Failed, ","))
	}
	c.JSON(http.StatusOK, stream.Entries)
}

// ========== Screenshot Handlers ==========

func (a *app) getScreenshotHandler(c *gin.Context) {
	ctx := c.Request.Context()
	screenshotID := c.Param("id")

	screenshot, err := a.timeline.Screenshot(ctx, screenshotID)
	if err != nil {
		respondError(c, err, "Screenshot not found")
		return
	}

	zapctx.Debug(ctx, "Serving screenshot",
		zap.String("screenshot_id", screenshotID),
		zap.Int("size", len(screenshot.ScreenshotData)))
	c.Header("Cache-Control", "private, max-age=86400")
	c.JSON(http.StatusOK, screenshot)
}

func (a *app) deleteScreenshotHandler(c *gin.Context) {
	ctx := c.Request.Context()
	screenshotID := c.Param("id")

	if err := a.timeline.DeleteScreenshot(ctx, screenshotID); err != nil {
		respondError(c, err, "Failed to delete screenshot")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// ========== Dashboard Handlers ==========

func (a *app) getAnalyticsHandler(c *gin.Context) {
	summary, err := a.analytics.Summary(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to fetch analytics")
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (a *app) getActivityChartHandler(c *gin.Context) {
	days, err := queryInt(c, "days", 0)
	if err != nil {
		respondError(c, err, "Invalid days")
		return
	}
	buckets, err := a.analytics.ActivityOverTime(c.Request.Context(), days)
	if err != nil {
		respondError(c, err, "Failed to fetch chart data")
		return
	}
	c.JSON(http.StatusOK, buckets)
}

func (a *app) getUsersHandler(c *gin.Context) {
	users, err := a.timeline.Users(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to fetch users")
		return
	}
	c.JSON(http.StatusOK, users)
}

// ========== Alerts Handlers ==========

func (a *app) getAlertsHandler(c *gin.Context) {
	severity, err := alerts.ParseSeverity(c.Query("severity"))
	if err != nil {
		respondError(c, fmt.Errorf("%w: %w", errInvalidParam, err), "Invalid severity")
		return
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		respondError(c, err, "Invalid page")
		return
	}
	limit, err := queryInt(c, "limit", timeline.DefaultPageSize)
	if err != nil {
		respondError(c, err, "Invalid limit")
		return
	}

	list, failed := a.alerts.List(c.Request.Context(), severity)
	if len(failed) == 3 {
		respondError(c, database.ErrNotReady, "Failed to fetch alerts")
		return
	}
	items, pagination := timeline.Paginate(list, page, limit)

	body := gin.H{"alerts": items, "pagination": pagination}
	if len(failed) > 0 {
		body["degraded"] = failed
	}
	c.JSON(http.StatusOK, body)
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
