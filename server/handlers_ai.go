package main

import (
	"fmt"
	"net/http"

	"github.com/ctolnik/office-insight/server/analysis"
	"github.com/gin-gonic/gin"
)

// ========== AI Handlers ==========

func (a *app) analyzeHandler(c *gin.Context) {
	var req analysis.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %w", errInvalidParam, err), "Invalid request")
		return
	}

	result, err := a.analysis.Analyze(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Failed to perform AI analysis")
		return
	}
	c.JSON(http.StatusOK, result)
}

type chatRequest struct {
	Question        string              `json:"question"`
	AnalysisContext *analysis.Result    `json:"analysisContext"`
	History         []analysis.ChatTurn `json:"history"`
}

func (a *app) chatHandler(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %w", errInvalidParam, err), "Invalid request")
		return
	}
	if req.AnalysisContext == nil {
		respondError(c, fmt.Errorf("%w: analysisContext is required", errInvalidParam), "Missing required parameters")
		return
	}

	answer, err := a.analysis.AnswerQuestion(c.Request.Context(), *req.AnalysisContext, req.Question, req.History)
	if err != nil {
		respondError(c, err, "Failed to process AI chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

func (a *app) analysisHistoryHandler(c *gin.Context) {
	if a.history == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		respondError(c, err, "Invalid limit")
		return
	}
	entries, err := a.history.List(c.Request.Context(), c.Query("username"), limit)
	if err != nil {
		respondError(c, err, "Failed to fetch analysis history")
		return
	}
	c.JSON(http.StatusOK, entries)
}
