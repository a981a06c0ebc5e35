// Package analysis filters the unified timeline for one user and routes it
// through the language model, producing a structured risk assessment and
// answering follow-up questions about it.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ctolnik/office-insight/server/database"
	"github.com/ctolnik/office-insight/server/metrics"
	"github.com/ctolnik/office-insight/server/oracle"
	"github.com/ctolnik/office-insight/server/timeline"
	"github.com/ctolnik/office-insight/zapctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrInvalidRequest = errors.New("invalid analysis request")
	ErrNoData         = errors.New("no data found for the selected criteria")
	// ErrOracleUnavailable means the language model could not be reached or
	// timed out. It is never replaced by a synthesized result.
	ErrOracleUnavailable = errors.New("language model unavailable")
	// ErrDataUnavailable means a record source needed by the request failed.
	ErrDataUnavailable = errors.New("log source unavailable")
)

var tracer = otel.Tracer("github.com/ctolnik/office-insight/server/analysis")

type Type string

const (
	TypeActivity   Type = "activity"
	TypeKeystroke  Type = "keystroke"
	TypeClipboard  Type = "clipboard"
	TypeScreenshot Type = "screenshot"
)

// logType returns the record type an analysis type reads; activity reads all.
func (t Type) logType() database.LogType {
	switch t {
	case TypeKeystroke:
		return database.LogTypeKeystroke
	case TypeClipboard:
		return database.LogTypeClipboard
	case TypeScreenshot:
		return database.LogTypeScreenshot
	}
	return ""
}

func (t Type) valid() bool {
	switch t {
	case TypeActivity, TypeKeystroke, TypeClipboard, TypeScreenshot:
		return true
	}
	return false
}

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

const (
	RiskLow    = "Low Risk"
	RiskMedium = "Medium Risk"
	RiskHigh   = "High Risk"
)

type Request struct {
	Username     string `json:"username"`
	AnalysisType Type   `json:"analysisType"`
	StartDate    string `json:"startDate"`
	EndDate      string `json:"endDate"`
}

type Finding struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Icon        string   `json:"icon"`
}

type Result struct {
	Username        string    `json:"username"`
	AnalysisType    Type      `json:"analysisType"`
	DateRangeStart  string    `json:"dateRangeStart"`
	DateRangeEnd    string    `json:"dateRangeEnd"`
	Findings        []Finding `json:"findings"`
	Recommendations []string  `json:"recommendations"`
	RiskLevel       string    `json:"riskLevel"`
	RiskPercentage  int       `json:"riskPercentage"`
	GeneratedAt     time.Time `json:"generatedAt"`
	Degraded        bool      `json:"degraded"`
}

type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// Source supplies the unified timeline.
type Source interface {
	All(ctx context.Context) timeline.Stream
}

type Completer interface {
	Complete(ctx context.Context, req oracle.Request) (string, error)
}

// History persists finished results.
type History interface {
	Save(ctx context.Context, r Result) error
}

type Config struct {
	// MaxRecords caps how many of the most recent matching records are
	// sent to the model.
	MaxRecords          int
	AnalysisTemperature float32
	AnalysisMaxTokens   int
	ChatTemperature     float32
	ChatMaxTokens       int
}

func (c *Config) applyDefaults() {
	if c.MaxRecords <= 0 {
		c.MaxRecords = 500
	}
	if c.AnalysisTemperature == 0 {
		c.AnalysisTemperature = 0.5
	}
	if c.AnalysisMaxTokens <= 0 {
		c.AnalysisMaxTokens = 4000
	}
	if c.ChatTemperature == 0 {
		c.ChatTemperature = 0.3
	}
	if c.ChatMaxTokens <= 0 {
		c.ChatMaxTokens = 1000
	}
}

type Orchestrator struct {
	source  Source
	oracle  Completer
	history History
	cfg     Config
	now     func() time.Time
}

type Option func(*Orchestrator)

// WithHistory saves every produced result, degraded ones included.
func WithHistory(h History) Option {
	return func(o *Orchestrator) {
		o.history = h
	}
}

// New builds an orchestrator. A nil oracle makes every analysis fail with
// ErrOracleUnavailable.
func New(source Source, oracle Completer, cfg Config, opts ...Option) *Orchestrator {
	cfg.applyDefaults()
	o := &Orchestrator{source: source, oracle: oracle, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// window is a validated request.
type window struct {
	Request
	start, end time.Time
}

func parseRequest(req Request) (window, error) {
	w := window{Request: req}
	w.Username = strings.TrimSpace(req.Username)
	if w.Username == "" {
		return w, fmt.Errorf("%w: username is required", ErrInvalidRequest)
	}
	if w.AnalysisType == "" {
		w.AnalysisType = TypeActivity
	}
	if !w.AnalysisType.valid() {
		return w, fmt.Errorf("%w: unknown analysis type %q", ErrInvalidRequest, req.AnalysisType)
	}

	var err error
	if w.start, _, err = parseDate(req.StartDate); err != nil {
		return w, fmt.Errorf("%w: startDate: %w", ErrInvalidRequest, err)
	}
	var dateOnly bool
	if w.end, dateOnly, err = parseDate(req.EndDate); err != nil {
		return w, fmt.Errorf("%w: endDate: %w", ErrInvalidRequest, err)
	}
	if dateOnly {
		w.end = w.end.Add(24*time.Hour - time.Nanosecond)
	}
	if w.start.After(w.end) {
		return w, fmt.Errorf("%w: startDate is after endDate", ErrInvalidRequest)
	}
	return w, nil
}

// parseDate accepts RFC 3339 timestamps and bare dates, which are taken as
// UTC midnight.
func parseDate(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, errors.New("is required")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cannot parse %q as a date", s)
	}
	return t, true, nil
}

// Analyze runs one analysis: collect, prompt, parse. Unparseable model
// output yields a degraded result rather than an error.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "analysis.Analyze")
	defer span.End()

	w, err := parseRequest(req)
	if err != nil {
		o.finish(ctx, span, req.AnalysisType, "invalid", err)
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("analysis.user", w.Username),
		attribute.String("analysis.type", string(w.AnalysisType)),
	)
	ctx = zapctx.WithFields(ctx, zap.String("username", w.Username), zap.String("analysis_type", string(w.AnalysisType)))

	entries, err := o.collect(ctx, w)
	if err != nil {
		outcome := "not_found"
		if errors.Is(err, ErrDataUnavailable) {
			outcome = "source_failed"
		}
		o.finish(ctx, span, w.AnalysisType, outcome, err)
		return Result{}, err
	}
	span.SetAttributes(attribute.Int("analysis.records", len(entries)))
	zapctx.Info(ctx, "AI analyzing data", zap.Int("records", len(entries)))

	if o.oracle == nil {
		err := fmt.Errorf("%w: no language model configured", ErrOracleUnavailable)
		o.finish(ctx, span, w.AnalysisType, "oracle_failed", err)
		return Result{}, err
	}

	prompt, err := buildAnalysisPrompt(w, entries)
	if err != nil {
		o.finish(ctx, span, w.AnalysisType, "error", err)
		return Result{}, err
	}
	raw, err := o.oracle.Complete(ctx, oracle.Request{
		Operation:   "analyze",
		Messages:    []oracle.Message{{Role: oracle.RoleUser, Content: prompt}},
		Temperature: o.cfg.AnalysisTemperature,
		MaxTokens:   o.cfg.AnalysisMaxTokens,
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
		o.finish(ctx, span, w.AnalysisType, "oracle_failed", err)
		return Result{}, err
	}

	result := o.result(ctx, w, raw)
	outcome := "succeeded"
	if result.Degraded {
		outcome = "degraded"
	}
	o.save(ctx, result)
	o.finish(ctx, span, w.AnalysisType, outcome, nil)
	return result, nil
}

// collect returns the matching entries, most recent first, capped at
// MaxRecords.
func (o *Orchestrator) collect(ctx context.Context, w window) ([]timeline.Entry, error) {
	stream := o.source.All(ctx)
	if failed := relevantFailures(stream.Failed, w.AnalysisType); len(failed) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDataUnavailable, strings.Join(failed, ", "))
	}

	var out []timeline.Entry
	for _, e := range timeline.Filter(stream.Entries, w.AnalysisType.logType(), w.Username) {
		if e.Timestamp.Before(w.start) || e.Timestamp.After(w.end) {
			continue
		}
		out = append(out, e)
		if len(out) == o.cfg.MaxRecords {
			break
		}
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

func relevantFailures(failed []string, t Type) []string {
	if t == TypeActivity {
		return failed
	}
	if slices.Contains(failed, string(t)) {
		return []string{string(t)}
	}
	return nil
}

func (o *Orchestrator) result(ctx context.Context, w window, raw string) Result {
	r := Result{
		Username:       w.Username,
		AnalysisType:   w.AnalysisType,
		DateRangeStart: w.StartDate,
		DateRangeEnd:   w.EndDate,
		GeneratedAt:    o.now().UTC(),
	}
	p, ok := parseResult(raw)
	if !ok {
		zapctx.Warn(ctx, "Could not extract JSON from AI response, using fallback result",
			zap.Int("response_length", len(raw)))
		return degradedFallback(r)
	}
	if p.Repaired {
		zapctx.Warn(ctx, "AI response did not match the result schema, repaired",
			zap.NamedError("violation", p.Violation))
	}
	r.Findings = p.Findings
	r.Recommendations = p.Recommendations
	r.RiskLevel = p.RiskLevel
	r.RiskPercentage = p.RiskPercentage
	return r
}

// degradedFallback fills r with the fixed result used when the model's
// output cannot be parsed.
func degradedFallback(r Result) Result {
	r.Findings = []Finding{{
		Title:       "Error Analyzing Data",
		Description: "The AI was unable to properly analyze this data. Please try again.",
		Severity:    SeverityDanger,
		Icon:        "alert-circle",
	}}
	r.Recommendations = []string{"Try analyzing a smaller data set"}
	r.RiskLevel = RiskMedium
	r.RiskPercentage = 50
	r.Degraded = true
	return r
}

func (o *Orchestrator) save(ctx context.Context, r Result) {
	if o.history == nil {
		return
	}
	if err := o.history.Save(ctx, r); err != nil {
		zapctx.Error(ctx, "Failed to save analysis result", zap.Error(err))
	}
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, t Type, outcome string, err error) {
	if !t.valid() {
		t = "unknown"
	}
	metrics.AnalysisOutcomes.WithLabelValues(string(t), outcome).Inc()
	span.SetAttributes(attribute.String("analysis.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		zapctx.Warn(ctx, "AI analysis failed", zap.String("outcome", outcome), zap.Error(err))
		return
	}
	zapctx.Info(ctx, "AI analysis finished", zap.String("outcome", outcome))
}
