// Package alerts derives sensitive-content alerts from the unified timeline.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/ctolnik/office-insight/server/database"
	"github.com/ctolnik/office-insight/server/sensitive"
	"github.com/ctolnik/office-insight/server/timeline"
)

const TypeSensitiveData = "sensitive_data"

// previewLength bounds the excerpt of the offending text in a message.
const previewLength = 40

type Alert struct {
	ID        string             `json:"id"`
	Type      string             `json:"type"`
	Severity  sensitive.Severity `json:"severity"`
	Rule      string             `json:"rule"`
	Message   string             `json:"message"`
	Username  string             `json:"username"`
	Timestamp time.Time          `json:"timestamp"`
	LogID     string             `json:"logId"`
	LogType   database.LogType   `json:"logType"`
}

type Source interface {
	All(ctx context.Context) timeline.Stream
}

type Scanner struct {
	source   Source
	detector *sensitive.Detector
}

func New(source Source, detector *sensitive.Detector) *Scanner {
	if detector == nil {
		detector = sensitive.New()
	}
	return &Scanner{source: source, detector: detector}
}

// List scans keystroke and clipboard entries, newest first. A non-empty
// severity keeps only alerts of that severity. Failed sources are passed
// through from the stream.
func (s *Scanner) List(ctx context.Context, severity sensitive.Severity) ([]Alert, []string) {
	stream := s.source.All(ctx)
	out := []Alert{}
	for _, e := range stream.Entries {
		if e.Type != database.LogTypeKeystroke && e.Type != database.LogTypeClipboard {
			continue
		}
		rule, ok := s.detector.Match(e.Data)
		if !ok {
			continue
		}
		if severity != "" && rule.Severity != severity {
			continue
		}
		out = append(out, newAlert(e, rule))
	}
	return out, stream.Failed
}

func newAlert(e timeline.Entry, rule sensitive.Rule) Alert {
	return Alert{
		ID:        fmt.Sprintf("%s-%s", e.Type, e.ID),
		Type:      TypeSensitiveData,
		Severity:  rule.Severity,
		Rule:      rule.Name,
		Message:   fmt.Sprintf("Possible %s in %s: %q", describe(rule.Name), e.Type, preview(e.Data)),
		Username:  e.User,
		Timestamp: e.Timestamp,
		LogID:     e.ID,
		LogType:   e.Type,
	}
}

func describe(rule string) string {
	switch rule {
	case "credit_card":
		return "credit card number"
	case "ssn":
		return "social security number"
	case "password":
		return "credentials"
	case "email":
		return "email address"
	case "banking":
		return "banking details"
	}
	return rule
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLength {
		return s
	}
	return string(r[:previewLength]) + "..."
}

// ParseSeverity accepts "", "high", "medium" and "low".
func ParseSeverity(s string) (sensitive.Severity, error) {
	switch sev := sensitive.Severity(s); sev {
	case "", sensitive.SeverityHigh, sensitive.SeverityMedium, sensitive.SeverityLow:
		return sev, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}
