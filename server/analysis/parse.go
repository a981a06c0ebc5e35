package analysis

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const resultSchemaURL = "analysis-result.json"

const resultSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["findings", "recommendations", "riskLevel", "riskPercentage"],
  "properties": {
    "findings": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "description", "severity"],
        "properties": {
          "title": {"type": "string"},
          "description": {"type": "string"},
          "severity": {"enum": ["success", "warning", "danger"]},
          "icon": {"type": "string"}
        }
      }
    },
    "recommendations": {"type": "array", "items": {"type": "string"}},
    "riskLevel": {"enum": ["Low Risk", "Medium Risk", "High Risk"]},
    "riskPercentage": {"type": "number", "minimum": 0, "maximum": 100}
  }
}`

var schema = jsonschema.MustCompileString(resultSchemaURL, resultSchema)

const defaultIcon = "info"

// parsed is the oracle-supplied part of a result.
type parsed struct {
	Findings        []Finding
	Recommendations []string
	RiskLevel       string
	RiskPercentage  int
	// Repaired is set when the object did not match the result schema and
	// had to be normalized.
	Repaired bool
	// Violation is the schema error that triggered the repair.
	Violation error
}

// parseResult extracts the first JSON object from raw model output and
// normalizes it into result fields. ok is false when no object could be
// decoded.
func parseResult(raw string) (parsed, bool) {
	obj, ok := decodeObject(raw)
	if !ok {
		return parsed{}, false
	}

	var p parsed
	if err := schema.Validate(obj); err != nil {
		p.Repaired = true
		p.Violation = err
	}
	p.Findings = repairFindings(obj["findings"])
	p.Recommendations = repairRecommendations(obj["recommendations"])
	p.RiskLevel, p.RiskPercentage = repairRisk(obj["riskLevel"], obj["riskPercentage"])
	return p, true
}

func decodeObject(raw string) (map[string]any, bool) {
	candidate, ok := extractJSON(raw)
	if !ok {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// extractJSON finds a JSON object embedded in free text. It prefers the
// first balanced {...} span that is valid JSON, scanning with awareness of
// string literals, and falls back to the span from the first '{' to the
// last '}'.
func extractJSON(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end, ok := balancedEnd(text, start); ok {
			if candidate := text[start : end+1]; json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}

	first, last := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}')
	if first < 0 || last <= first {
		return "", false
	}
	candidate := text[first : last+1]
	if !json.Valid([]byte(candidate)) {
		return "", false
	}
	return candidate, true
}

// balancedEnd returns the index of the '}' closing the object opened at start.
func balancedEnd(text string, start int) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func repairFindings(v any) []Finding {
	items, _ := v.([]any)
	out := make([]Finding, 0, len(items))
	for _, item := range items {
		switch f := item.(type) {
		case map[string]any:
			finding := Finding{
				Title:       asString(f["title"]),
				Description: asString(f["description"]),
				Severity:    normalizeSeverity(asString(f["severity"])),
				Icon:        asString(f["icon"]),
			}
			if finding.Title == "" {
				finding.Title = "Finding"
			}
			if finding.Icon == "" {
				finding.Icon = defaultIcon
			}
			out = append(out, finding)
		case string:
			if f == "" {
				continue
			}
			out = append(out, Finding{Title: "Finding", Description: f, Severity: SeverityWarning, Icon: defaultIcon})
		}
	}
	return out
}

func repairRecommendations(v any) []string {
	switch r := v.(type) {
	case string:
		if r == "" {
			return []string{}
		}
		return []string{r}
	case []any:
		out := make([]string, 0, len(r))
		for _, item := range r {
			if s := asString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

func normalizeSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "ok", "low", "info", "good", "positive":
		return SeveritySuccess
	case "danger", "high", "critical", "error", "severe":
		return SeverityDanger
	default:
		return SeverityWarning
	}
}

// repairRisk normalizes the level label and clamps the percentage to
// [0,100]. A missing side is derived from the other; when both are missing
// the result is the medium band.
func repairRisk(levelV, pctV any) (string, int) {
	level := normalizeRiskLevel(asString(levelV))
	pct, hasPct := asPercentage(pctV)

	switch {
	case level == "" && !hasPct:
		return RiskMedium, 50
	case level == "":
		return riskBand(pct), pct
	case !hasPct:
		return level, defaultPercentage(level)
	}
	return level, pct
}

func normalizeRiskLevel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return ""
	case strings.HasPrefix(s, "low"):
		return RiskLow
	case strings.HasPrefix(s, "medium"), strings.HasPrefix(s, "moderate"):
		return RiskMedium
	case strings.HasPrefix(s, "high"), strings.HasPrefix(s, "critical"):
		return RiskHigh
	}
	return ""
}

func riskBand(pct int) string {
	switch {
	case pct <= 33:
		return RiskLow
	case pct <= 66:
		return RiskMedium
	}
	return RiskHigh
}

func defaultPercentage(level string) int {
	switch level {
	case RiskLow:
		return 25
	case RiskHigh:
		return 75
	}
	return 50
}

func asPercentage(v any) (int, bool) {
	var f float64
	switch p := v.(type) {
	case float64:
		f = p
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p), "%")), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return int(math.Round(min(max(f, 0), 100))), true
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
