package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, true},
		{"commentary", "Sure!\n{\"a\":1}\nHope this helps.", `{"a":1}`, true},
		{"braces in strings", `note: {"a":"}{","b":{"c":"\"}"}} trailing }`, `{"a":"}{","b":{"c":"\"}"}}`, true},
		{"first balanced is prose", `use {braces} like {"a":[1,2]}`, `{"a":[1,2]}`, true},
		{"two objects", `{"a":1} and {"b":2}`, `{"a":1}`, true},
		{"brace inside string", `{"a":"unterminated {" , "b": 1}`, `{"a":"unterminated {" , "b": 1}`, true},
		{"none", "no json at all", "", false},
		{"unclosed", `{"a": 1`, "", false},
		{"invalid", `{a: 1}`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := extractJSON(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRepairRisk(t *testing.T) {
	cases := []struct {
		level   any
		pct     any
		wantLvl string
		wantPct int
	}{
		{"Low Risk", 10.0, RiskLow, 10},
		{"MEDIUM", "45%", RiskMedium, 45},
		{"moderate", nil, RiskMedium, 50},
		{"High Risk", -5.0, RiskHigh, 0},
		{nil, 80.4, RiskHigh, 80},
		{"unknown", 20.0, RiskLow, 20},
		{nil, nil, RiskMedium, 50},
		{"critical", "n/a", RiskHigh, 75},
		{"Low", 33.5, RiskLow, 34},
	}
	for _, tc := range cases {
		lvl, pct := repairRisk(tc.level, tc.pct)
		assert.Equal(t, tc.wantLvl, lvl, "level %v pct %v", tc.level, tc.pct)
		assert.Equal(t, tc.wantPct, pct, "level %v pct %v", tc.level, tc.pct)
	}
}

func TestParseResultValid(t *testing.T) {
	p, ok := parseResult(validResponse)
	assert.True(t, ok)
	assert.False(t, p.Repaired)
	assert.NoError(t, p.Violation)
	assert.Equal(t, 12, p.RiskPercentage)
}

func TestParseResultMissingFields(t *testing.T) {
	p, ok := parseResult(`{"riskPercentage": 90}`)
	assert.True(t, ok)
	assert.True(t, p.Repaired)
	assert.Error(t, p.Violation)
	assert.Equal(t, RiskHigh, p.RiskLevel)
	assert.NotNil(t, p.Findings)
	assert.NotNil(t, p.Recommendations)
	assert.Empty(t, p.Findings)
}
