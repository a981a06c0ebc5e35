package sensitive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsSensitiveInfo(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
		rule string
	}{
		{"empty", "", false, ""},
		{"plain text", "meeting notes for thursday", false, ""},
		{"card digits", "pay with 4111111111111111 today", true, "credit_card"},
		{"card with spaces", "4111 1111 1111 1111", true, "credit_card"},
		{"card with dashes", "4111-1111-1111-1111", true, "credit_card"},
		{"short digit run", "order 123456789012", false, ""},
		{"ssn", "ssn is 123-45-6789", true, "ssn"},
		{"password keyword", "my Password is hunter2", true, "password"},
		{"login keyword", "LOGIN to the portal", true, "password"},
		{"email", "write to alice@example.com", true, "email"},
		{"banking", "transfer from my bank account", true, "banking"},
		{"iban", "IBAN DE89 please", true, "banking"},
		{"ssn with spaces", "123 45 6789", true, "ssn"},
		{"ssn digits only", "id 123456789 on file", true, "ssn"},
		{"password run", "password123", true, "password"},
		{"password inside typed run", "mypassword123", true, "password"},
		{"pwd", "new pwd: x", true, "password"},
		{"loan", "loan application", true, "banking"},
		{"credit", "credit limit", true, "banking"},
		{"routing", "routing no. on the form", true, "banking"},
		{"routing digits", "routing 021000021", true, "ssn"},
		{"account", "my account is 55", true, "banking"},
	}
	d := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.ContainsSensitiveInfo(tt.text))
			assert.Equal(t, tt.want, ContainsSensitiveInfo(tt.text))

			rule, ok := d.Match(tt.text)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.rule, rule.Name)
		})
	}
}

func TestMatchFirstRuleWins(t *testing.T) {
	rule, ok := New().Match("password for bank: 123-45-6789")
	assert.True(t, ok)
	assert.Equal(t, "ssn", rule.Name)
	assert.Equal(t, SeverityHigh, rule.Severity)
}

func TestCustomRules(t *testing.T) {
	email := DefaultRules[3]
	d := New(email)

	assert.False(t, d.ContainsSensitiveInfo("123-45-6789"))
	rule, ok := d.Match("bob@corp.io")
	assert.True(t, ok)
	assert.Equal(t, SeverityMedium, rule.Severity)
}
