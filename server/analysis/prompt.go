package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ctolnik/office-insight/server/database"
	"github.com/ctolnik/office-insight/server/oracle"
	"github.com/ctolnik/office-insight/server/timeline"
)

// activityDataLimit truncates keystroke text in mixed-activity prompts.
const activityDataLimit = 100

type promptTemplate struct {
	subject  string
	material string
	sections []string
}

var promptTemplates = map[Type]promptTemplate{
	TypeKeystroke: {
		subject:  "user keystroke data",
		material: "data",
		sections: []string{
			"Unusual typing patterns (if any)",
			"Authentication and login patterns",
			"Potential sensitive data exposure",
		},
	},
	TypeScreenshot: {
		subject:  "user screenshot activity",
		material: "screenshot timestamps",
		sections: []string{
			"Screenshot frequency patterns",
			"Time of day patterns",
			"Potential security concerns",
		},
	},
	TypeClipboard: {
		subject:  "user clipboard data",
		material: "clipboard content",
		sections: []string{
			"Types of clipboard content",
			"Potential sensitive data exposure",
			"Security implications",
		},
	},
	TypeActivity: {
		subject:  "user activity data",
		material: "mixed activity data",
		sections: []string{
			"Activity patterns and frequency",
			"Time of day patterns",
			"Security implications",
		},
	},
}

const outputInstructions = `Format your response as a structured JSON object with these fields:
- findings: Array of objects with {title, description, severity (success/warning/danger), icon (just the name of an appropriate icon)}
- recommendations: Array of strings
- riskLevel: "Low Risk", "Medium Risk", or "High Risk"
- riskPercentage: 0-100 number representing risk level
Respond with the JSON object only.`

type keystrokeRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Keystrokes string    `json:"keystrokes"`
	AvgSpeed   string    `json:"avgSpeed"`
}

type screenshotRecord struct {
	Timestamp time.Time        `json:"timestamp"`
	Type      database.LogType `json:"type"`
}

type clipboardRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
}

type activityRecord struct {
	Timestamp time.Time        `json:"timestamp"`
	Type      database.LogType `json:"type"`
	Data      string           `json:"data"`
}

// promptRecords reduces entries to the fields the model sees for t.
func promptRecords(t Type, entries []timeline.Entry) []any {
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		switch t {
		case TypeKeystroke:
			out = append(out, keystrokeRecord{Timestamp: e.Timestamp, Keystrokes: e.Data, AvgSpeed: e.AvgSpeed})
		case TypeScreenshot:
			out = append(out, screenshotRecord{Timestamp: e.Timestamp, Type: database.LogTypeScreenshot})
		case TypeClipboard:
			out = append(out, clipboardRecord{Timestamp: e.Timestamp, Content: e.Data})
		default:
			data := e.Data
			if e.Type == database.LogTypeKeystroke {
				data = truncate(data, activityDataLimit)
			}
			out = append(out, activityRecord{Timestamp: e.Timestamp, Type: e.Type, Data: data})
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func buildAnalysisPrompt(w window, entries []timeline.Entry) (string, error) {
	tmpl := promptTemplates[w.AnalysisType]
	data, err := json.MarshalIndent(promptRecords(w.AnalysisType, entries), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode records: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a cybersecurity analyst examining %s.\n", tmpl.subject)
	fmt.Fprintf(&b, "Analyze the following %s for user %q from %s to %s:\n\n", tmpl.material, w.Username, w.StartDate, w.EndDate)
	b.Write(data)
	b.WriteString("\n\nProvide a detailed analysis with the following sections:\n")
	sections := append(append([]string{}, tmpl.sections...),
		"Specific recommendations based on your findings",
		"A risk assessment (Low, Medium, or High)",
	)
	for i, s := range sections {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	b.WriteString("\n")
	b.WriteString(outputInstructions)
	return b.String(), nil
}

const chatInstructions = `You are a cybersecurity AI assistant analyzing user activity data.
Here is the context of the analysis you've performed:

%s

Provide a detailed and helpful response focusing only on explaining the data and findings.
Do not make up information that isn't presented in the context. If the context does not contain the answer, say so.`

// buildChatMessages puts the prior result in a system message, replays the
// earlier turns and ends with the new question.
func buildChatMessages(prior Result, question string, turns []ChatTurn) ([]oracle.Message, error) {
	ctxJSON, err := json.MarshalIndent(prior, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode analysis context: %w", err)
	}
	msgs := make([]oracle.Message, 0, len(turns)+2)
	msgs = append(msgs, oracle.Message{Role: oracle.RoleSystem, Content: fmt.Sprintf(chatInstructions, ctxJSON)})
	for _, t := range turns {
		if t.Content == "" {
			continue
		}
		role := oracle.RoleUser
		if t.Role == ChatRoleAssistant {
			role = oracle.RoleAssistant
		}
		msgs = append(msgs, oracle.Message{Role: role, Content: t.Content})
	}
	msgs = append(msgs, oracle.Message{Role: oracle.RoleUser, Content: question})
	return msgs, nil
}
