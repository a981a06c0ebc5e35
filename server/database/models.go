package database

import (
	"fmt"
	"strings"
	"time"
)

// LogType discriminates the three raw record collections.
type LogType string

const (
	LogTypeKeystroke  LogType = "Keystroke"
	LogTypeScreenshot LogType = "Screenshot"
	LogTypeClipboard  LogType = "Clipboard"
)

var LogTypes = []LogType{LogTypeKeystroke, LogTypeScreenshot, LogTypeClipboard}

// ParseLogType accepts the canonical names case-insensitively.
func ParseLogType(s string) (LogType, error) {
	for _, t := range LogTypes {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown log type %q", s)
}

// UnknownUser replaces empty usernames at the read boundary.
const UnknownUser = "N/A"

func NormalizeUser(user string) string {
	user = strings.TrimSpace(user)
	if user == "" {
		return UnknownUser
	}
	return user
}

// KeystrokeRecord is one captured keystroke fragment. Keystroke holds ciphertext.
type KeystrokeRecord struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	IP        string    `json:"ip"`
	Timestamp time.Time `json:"timestamp"`
	Keystroke string    `json:"keystroke"`
}

func (r KeystrokeRecord) HasTimestamp() bool { return !r.Timestamp.IsZero() }

type ClipboardRecord struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	IP        string    `json:"ip"`
	Timestamp time.Time `json:"timestamp"`
	Clipboard string    `json:"clipboard"`
}

func (r ClipboardRecord) HasTimestamp() bool { return !r.Timestamp.IsZero() }

// ScreenshotRecord carries the encrypted image inline in Screenshot or, when
// ObjectName is set, in the blob store. Listing queries leave Screenshot empty.
type ScreenshotRecord struct {
	ID         string    `json:"id"`
	User       string    `json:"user"`
	IP         string    `json:"ip"`
	Timestamp  time.Time `json:"timestamp"`
	Screenshot string    `json:"screenshot,omitempty"`
	Resolution string    `json:"resolution"`
	ObjectName string    `json:"object_name,omitempty"`
}

func (r ScreenshotRecord) HasTimestamp() bool { return !r.Timestamp.IsZero() }

// Filter narrows a collection read. Zero values mean no constraint; bounds are inclusive.
type Filter struct {
	User  string
	Since time.Time
	Until time.Time
}

type Counts struct {
	Keystrokes  int64 `json:"keystrokes"`
	Screenshots int64 `json:"screenshots"`
	Clipboard   int64 `json:"clipboard"`
}

// Revision identifies the state of the keystroke collection. Any insert changes it.
type Revision struct {
	Count  int64
	Latest time.Time
}

func (r Revision) String() string {
	return fmt.Sprintf("%d-%d", r.Count, r.Latest.UnixNano())
}

type UserActivity struct {
	Username   string    `json:"username"`
	LastActive time.Time `json:"lastActive"`
}

// mergeUsers folds per-collection user rows into one row per normalized username.
func mergeUsers(rows []UserActivity) []UserActivity {
	byName := make(map[string]int, len(rows))
	out := make([]UserActivity, 0, len(rows))
	for _, r := range rows {
		r.Username = NormalizeUser(r.Username)
		if i, ok := byName[r.Username]; ok {
			if r.LastActive.After(out[i].LastActive) {
				out[i].LastActive = r.LastActive
			}
			continue
		}
		byName[r.Username] = len(out)
		out = append(out, r)
	}
	return out
}
