// Package transcript keeps the labeled conversation log shown to the operator.
package transcript

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Sender labels who produced a transcript line.
type Sender string

const (
	User      Sender = "You"
	Collector Sender = "Collector"
)

// Entry is one rendered transcript line.
type Entry struct {
	Sender Sender
	Text   string
	At     time.Time
}

// String renders the entry as "Sender: text".
func (e Entry) String() string {
	return fmt.Sprintf("%s: %s", e.Sender, e.Text)
}

// Observer is notified after every accepted entry, in append order.
type Observer func(Entry)

// Log is an append-only, concurrency-safe transcript.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	observer Observer
	now      func() time.Time
}

// NewLog builds an empty log. observer may be nil.
func NewLog(observer Observer) *Log {
	return &Log{observer: observer, now: time.Now}
}

// Append adds message under sender after stripping a redundant "sender:" prefix.
// Messages that are empty after cleanup are dropped and Append reports false.
func (l *Log) Append(sender Sender, message string) bool {
	text, ok := Clean(sender, message)
	if !ok {
		return false
	}

	entry := Entry{Sender: sender, Text: text, At: l.now()}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	observer := l.observer
	l.mu.Unlock()

	if observer != nil {
		observer(entry)
	}
	return true
}

// Entries returns a snapshot of all accepted entries.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports the number of accepted entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clean trims message and removes a leading "<sender>:" label, case-insensitively.
func Clean(sender Sender, message string) (string, bool) {
	text := strings.TrimSpace(message)
	prefix := strings.ToLower(string(sender)) + ":"
	if len(text) >= len(prefix) && strings.ToLower(text[:len(prefix)]) == prefix {
		text = strings.TrimSpace(text[len(prefix):])
	}
	if text == "" {
		return "", false
	}
	return text, true
}
