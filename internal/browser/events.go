package browser

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

type eventThrottler struct {
	interval time.Duration
	mu       sync.Mutex
	last     map[string]time.Time
}

func newEventThrottler(ms int) *eventThrottler {
	if ms <= 0 {
		return nil
	}
	return &eventThrottler{
		interval: time.Duration(ms) * time.Millisecond,
		last:     make(map[string]time.Time),
	}
}

func (t *eventThrottler) Allow(key string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if last, ok := t.last[key]; ok {
		if now.Sub(last) < t.interval {
			return false
		}
	}
	t.last[key] = now
	return true
}

type dialogState struct {
	kind    string
	message string
}

// pageEvents accumulates what the CDP event stream reports for one page:
// console output (bounded ring), the open dialog, and the last navigated URL.
type pageEvents struct {
	mu      sync.Mutex
	max     int
	console []string
	dialog  *dialogState
	url     string
}

func newPageEvents(max int) *pageEvents {
	if max <= 0 {
		max = 200
	}
	return &pageEvents{max: max}
}

func (e *pageEvents) appendConsole(level, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	line := fmt.Sprintf("[%s] %s", level, msg)
	if len(e.console) >= e.max {
		copy(e.console, e.console[1:])
		e.console[len(e.console)-1] = line
		return
	}
	e.console = append(e.console, line)
}

func (e *pageEvents) consoleLogs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.console...)
}

func (e *pageEvents) openDialog(kind, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dialog = &dialogState{kind: kind, message: msg}
}

func (e *pageEvents) closeDialog() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dialog = nil
}

func (e *pageEvents) currentDialog() (dialogState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dialog == nil {
		return dialogState{}, false
	}
	return *e.dialog, true
}

func (e *pageEvents) navigated(url string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.url = url
	// a navigation tears down any dialog of the previous document
	e.dialog = nil
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

func isInternalScript(url string) bool {
	internalPrefixes := []string{
		"chrome://",
		"chrome-extension://",
		"devtools://",
		"about:",
		"data:",
		"blob:",
	}
	for _, prefix := range internalPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}
