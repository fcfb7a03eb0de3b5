package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"testnerd/internal/types"
)

func TestFormatEvent_SectionsInOrder(t *testing.T) {
	ev := &types.ConditionEvent{
		Type:        types.ConditionElementNotFound,
		Message:     "no such element: #checkout",
		CurrentURL:  "https://shop.test/cart",
		ExpectedURL: "https://shop.test/checkout",
		Locator:     types.Locator{Strategy: types.LocatorCSS, Value: "#checkout"},
		PriorSteps:  []string{"open cart", "click checkout"},
		ConsoleLogs: []string{"[error] 500 /api/cart"},
		StackTrace:  "NoSuchElementException: #checkout\n\tat Page.click",
		Metadata:    map[string]string{"test": "checkout_flow", "browser": "chrome"},
		DOMSnapshot: "<html><body></body></html>",
		Screenshot:  []byte{1, 2, 3},
	}

	out := FormatEvent(ev, DefaultFormatOptions())

	order := []string{
		"## Condition Type\nELEMENT_NOT_FOUND",
		"## Exception Type\nNoSuchElementException",
		"## Message\nno such element: #checkout",
		"## URLs\nCurrent: https://shop.test/cart\nExpected: https://shop.test/checkout",
		"## Locator\nStrategy: css\nValue: #checkout",
		"## Prior Steps\n1. open cart\n2. click checkout",
		"## Console Logs\n[error] 500 /api/cart",
		"## Stack Trace\nNoSuchElementException",
		"## Metadata\nbrowser: chrome\ntest: checkout_flow",
		"## DOM Snapshot\n<html>",
		"## Screenshot\n[screenshot captured: 3 bytes]",
	}
	last := -1
	for _, want := range order {
		i := strings.Index(out, want)
		if assert.GreaterOrEqual(t, i, 0, "missing %q", want) {
			assert.Greater(t, i, last, "%q out of order", want)
			last = i
		}
	}
}

func TestFormatEvent_EmptyFields(t *testing.T) {
	out := FormatEvent(&types.ConditionEvent{}, DefaultFormatOptions())
	assert.Contains(t, out, "## Condition Type\nUNKNOWN")
	assert.Contains(t, out, "## Locator\n(none)")
	assert.Contains(t, out, "## Prior Steps\n(none)")
	assert.Contains(t, out, "## Screenshot\n[no screenshot]")
	assert.NotContains(t, out, "## Exception Type")
	assert.NotContains(t, out, "## Metadata")

	assert.Contains(t, FormatEvent(nil, DefaultFormatOptions()), "UNKNOWN")
}

func TestFormatEvent_Limits(t *testing.T) {
	logs := make([]string, 10)
	for i := range logs {
		logs[i] = string(rune('a' + i))
	}
	ev := &types.ConditionEvent{
		Type:        types.ConditionTimeout,
		ConsoleLogs: logs,
		DOMSnapshot: strings.Repeat("x", 100),
	}
	opts := FormatOptions{MaxConsoleLines: 3, MaxDOMChars: 40, IncludeDOMSnapshot: true}

	out := FormatEvent(ev, opts)
	assert.Contains(t, out, "## Console Logs\nh\ni\nj\n")
	assert.NotContains(t, out, "\ng\n")
	assert.Contains(t, out, "[truncated 60 chars]")

	opts.IncludeDOMSnapshot = false
	assert.NotContains(t, FormatEvent(ev, opts), "## DOM Snapshot")
}
