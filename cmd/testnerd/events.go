package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"testnerd/internal/types"
)

// namedEvent is a condition event and where it was read from.
type namedEvent struct {
	Name  string
	Event *types.ConditionEvent
}

// loadEvents reads events from a file holding one JSON object or an array of
// them, or from every *.json file in a directory.
func loadEvents(path string) ([]namedEvent, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return readEventFile(path)
	}

	matches, err := filepath.Glob(filepath.Join(path, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	var out []namedEvent
	for _, m := range matches {
		evs, err := readEventFile(m)
		if err != nil {
			return nil, err
		}
		out = append(out, evs...)
	}
	return out, nil
}

func readEventFile(path string) ([]namedEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: empty event file", path)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if data[0] == '[' {
		var evs []*types.ConditionEvent
		if err := json.Unmarshal(data, &evs); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out := make([]namedEvent, 0, len(evs))
		for i, ev := range evs {
			if ev == nil {
				continue
			}
			out = append(out, namedEvent{Name: fmt.Sprintf("%s[%d]", base, i), Event: ev})
		}
		return out, nil
	}

	var ev types.ConditionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return []namedEvent{{Name: base, Event: &ev}}, nil
}
