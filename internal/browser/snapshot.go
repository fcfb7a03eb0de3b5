package browser

import (
	"context"
	"strings"

	"testnerd/internal/types"
)

// SnapshotState answers Reader queries from a captured ConditionEvent. It is
// used to replay recorded failures offline; every Driver call returns
// ErrReadOnly.
type SnapshotState struct {
	event *types.ConditionEvent
	doc   *Document
}

var _ LiveState = (*SnapshotState)(nil)

// NewSnapshotState parses the event's DOM snapshot once up front.
func NewSnapshotState(ev *types.ConditionEvent) (*SnapshotState, error) {
	doc, err := ParseDocument(ev.DOMSnapshot)
	if err != nil {
		return nil, err
	}
	return &SnapshotState{event: ev, doc: doc}, nil
}

// Document returns the parsed snapshot.
func (s *SnapshotState) Document() *Document { return s.doc }

func (s *SnapshotState) CurrentURL(ctx context.Context) (string, error) {
	return s.event.CurrentURL, nil
}

func (s *SnapshotState) Title(ctx context.Context) (string, error) {
	return s.doc.Title(), nil
}

func (s *SnapshotState) HTML(ctx context.Context) (string, error) {
	return s.event.DOMSnapshot, nil
}

func (s *SnapshotState) Count(ctx context.Context, loc types.Locator) (int, error) {
	nodes, err := s.doc.Locate(loc)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

func (s *SnapshotState) VisibleCount(ctx context.Context, loc types.Locator) (int, error) {
	nodes, err := s.doc.Locate(loc)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, node := range nodes {
		if Visible(node) {
			n++
		}
	}
	return n, nil
}

func (s *SnapshotState) HiddenReasons(ctx context.Context, loc types.Locator) ([]string, error) {
	nodes, err := s.doc.Locate(loc)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, ErrElementNotFound
	}
	return HiddenBy(nodes[0]), nil
}

// AlertOpen trusts the recorded condition: a snapshot cannot observe dialogs.
func (s *SnapshotState) AlertOpen(ctx context.Context) (bool, string, error) {
	if s.event.Type != types.ConditionAlertPresent {
		return false, "", nil
	}
	msg := s.event.Message
	if text, ok := s.event.Metadata["alert_text"]; ok {
		msg = text
	}
	return true, strings.TrimSpace(msg), nil
}

func (s *SnapshotState) InFrame() bool {
	return s.event.Metadata["frame"] != ""
}

func (s *SnapshotState) Navigate(ctx context.Context, url string) error { return ErrReadOnly }
func (s *SnapshotState) Back(ctx context.Context) error                 { return ErrReadOnly }
func (s *SnapshotState) Refresh(ctx context.Context) error              { return ErrReadOnly }
func (s *SnapshotState) ExecuteScript(ctx context.Context, script string) (string, error) {
	return "", ErrReadOnly
}
func (s *SnapshotState) AcceptAlert(ctx context.Context, promptText string) error { return ErrReadOnly }
func (s *SnapshotState) DismissAlert(ctx context.Context) error                   { return ErrReadOnly }
func (s *SnapshotState) SwitchToFrame(ctx context.Context, loc types.Locator) error {
	return ErrReadOnly
}
func (s *SnapshotState) SwitchToDefault(ctx context.Context) error                 { return ErrReadOnly }
func (s *SnapshotState) Click(ctx context.Context, loc types.Locator) error          { return ErrReadOnly }
func (s *SnapshotState) ScrollIntoView(ctx context.Context, loc types.Locator) error { return ErrReadOnly }
func (s *SnapshotState) ClearCookies(ctx context.Context) error                      { return ErrReadOnly }

// Screenshot returns the recorded screenshot, if any.
func (s *SnapshotState) Screenshot(ctx context.Context) ([]byte, error) {
	if len(s.event.Screenshot) == 0 {
		return nil, ErrReadOnly
	}
	return append([]byte(nil), s.event.Screenshot...), nil
}

// ConsoleLogs returns the recorded console output.
func (s *SnapshotState) ConsoleLogs() []string {
	return append([]string(nil), s.event.ConsoleLogs...)
}
