// Package browsertest provides an in-memory browser.LiveState for tests.
package browsertest

import (
	"context"
	"sync"

	"testnerd/internal/browser"
	"testnerd/internal/types"
)

// Page is a scriptable, in-memory page. Queries run against HTML with the
// same selector engine snapshots use; driver calls are recorded and can be
// given side effects through the On* hooks.
type Page struct {
	mu sync.Mutex

	URL       string
	HTMLBody  string
	Alert     *string
	Frame     string
	History   []string
	Cookies   int
	Screen    []byte
	ScriptOut string

	// Errs forces a method to fail, keyed by method name ("Click", "Refresh").
	Errs map[string]error

	// OnClick runs after a successful Click, under the page lock.
	OnClick func(p *Page, loc types.Locator)
	// OnRefresh runs after Refresh, under the page lock.
	OnRefresh func(p *Page)
	// OnScript runs after ExecuteScript, under the page lock.
	OnScript func(p *Page, script string)

	calls []string
}

var _ browser.LiveState = (*Page)(nil)

// New returns a page at url showing html.
func New(url, html string) *Page {
	return &Page{URL: url, HTMLBody: html}
}

// Calls returns the method names invoked so far, in order.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// SetHTML replaces the page content.
func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	p.HTMLBody = html
	p.mu.Unlock()
}

// OpenAlert shows a dialog with text.
func (p *Page) OpenAlert(text string) {
	p.mu.Lock()
	p.Alert = &text
	p.mu.Unlock()
}

func (p *Page) record(name string) error {
	p.calls = append(p.calls, name)
	return p.Errs[name]
}

func (p *Page) snapshot() (*browser.SnapshotState, error) {
	return browser.NewSnapshotState(&types.ConditionEvent{CurrentURL: p.URL, DOMSnapshot: p.HTMLBody})
}

func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("CurrentURL"); err != nil {
		return "", err
	}
	return p.URL, nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Title"); err != nil {
		return "", err
	}
	s, err := p.snapshot()
	if err != nil {
		return "", err
	}
	return s.Title(ctx)
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("HTML"); err != nil {
		return "", err
	}
	return p.HTMLBody, nil
}

func (p *Page) Count(ctx context.Context, loc types.Locator) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Count"); err != nil {
		return 0, err
	}
	s, err := p.snapshot()
	if err != nil {
		return 0, err
	}
	return s.Count(ctx, loc)
}

func (p *Page) VisibleCount(ctx context.Context, loc types.Locator) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("VisibleCount"); err != nil {
		return 0, err
	}
	s, err := p.snapshot()
	if err != nil {
		return 0, err
	}
	return s.VisibleCount(ctx, loc)
}

func (p *Page) HiddenReasons(ctx context.Context, loc types.Locator) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("HiddenReasons"); err != nil {
		return nil, err
	}
	s, err := p.snapshot()
	if err != nil {
		return nil, err
	}
	return s.HiddenReasons(ctx, loc)
}

func (p *Page) AlertOpen(ctx context.Context) (bool, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("AlertOpen"); err != nil {
		return false, "", err
	}
	if p.Alert == nil {
		return false, "", nil
	}
	return true, *p.Alert, nil
}

func (p *Page) InFrame() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Frame != ""
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Navigate"); err != nil {
		return err
	}
	p.History = append(p.History, p.URL)
	p.URL = url
	p.Alert = nil
	p.Frame = ""
	return nil
}

func (p *Page) Back(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Back"); err != nil {
		return err
	}
	if n := len(p.History); n > 0 {
		p.URL = p.History[n-1]
		p.History = p.History[:n-1]
	}
	p.Frame = ""
	return nil
}

func (p *Page) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Refresh"); err != nil {
		return err
	}
	p.Alert = nil
	p.Frame = ""
	if p.OnRefresh != nil {
		p.OnRefresh(p)
	}
	return nil
}

func (p *Page) ExecuteScript(ctx context.Context, script string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ExecuteScript"); err != nil {
		return "", err
	}
	if p.OnScript != nil {
		p.OnScript(p, script)
	}
	return p.ScriptOut, nil
}

func (p *Page) AcceptAlert(ctx context.Context, promptText string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("AcceptAlert"); err != nil {
		return err
	}
	if p.Alert == nil {
		return browser.ErrNoAlert
	}
	p.Alert = nil
	return nil
}

func (p *Page) DismissAlert(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("DismissAlert"); err != nil {
		return err
	}
	if p.Alert == nil {
		return browser.ErrNoAlert
	}
	p.Alert = nil
	return nil
}

func (p *Page) SwitchToFrame(ctx context.Context, loc types.Locator) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("SwitchToFrame"); err != nil {
		return err
	}
	p.Frame = loc.Value
	return nil
}

func (p *Page) SwitchToDefault(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("SwitchToDefault"); err != nil {
		return err
	}
	p.Frame = ""
	return nil
}

func (p *Page) Click(ctx context.Context, loc types.Locator) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Click"); err != nil {
		return err
	}
	s, err := p.snapshot()
	if err != nil {
		return err
	}
	if n, err := s.VisibleCount(ctx, loc); err != nil || n == 0 {
		return browser.ErrElementNotFound
	}
	if p.OnClick != nil {
		p.OnClick(p, loc)
	}
	return nil
}

func (p *Page) ScrollIntoView(ctx context.Context, loc types.Locator) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ScrollIntoView"); err != nil {
		return err
	}
	s, err := p.snapshot()
	if err != nil {
		return err
	}
	if n, err := s.Count(ctx, loc); err != nil || n == 0 {
		return browser.ErrElementNotFound
	}
	return nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Screenshot"); err != nil {
		return nil, err
	}
	return append([]byte(nil), p.Screen...), nil
}

func (p *Page) ClearCookies(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ClearCookies"); err != nil {
		return err
	}
	p.Cookies = 0
	return nil
}
