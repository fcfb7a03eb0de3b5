package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"testnerd/internal/logging"
	"testnerd/internal/types"
)

// RodState is the LiveState of one Chrome page. Element queries never wait:
// the engine asks what is on the page right now.
type RodState struct {
	page       *rod.Page
	events     *pageEvents
	navTimeout time.Duration
	settle     time.Duration

	mu    sync.Mutex
	frame *rod.Page // nil = top-level document
}

var (
	_ LiveState     = (*RodState)(nil)
	_ ConsoleSource = (*RodState)(nil)
)

// NewRodState wraps a page that is not tracked by a SessionManager. Dialog
// and console tracking are unavailable for such pages.
func NewRodState(page *rod.Page, cfg Config) *RodState {
	return &RodState{
		page:       page,
		events:     newPageEvents(cfg.MaxConsoleLogs),
		navTimeout: cfg.NavigationTimeout(),
		settle:     cfg.SettleDelay(),
	}
}

// Page returns the underlying top-level page.
func (s *RodState) Page() *rod.Page { return s.page }

func (s *RodState) scope(ctx context.Context) *rod.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame != nil {
		return s.frame.Context(ctx)
	}
	return s.page.Context(ctx)
}

func (s *RodState) elements(ctx context.Context, loc types.Locator) (rod.Elements, error) {
	p := s.scope(ctx)
	switch loc.Strategy {
	case types.LocatorXPath:
		return p.ElementsX(loc.Value)
	case types.LocatorText:
		return p.ElementsX(fmt.Sprintf("//*[contains(normalize-space(text()), %s)]", xpathLiteral(loc.Value)))
	}
	css, ok := loc.CSS()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocator, loc)
	}
	return p.Elements(css)
}

func (s *RodState) first(ctx context.Context, loc types.Locator) (*rod.Element, error) {
	els, err := s.elements(ctx, loc)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, loc)
	}
	return els.First(), nil
}

// waitSettled gives the page a moment after a mutation, bounded by ctx.
func (s *RodState) waitSettled(ctx context.Context) {
	if s.settle <= 0 {
		return
	}
	t := time.NewTimer(s.settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// =============================================================================
// READER
// =============================================================================

// CurrentURL, Title and HTML read the top-level document even after
// SwitchToFrame, so a captured event pairs a URL with that page's DOM.

func (s *RodState) CurrentURL(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

func (s *RodState) Title(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.Title, nil
}

func (s *RodState) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

func (s *RodState) Count(ctx context.Context, loc types.Locator) (int, error) {
	els, err := s.elements(ctx, loc)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

func (s *RodState) VisibleCount(ctx context.Context, loc types.Locator) (int, error) {
	els, err := s.elements(ctx, loc)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, el := range els {
		visible, err := el.Visible()
		if err != nil {
			// detached between query and check
			continue
		}
		if visible {
			n++
		}
	}
	return n, nil
}

// HiddenReasons inspects computed style and geometry of the first match.
func (s *RodState) HiddenReasons(ctx context.Context, loc types.Locator) ([]string, error) {
	el, err := s.first(ctx, loc)
	if err != nil {
		return nil, err
	}
	res, err := el.Eval(`() => {
		const out = [];
		for (let el = this; el && el.nodeType === 1; el = el.parentElement) {
			const st = window.getComputedStyle(el);
			const suffix = el === this ? '' : ' (ancestor <' + el.tagName.toLowerCase() + '>)';
			if (st.display === 'none') out.push('Hidden via display:none' + suffix);
			if (el.getAttribute('aria-hidden') === 'true') out.push('Marked as aria-hidden' + suffix);
			if (el.hasAttribute('hidden')) out.push('Hidden via hidden attribute' + suffix);
			if (el === this) {
				if (st.visibility === 'hidden') out.push('Hidden via visibility:hidden');
				if (st.opacity === '0') out.push('Hidden via opacity:0');
				if (st.pointerEvents === 'none') out.push('Pointer events disabled');
				if (st.clip === 'rect(0px, 0px, 0px, 0px)') out.push('Clipped to zero size');
				const r = el.getBoundingClientRect();
				if (r.width < 1 || r.height < 1) out.push('Zero or near-zero size');
				if (r.right < 0 || r.bottom < 0 || r.left > window.innerWidth || r.top > window.innerHeight) {
					out.push('Positioned off-screen');
				}
			}
		}
		return out;
	}`)
	if err != nil {
		return nil, fmt.Errorf("inspect element: %w", err)
	}
	var reasons []string
	for _, v := range res.Value.Arr() {
		reasons = append(reasons, v.String())
	}
	return reasons, nil
}

func (s *RodState) AlertOpen(ctx context.Context) (bool, string, error) {
	d, ok := s.events.currentDialog()
	if !ok {
		return false, "", nil
	}
	return true, d.message, nil
}

func (s *RodState) InFrame() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame != nil
}

// ConsoleLogs returns the console output collected for the page so far.
func (s *RodState) ConsoleLogs() []string {
	return s.events.consoleLogs()
}

// =============================================================================
// DRIVER
// =============================================================================

func (s *RodState) Navigate(ctx context.Context, url string) error {
	s.resetFrame()
	p := s.page.Context(ctx).Timeout(s.navTimeout)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		logging.BrowserDebug("wait load after navigate: %v", err)
	}
	return nil
}

func (s *RodState) Back(ctx context.Context) error {
	s.resetFrame()
	if err := s.page.Context(ctx).NavigateBack(); err != nil {
		return fmt.Errorf("navigate back: %w", err)
	}
	s.waitSettled(ctx)
	return nil
}

func (s *RodState) Refresh(ctx context.Context) error {
	s.resetFrame()
	p := s.page.Context(ctx).Timeout(s.navTimeout)
	if err := p.Reload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		logging.BrowserDebug("wait load after reload: %v", err)
	}
	return nil
}

// ExecuteScript runs script as a function body; a `return` value is
// rendered as JSON text.
func (s *RodState) ExecuteScript(ctx context.Context, script string) (string, error) {
	res, err := s.scope(ctx).Evaluate(&rod.EvalOptions{
		JS:           "() => {\n" + script + "\n}",
		ByValue:      true,
		AwaitPromise: true,
		UserGesture:  true,
	})
	if err != nil {
		return "", fmt.Errorf("execute script: %w", err)
	}
	if res == nil || res.Value.Nil() {
		return "", nil
	}
	return res.Value.JSON("", ""), nil
}

func (s *RodState) AcceptAlert(ctx context.Context, promptText string) error {
	return s.handleDialog(ctx, true, promptText)
}

func (s *RodState) DismissAlert(ctx context.Context) error {
	return s.handleDialog(ctx, false, "")
}

func (s *RodState) handleDialog(ctx context.Context, accept bool, promptText string) error {
	if _, ok := s.events.currentDialog(); !ok {
		return ErrNoAlert
	}
	err := proto.PageHandleJavaScriptDialog{Accept: accept, PromptText: promptText}.Call(s.page.Context(ctx))
	if err != nil {
		return fmt.Errorf("handle dialog: %w", err)
	}
	s.events.closeDialog()
	return nil
}

func (s *RodState) SwitchToFrame(ctx context.Context, loc types.Locator) error {
	el, err := s.first(ctx, loc)
	if err != nil {
		return err
	}
	frame, err := el.Frame()
	if err != nil {
		return fmt.Errorf("enter frame %s: %w", loc, err)
	}
	s.mu.Lock()
	s.frame = frame
	s.mu.Unlock()
	return nil
}

func (s *RodState) SwitchToDefault(ctx context.Context) error {
	s.resetFrame()
	return nil
}

func (s *RodState) resetFrame() {
	s.mu.Lock()
	s.frame = nil
	s.mu.Unlock()
}

func (s *RodState) Click(ctx context.Context, loc types.Locator) error {
	el, err := s.first(ctx, loc)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s: %w", loc, err)
	}
	s.waitSettled(ctx)
	return nil
}

func (s *RodState) ScrollIntoView(ctx context.Context, loc types.Locator) error {
	el, err := s.first(ctx, loc)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("scroll %s: %w", loc, err)
	}
	return nil
}

func (s *RodState) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(false, nil)
}

func (s *RodState) ClearCookies(ctx context.Context) error {
	if err := (proto.NetworkClearBrowserCookies{}).Call(s.page.Context(ctx)); err != nil {
		return fmt.Errorf("clear cookies: %w", err)
	}
	return nil
}

// xpathLiteral quotes v for use inside an XPath expression.
func xpathLiteral(v string) string {
	if !strings.Contains(v, "'") {
		return "'" + v + "'"
	}
	if !strings.Contains(v, `"`) {
		return `"` + v + `"`
	}
	parts := strings.Split(v, "'")
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = "'" + p + "'"
	}
	return "concat(" + strings.Join(quoted, `, "'", `) + ")"
}

// IsNotFound reports whether err means the element was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrElementNotFound)
}
