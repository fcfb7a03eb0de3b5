package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"testnerd/internal/logging"
)

// Session describes the public metadata for a tracked browser page.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type sessionRecord struct {
	meta   Session
	page   *rod.Page
	events *pageEvents
	state  *RodState
	cancel context.CancelFunc
}

// Config holds browser configuration.
type Config struct {
	DebuggerURL         string   `json:"debugger_url"`
	Launch              []string `json:"launch"`
	Headless            bool     `json:"headless"`
	ViewportWidth       int      `json:"viewport_width"`
	ViewportHeight      int      `json:"viewport_height"`
	NavigationTimeoutMs int      `json:"navigation_timeout_ms"`
	SettleDelayMs       int      `json:"settle_delay_ms"`
	SessionStore        string   `json:"session_store"`
	EventThrottleMs     int      `json:"event_throttle_ms"`
	MaxConsoleLogs      int      `json:"max_console_logs"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:            true,
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		NavigationTimeoutMs: 30000,
		SettleDelayMs:       500,
		EventThrottleMs:     0,
		MaxConsoleLogs:      200,
	}
}

// IsHeadless returns the headless setting.
func (c Config) IsHeadless() bool {
	return c.Headless
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1920
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 1080
	}
	return c.ViewportHeight
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// SettleDelay returns how long to let the page settle after a mutation.
func (c Config) SettleDelay() time.Duration {
	if c.SettleDelayMs < 0 {
		return 0
	}
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// SessionManager owns the Chrome connection and tracks the pages under test.
type SessionManager struct {
	cfg        Config
	mu         sync.RWMutex
	browser    *rod.Browser
	sessions   map[string]*sessionRecord
	controlURL string // WebSocket URL for DevTools
}

// NewSessionManager creates a new session manager.
func NewSessionManager(cfg Config) *SessionManager {
	return &SessionManager{
		cfg:      cfg,
		sessions: make(map[string]*sessionRecord),
	}
}

// Start connects to an existing Chrome or launches a new one.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// If we already have a browser, verify it's still alive
	if m.browser != nil {
		_, err := m.browser.Version()
		if err == nil {
			return nil
		}
		logging.BrowserWarn("Stale browser connection detected, reconnecting...")
		m.closeSessionsLocked()
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
	}

	if err := m.loadSessionsLocked(); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		bin := m.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless())
		for _, rawFlag := range m.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			fallback := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless())
			alt, altErr := fallback.Launch()
			if altErr != nil {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			controlURL = alt
		} else {
			controlURL = url
		}
	}

	if controlURL == "" {
		url, err := launcher.New().Headless(m.cfg.IsHeadless()).Launch()
		if err != nil {
			return fmt.Errorf("no debugger_url and failed to launch: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	logging.Browser("Connected to Chrome at %s", controlURL)
	return nil
}

func (m *SessionManager) ensureStarted(ctx context.Context) error {
	m.mu.RLock()
	if m.browser != nil {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()
	return m.Start(ctx)
}

// ControlURL returns the WebSocket debugger URL.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown closes tracked pages and the browser. Pages that were attached
// rather than created are left open.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeSessionsLocked()

	var err error
	if m.browser != nil {
		if m.cfg.DebuggerURL == "" {
			err = m.browser.Close()
		}
		m.browser = nil
	}
	m.controlURL = ""
	logging.Browser("Browser session manager shut down")
	return err
}

func (m *SessionManager) closeSessionsLocked() {
	for id, record := range m.sessions {
		if record.cancel != nil {
			record.cancel()
		}
		if record.page != nil && record.meta.Status == "active" {
			_ = record.page.Close()
		}
		delete(m.sessions, id)
	}
}

// List returns metadata for all known sessions.
func (m *SessionManager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Session, 0, len(m.sessions))
	for _, record := range m.sessions {
		results = append(results, record.meta)
	}
	return results
}

// CreateSession opens a new incognito page at url and tracks it.
func (m *SessionManager) CreateSession(ctx context.Context, url string) (*Session, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.BrowserWarn("failed to set viewport: %v", err)
	}

	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   string(page.TargetID),
		URL:        url,
		Status:     "active",
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}
	m.track(meta, page)

	// Stream first so the initial document's console output is captured.
	if url != "" {
		if err := page.Context(ctx).Timeout(m.cfg.NavigationTimeout()).Navigate(url); err != nil {
			logging.BrowserWarn("[session:%s] initial navigation to %s failed: %v", meta.ID, url, err)
		}
	}

	_ = m.persistSessions()
	return &meta, nil
}

// Attach binds to an existing target by TargetID.
func (m *SessionManager) Attach(ctx context.Context, targetID string) (*Session, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	page, err := browser.PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", targetID, err)
	}
	return m.attachPage(page), nil
}

// AttachFirst binds to the first page of an already running browser, which is
// how a failing test run hands its page over for diagnosis.
func (m *SessionManager) AttachFirst(ctx context.Context) (*Session, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: browser has no open pages", ErrUnknownSession)
	}
	return m.attachPage(pages.First()), nil
}

func (m *SessionManager) attachPage(page *rod.Page) *Session {
	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   string(page.TargetID),
		Status:     "attached",
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}
	if info, err := page.Info(); err == nil {
		meta.URL = info.URL
		meta.Title = info.Title
	}
	m.track(meta, page)
	_ = m.persistSessions()
	return &meta
}

func (m *SessionManager) track(meta Session, page *rod.Page) {
	ctx, cancel := context.WithCancel(context.Background())
	events := newPageEvents(m.cfg.MaxConsoleLogs)
	rec := &sessionRecord{
		meta:   meta,
		page:   page,
		events: events,
		cancel: cancel,
		state: &RodState{
			page:       page,
			events:     events,
			navTimeout: m.cfg.NavigationTimeout(),
			settle:     m.cfg.SettleDelay(),
		},
	}

	m.mu.Lock()
	m.sessions[meta.ID] = rec
	m.mu.Unlock()

	m.startEventStream(ctx, meta.ID, page, events)
}

// Page returns the underlying Rod page for a session.
func (m *SessionManager) Page(sessionID string) (*rod.Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.page == nil {
		return nil, false
	}
	return rec.page, true
}

// State returns the live state for a session.
func (m *SessionManager) State(sessionID string) (*RodState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.state == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return rec.state, nil
}

// UpdateMetadata updates session metadata.
func (m *SessionManager) UpdateMetadata(sessionID string, updater func(Session) Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	rec.meta = updater(rec.meta)
}

// GetSession returns session metadata.
func (m *SessionManager) GetSession(sessionID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return rec.meta, true
}

// startEventStream wires Rod CDP events into the session's event log. It
// runs until the session is closed.
func (m *SessionManager) startEventStream(ctx context.Context, sessionID string, page *rod.Page, events *pageEvents) {
	throttler := newEventThrottler(m.cfg.EventThrottleMs)

	wait := page.Context(ctx).EachEvent(
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame == nil || ev.Frame.ParentID != "" {
				return
			}
			events.navigated(ev.Frame.URL)
			m.UpdateMetadata(sessionID, func(s Session) Session {
				s.URL = ev.Frame.URL
				s.LastActive = time.Now()
				return s
			})
		},
		func(ev *proto.PageJavascriptDialogOpening) {
			logging.BrowserDebug("[session:%s] %s dialog opened: %s", sessionID, ev.Type, ev.Message)
			events.openDialog(string(ev.Type), ev.Message)
		},
		func(ev *proto.PageJavascriptDialogClosed) {
			events.closeDialog()
		},
		func(ev *proto.RuntimeConsoleAPICalled) {
			if !throttler.Allow("console") {
				return
			}
			events.appendConsole(string(ev.Type), stringifyConsoleArgs(ev.Args))
		},
		func(ev *proto.RuntimeExceptionThrown) {
			d := ev.ExceptionDetails
			if d == nil || isInternalScript(d.URL) {
				return
			}
			msg := d.Text
			if d.Exception != nil && d.Exception.Description != "" {
				msg = d.Exception.Description
			}
			events.appendConsole("exception", msg)
		},
	)

	go func() {
		defer func() {
			// the page may be closed underneath the stream
			if r := recover(); r != nil {
				logging.BrowserWarn("[session:%s] event stream stopped: %v", sessionID, r)
			}
		}()
		wait()
	}()
}

// persistSessions writes session metadata to disk.
func (m *SessionManager) persistSessions() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	m.mu.RLock()
	sessions := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		sessions = append(sessions, rec.meta)
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.cfg.SessionStore), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.cfg.SessionStore, data, 0o644)
}

// loadSessionsLocked loads persisted metadata. Caller must hold lock.
func (m *SessionManager) loadSessionsLocked() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	data, err := os.ReadFile(m.cfg.SessionStore)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return err
	}

	for _, s := range sessions {
		if _, live := m.sessions[s.ID]; live {
			continue
		}
		s.Status = "detached"
		m.sessions[s.ID] = &sessionRecord{meta: s}
	}
	return nil
}
