package checker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"testnerd/internal/browser"
	"testnerd/internal/logging"
	"testnerd/internal/types"
)

// =============================================================================
// PAGE VIEW
// =============================================================================

// pageView memoizes the URL and parsed DOM for one chain evaluation so that
// nine checkers do not fetch and parse the page nine times. Every other Reader
// call passes through to the live state.
type pageView struct {
	browser.Reader
	ev *types.ConditionEvent

	mu      sync.Mutex
	doc     *browser.Document
	url     string
	urlRead bool
}

func newPageView(live browser.Reader, ev *types.ConditionEvent) *pageView {
	return &pageView{Reader: live, ev: ev}
}

func (v *pageView) document(ctx context.Context) *browser.Document {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.doc == nil {
		v.doc = readDocument(ctx, v.Reader, v.ev)
	}
	return v.doc
}

func (v *pageView) currentURL(ctx context.Context) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.urlRead {
		v.url = readURL(ctx, v.Reader, v.ev)
		v.urlRead = true
	}
	return v.url
}

// documentOf returns the current DOM, preferring the live page over the
// snapshot captured with the event.
func documentOf(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) *browser.Document {
	if v, ok := live.(*pageView); ok {
		return v.document(ctx)
	}
	return readDocument(ctx, live, ev)
}

// urlOf returns the current URL, preferring the live page.
func urlOf(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) string {
	if v, ok := live.(*pageView); ok {
		return v.currentURL(ctx)
	}
	return readURL(ctx, live, ev)
}

func readDocument(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) *browser.Document {
	src, err := live.HTML(ctx)
	if err != nil || src == "" {
		if err != nil {
			logging.CheckerDebug("live html unavailable, using event snapshot: %v", err)
		}
		src = ev.DOMSnapshot
	}
	doc, err := browser.ParseDocument(src)
	if err != nil {
		logging.CheckerWarn("dom parse failed: %v", err)
		doc, _ = browser.ParseDocument("")
	}
	return doc
}

func readURL(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) string {
	u, err := live.CurrentURL(ctx)
	if err != nil || u == "" {
		return ev.CurrentURL
	}
	return u
}

// =============================================================================
// HEURISTIC TABLES
// =============================================================================

var bodyOverlayClasses = []string{"modal-open", "ReactModal__Body--open", "swal2-shown", "overlay-open"}

var overlaySelectors = []string{
	".modal-backdrop",
	".modal.show",
	".modal.in",
	".modal.is-open",
	"[role=dialog][aria-modal=true]",
	"[role=alertdialog]",
	".cdk-overlay-backdrop",
	".MuiBackdrop-root",
	".ReactModal__Overlay",
	".swal2-container",
	"#onetrust-banner-sdk",
	"#CybotCookiebotDialog",
	".cookie-banner",
	".cookie-consent",
	".cc-window",
	".overlay",
}

var closeSelectors = []string{
	"#onetrust-accept-btn-handler",
	"#CybotCookiebotDialogBodyButtonAccept",
	"[data-dismiss=modal]",
	"[data-bs-dismiss=modal]",
	".btn-close",
	".modal .close",
	"[aria-label=Close]",
	"[aria-label=close]",
	".cookie-accept",
	".cc-dismiss",
	".swal2-confirm",
}

var loaderSelectors = []string{
	".spinner",
	".spinner-border",
	".loading",
	".loader",
	".loading-overlay",
	".skeleton",
	"[aria-busy=true]",
	"[role=progressbar]",
	".MuiCircularProgress-root",
	"#loading",
}

var loginPathMarkers = []string{"/login", "/signin", "/sign-in", "/sign_in", "/auth", "/sso", "/session/new", "/account/login"}

var sessionMessageMarkers = []string{"session expired", "session has expired", "session timed out", "unauthorized", "401", "please log in", "please sign in"}

// visibleMatches returns the selectors from the list with at least one
// rendered match in doc.
func visibleMatches(doc *browser.Document, selectors []string) []string {
	var out []string
	for _, sel := range selectors {
		nodes, err := doc.Query(sel)
		if err != nil {
			continue
		}
		for _, n := range nodes {
			if browser.Visible(n) {
				out = append(out, sel)
				break
			}
		}
	}
	return out
}

// overlayEvidence lists what indicates a blocking overlay.
func overlayEvidence(doc *browser.Document) []string {
	var evidence []string
	bodies, _ := doc.Query("body")
	for _, b := range bodies {
		for _, cls := range bodyOverlayClasses {
			if browser.HasClass(b, cls) {
				evidence = append(evidence, fmt.Sprintf("body has class %q", cls))
			}
		}
	}
	for _, sel := range visibleMatches(doc, overlaySelectors) {
		evidence = append(evidence, "visible overlay element "+sel)
	}
	return evidence
}

// iframeSelectors returns a selector for each rendered iframe, most specific first.
func iframeSelectors(doc *browser.Document) []string {
	nodes, _ := doc.Query("iframe")
	var out []string
	for _, n := range nodes {
		if !browser.Visible(n) {
			continue
		}
		out = append(out, iframeSelector(n))
	}
	return out
}

func iframeSelector(n *html.Node) string {
	if id, ok := browser.Attr(n, "id"); ok && id != "" && !strings.ContainsAny(id, " .#[]\"") {
		return "#" + id
	}
	if name, ok := browser.Attr(n, "name"); ok && name != "" && !strings.Contains(name, `"`) {
		return fmt.Sprintf("iframe[name=%q]", name)
	}
	if src, ok := browser.Attr(n, "src"); ok && src != "" && !strings.Contains(src, `"`) {
		return fmt.Sprintf("iframe[src=%q]", src)
	}
	return "iframe"
}

func looksLikeLoginURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, m := range loginPathMarkers {
		if strings.HasSuffix(p, m) || strings.Contains(p, m+"/") {
			return true
		}
	}
	return false
}

func hasVisibleLoginForm(doc *browser.Document) bool {
	return len(visibleMatches(doc, []string{"input[type=password]"})) > 0
}

func mentionsSession(ev *types.ConditionEvent) bool {
	msg := strings.ToLower(ev.Message)
	for _, m := range sessionMessageMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// sameLocation reports whether current satisfies expected. Query strings and
// fragments are ignored; an expected path matches itself and any sub-path.
func sameLocation(current, expected string) bool {
	cu, err1 := url.Parse(current)
	eu, err2 := url.Parse(expected)
	if err1 != nil || err2 != nil {
		return strings.Contains(current, expected)
	}
	if eu.Host != "" && !strings.EqualFold(cu.Host, eu.Host) {
		return false
	}
	cp := strings.TrimSuffix(cu.Path, "/")
	ep := strings.TrimSuffix(eu.Path, "/")
	if ep == "" {
		return eu.Host != "" || cp == ""
	}
	return cp == ep || strings.HasPrefix(cp, ep+"/")
}

// plan builds a single-source plan whose confidence is the lowest step confidence.
func plan(summary string, steps ...types.Step) *types.RemediationPlan {
	conf := 1.0
	for _, s := range steps {
		if s.Confidence < conf {
			conf = s.Confidence
		}
	}
	return &types.RemediationPlan{Summary: summary, Confidence: conf, Steps: steps}
}
