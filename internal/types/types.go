// Package types provides the shared data model used across testnerd packages.
// This package exists to break import cycles between checker, knowledge, actions,
// executor, gateway and cascade. Types here are plain data with no engine logic.
package types

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// CONDITION EVENT
// =============================================================================

// ConditionType is the categorical kind of failure observed by the test runner.
type ConditionType string

const (
	ConditionElementNotFound        ConditionType = "ELEMENT_NOT_FOUND"
	ConditionElementNotVisible      ConditionType = "ELEMENT_NOT_VISIBLE"
	ConditionElementNotInteractable ConditionType = "ELEMENT_NOT_INTERACTABLE"
	ConditionStaleElement           ConditionType = "STALE_ELEMENT"
	ConditionTimeout                ConditionType = "TIMEOUT"
	ConditionWrongPage              ConditionType = "WRONG_PAGE"
	ConditionAssertionFailed        ConditionType = "ASSERTION_FAILED"
	ConditionAlertPresent           ConditionType = "ALERT_PRESENT"
	ConditionNavigationError        ConditionType = "NAVIGATION_ERROR"
	ConditionScriptError            ConditionType = "SCRIPT_ERROR"
	ConditionUnknown                ConditionType = "UNKNOWN"
)

// LocatorStrategy names how a locator value is interpreted by the driver.
type LocatorStrategy string

const (
	LocatorCSS   LocatorStrategy = "css"
	LocatorXPath LocatorStrategy = "xpath"
	LocatorID    LocatorStrategy = "id"
	LocatorName  LocatorStrategy = "name"
	LocatorText  LocatorStrategy = "text"
)

// Locator identifies the element a failing step was targeting.
type Locator struct {
	Strategy LocatorStrategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Value    string          `json:"value,omitempty" yaml:"value,omitempty"`
}

// CSS returns a CSS selector equivalent of the locator when one exists.
// XPath and text locators have no CSS form and return ("", false).
func (l Locator) CSS() (string, bool) {
	if l.Value == "" {
		return "", false
	}
	switch l.Strategy {
	case LocatorCSS, "":
		return l.Value, true
	case LocatorID:
		return "#" + strings.TrimPrefix(l.Value, "#"), true
	case LocatorName:
		return fmt.Sprintf("[name=%q]", l.Value), true
	default:
		return "", false
	}
}

// String renders the locator as "strategy=value".
func (l Locator) String() string {
	if l.Value == "" {
		return ""
	}
	if l.Strategy == "" {
		return l.Value
	}
	return string(l.Strategy) + "=" + l.Value
}

// ConditionEvent is an immutable snapshot of one unexpected condition.
// It is built once per failure; WithLiveState returns a fresh instance rather
// than mutating the receiver.
type ConditionEvent struct {
	Type          ConditionType     `json:"type"`
	Message       string            `json:"message,omitempty"`
	CurrentURL    string            `json:"current_url,omitempty"`
	ExpectedURL   string            `json:"expected_url,omitempty"`
	Locator       Locator           `json:"locator,omitempty"`
	DOMSnapshot   string            `json:"dom_snapshot,omitempty"`
	Screenshot    []byte            `json:"screenshot,omitempty"`
	ConsoleLogs   []string          `json:"console_logs,omitempty"`
	PriorSteps    []string          `json:"prior_steps,omitempty"`
	StackTrace    string            `json:"stack_trace,omitempty"`
	ExceptionType string            `json:"exception_type,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CapturedAt    time.Time         `json:"captured_at"`
}

// ResolvedExceptionType returns the explicit exception type, or the leading
// type token of the stack trace ("NoSuchElementException: ..." -> "NoSuchElementException").
func (e *ConditionEvent) ResolvedExceptionType() string {
	if e.ExceptionType != "" {
		return e.ExceptionType
	}
	first, _, _ := strings.Cut(strings.TrimSpace(e.StackTrace), "\n")
	head, _, found := strings.Cut(first, ":")
	if !found {
		return ""
	}
	head = strings.TrimSpace(head)
	if head == "" || strings.ContainsAny(head, " \t") {
		return ""
	}
	return head
}

// WithLiveState returns a copy of the event reflecting refreshed live fields.
// Empty arguments keep the previous value. When nothing differs the receiver
// itself is returned.
func (e *ConditionEvent) WithLiveState(currentURL, dom string) *ConditionEvent {
	if (currentURL == "" || currentURL == e.CurrentURL) && (dom == "" || dom == e.DOMSnapshot) {
		return e
	}
	next := e.clone()
	if currentURL != "" {
		next.CurrentURL = currentURL
	}
	if dom != "" {
		next.DOMSnapshot = dom
	}
	next.CapturedAt = time.Now()
	return next
}

func (e *ConditionEvent) clone() *ConditionEvent {
	c := *e
	c.ConsoleLogs = append([]string(nil), e.ConsoleLogs...)
	c.PriorSteps = append([]string(nil), e.PriorSteps...)
	c.Screenshot = append([]byte(nil), e.Screenshot...)
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// =============================================================================
// INSIGHT
// =============================================================================

// Category is the fixed set of diagnosis categories.
type Category string

const (
	CategoryElementNotFound  Category = "ELEMENT_NOT_FOUND"
	CategoryElementHidden    Category = "ELEMENT_NOT_VISIBLE"
	CategoryWrongPage        Category = "WRONG_PAGE"
	CategoryOverlayBlocking  Category = "OVERLAY_BLOCKING"
	CategoryTimingIssue      Category = "TIMING_ISSUE"
	CategoryStaleElement     Category = "STALE_ELEMENT"
	CategoryAlertPresent     Category = "ALERT_PRESENT"
	CategoryFrameContext     Category = "FRAME_CONTEXT"
	CategorySessionExpired   Category = "SESSION_EXPIRED"
	CategoryNetworkError     Category = "NETWORK_ERROR"
	CategoryApplicationError Category = "APPLICATION_ERROR"
	CategoryTestDefect       Category = "TEST_DEFECT"
	CategoryEnvironment      Category = "ENVIRONMENT_ISSUE"
	CategoryDataIssue        Category = "DATA_ISSUE"
	CategoryUnknown          Category = "UNKNOWN"
)

// Categories lists every valid category.
var Categories = []Category{
	CategoryElementNotFound, CategoryElementHidden, CategoryWrongPage, CategoryOverlayBlocking,
	CategoryTimingIssue, CategoryStaleElement, CategoryAlertPresent, CategoryFrameContext,
	CategorySessionExpired, CategoryNetworkError, CategoryApplicationError, CategoryTestDefect,
	CategoryEnvironment, CategoryDataIssue, CategoryUnknown,
}

// Valid reports whether c is one of Categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Outcome is the suggested disposition of the test step.
type Outcome string

const (
	OutcomeContinue        Outcome = "CONTINUE"
	OutcomeRetry           Outcome = "RETRY"
	OutcomeSkip            Outcome = "SKIP"
	OutcomeFailWithContext Outcome = "FAIL_WITH_CONTEXT"
	OutcomeInvestigate     Outcome = "INVESTIGATE"
)

// Outcomes lists every valid outcome.
var Outcomes = []Outcome{OutcomeContinue, OutcomeRetry, OutcomeSkip, OutcomeFailWithContext, OutcomeInvestigate}

// Valid reports whether o is one of Outcomes.
func (o Outcome) Valid() bool {
	for _, known := range Outcomes {
		if o == known {
			return true
		}
	}
	return false
}

// StopsCascade reports whether further automated remediation is inappropriate.
// Only RETRY keeps the cascade going.
func (o Outcome) StopsCascade() bool {
	return o != OutcomeRetry
}

// ContinueContext explains why a test can keep running despite the condition.
type ContinueContext struct {
	Reason        string   `json:"reason,omitempty" yaml:"reason,omitempty"`
	ObservedState string   `json:"observed_state,omitempty" yaml:"observed_state,omitempty"`
	ResumeHint    string   `json:"resume_hint,omitempty" yaml:"resume_hint,omitempty"`
	Caveats       []string `json:"caveats,omitempty" yaml:"caveats,omitempty"`
}

// Insight is the diagnosis produced by exactly one source per cascade round.
type Insight struct {
	Category        Category         `json:"category" yaml:"category"`
	RootCause       string           `json:"root_cause" yaml:"root_cause"`
	Confidence      float64          `json:"confidence" yaml:"confidence"`
	Transient       bool             `json:"transient" yaml:"transient"`
	Outcome         Outcome          `json:"outcome" yaml:"outcome"`
	Evidence        []string         `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Plan            *RemediationPlan `json:"plan,omitempty" yaml:"plan,omitempty"`
	ContinueContext *ContinueContext `json:"continue_context,omitempty" yaml:"continue_context,omitempty"`
}

// Normalize enforces the insight invariants in place: confidence is clamped to
// [0,1], unknown enums fall back to UNKNOWN/INVESTIGATE, and a CONTINUE outcome
// never carries a plan.
func (in *Insight) Normalize() {
	in.Confidence = ClampConfidence(in.Confidence)
	if !in.Category.Valid() {
		in.Category = CategoryUnknown
	}
	if !in.Outcome.Valid() {
		in.Outcome = OutcomeInvestigate
	}
	if in.Outcome == OutcomeContinue {
		in.Plan = nil
	}
	if in.Plan != nil {
		in.Plan.Confidence = ClampConfidence(in.Plan.Confidence)
		for i := range in.Plan.Steps {
			in.Plan.Steps[i].Confidence = ClampConfidence(in.Plan.Steps[i].Confidence)
		}
	}
}

// Clone returns a deep copy so canned insights can be handed out safely.
func (in Insight) Clone() Insight {
	out := in
	out.Evidence = append([]string(nil), in.Evidence...)
	if in.Plan != nil {
		p := in.Plan.Clone()
		out.Plan = &p
	}
	if in.ContinueContext != nil {
		cc := *in.ContinueContext
		cc.Caveats = append([]string(nil), in.ContinueContext.Caveats...)
		out.ContinueContext = &cc
	}
	return out
}

// TerminalInsight is the low-confidence insight every internal failure degrades to.
func TerminalInsight(rootCause string) Insight {
	return Insight{
		Category:   CategoryUnknown,
		RootCause:  rootCause,
		Confidence: 0,
		Outcome:    OutcomeInvestigate,
	}
}

// ClampConfidence limits v to [0,1].
func ClampConfidence(v float64) float64 {
	if v != v || v < 0 { // NaN or negative
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// =============================================================================
// REMEDIATION PLAN
// =============================================================================

// RiskTier gates whether a step may run autonomously. The zero value is
// RiskUnset: a step that never declared its risk exceeds every ceiling.
type RiskTier int

const (
	RiskUnset RiskTier = iota
	RiskLow
	RiskMedium
	RiskHigh
)

// String returns the wire name of the tier.
func (r RiskTier) String() string {
	switch r {
	case RiskUnset:
		return "UNSET"
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("RiskTier(%d)", int(r))
	}
}

// Declared reports whether r is one of LOW, MEDIUM or HIGH.
func (r RiskTier) Declared() bool { return r >= RiskLow && r <= RiskHigh }

// Exceeds reports whether a step of tier r may not run under ceiling.
func (r RiskTier) Exceeds(ceiling RiskTier) bool { return !r.Declared() || r > ceiling }

// ParseRiskTier parses LOW/MEDIUM/HIGH case-insensitively.
func ParseRiskTier(s string) (RiskTier, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return RiskLow, nil
	case "MEDIUM":
		return RiskMedium, nil
	case "HIGH":
		return RiskHigh, nil
	default:
		return RiskHigh, fmt.Errorf("%w: %q", ErrInvalidRiskTier, s)
	}
}

// MarshalText implements encoding.TextMarshaler. RiskUnset encodes as "" so
// a record with an undeclared step can still be written back unchanged.
func (r RiskTier) MarshalText() ([]byte, error) {
	if r == RiskUnset {
		return []byte{}, nil
	}
	if !r.Declared() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRiskTier, int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty value decodes
// to RiskUnset.
func (r *RiskTier) UnmarshalText(b []byte) error {
	if len(strings.TrimSpace(string(b))) == 0 {
		*r = RiskUnset
		return nil
	}
	parsed, err := ParseRiskTier(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Step is one corrective action inside a plan.
type Step struct {
	ID                   string         `json:"id,omitempty" yaml:"id,omitempty"`
	ActionType           string         `json:"action_type" yaml:"action_type"`
	Description          string         `json:"description,omitempty" yaml:"description,omitempty"`
	Params               map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Confidence           float64        `json:"confidence" yaml:"confidence"`
	Risk                 RiskTier       `json:"risk" yaml:"risk"`
	Rationale            string         `json:"rationale,omitempty" yaml:"rationale,omitempty"`
	RequiresVerification bool           `json:"requires_verification,omitempty" yaml:"requires_verification,omitempty"`
	OnSuccess            string         `json:"on_success,omitempty" yaml:"on_success,omitempty"`
	OnFailure            string         `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`
}

// RemediationPlan is an ordered, possibly branching list of steps.
type RemediationPlan struct {
	Summary       string  `json:"summary,omitempty" yaml:"summary,omitempty"`
	Confidence    float64 `json:"confidence" yaml:"confidence"`
	HumanRequired bool    `json:"human_required,omitempty" yaml:"human_required,omitempty"`
	Steps         []Step  `json:"steps" yaml:"steps"`
}

// Clone returns a deep copy of the plan.
func (p RemediationPlan) Clone() RemediationPlan {
	out := p
	out.Steps = make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		if s.Params != nil {
			params := make(map[string]any, len(s.Params))
			for k, v := range s.Params {
				params[k] = v
			}
			s.Params = params
		}
		out.Steps[i] = s
	}
	return out
}

// StepStatus is the result classification of one visited step.
type StepStatus string

const (
	StepExecuted StepStatus = "EXECUTED"
	StepSkipped  StepStatus = "SKIPPED"
	StepFailed   StepStatus = "FAILED"
	StepNotFound StepStatus = "NOT_FOUND"
)

// StepOutcome records what happened to one visited step.
type StepOutcome struct {
	Index           int        `json:"index"`
	StepID          string     `json:"step_id,omitempty"`
	ActionType      string     `json:"action_type"`
	Status          StepStatus `json:"status"`
	Message         string     `json:"message,omitempty"`
	Err             error      `json:"-"`
	OutcomeOverride *Outcome   `json:"outcome_override,omitempty"`
}

// Executed builds an EXECUTED outcome.
func Executed(msg string) StepOutcome { return StepOutcome{Status: StepExecuted, Message: msg} }

// Skipped builds a SKIPPED outcome.
func Skipped(msg string) StepOutcome { return StepOutcome{Status: StepSkipped, Message: msg} }

// Failed builds a FAILED outcome carrying err.
func Failed(err error) StepOutcome {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return StepOutcome{Status: StepFailed, Message: msg, Err: err}
}

// =============================================================================
// CASCADE ROUND
// =============================================================================

// Source tags where a round's insight came from.
type Source string

const (
	SourceLocalChecker    Source = "LOCAL_CHECKER"
	SourceKnowledgeBase   Source = "KNOWLEDGE_BASE"
	SourceRemoteAnalysis  Source = "REMOTE_ANALYSIS"
	SourceUnknownRecorded Source = "UNKNOWN_RECORDED"
	SourceFallbackError   Source = "FALLBACK_ERROR"
)

// CascadeRound is one diagnose -> remediate -> verify cycle. Rounds are value
// types; once appended to a history they are never modified.
type CascadeRound struct {
	RunID            string        `json:"run_id"`
	Depth            int           `json:"depth"`
	Source           Source        `json:"source"`
	Matcher          string        `json:"matcher,omitempty"`
	Insight          Insight       `json:"insight"`
	Outcomes         []StepOutcome `json:"outcomes,omitempty"`
	Halted           bool          `json:"halted,omitempty"`
	LoopGuardTripped bool          `json:"loop_guard_tripped,omitempty"`
	Resolved         bool          `json:"resolved"`
	GatewayLatency   time.Duration `json:"gateway_latency,omitempty"`
	PageChange       string        `json:"page_change,omitempty"`
	StopReason       string        `json:"stop_reason,omitempty"`
}

// EffectiveOutcome is the insight outcome unless a step recorded an override;
// the last override wins.
func (r CascadeRound) EffectiveOutcome() Outcome {
	out := r.Insight.Outcome
	for _, o := range r.Outcomes {
		if o.OutcomeOverride != nil {
			out = *o.OutcomeOverride
		}
	}
	return out
}
