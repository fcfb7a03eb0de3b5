package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"testnerd/internal/types"
)

// =============================================================================
// WIRE SCHEMA
// =============================================================================

// Pointer fields mark required values so absence can be told from zero.
type responseDoc struct {
	Category             *string        `json:"category"`
	RootCause            *string        `json:"rootCause"`
	Confidence           *float64       `json:"confidence"`
	EvidenceHighlights   []string       `json:"evidenceHighlights"`
	IsTransient          bool           `json:"isTransient"`
	SuggestedTestOutcome *string        `json:"suggestedTestOutcome"`
	ContinueContext      *continueDoc   `json:"continueContext"`
	ActionPlan           *actionPlanDoc `json:"actionPlan"`
}

type continueDoc struct {
	Reason        string   `json:"reason"`
	ObservedState string   `json:"observedState"`
	ResumeHint    string   `json:"resumeHint"`
	Caveats       []string `json:"caveats"`
}

type actionPlanDoc struct {
	Summary       string      `json:"summary"`
	Confidence    *float64    `json:"confidence"`
	RequiresHuman bool        `json:"requiresHuman"`
	Actions       []actionDoc `json:"actions"`
}

type actionDoc struct {
	ID                   string         `json:"id"`
	Type                 string         `json:"type"`
	Description          string         `json:"description"`
	Confidence           *float64       `json:"confidence"`
	Risk                 string         `json:"risk"`
	Rationale            string         `json:"rationale"`
	RequiresVerification bool           `json:"requiresVerification"`
	Parameters           map[string]any `json:"parameters"`
	OnSuccess            string         `json:"onSuccess"`
	OnFailure            string         `json:"onFailure"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseInsight decodes and validates one analysis response. A surrounding
// markdown code fence is tolerated; anything else outside the single JSON
// object, any unknown field, unknown enum value, or confidence outside [0,1]
// is rejected.
func ParseInsight(raw string) (*types.Insight, error) {
	body := strings.TrimSpace(stripCodeFence(raw))
	if body == "" {
		return nil, ErrEmptyResponse
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	var doc responseDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON document", ErrMalformedResponse)
	}

	return doc.toInsight()
}

func (d *responseDoc) toInsight() (*types.Insight, error) {
	if d.Category == nil {
		return nil, missing("category")
	}
	category := types.Category(enumValue(*d.Category))
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrSchemaViolation, *d.Category)
	}

	if d.RootCause == nil || strings.TrimSpace(*d.RootCause) == "" {
		return nil, missing("rootCause")
	}

	conf, err := confidence("confidence", d.Confidence, true)
	if err != nil {
		return nil, err
	}

	if d.SuggestedTestOutcome == nil {
		return nil, missing("suggestedTestOutcome")
	}
	outcome := types.Outcome(enumValue(*d.SuggestedTestOutcome))
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: unknown suggestedTestOutcome %q", ErrSchemaViolation, *d.SuggestedTestOutcome)
	}

	in := &types.Insight{
		Category:   category,
		RootCause:  strings.TrimSpace(*d.RootCause),
		Confidence: conf,
		Transient:  d.IsTransient,
		Outcome:    outcome,
		Evidence:   nonBlank(d.EvidenceHighlights),
	}

	if cc := d.ContinueContext; cc != nil {
		in.ContinueContext = &types.ContinueContext{
			Reason:        cc.Reason,
			ObservedState: cc.ObservedState,
			ResumeHint:    cc.ResumeHint,
			Caveats:       nonBlank(cc.Caveats),
		}
	}

	if d.ActionPlan != nil && len(d.ActionPlan.Actions) > 0 {
		plan, err := d.ActionPlan.toPlan()
		if err != nil {
			return nil, err
		}
		in.Plan = plan
	}

	// CONTINUE never carries a plan.
	in.Normalize()
	return in, nil
}

func (p *actionPlanDoc) toPlan() (*types.RemediationPlan, error) {
	planConf, err := confidence("actionPlan.confidence", p.Confidence, false)
	if err != nil {
		return nil, err
	}
	plan := &types.RemediationPlan{
		Summary:       p.Summary,
		Confidence:    planConf,
		HumanRequired: p.RequiresHuman,
		Steps:         make([]types.Step, 0, len(p.Actions)),
	}
	for i, a := range p.Actions {
		field := fmt.Sprintf("actionPlan.actions[%d]", i)
		if strings.TrimSpace(a.Type) == "" {
			return nil, missing(field + ".type")
		}
		if strings.TrimSpace(a.Risk) == "" {
			return nil, missing(field + ".risk")
		}
		risk, err := types.ParseRiskTier(a.Risk)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.risk: %v", ErrSchemaViolation, field, err)
		}
		stepConf, err := confidence(field+".confidence", a.Confidence, false)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, types.Step{
			ID:                   strings.TrimSpace(a.ID),
			ActionType:           strings.TrimSpace(a.Type),
			Description:          a.Description,
			Params:               a.Parameters,
			Confidence:           stepConf,
			Risk:                 risk,
			Rationale:            a.Rationale,
			RequiresVerification: a.RequiresVerification,
			OnSuccess:            strings.TrimSpace(a.OnSuccess),
			OnFailure:            strings.TrimSpace(a.OnFailure),
		})
	}
	// Plans without an explicit confidence inherit their weakest step.
	if p.Confidence == nil {
		plan.Confidence = 1
		for _, s := range plan.Steps {
			plan.Confidence = min(plan.Confidence, s.Confidence)
		}
	}
	return plan, nil
}

// confidence validates an optional or required [0,1] value.
// Missing optional values are 0.
func confidence(field string, v *float64, required bool) (float64, error) {
	if v == nil {
		if required {
			return 0, missing(field)
		}
		return 0, nil
	}
	if *v != *v || *v < 0 || *v > 1 {
		return 0, fmt.Errorf("%w: %s %v outside [0,1]", ErrSchemaViolation, field, *v)
	}
	return *v, nil
}

func missing(field string) error {
	return fmt.Errorf("%w: missing %s", ErrSchemaViolation, field)
}

// enumValue accepts "fail with context" or "fail-with-context" for FAIL_WITH_CONTEXT.
func enumValue(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

func nonBlank(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// stripCodeFence removes a ```json ... ``` wrapper.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	firstNewline := strings.Index(trimmed, "\n")
	lastFence := strings.LastIndex(trimmed, "```")
	if firstNewline == -1 || lastFence <= firstNewline {
		return s
	}
	return strings.TrimSpace(trimmed[firstNewline+1 : lastFence])
}
