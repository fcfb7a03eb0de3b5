package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"testnerd/internal/logging"
	"testnerd/internal/types"
	"testnerd/internal/usage"
)

// =============================================================================
// GOOGLE GENAI GATEWAY
// =============================================================================

// DefaultModel is used when GenAIConfig.Model is empty.
const DefaultModel = "gemini-2.5-flash"

// GenAIConfig configures a GenAIGateway.
type GenAIConfig struct {
	APIKey string
	Model  string

	// BaseURL overrides the service endpoint (proxies, tests).
	BaseURL    string
	HTTPClient *http.Client

	// Usage records token counts per call when set.
	Usage *usage.Tracker
}

// GenAIGateway asks a Gemini model for a diagnosis in JSON response mode.
type GenAIGateway struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
	usage  *usage.Tracker
}

var _ Gateway = (*GenAIGateway)(nil)

// NewGenAIGateway creates a gateway backed by the Gemini API.
func NewGenAIGateway(ctx context.Context, cfg GenAIConfig) (*GenAIGateway, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIGateway{
		client: client,
		model:  model,
		usage:  cfg.Usage,
		config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemInstruction(), genai.RoleUser),
			ResponseMIMEType:  "application/json",
			Temperature:       genai.Ptr[float32](0.1),
		},
	}, nil
}

// Model returns the model name requests are sent to.
func (g *GenAIGateway) Model() string { return g.model }

// Analyze implements Gateway.
func (g *GenAIGateway) Analyze(ctx context.Context, content string) (insight *types.Insight, err error) {
	start := time.Now()
	contents := []*genai.Content{genai.NewContentFromText(content, genai.RoleUser)}

	call := usage.Call{Model: g.model, Provider: "gemini"}
	defer func() {
		call.Failed = err != nil
		if insight != nil {
			call.Category = string(insight.Category)
		}
		g.usage.Track(call)
	}()

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, g.config)
	if err != nil {
		logging.GatewayError("GenAI analyze failed after %v: %v", time.Since(start), err)
		return nil, fmt.Errorf("GenAI analyze failed: %w", err)
	}
	if resp == nil {
		return nil, ErrEmptyResponse
	}
	if md := resp.UsageMetadata; md != nil {
		call.InputTokens = int(md.PromptTokenCount)
		call.OutputTokens = int(md.CandidatesTokenCount)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}

	insight, err = ParseInsight(text)
	if err != nil {
		logging.GatewayError("GenAI response rejected: %v", err)
		return nil, err
	}
	logging.Gateway("GenAI diagnosis %s (%.2f) in %v", insight.Category, insight.Confidence, time.Since(start))
	return insight, nil
}

func systemInstruction() string {
	var cats, outs []string
	for _, c := range types.Categories {
		cats = append(cats, string(c))
	}
	for _, o := range types.Outcomes {
		outs = append(outs, string(o))
	}
	return fmt.Sprintf(analysisInstruction, strings.Join(cats, ", "), strings.Join(outs, ", "))
}

const analysisInstruction = `You diagnose failures in automated browser tests.
The user message describes one failure in sections. Reply with exactly one JSON object and nothing else:

{
  "category": one of [%s],
  "rootCause": string,
  "confidence": number between 0 and 1,
  "evidenceHighlights": [string],
  "isTransient": boolean,
  "suggestedTestOutcome": one of [%s],
  "continueContext": {"reason": string, "observedState": string, "resumeHint": string, "caveats": [string]} (optional),
  "actionPlan": {
    "summary": string,
    "confidence": number between 0 and 1,
    "requiresHuman": boolean,
    "actions": [{
      "id": string (optional),
      "type": action name such as DISMISS_OVERLAY, WAIT, REFRESH_PAGE, NAVIGATE_TO, CLICK,
      "description": string,
      "confidence": number between 0 and 1,
      "risk": "LOW" | "MEDIUM" | "HIGH",
      "rationale": string,
      "requiresVerification": boolean,
      "parameters": object,
      "onSuccess": id of the next action when this one succeeds (optional),
      "onFailure": id of the next action when this one fails (optional)
    }]
  } (optional, omit when suggestedTestOutcome is CONTINUE)
}

Do not add fields. Use RETRY only when the actions are expected to let the step pass on retry.`
