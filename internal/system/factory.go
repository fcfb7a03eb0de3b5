// Package system wires the configured components into the two context
// objects the CLI works with: a Suite shared by every test in a run, and an
// Execution per test execution.
package system

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"testnerd/internal/actions"
	"testnerd/internal/browser"
	"testnerd/internal/cascade"
	"testnerd/internal/checker"
	"testnerd/internal/config"
	"testnerd/internal/executor"
	"testnerd/internal/gateway"
	"testnerd/internal/knowledge"
	"testnerd/internal/logging"
	"testnerd/internal/types"
	"testnerd/internal/usage"

	"github.com/google/uuid"
)

// ErrNoBrowser is returned by LiveState when neither a debugger URL nor
// launching is configured.
var ErrNoBrowser = errors.New("no browser configured (set browser.debugger_url or browser.launch)")

// Suite holds what every execution in a test suite shares.
type Suite struct {
	Config    *config.Config
	Knowledge *knowledge.Store
	Unknowns  *knowledge.SQLiteUnknownSink
	Gateway   gateway.Gateway // nil when offline or not configured
	Usage     *usage.Tracker  // nil unless Gateway is set
	Handlers  *actions.Registry
	Chain     *checker.Chain
	Policy    knowledge.MinSignalPolicy

	// BrowserManager is started lazily by LiveState.
	BrowserManager *browser.SessionManager

	watcher *knowledge.Watcher
}

// BootSuite initializes the shared stack for one suite run.
// This keeps wiring identical across the diagnose and replay commands.
func BootSuite(ctx context.Context, cfg *config.Config) (*Suite, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timer := logging.StartTimer(logging.CategoryBoot, "BootSuite")
	defer timer.Stop()

	policy, err := knowledge.ParseMinSignalPolicy(cfg.Knowledge.MinSignalPolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	handlers, err := actions.Default()
	if err != nil {
		return nil, fmt.Errorf("failed to register action handlers: %w", err)
	}

	s := &Suite{
		Config:    cfg,
		Knowledge: knowledge.NewStore(cfg.Knowledge.Path),
		Handlers:  handlers,
		Chain:     checker.Default(),
		Policy:    policy,
	}

	// 1. Unknown-condition sink (only offline runs write to it, but the
	// unknowns commands read it regardless)
	if cfg.Unknowns.DatabasePath != "" {
		sink, err := knowledge.OpenUnknownSink(cfg.Unknowns.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open unknown sink: %w", err)
		}
		s.Unknowns = sink
	}

	// 2. Remote analysis
	if cfg.UsesGateway() {
		if cfg.Gateway.UsagePath != "" {
			s.Usage = usage.NewTracker(cfg.Gateway.UsagePath)
		}
		gw, err := gateway.NewGenAIGateway(ctx, gateway.GenAIConfig{
			APIKey: cfg.Gateway.APIKey,
			Model:  cfg.Gateway.Model,
			Usage:  s.Usage,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create gateway: %w", err)
		}
		s.Gateway = gw
	} else {
		logging.Boot("remote analysis disabled (offline=%v)", cfg.Cascade.Offline)
	}

	// 3. Hot reload
	if cfg.Knowledge.Watch {
		w, err := s.Knowledge.Watch(ctx)
		if err != nil {
			// Non-fatal: explicit reloads still work
			logging.BootWarn("knowledge watch unavailable: %v", err)
		} else {
			s.watcher = w
		}
	}

	// 4. Browser (started lazily)
	s.BrowserManager = browser.NewSessionManager(browserConfig(cfg))

	logging.Boot("suite ready: %d patterns, %d handlers, %d checkers",
		s.Knowledge.Len(), s.Handlers.Count(), s.Chain.Len())
	return s, nil
}

func browserConfig(cfg *config.Config) browser.Config {
	bc := browser.DefaultConfig()
	bc.DebuggerURL = cfg.Browser.DebuggerURL
	bc.Headless = cfg.Browser.Headless
	bc.NavigationTimeoutMs = int(cfg.GetNavigateTimeout().Milliseconds())
	bc.SettleDelayMs = int(cfg.GetSettleDelay().Milliseconds())
	if cfg.Browser.MaxConsoleLogs > 0 {
		bc.MaxConsoleLogs = cfg.Browser.MaxConsoleLogs
	}
	bc.SessionStore = filepath.Join(filepath.Dir(cfg.Knowledge.Path), "browser", "sessions.json")
	return bc
}

// LiveState connects the browser and returns the page under test. An empty
// url attaches to the first open page; otherwise a new page is opened at url.
func (s *Suite) LiveState(ctx context.Context, url string) (*browser.RodState, error) {
	if s.Config.Browser.DebuggerURL == "" && !s.Config.Browser.Launch {
		return nil, ErrNoBrowser
	}
	if err := s.BrowserManager.Start(ctx); err != nil {
		return nil, err
	}

	var (
		sess *browser.Session
		err  error
	)
	if url == "" {
		sess, err = s.BrowserManager.AttachFirst(ctx)
	} else {
		sess, err = s.BrowserManager.CreateSession(ctx, url)
	}
	if err != nil {
		return nil, err
	}
	return s.BrowserManager.State(sess.ID)
}

// =============================================================================
// EXECUTION
// =============================================================================

// Execution is the per-test-execution context: its own executor and
// orchestrator over the suite's shared components. Executions are not safe
// for concurrent use; run parallel tests on separate Executions.
type Execution struct {
	ID           string
	Suite        *Suite
	Orchestrator *cascade.Orchestrator
}

// NewExecution creates an execution context configured from the suite config.
func (s *Suite) NewExecution() *Execution {
	cfg := s.Config
	exec := executor.New(s.Handlers,
		executor.WithRiskCeiling(cfg.GetRiskCeiling()),
		executor.WithDryRun(cfg.Cascade.DryRun),
	)

	cc := cascade.Config{
		Chain:          s.Chain,
		Knowledge:      s.Knowledge,
		Gateway:        s.Gateway,
		Executor:       exec,
		Offline:        cfg.Cascade.Offline,
		MaxDepth:       cfg.GetMaxDepth(),
		GatewayTimeout: cfg.GetGatewayTimeout(),
	}
	// A typed nil would defeat the orchestrator's nil check.
	if s.Unknowns != nil {
		cc.Unknowns = s.Unknowns
	}

	return &Execution{
		ID:           uuid.NewString(),
		Suite:        s,
		Orchestrator: cascade.New(cc),
	}
}

// Diagnose runs one cascade for ev. live may be nil for snapshot replay.
func (e *Execution) Diagnose(ctx context.Context, live browser.LiveState, ev *types.ConditionEvent) cascade.Result {
	reqLog := logging.WithRequestID(logging.CategoryCascade, e.ID)
	res := e.Orchestrator.Run(ctx, live, ev)
	final := res.Final()
	reqLog.Info("execution finished: %d rounds, source=%s outcome=%s stop=%q",
		len(res.Rounds), final.Source, final.EffectiveOutcome(), final.StopReason)
	return res
}
