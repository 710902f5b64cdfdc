package agent

import (
	"context"
	"fmt"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/config"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/envelope"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/extract"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/human"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/llm"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/observability"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/recorder"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/tools"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Primary loop tool names beyond the browser set.
const (
	ScanProfileDeep     = "scan_profile_deep"
	TaskComplete        = "task_complete"
	AskUser             = "ask_user"
	RequestConfirmation = "request_confirmation"
)

// PrimaryLoopName labels the search loop in logs, traces and metrics.
const PrimaryLoopName = "primary"

// TaskResult is produced exactly once per task.
type TaskResult struct {
	TaskID     string              `json:"taskId"`
	Success    bool                `json:"success"`
	Candidates []extract.Candidate `json:"candidates"`
	Summary    string              `json:"summary"`
	Iterations int                 `json:"iterations"`
	TracePath  string              `json:"tracePath,omitempty"`
}

type ScanProfileArgs struct {
	ProfileURL string `json:"profileUrl"`
	Username   string `json:"username"`
}

type TaskCompleteArgs struct {
	Candidates []extract.Candidate `json:"candidates"`
	Summary    string              `json:"summary"`
}

type AskUserArgs struct {
	Question string `json:"question"`
}

type ConfirmArgs struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
	Impact string `json:"impact"`
}

// Deps are the collaborators of an Agent.
type Deps struct {
	Model    llm.Proposer
	Browser  tools.Browser
	Human    human.Channel
	Config   config.AgentConfig
	Logger   *zap.Logger
	Metrics  Metrics
	Recorder *recorder.Recorder
}

// Agent runs candidate search tasks. Tasks must not run concurrently; they
// share one browser.
type Agent struct {
	deps    Deps
	scanner *Scanner
	logger  *zap.Logger
	metrics Metrics
}

func New(deps Deps) *Agent {
	logger := observability.OrNop(deps.Logger).Named("agent")
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	timing := loopTiming{reflection: deps.Config.Reflection(), errorPause: deps.Config.ErrorPause()}
	return &Agent{
		deps:    deps,
		logger:  logger,
		metrics: metrics,
		scanner: &Scanner{
			model:         deps.Model,
			browser:       deps.Browser,
			maxIterations: deps.Config.SubAgentMaxIterations,
			timing:        timing,
			logger:        logger,
			metrics:       metrics,
		},
	}
}

// Run executes one task until task_complete or the iteration ceiling.
// Only context cancellation and setup failures are returned as errors.
func (a *Agent) Run(ctx context.Context, task string) (TaskResult, error) {
	result := TaskResult{TaskID: uuid.NewString()}
	logger := a.logger.With(zap.String("task_id", result.TaskID))

	var tracer Tracer
	if a.deps.Recorder != nil {
		trace, err := a.deps.Recorder.Begin(result.TaskID, task)
		if err != nil {
			logger.Warn("trace disabled for this task", zap.Error(err))
		} else {
			defer trace.Close()
			tracer = trace
			result.TracePath = trace.Path()
		}
	}

	tbl, err := a.table(tracer)
	if err != nil {
		return result, err
	}
	loop, err := NewLoop(LoopSpec{
		Name:            PrimaryLoopName,
		Instructions:    primaryInstructions,
		Table:           tbl,
		MaxIterations:   a.deps.Config.MaxIterations,
		TerminalTool:    TaskComplete,
		ReflectionDelay: a.deps.Config.Reflection(),
		ErrorDelay:      a.deps.Config.ErrorPause(),
	}, a.deps.Model, WithLoopLogger(logger), WithLoopMetrics(a.metrics), WithTracer(tracer))
	if err != nil {
		return result, err
	}

	logger.Info("task started", zap.String("task", task), zap.Int("max_iterations", a.deps.Config.MaxIterations))
	out, err := loop.Run(ctx, task)
	result.Iterations = out.Iterations
	if err != nil {
		return result, err
	}

	if out.Completed {
		args, _ := out.Payload.(TaskCompleteArgs)
		result.Success = true
		result.Candidates = args.Candidates
		result.Summary = args.Summary
	} else {
		result.Summary = fmt.Sprintf("Stopped after %d iterations without task_complete (%v).", out.Iterations, out.Reason)
	}
	if result.Candidates == nil {
		result.Candidates = []extract.Candidate{}
	}
	logger.Info("task finished",
		zap.Bool("success", result.Success),
		zap.Int("candidates", len(result.Candidates)),
		zap.Int("iterations", result.Iterations))
	return result, nil
}

func (a *Agent) table(tracer Tracer) (*tools.Table, error) {
	tbl := tools.NewTable(a.logger)
	tbl.SetObserver(a.metrics)

	if err := a.deps.Browser.Register(tbl,
		tools.Navigate, tools.Click, tools.TypeText, tools.Scroll,
		tools.GetPageContext, tools.ExtractCandidates); err != nil {
		return nil, err
	}

	tools.Register(tbl, tools.Spec{
		Name:        ScanProfileDeep,
		Description: "Open a profile and run a focused sub-agent that collects social links and a TL;DR. Blocks until the scan ends; the browser stays on the profile.",
		Params: []tools.Param{
			{Name: "profileUrl", Type: tools.String, Required: true},
			{Name: "username", Type: tools.String, Required: true},
		},
	}, func(ctx context.Context, args ScanProfileArgs) envelope.Result {
		res, err := a.scanner.Scan(ctx, tracer, args.ProfileURL, args.Username)
		if err != nil {
			return envelope.Fail("Profile scan of %s aborted: %v", args.ProfileURL, err)
		}
		if res.Fallback {
			return envelope.Result{Success: false, Data: res, Error: fmt.Sprintf(
				"Profile scan of %s stopped after %d iterations without complete_scan; data holds a best-effort direct extraction",
				res.SourceURL, res.Iterations)}
		}
		if !res.Success {
			return envelope.Result{Success: false, Data: res, Error: res.Summary}
		}
		return envelope.OK(res)
	})

	tools.Register(tbl, tools.Spec{
		Name:        TaskComplete,
		Description: "Finish the task with every candidate found and a summary. Call exactly once.",
		Params: []tools.Param{
			{Name: "candidates", Type: tools.Array, Required: true,
				Items:       []byte(`{"type":"object","properties":{"name":{"type":"string"},"title":{"type":"string"},"location":{"type":"string"},"profileUrl":{"type":"string"},"username":{"type":"string"},"summary":{"type":"string"},"socialLinks":{"type":"object"}},"required":["name"]}`),
				Description: "Candidate records"},
			{Name: "summary", Type: tools.String, Required: true},
		},
	}, func(_ context.Context, args TaskCompleteArgs) envelope.Result {
		return envelope.OK(args)
	})

	tools.Register(tbl, tools.Spec{
		Name:        AskUser,
		Description: "Ask the operator a question and wait for the answer.",
		Params:      []tools.Param{{Name: "question", Type: tools.String, Required: true}},
	}, func(ctx context.Context, args AskUserArgs) envelope.Result {
		if a.deps.Human == nil {
			return envelope.Fail("No operator is attached; decide without asking.")
		}
		answer, err := a.deps.Human.Ask(ctx, args.Question)
		if err != nil {
			return envelope.Fail("Operator did not answer: %v", err)
		}
		return envelope.OK(map[string]string{"answer": answer})
	})

	tools.Register(tbl, tools.Spec{
		Name:        RequestConfirmation,
		Description: "Ask the operator to approve an irreversible action (messaging, applying, deleting, paying). Perform the action only if confirmed is true.",
		Params: []tools.Param{
			{Name: "action", Type: tools.String, Required: true},
			{Name: "reason", Type: tools.String, Required: true},
			{Name: "impact", Type: tools.String, Required: true},
		},
	}, func(ctx context.Context, args ConfirmArgs) envelope.Result {
		return a.confirm(ctx, args)
	})

	return tbl, nil
}

// confirm is never auto-approved: without an operator or an answer the
// action counts as rejected.
func (a *Agent) confirm(ctx context.Context, args ConfirmArgs) envelope.Result {
	data := map[string]interface{}{"action": args.Action, "confirmed": false}
	if a.deps.Human == nil {
		data["note"] = "No operator is attached. Do not perform this action."
		return envelope.OK(data)
	}

	ok, err := a.deps.Human.Confirm(ctx, args.Action, args.Reason, args.Impact)
	if err != nil {
		a.logger.Warn("confirmation not obtained", zap.String("action", args.Action), zap.Error(err))
		data["note"] = fmt.Sprintf("No answer from the operator (%v). Do not perform this action.", err)
		return envelope.OK(data)
	}
	data["confirmed"] = ok
	if ok {
		data["note"] = "Approved. You may perform the action now."
	} else {
		data["note"] = "Rejected by the operator. Do not perform this action; continue with something else."
	}
	a.logger.Info("confirmation answered", zap.String("action", args.Action), zap.Bool("confirmed", ok))
	return envelope.OK(data)
}
