package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/orchd/internal/artifact"
	"github.com/fyrsmithlabs/orchd/internal/budget"
	"github.com/fyrsmithlabs/orchd/internal/config"
	"github.com/fyrsmithlabs/orchd/internal/conflict"
	"github.com/fyrsmithlabs/orchd/internal/gate"
	"github.com/fyrsmithlabs/orchd/internal/handoff"
	"github.com/fyrsmithlabs/orchd/internal/logging"
	"github.com/fyrsmithlabs/orchd/internal/plan"
	"github.com/fyrsmithlabs/orchd/internal/router"
	"github.com/fyrsmithlabs/orchd/internal/task"
	"github.com/fyrsmithlabs/orchd/internal/worker"
)

const instrumentationName = "github.com/fyrsmithlabs/orchd/internal/orchestrator"

// stepContractRef names the default output contract every step's gate
// enforces when the worker does not declare a more specific one.
const stepContractRef = "orchd/worker-output/v1"

// Engine wires the orchestration services together and runs workflows.
type Engine struct {
	cfg *config.Config

	classifier *task.Classifier
	tasks      *task.Store
	agents     *router.AgentRouter
	fallback   *router.FallbackRouter
	plans      *plan.Store
	gates      *gate.Validator
	registry   *artifact.Registry
	conflicts  *conflict.Resolver
	handoffs   *handoff.Manager
	pool       *worker.Pool

	schema *gate.Schema
	rubric *gate.Rubric

	logger *zap.Logger
	tracer trace.Tracer
}

// NewEngine builds every service from configuration. All durable state
// roots under cfg.Store.BaseDir.
func NewEngine(cfg *config.Config, pool *worker.Pool, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if pool == nil {
		return nil, errors.New("worker pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tables, err := router.LoadTables()
	if err != nil {
		return nil, fmt.Errorf("load routing tables: %w", err)
	}

	tasks, err := task.NewStore(cfg.Store.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("task store: %w", err)
	}
	agents, err := router.NewAgentRouter(tables, logger)
	if err != nil {
		return nil, fmt.Errorf("agent router: %w", err)
	}
	fb, err := router.NewFallbackRouter(tables, logger)
	if err != nil {
		return nil, fmt.Errorf("fallback router: %w", err)
	}
	plans, err := plan.NewStore(cfg.Store.BaseDir, logger)
	if err != nil {
		return nil, fmt.Errorf("plan store: %w", err)
	}
	gates, err := gate.NewValidator(cfg.Store.BaseDir, cfg.Gate, gate.HeuristicScorer{}, logger)
	if err != nil {
		return nil, fmt.Errorf("gate validator: %w", err)
	}
	registry, err := artifact.NewRegistry(filepath.Join(cfg.Store.BaseDir, "artifacts"), logger)
	if err != nil {
		return nil, fmt.Errorf("artifact registry: %w", err)
	}
	conflicts, err := conflict.NewResolver(
		cfg.Store.BaseDir,
		tables,
		newPoolArbiter(pool, cfg.Worker.InvokeTimeout),
		newPoolConsensus(pool),
		cfg.Conflict.ConsensusTimeout,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("conflict resolver: %w", err)
	}
	handoffs, err := handoff.NewManager(cfg.Store.BaseDir, plans, registry, logger)
	if err != nil {
		return nil, fmt.Errorf("handoff manager: %w", err)
	}

	return &Engine{
		cfg:        cfg,
		classifier: task.NewClassifier(logger),
		tasks:      tasks,
		agents:     agents,
		fallback:   fb,
		plans:      plans,
		gates:      gates,
		registry:   registry,
		conflicts:  conflicts,
		handoffs:   handoffs,
		pool:       pool,
		schema: &gate.Schema{
			Ref: stepContractRef,
			Fields: []gate.FieldSpec{
				{Name: "summary", Kind: gate.KindString, Required: true},
			},
		},
		rubric: gate.DefaultRubric(),
		logger: logger.Named("orchestrator"),
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// Plans exposes the plan store for CLI and API consumers.
func (e *Engine) Plans() *plan.Store { return e.plans }

// Agents exposes the agent router.
func (e *Engine) Agents() *router.AgentRouter { return e.agents }

// Conflicts exposes the conflict resolver.
func (e *Engine) Conflicts() *conflict.Resolver { return e.conflicts }

// Registry exposes the artifact registry.
func (e *Engine) Registry() *artifact.Registry { return e.registry }

// Gates exposes the gate validator.
func (e *Engine) Gates() *gate.Validator { return e.gates }

// Handoffs exposes the handoff manager.
func (e *Engine) Handoffs() *handoff.Manager { return e.handoffs }

// Classifier exposes the task classifier.
func (e *Engine) Classifier() *task.Classifier { return e.classifier }

// Close releases resources held by the engine's services.
func (e *Engine) Close() error {
	return e.registry.Close()
}

// Run classifies a request, routes it, materializes a plan, and executes
// it to a terminal outcome.
func (e *Engine) Run(ctx context.Context, request string, fileContext []string) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "orchestrator.Run")
	defer span.End()

	t, err := e.classifier.Classify(request, fileContext)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	if err := e.tasks.Save(t); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}

	chain, err := e.agents.Route(t)
	if err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}

	p, err := e.plans.Create(ctx, t, chain)
	if err != nil {
		var cyc *plan.CyclicDependencyError
		if errors.As(err, &cyc) {
			return nil, fmt.Errorf("plan rejected: %w", err)
		}
		return nil, fmt.Errorf("create plan: %w", err)
	}

	workflowID := uuid.NewString()
	ctx = logging.WithWorkflowID(ctx, workflowID)
	span.SetAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("plan.id", p.ID),
		attribute.String("task.type", string(t.Type)),
		attribute.String("task.complexity", string(t.Complexity)),
	)

	monitor, err := budget.NewMonitor(e.cfg.Budget, e.logger)
	if err != nil {
		return nil, fmt.Errorf("budget monitor: %w", err)
	}
	monitor.Track(ctx, budget.Usage{Tokens: estimateTokens(request), Source: "request"})

	e.logger.Info("workflow started",
		append(logging.ContextFields(ctx),
			zap.String("plan_id", p.ID),
			zap.String("task_id", t.ID),
			zap.String("type", string(t.Type)),
			zap.String("complexity", string(t.Complexity)),
		)...)

	return e.loop(ctx, workflowID, t, p.ID, monitor)
}

// ResumeRun reconstructs a workflow from a handoff package and continues
// execution. Steps left in_progress by the exhausted instance are failed
// back to pending before scheduling resumes.
func (e *Engine) ResumeRun(ctx context.Context, packageID string) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "orchestrator.ResumeRun")
	defer span.End()

	restored, err := e.handoffs.Resume(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("resume handoff %s: %w", packageID, err)
	}

	t, err := e.tasks.Load(restored.Plan.TaskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", restored.Plan.TaskID, err)
	}

	workflowID := restored.Package.WorkflowID
	ctx = logging.WithWorkflowID(ctx, workflowID)
	span.SetAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("handoff.id", packageID),
	)

	// A fresh instance carries a fresh budget; what the previous
	// instances consumed is restored for lifetime accounting only.
	monitor, err := budget.NewMonitor(e.cfg.Budget, e.logger)
	if err != nil {
		return nil, fmt.Errorf("budget monitor: %w", err)
	}
	monitor.Restore(restored.Package.TokensConsumed)

	if err := e.recoverInFlight(ctx, restored.Plan); err != nil {
		return nil, fmt.Errorf("recover in-flight steps: %w", err)
	}

	e.logger.Info("workflow resumed",
		append(logging.ContextFields(ctx),
			zap.String("handoff_id", packageID),
			zap.String("plan_id", restored.Plan.ID),
			zap.Int("discrepancies", len(restored.Discrepancies)),
			zap.Int64("prior_tokens", restored.Package.TokensConsumed),
		)...)

	return e.loop(ctx, workflowID, t, restored.Plan.ID, monitor)
}

// ContinueRun picks up an existing plan in a fresh workflow instance,
// typically after an operator unblocked a step or manually resolved an
// escalated conflict.
func (e *Engine) ContinueRun(ctx context.Context, planID string) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "orchestrator.ContinueRun")
	defer span.End()

	p, err := e.plans.Load(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", planID, err)
	}
	t, err := e.tasks.Load(p.TaskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", p.TaskID, err)
	}

	workflowID := uuid.NewString()
	ctx = logging.WithWorkflowID(ctx, workflowID)
	span.SetAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("plan.id", planID),
	)

	monitor, err := budget.NewMonitor(e.cfg.Budget, e.logger)
	if err != nil {
		return nil, fmt.Errorf("budget monitor: %w", err)
	}
	if err := e.recoverInFlight(ctx, p); err != nil {
		return nil, fmt.Errorf("recover in-flight steps: %w", err)
	}

	e.logger.Info("workflow continued",
		append(logging.ContextFields(ctx), zap.String("plan_id", planID))...)

	return e.loop(ctx, workflowID, t, planID, monitor)
}

// recoverInFlight moves steps an exhausted instance left in_progress back
// to pending through the legal failed transition.
func (e *Engine) recoverInFlight(ctx context.Context, p *plan.Plan) error {
	for _, s := range p.Steps() {
		if s.Status != plan.StepInProgress {
			continue
		}
		if err := e.plans.UpdateStepStatus(ctx, p.ID, s.ID, plan.StepFailed); err != nil {
			return err
		}
		if err := e.plans.UpdateStepStatus(ctx, p.ID, s.ID, plan.StepPending); err != nil {
			return err
		}
		e.logger.Warn("recovered interrupted step",
			append(logging.ContextFields(ctx), zap.String("step_id", s.ID))...)
	}
	return nil
}

// stepResult carries one dispatched step's invocation and gate outcome
// into the settlement phase.
type stepResult struct {
	step       *plan.Step
	output     *worker.Output
	gateRecord *gate.Record

	// missingInput marks a step whose required inputs could not be read
	// from the registry; retrying cannot help, so the step blocks.
	missingInput bool
}

// loop is the scheduling cycle. Each iteration re-reads the plan from
// durable storage, checks terminal and handoff conditions, then
// dispatches every eligible step in parallel and settles the batch.
func (e *Engine) loop(ctx context.Context, workflowID string, t *task.Task, planID string, monitor *budget.Monitor) (*Result, error) {
	result := &Result{
		WorkflowID: workflowID,
		TaskID:     t.ID,
		PlanID:     planID,
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := e.plans.Load(ctx, planID)
		if err != nil {
			return nil, fmt.Errorf("load plan %s: %w", planID, err)
		}

		if p.Done() {
			if err := e.plans.Archive(ctx, planID); err != nil {
				e.logger.Warn("archive failed", zap.String("plan_id", planID), zap.Error(err))
			}
			result.Outcome = OutcomeCompleted
			result.TokensConsumed = monitor.Consumed()
			e.logger.Info("workflow completed", logging.ContextFields(ctx)...)
			return result, nil
		}

		eligible := p.EligibleSteps()

		if monitor.ShouldHandoff() {
			current := ""
			if len(eligible) > 0 {
				current = eligible[0].ID
			}
			// The package carries lifetime consumption so accounting
			// survives chained handoffs.
			pkg, err := e.handoffs.Prepare(ctx, handoff.StateRefs{
				WorkflowID:      workflowID,
				TaskID:          t.ID,
				PlanID:          planID,
				CurrentStep:     current,
				ReasoningTrail:  filepath.Join(e.cfg.Store.BaseDir, "gates"),
				TokensConsumed:  monitor.Lifetime(),
				BudgetRemaining: monitor.Remaining(),
			})
			if err != nil {
				return nil, fmt.Errorf("prepare handoff: %w", err)
			}
			result.Outcome = OutcomeHandoff
			result.Handoff = pkg
			result.TokensConsumed = monitor.Consumed()
			e.logger.Warn("budget exhausted, handing off",
				append(logging.ContextFields(ctx), zap.String("handoff_id", pkg.ID))...)
			return result, nil
		}

		if len(eligible) == 0 {
			result.TokensConsumed = monitor.Consumed()
			for _, s := range p.Steps() {
				if s.Status == plan.StepBlocked {
					result.BlockedSteps = append(result.BlockedSteps, s.ID)
				}
			}
			if len(result.BlockedSteps) > 0 {
				result.Outcome = OutcomeBlocked
				e.logger.Warn("workflow blocked on operator",
					append(logging.ContextFields(ctx),
						zap.Strings("blocked_steps", result.BlockedSteps))...)
				return result, nil
			}
			result.Outcome = OutcomeFailed
			return result, fmt.Errorf("plan %s stuck with no eligible, blocked, or in-progress steps", planID)
		}

		if max := e.cfg.Worker.MaxParallel; max > 0 && len(eligible) > max {
			eligible = eligible[:max]
		}

		results, err := e.dispatchBatch(ctx, workflowID, t, p, eligible, monitor)
		if err != nil {
			return nil, err
		}
		if err := e.settleBatch(ctx, planID, results, result); err != nil {
			return nil, err
		}
	}
}

// dispatchBatch marks each step in_progress, then invokes all of them
// concurrently. Every invocation produces a worker output, synthesized as
// failed when the worker itself errors, so the gate always records an
// attempt.
func (e *Engine) dispatchBatch(ctx context.Context, workflowID string, t *task.Task, p *plan.Plan, steps []*plan.Step, monitor *budget.Monitor) ([]*stepResult, error) {
	for _, s := range steps {
		if err := e.plans.UpdateStepStatus(ctx, p.ID, s.ID, plan.StepInProgress); err != nil {
			return nil, fmt.Errorf("mark %s in progress: %w", s.ID, err)
		}
	}

	results := make([]*stepResult, len(steps))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range steps {
		g.Go(func() error {
			res, err := e.dispatchStep(gctx, workflowID, t, p, s, monitor)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// dispatchStep invokes a single step's worker and validates its output.
func (e *Engine) dispatchStep(ctx context.Context, workflowID string, t *task.Task, p *plan.Plan, s *plan.Step, monitor *budget.Monitor) (*stepResult, error) {
	ctx = logging.WithStepID(ctx, s.ID)
	ctx, span := e.tracer.Start(ctx, "orchestrator.dispatchStep",
		trace.WithAttributes(
			attribute.String("step.id", s.ID),
			attribute.String("step.role", string(s.EffectiveRole())),
		))
	defer span.End()

	res := &stepResult{step: s}

	inputs, err := e.collectInputs(ctx, p, s)
	if err != nil {
		if artifact.IsMissing(err) {
			e.logger.Error("required input unavailable",
				append(logging.ContextFields(ctx), zap.Error(err))...)
			res.missingInput = true
			res.output = &worker.Output{
				StepID:        s.ID,
				Role:          s.EffectiveRole(),
				Status:        worker.StatusFailed,
				FailureReason: err.Error(),
			}
			return res, nil
		}
		return nil, fmt.Errorf("collect inputs for %s: %w", s.ID, err)
	}

	req := &worker.Request{
		WorkflowID:     workflowID,
		StepID:         s.ID,
		Role:           s.EffectiveRole(),
		TaskContext:    t.Description,
		RequiredInputs: inputs,
		ContractRef:    stepContractRef,
		Fallback:       s.FallbackContext,
	}

	inv, err := e.pool.Get(s.EffectiveRole())
	if err != nil {
		res.output = &worker.Output{
			StepID:        s.ID,
			Role:          s.EffectiveRole(),
			Status:        worker.StatusFailed,
			FailureReason: err.Error(),
		}
	} else {
		ictx, cancel := context.WithTimeout(ctx, e.cfg.Worker.InvokeTimeout)
		out, ierr := inv.Invoke(ictx, req)
		cancel()
		if ierr != nil {
			e.logger.Error("worker invocation failed",
				append(logging.ContextFields(ctx), zap.Error(ierr))...)
			out = &worker.Output{
				StepID:        s.ID,
				Role:          s.EffectiveRole(),
				Status:        worker.StatusFailed,
				FailureReason: ierr.Error(),
			}
		}
		res.output = out
		monitor.Track(ctx, budget.Usage{Tokens: outputTokens(out), Source: s.ID})
	}

	rec, err := e.gates.Validate(ctx, res.output, e.schema, e.rubric)
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", s.ID, err)
	}
	res.gateRecord = rec
	return res, nil
}

// collectInputs resolves the validated artifacts a step's dependencies
// produced. A missing or invalid artifact fails the step without retry.
func (e *Engine) collectInputs(ctx context.Context, p *plan.Plan, s *plan.Step) ([]worker.InputArtifact, error) {
	var inputs []worker.InputArtifact
	for _, depID := range s.Dependencies {
		dep := p.StepByID(depID)
		if dep == nil {
			return nil, fmt.Errorf("step %s depends on unknown step %s", s.ID, depID)
		}
		for _, name := range dep.ProducedArtifacts {
			a, err := e.registry.Get(ctx, name)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, worker.InputArtifact{
				Name:    a.Name,
				Path:    a.Path,
				Version: a.Version,
			})
		}
	}
	return inputs, nil
}

// outputTokens estimates the resource cost of a worker output.
func outputTokens(out *worker.Output) int64 {
	var n int
	for _, a := range out.Artifacts {
		n += len(a.Content)
	}
	for _, v := range out.Fields {
		if sv, ok := v.(string); ok {
			n += len(sv)
		}
	}
	return estimateTokens4(n)
}

func estimateTokens(s string) int64 { return estimateTokens4(len(s)) }

func estimateTokens4(n int) int64 {
	if n < 4 {
		return 1
	}
	return int64(n / 4)
}

// settleBatch applies a dispatched batch's outcomes to the plan: conflict
// detection and resolution across gate-passed outputs, artifact
// registration for winners, and retry, fallback, or blocking for
// failures.
func (e *Engine) settleBatch(ctx context.Context, planID string, results []*stepResult, run *Result) error {
	// Conflicts are detected across the outputs that passed their gates;
	// failed outputs never reach the registry, so they cannot conflict.
	var passed []*worker.Output
	for _, r := range results {
		if r.gateRecord != nil && r.gateRecord.Outcome.Passed() {
			passed = append(passed, r.output)
		}
	}

	// droppedArtifacts maps step ID to the set of artifact names that
	// step lost in conflict resolution and must not register.
	droppedArtifacts := make(map[string]map[string]bool)
	escalatedSteps := make(map[string]bool)

	if len(passed) >= 2 {
		records, err := e.conflicts.Detect(ctx, passed)
		if err != nil {
			return fmt.Errorf("detect conflicts: %w", err)
		}
		for _, rec := range records {
			res, err := e.conflicts.Resolve(ctx, rec)
			if err != nil && !errors.Is(err, conflict.ErrConflictUnresolved) {
				return fmt.Errorf("resolve conflict %s: %w", rec.ID, err)
			}
			run.Conflicts = append(run.Conflicts, rec)
			if res.Escalated {
				for _, o := range rec.Outputs {
					escalatedSteps[o.StepID] = true
				}
				continue
			}
			if rec.Kind == conflict.KindArtifactOverlap {
				winner := producingStep(res.AcceptedArtifact)
				for _, o := range rec.Outputs {
					if o.StepID == winner {
						continue
					}
					if droppedArtifacts[o.StepID] == nil {
						droppedArtifacts[o.StepID] = make(map[string]bool)
					}
					droppedArtifacts[o.StepID][rec.Subject] = true
				}
			}
		}
	}

	for _, r := range results {
		if err := e.settleStep(ctx, planID, r, droppedArtifacts[r.step.ID], escalatedSteps[r.step.ID]); err != nil {
			return err
		}
	}
	return nil
}

// settleStep applies one step's outcome.
func (e *Engine) settleStep(ctx context.Context, planID string, r *stepResult, dropped map[string]bool, escalated bool) error {
	ctx = logging.WithStepID(ctx, r.step.ID)
	stepID := r.step.ID

	switch {
	case r.missingInput:
		if err := e.plans.UpdateStepStatus(ctx, planID, stepID, plan.StepFailed); err != nil {
			return err
		}
		return e.plans.UpdateStepStatus(ctx, planID, stepID, plan.StepBlocked)

	case escalated:
		// The step's work is held until an operator resolves the
		// conflict; nothing it produced is registered.
		if err := e.plans.UpdateStepStatus(ctx, planID, stepID, plan.StepFailed); err != nil {
			return err
		}
		if err := e.plans.UpdateStepStatus(ctx, planID, stepID, plan.StepBlocked); err != nil {
			return err
		}
		e.logger.Warn("step blocked on escalated conflict", logging.ContextFields(ctx)...)
		return nil

	case r.gateRecord.Outcome.Passed():
		names, err := e.registerArtifacts(ctx, r, dropped)
		if err != nil {
			return err
		}
		return e.plans.UpdateStepStatus(ctx, planID, stepID, plan.StepCompleted, names...)
	}

	// Gate failed: retry until the budget is exhausted, then fall back
	// once, then block for the operator.
	if err := e.plans.UpdateStepStatus(ctx, planID, stepID, plan.StepFailed); err != nil {
		return err
	}

	exhausted, err := e.gates.Exhausted(stepID, r.output.Role)
	if err != nil {
		return fmt.Errorf("check retry budget for %s: %w", stepID, err)
	}
	if !exhausted {
		e.logger.Info("gate failed, retrying",
			append(logging.ContextFields(ctx),
				zap.Int("attempt", r.gateRecord.Attempt))...)
		return e.plans.UpdateStepStatus(ctx, planID, stepID, plan.StepPending)
	}

	if r.step.FallbackRole != "" {
		// Already on the fallback role. Two exhausted roles means the
		// operator decides.
		e.logger.Error("fallback role exhausted retry budget", logging.ContextFields(ctx)...)
		return e.plans.UpdateStepStatus(ctx, planID, stepID, plan.StepBlocked)
	}

	reason := r.output.FailureReason
	if reason == "" && len(r.gateRecord.Errors) > 0 {
		reason = r.gateRecord.Errors[0]
	}
	fctx := &router.FallbackContext{
		StepID:         stepID,
		FailedRole:     r.step.Role,
		FailureReason:  reason,
		Attempts:       r.gateRecord.Attempt,
		PriorArtifacts: append([]string(nil), r.step.ProducedArtifacts...),
	}
	alt, err := e.fallback.Fallback(r.step.Role, fctx)
	if err != nil {
		if errors.Is(err, router.ErrNoFallback) {
			e.logger.Error("no fallback role, blocking step", logging.ContextFields(ctx)...)
			return e.plans.UpdateStepStatus(ctx, planID, stepID, plan.StepBlocked)
		}
		return fmt.Errorf("fallback for %s: %w", stepID, err)
	}
	return e.plans.SetFallbackRole(ctx, planID, stepID, alt, fctx)
}

// registerArtifacts registers a gate-passed step's artifacts, skipping
// any the step lost in conflict resolution. Returns registered names in
// deterministic order.
func (e *Engine) registerArtifacts(ctx context.Context, r *stepResult, dropped map[string]bool) ([]string, error) {
	var names []string
	arts := append([]worker.Produced(nil), r.output.Artifacts...)
	sort.Slice(arts, func(i, j int) bool { return arts[i].Name < arts[j].Name })

	for _, a := range arts {
		if dropped[a.Name] {
			e.logger.Info("artifact dropped by conflict resolution",
				append(logging.ContextFields(ctx), zap.String("artifact", a.Name))...)
			continue
		}
		err := e.registry.Register(ctx, &artifact.Artifact{
			Name:             a.Name,
			ProducingStep:    r.step.ID,
			Path:             a.Path,
			Content:          a.Content,
			ValidationStatus: artifact.ValidationPass,
			Dependencies:     a.DependsOn,
		})
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", a.Name, err)
		}
		names = append(names, a.Name)
	}
	return names, nil
}

// producingStep extracts the step ID from a candidate artifact ID of the
// form stepID/subject.
func producingStep(candidate string) string {
	for i, c := range candidate {
		if c == '/' {
			return candidate[:i]
		}
	}
	return candidate
}
