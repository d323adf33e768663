package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/config"
	"github.com/fyrsmithlabs/orchd/internal/router"
	"github.com/fyrsmithlabs/orchd/internal/worker"
)

const instrumentationName = "github.com/fyrsmithlabs/orchd/internal/gate"

// Scorer produces the qualitative 0-10 score for one rubric dimension.
// The default heuristic scorer is deterministic; deployments plug in a
// judge-backed scorer through this interface.
type Scorer interface {
	Score(output *worker.Output, dim Dimension) float64
}

// Validator runs the two-tier gate check and persists append-only records.
type Validator struct {
	mu     sync.Mutex
	dir    string
	cfg    config.GateConfig
	scorer Scorer
	logger *zap.Logger

	tracer         trace.Tracer
	verdictCounter metric.Int64Counter
}

// NewValidator creates a validator persisting records under baseDir/gates.
func NewValidator(baseDir string, cfg config.GateConfig, scorer Scorer, logger *zap.Logger) (*Validator, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1")
	}
	if scorer == nil {
		scorer = HeuristicScorer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Join(baseDir, "gates")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create gate directory: %w", err)
	}

	v := &Validator{
		dir:    dir,
		cfg:    cfg,
		scorer: scorer,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	v.verdictCounter, err = meter.Int64Counter(
		"orchd.gate.verdicts_total",
		metric.WithDescription("Gate validation verdicts by outcome"),
		metric.WithUnit("{verdict}"),
	)
	if err != nil {
		logger.Warn("failed to create verdict counter", zap.Error(err))
	}

	return v, nil
}

// Validate checks a step output against its schema and rubric and always
// writes a Record - silence is not an allowed state.
//
// A structural failure short-circuits scoring. Otherwise the weighted
// rubric score decides: >= pass threshold is a clean pass, >= warn
// threshold passes with logged warnings, anything lower fails.
func (v *Validator) Validate(ctx context.Context, output *worker.Output, schema *Schema, rubric *Rubric) (*Record, error) {
	ctx, span := v.tracer.Start(ctx, "gate.validate")
	defer span.End()

	if output == nil {
		return nil, fmt.Errorf("output is required")
	}
	if schema == nil {
		return nil, fmt.Errorf("schema is required")
	}
	if rubric == nil {
		rubric = DefaultRubric()
	}
	if err := rubric.Validate(); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("step.id", output.StepID))

	v.mu.Lock()
	defer v.mu.Unlock()

	history, err := v.loadHistory(output.StepID)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:        uuid.New().String(),
		StepID:    output.StepID,
		Role:      output.Role,
		Attempt:   len(history) + 1,
		CreatedAt: time.Now().UTC(),
	}
	if len(history) > 0 {
		rec.PrevAttemptID = history[len(history)-1].ID
	}

	if errs := checkSchema(output, schema); len(errs) > 0 {
		rec.SchemaCheck = CheckFail
		rec.Outcome = OutcomeFail
		rec.Errors = errs
	} else {
		rec.SchemaCheck = CheckPass
		rec.QualityScore = v.scoreRubric(output, rubric)
		switch {
		case rec.QualityScore >= v.cfg.PassThreshold:
			rec.Outcome = OutcomePass
		case rec.QualityScore >= v.cfg.WarnThreshold:
			rec.Outcome = OutcomePassWithWarnings
			rec.Warnings = append(rec.Warnings,
				fmt.Sprintf("quality score %.1f below pass threshold %.1f", rec.QualityScore, v.cfg.PassThreshold))
		default:
			rec.Outcome = OutcomeFail
			rec.Errors = append(rec.Errors,
				fmt.Sprintf("quality score %.1f below warn threshold %.1f", rec.QualityScore, v.cfg.WarnThreshold))
		}
	}

	history = append(history, rec)
	if err := v.saveHistory(output.StepID, history); err != nil {
		return nil, err
	}

	if v.verdictCounter != nil {
		v.verdictCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", string(rec.Outcome)),
		))
	}

	log := v.logger.Info
	if rec.Outcome == OutcomeFail {
		log = v.logger.Warn
	}
	log("gate verdict",
		zap.String("step_id", rec.StepID),
		zap.Int("attempt", rec.Attempt),
		zap.String("schema_check", string(rec.SchemaCheck)),
		zap.Float64("quality_score", rec.QualityScore),
		zap.String("outcome", string(rec.Outcome)),
		zap.Strings("errors", rec.Errors),
		zap.Strings("warnings", rec.Warnings),
	)

	span.SetAttributes(
		attribute.String("gate.outcome", string(rec.Outcome)),
		attribute.Int("gate.attempt", rec.Attempt),
	)

	return rec, nil
}

// History returns all gate records for a step, oldest first. Always read
// from disk; in-memory continuity does not survive handoff.
func (v *Validator) History(stepID string) ([]*Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadHistory(stepID)
}

// Exhausted reports whether the given role has burned the step's full
// retry budget: the trailing consecutive failures served by that role
// meet or exceed MaxAttempts. A reroute changes the serving role, so the
// alternate starts with a fresh window. The caller must route to a
// fallback role, or block, instead of retrying again.
func (v *Validator) Exhausted(stepID string, role router.Role) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	history, err := v.loadHistory(stepID)
	if err != nil {
		return false, err
	}

	failures := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Outcome != OutcomeFail || history[i].Role != role {
			break
		}
		failures++
	}
	return failures >= v.cfg.MaxAttempts, nil
}

// checkSchema runs the structural tier: required fields present, kinds
// correct.
func checkSchema(output *worker.Output, schema *Schema) []string {
	var errs []string
	for _, field := range schema.Fields {
		val, ok := output.Fields[field.Name]
		if !ok {
			if field.Required {
				errs = append(errs, fmt.Sprintf("missing required field %q", field.Name))
			}
			continue
		}
		if !kindMatches(val, field.Kind) {
			errs = append(errs, fmt.Sprintf("field %q has wrong type (want %s)", field.Name, field.Kind))
		}
	}
	return errs
}

func kindMatches(val any, kind FieldKind) bool {
	switch kind {
	case KindString:
		_, ok := val.(string)
		return ok
	case KindNumber:
		switch val.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case KindBool:
		_, ok := val.(bool)
		return ok
	case KindList:
		switch val.(type) {
		case []any, []string:
			return true
		}
		return false
	case KindObject:
		_, ok := val.(map[string]any)
		return ok
	default:
		return false
	}
}

// scoreRubric applies the weighted rubric.
func (v *Validator) scoreRubric(output *worker.Output, rubric *Rubric) float64 {
	var total float64
	for dim, weight := range rubric.Weights {
		total += weight * clamp(v.scorer.Score(output, dim), 0, 10)
	}
	return total
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// stepFile returns the record file for a step.
func (v *Validator) stepFile(stepID string) string {
	return filepath.Join(v.dir, stepID+".json")
}

func (v *Validator) loadHistory(stepID string) ([]*Record, error) {
	data, err := os.ReadFile(v.stepFile(stepID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read gate records for %s: %w", stepID, err)
	}
	var records []*Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("gate records for %s corrupted: %w", stepID, err)
	}
	return records, nil
}

func (v *Validator) saveHistory(stepID string, records []*Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal gate records: %w", err)
	}
	path := v.stepFile(stepID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write gate records: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename gate records: %w", err)
	}
	return nil
}
