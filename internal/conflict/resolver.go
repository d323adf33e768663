package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/router"
	"github.com/fyrsmithlabs/orchd/internal/worker"
)

const instrumentationName = "github.com/fyrsmithlabs/orchd/internal/conflict"

// ErrConflictUnresolved is wrapped into escalations so callers can detect
// them with errors.Is.
var ErrConflictUnresolved = errors.New("conflict unresolved")

// Arbiter asks a single authoritative role to pick the accepted artifact.
type Arbiter interface {
	Decide(ctx context.Context, authority router.Role, rec *Record) (acceptedArtifact string, err error)
}

// Consensus attempts multi-party agreement for cross-domain conflicts.
// Implementations must respect ctx cancellation; the resolver bounds it
// with the configured timeout.
type Consensus interface {
	Agree(ctx context.Context, rec *Record) (acceptedArtifact string, err error)
}

// domainKeywords classifies a conflict subject into an authority domain.
var domainKeywords = map[string][]string{
	"security":    {"auth", "token", "credential", "security", "secret"},
	"performance": {"perf", "latency", "cache", "benchmark"},
	"data":        {"schema", "migration", "database", "query"},
	"process":     {"test", "qa", "release"},
}

// Resolver detects conflicts and drives their resolution.
type Resolver struct {
	mu        sync.Mutex
	dir       string
	tables    *router.Tables
	arbiter   Arbiter
	consensus Consensus
	timeout   time.Duration
	logger    *zap.Logger

	tracer            trace.Tracer
	conflictCounter   metric.Int64Counter
	escalationCounter metric.Int64Counter
}

// NewResolver creates a resolver persisting records under baseDir/conflicts.
// arbiter and consensus may be nil; resolution then always escalates,
// which is the safe degenerate behavior.
func NewResolver(baseDir string, tables *router.Tables, arbiter Arbiter, consensus Consensus, timeout time.Duration, logger *zap.Logger) (*Resolver, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if tables == nil {
		return nil, fmt.Errorf("routing tables are required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("consensus timeout must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Join(baseDir, "conflicts")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create conflict directory: %w", err)
	}

	r := &Resolver{
		dir:       dir,
		tables:    tables,
		arbiter:   arbiter,
		consensus: consensus,
		timeout:   timeout,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	r.conflictCounter, err = meter.Int64Counter(
		"orchd.conflict.detected_total",
		metric.WithDescription("Conflicts detected between concurrent worker outputs"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		logger.Warn("failed to create conflict counter", zap.Error(err))
	}
	r.escalationCounter, err = meter.Int64Counter(
		"orchd.conflict.escalated_total",
		metric.WithDescription("Conflicts escalated to the operator queue"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		logger.Warn("failed to create escalation counter", zap.Error(err))
	}

	return r, nil
}

// Detect inspects a batch of concurrently produced outputs for artifact
// overlap and requirement contradictions. Every detected conflict is
// persisted before it is returned.
func (r *Resolver) Detect(ctx context.Context, outputs []*worker.Output) ([]*Record, error) {
	ctx, span := r.tracer.Start(ctx, "conflict.detect")
	defer span.End()

	if len(outputs) < 2 {
		return nil, nil
	}

	var records []*Record
	records = append(records, detectArtifactOverlap(outputs)...)
	records = append(records, detectRequirementContradictions(outputs)...)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		if err := r.persist(rec); err != nil {
			return nil, err
		}
		r.logger.Warn("detected conflict",
			zap.String("conflict_id", rec.ID),
			zap.String("kind", string(rec.Kind)),
			zap.String("subject", rec.Subject),
			zap.String("severity", string(rec.Severity)),
		)
		if r.conflictCounter != nil {
			r.conflictCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("kind", string(rec.Kind)),
				attribute.String("severity", string(rec.Severity)),
			))
		}
	}

	span.SetAttributes(attribute.Int("conflict_count", len(records)))
	return records, nil
}

// Resolve drives one conflict to resolution or escalation.
//
// Domain-specific conflicts route to the single role with domain
// authority. Cross-domain conflicts (no registered authority) go to the
// consensus mechanism under the configured timeout. Failure or timeout on
// either path escalates; the record is updated and persisted in every
// case.
func (r *Resolver) Resolve(ctx context.Context, rec *Record) (*Resolution, error) {
	ctx, span := r.tracer.Start(ctx, "conflict.resolve")
	defer span.End()
	span.SetAttributes(attribute.String("conflict.id", rec.ID))

	authority, hasAuthority := r.tables.AuthorityFor(rec.Domain)

	var accepted string
	var err error
	var agent router.Role

	switch {
	case hasAuthority && r.arbiter != nil:
		agent = authority
		accepted, err = r.arbiter.Decide(ctx, authority, rec)
	case r.consensus != nil:
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		accepted, err = r.consensus.Agree(cctx, rec)
		cancel()
	default:
		err = fmt.Errorf("no resolution path configured")
	}

	if err == nil && accepted != "" && !isCandidate(rec, accepted) {
		err = fmt.Errorf("resolution named unknown artifact %q", accepted)
		accepted = ""
	}

	now := time.Now().UTC()

	if err != nil || accepted == "" {
		reason := "no accepted artifact"
		if err != nil {
			reason = err.Error()
		}
		rec.Status = StatusEscalated
		rec.EscalationReason = reason
		rec.ResolvedAt = &now

		r.mu.Lock()
		perr := r.persist(rec)
		r.mu.Unlock()
		if perr != nil {
			return nil, perr
		}

		r.logger.Warn("conflict escalated to operator review",
			zap.String("conflict_id", rec.ID),
			zap.String("reason", reason),
		)
		if r.escalationCounter != nil {
			r.escalationCounter.Add(ctx, 1)
		}

		return &Resolution{Record: rec, Escalated: true},
			fmt.Errorf("%w: %s (conflict %s)", ErrConflictUnresolved, reason, rec.ID)
	}

	rec.Status = StatusResolved
	rec.ResolutionAgent = agent
	rec.AcceptedArtifact = accepted
	rec.ResolvedAt = &now

	r.mu.Lock()
	perr := r.persist(rec)
	r.mu.Unlock()
	if perr != nil {
		return nil, perr
	}

	r.logger.Info("resolved conflict",
		zap.String("conflict_id", rec.ID),
		zap.String("accepted_artifact", accepted),
		zap.String("resolution_agent", string(agent)),
	)

	return &Resolution{Record: rec, AcceptedArtifact: accepted}, nil
}

// ResolveManually records an operator decision on an escalated conflict.
func (r *Resolver) ResolveManually(ctx context.Context, conflictID, acceptedArtifact string) (*Record, error) {
	_, span := r.tracer.Start(ctx, "conflict.resolve_manual")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.loadRecord(conflictID)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusResolved {
		return nil, fmt.Errorf("conflict %s already resolved", conflictID)
	}
	now := time.Now().UTC()
	rec.Status = StatusResolved
	rec.AcceptedArtifact = acceptedArtifact
	rec.ResolvedAt = &now
	if err := r.persist(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns persisted conflicts, optionally filtered by status.
func (r *Resolver) List(ctx context.Context, status Status) ([]*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	var records []*Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := r.loadRecord(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		if status != "" && rec.Status != status {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].DetectedAt.Before(records[j].DetectedAt) })
	return records, nil
}

func detectArtifactOverlap(outputs []*worker.Output) []*Record {
	producers := make(map[string][]Output)
	for _, o := range outputs {
		for _, a := range o.Artifacts {
			producers[a.Name] = append(producers[a.Name], Output{
				StepID:   o.StepID,
				Role:     o.Role,
				Artifact: a.Name,
			})
		}
	}

	names := make([]string, 0, len(producers))
	for name := range producers {
		names = append(names, name)
	}
	sort.Strings(names)

	var records []*Record
	for _, name := range names {
		sides := producers[name]
		if len(sides) < 2 {
			continue
		}
		records = append(records, &Record{
			ID:         uuid.New().String(),
			Kind:       KindArtifactOverlap,
			Subject:    name,
			Domain:     classifyDomain(name),
			Severity:   SeverityMedium,
			Outputs:    sides,
			Status:     StatusDetected,
			DetectedAt: time.Now().UTC(),
		})
	}
	return records
}

func detectRequirementContradictions(outputs []*worker.Output) []*Record {
	claims := make(map[string][]Output)
	for _, o := range outputs {
		for req, claim := range o.RequirementClaims {
			claims[req] = append(claims[req], Output{
				StepID: o.StepID,
				Role:   o.Role,
				Claim:  claim,
			})
		}
	}

	keys := make([]string, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var records []*Record
	for _, req := range keys {
		sides := claims[req]
		if len(sides) < 2 || allClaimsAgree(sides) {
			continue
		}
		records = append(records, &Record{
			ID:         uuid.New().String(),
			Kind:       KindRequirementContradiction,
			Subject:    req,
			Domain:     classifyDomain(req),
			Severity:   SeverityHigh,
			Outputs:    sides,
			Status:     StatusDetected,
			DetectedAt: time.Now().UTC(),
		})
	}
	return records
}

func isCandidate(rec *Record, accepted string) bool {
	for _, id := range rec.CandidateIDs() {
		if id == accepted {
			return true
		}
	}
	return false
}

func allClaimsAgree(sides []Output) bool {
	for _, s := range sides[1:] {
		if !strings.EqualFold(s.Claim, sides[0].Claim) {
			return false
		}
	}
	return true
}

// classifyDomain maps a conflict subject onto an authority domain.
// Unmatched subjects default to the technical domain; the routing tables
// decide whether that domain has a registered authority.
func classifyDomain(subject string) string {
	lower := strings.ToLower(subject)
	domains := make([]string, 0, len(domainKeywords))
	for d := range domainKeywords {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	for _, domain := range domains {
		for _, kw := range domainKeywords[domain] {
			if strings.Contains(lower, kw) {
				return domain
			}
		}
	}
	return "technical"
}

func (r *Resolver) persist(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conflict record: %w", err)
	}
	path := filepath.Join(r.dir, rec.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write conflict record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename conflict record: %w", err)
	}
	return nil
}

func (r *Resolver) loadRecord(id string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, id+".json"))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("conflict %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conflict %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("conflict record %s corrupted: %w", id, err)
	}
	return &rec, nil
}
