package task

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// timeNow is stubbed in tests.
var timeNow = time.Now

// tableVersion identifies the classification table revision. Bump when
// keyword tables or scoring thresholds change.
const tableVersion = 3

// typeEntry maps trigger keywords to a task type. Entries are evaluated in
// order; the first match wins, which keeps classification deterministic.
type typeEntry struct {
	taskType Type
	keywords []string
}

// typeTable is evaluated top to bottom. More specific intents come before
// the catch-all implementation verbs.
var typeTable = []typeEntry{
	{TypeDeployment, []string{"deploy", "release", "rollout", "rollback", "ship to"}},
	{TypeTesting, []string{"write tests", "add tests", "test coverage", "regression test", "e2e test"}},
	{TypeDocumentation, []string{"document ", "documentation", "changelog", "write docs", "api docs"}},
	{TypeRequirements, []string{"requirements", "user story", "user stories", "acceptance criteria"}},
	{TypeSpecification, []string{"specify", "specification", "spec out", "define the contract"}},
	{TypeAnalysis, []string{"analyze", "analyse", "investigate", "root cause", "profile ", "benchmark"}},
	{TypeDesign, []string{"design", "architecture", "architect", "schema for", "data model"}},
	{TypeImplementation, []string{"implement", "add ", "fix ", "build ", "create ", "refactor", "update ", "remove ", "migrate"}},
}

// Risk and scope keyword classes with explicit weights. Scores accumulate
// and map onto complexity tiers through fixed thresholds.
var (
	riskKeywords = []string{
		"security", "auth", "oauth", "login", "password", "credential",
		"encrypt", "token", "compliance", "gdpr", "hipaa", "pci",
		"payment", "billing", "accessibility", "a11y", "wcag",
	}
	crossModuleKeywords = []string{
		"across", "multiple modules", "system-wide", "all services",
		"every service", "end to end", "migration", "migrate", "refactor",
	}
	perfDataKeywords = []string{
		"performance", "latency", "throughput", "database", "index",
		"query", "cache", "scalability",
	}
	criticalMarkers = []string{
		"production incident", "outage", "data loss", "security breach",
		"sev1", "hotfix",
	}
	trivialPattern = regexp.MustCompile(`\b(typo|readme|comment|rename|whitespace|formatting)\b`)

	riskPattern        = keywordPattern(riskKeywords)
	crossModulePattern = keywordPattern(crossModuleKeywords)
	perfDataPattern    = keywordPattern(perfDataKeywords)
)

// keywordPattern compiles a keyword class into a single word-boundary
// alternation, so "auth" fires on "auth flow" but not inside "author".
func keywordPattern(keywords []string) *regexp.Regexp {
	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = regexp.QuoteMeta(kw)
	}
	return regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`)
}

// Scoring thresholds. A request scores points per matched keyword class
// plus the size of its file context; the total selects the tier.
const (
	riskWeight        = 3
	crossModuleWeight = 2
	perfDataWeight    = 2
	scoreSimpleMax    = 1
	scoreModerateMax  = 3
	scoreComplexMax   = 5
)

// Classifier maps request text to a classified Task. Classification is a
// pure function of its inputs: the same request and file context always
// produce the same type and complexity.
type Classifier struct {
	logger *zap.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{logger: logger}
}

// Classify produces a Task for the request. fileContext lists files the
// request is expected to touch, when known.
//
// A request matching no type falls back to implementation with complexity
// raised to at least moderate: over-gating an unknown request is safer
// than under-gating it.
func (c *Classifier) Classify(request string, fileContext []string) (*Task, error) {
	normalized := strings.ToLower(strings.TrimSpace(request))

	taskType, matched := classifyType(normalized)
	keywords := matchedKeywords(normalized)
	complexity := scoreComplexity(normalized, len(fileContext))

	ambiguous := !matched
	if ambiguous && !complexity.AtLeast(ComplexityModerate) {
		complexity = ComplexityModerate
	}

	t := &Task{
		ID:            uuid.New().String(),
		Description:   request,
		Type:          taskType,
		Complexity:    complexity,
		RequiredGates: GatesFor(complexity),
		Keywords:      keywords,
		Ambiguous:     ambiguous,
		CreatedAt:     timeNow(),
	}

	c.logger.Debug("classified task",
		zap.String("task_id", t.ID),
		zap.String("type", string(t.Type)),
		zap.String("complexity", string(t.Complexity)),
		zap.Bool("ambiguous", t.Ambiguous),
		zap.Int("table_version", tableVersion),
	)

	return t, nil
}

// classifyType returns the first matching type from the ordered table.
func classifyType(normalized string) (Type, bool) {
	for _, entry := range typeTable {
		for _, kw := range entry.keywords {
			if strings.Contains(normalized, kw) {
				return entry.taskType, true
			}
		}
	}
	return TypeImplementation, false
}

// matchedKeywords collects every trigger word present in the request, in
// sorted order so the result is stable.
func matchedKeywords(normalized string) []string {
	seen := make(map[string]struct{})
	for _, pat := range []*regexp.Regexp{riskPattern, crossModulePattern, perfDataPattern} {
		for _, kw := range pat.FindAllString(normalized, -1) {
			seen[kw] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for kw := range seen {
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

// scoreComplexity applies the explicit keyword-class and file-count
// thresholds.
func scoreComplexity(normalized string, fileCount int) Complexity {
	for _, marker := range criticalMarkers {
		if strings.Contains(normalized, marker) {
			return ComplexityCritical
		}
	}

	score := 0
	if riskPattern.MatchString(normalized) {
		score += riskWeight
	}
	if crossModulePattern.MatchString(normalized) {
		score += crossModuleWeight
	}
	if perfDataPattern.MatchString(normalized) {
		score += perfDataWeight
	}

	switch {
	case fileCount >= 8:
		score += 3
	case fileCount >= 3:
		score += 2
	case fileCount >= 1:
		score++
	}

	if score == 0 && trivialPattern.MatchString(normalized) {
		return ComplexityTrivial
	}

	switch {
	case score <= scoreSimpleMax:
		return ComplexitySimple
	case score <= scoreModerateMax:
		return ComplexityModerate
	case score <= scoreComplexMax:
		return ComplexityComplex
	default:
		return ComplexityCritical
	}
}
