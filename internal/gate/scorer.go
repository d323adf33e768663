package gate

import (
	"strings"

	"github.com/fyrsmithlabs/orchd/internal/worker"
)

// HeuristicScorer is the built-in deterministic scorer. It scores on
// observable structure only, so the same output always gets the same
// score. Deployments wanting judge-backed scoring implement Scorer.
type HeuristicScorer struct{}

// Score rates one dimension of a worker output on a 0-10 scale.
func (HeuristicScorer) Score(output *worker.Output, dim Dimension) float64 {
	switch dim {
	case DimCompleteness:
		return scoreCompleteness(output)
	case DimAccuracy:
		return scoreAccuracy(output)
	case DimClarity:
		return scoreClarity(output)
	case DimConsistency:
		return scoreConsistency(output)
	case DimActionability:
		return scoreActionability(output)
	default:
		return 0
	}
}

func scoreCompleteness(o *worker.Output) float64 {
	score := 3.0
	if len(o.Artifacts) > 0 {
		score += 3
	}
	if len(o.Fields) >= 3 {
		score += 2
	} else if len(o.Fields) > 0 {
		score++
	}
	if len(o.Artifacts) > 1 {
		score++
	}
	if score > 10 {
		score = 10
	}
	return score
}

func scoreAccuracy(o *worker.Output) float64 {
	switch o.Status {
	case worker.StatusCompleted:
		return 8
	case worker.StatusNeedsClarification:
		return 5
	default:
		return 1
	}
}

func scoreClarity(o *worker.Output) float64 {
	summary, _ := o.Fields["summary"].(string)
	switch {
	case len(summary) >= 80:
		return 9
	case len(summary) >= 20:
		return 7
	case summary != "":
		return 5
	default:
		return 3
	}
}

func scoreConsistency(o *worker.Output) float64 {
	// Contradiction inside a single output: the same requirement claimed
	// both satisfied and violated.
	for _, claim := range o.RequirementClaims {
		if strings.EqualFold(claim, "contradicts") {
			return 2
		}
	}
	seen := make(map[string]struct{})
	for _, a := range o.Artifacts {
		if _, dup := seen[a.Name]; dup {
			return 4
		}
		seen[a.Name] = struct{}{}
	}
	return 8
}

func scoreActionability(o *worker.Output) float64 {
	withPath := 0
	for _, a := range o.Artifacts {
		if a.Path != "" || a.Content != "" {
			withPath++
		}
	}
	switch {
	case len(o.Artifacts) == 0:
		return 4
	case withPath == len(o.Artifacts):
		return 9
	default:
		return 6
	}
}
