package coverage

import "github.com/tc-validator/backend/internal/storage/models"

// Aggregate computes completeness and accuracy at full precision. With no
// requirements completeness is 0; with no matches accuracy is 0.
func Aggregate(covered []models.CoverageEntry, missing []models.MissingEntry) models.Metrics {
	m := models.Metrics{
		Covered: len(covered),
		Missing: len(missing),
		Total:   len(covered) + len(missing),
	}

	if m.Total > 0 {
		m.Completeness = 100 * float64(m.Covered) / float64(m.Total)
	}

	var sum float64
	for _, entry := range covered {
		for _, match := range entry.Matches {
			sum += match.Score()
			m.Matches++
		}
	}
	if m.Matches > 0 {
		m.Accuracy = 100 * sum / float64(m.Matches)
	}

	return m
}

// Targets are the reporting thresholds, in percent.
type Targets struct {
	Completeness float64
	Accuracy     float64
}

func DefaultTargets() Targets {
	return Targets{Completeness: CompletenessThreshold, Accuracy: AccuracyThreshold}
}

type Status struct {
	CompletenessMet bool `json:"completeness_met"`
	AccuracyMet     bool `json:"accuracy_met"`
}

func (t Targets) Assess(completeness, accuracy float64) Status {
	return Status{
		CompletenessMet: completeness >= t.Completeness,
		AccuracyMet:     accuracy >= t.Accuracy,
	}
}
