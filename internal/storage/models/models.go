package models

import (
	"math"
	"time"
)

const (
	CategoryFunctional    = "Functional"
	CategoryNonFunctional = "Non-Functional"
	CategoryBusiness      = "Business"
	CategoryTechnical     = "Technical"
	CategoryGeneral       = "General"
)

// Requirement identity is its text; Category is informational.
type Requirement struct {
	Text     string
	Category string
}

type TestCase struct {
	Text string
}

type Match struct {
	TestCase        string  `json:"testcase"`
	EntailmentScore float64 `json:"entailment_score"`
	// RawScore is the unrounded entailment probability used for accuracy.
	RawScore float64 `json:"-"`
}

// Score prefers the unrounded probability and falls back to the rounded one
// for matches that were decoded from a report.
func (m Match) Score() float64 {
	if m.RawScore != 0 {
		return m.RawScore
	}
	return m.EntailmentScore
}

type CoverageEntry struct {
	Requirement string  `json:"requirement"`
	Category    string  `json:"category"`
	Matches     []Match `json:"matches"`
}

type MissingEntry struct {
	Requirement string `json:"requirement"`
	Category    string `json:"category"`
}

// Metrics keeps full precision; ValidationResult exposes rounded copies.
type Metrics struct {
	Total        int
	Covered      int
	Missing      int
	Matches      int
	Completeness float64
	Accuracy     float64
}

type ValidationResult struct {
	Covered      []CoverageEntry `json:"covered"`
	Missing      []MissingEntry  `json:"missing"`
	Completeness float64         `json:"completeness"`
	Accuracy     float64         `json:"accuracy"`
	Exact        Metrics         `json:"-"`
}

func NewValidationResult(covered []CoverageEntry, missing []MissingEntry, m Metrics) *ValidationResult {
	if covered == nil {
		covered = []CoverageEntry{}
	}
	if missing == nil {
		missing = []MissingEntry{}
	}
	return &ValidationResult{
		Covered:      covered,
		Missing:      missing,
		Completeness: Round(m.Completeness, 2),
		Accuracy:     Round(m.Accuracy, 2),
		Exact:        m,
	}
}

// Coverage returns the requirement-text keyed view of the covered entries.
func (r *ValidationResult) Coverage() map[string]CoverageEntry {
	out := make(map[string]CoverageEntry, len(r.Covered))
	for _, entry := range r.Covered {
		out[entry.Requirement] = entry
	}
	return out
}

func (r *ValidationResult) Total() int {
	return len(r.Covered) + len(r.Missing)
}

// MissingByCategory groups missing requirement texts by category, keeping the
// order in which they were classified.
func (r *ValidationResult) MissingByCategory() *CategorizedRequirements {
	grouped := NewCategorizedRequirements()
	for _, m := range r.Missing {
		grouped.Append(m.Category, m.Requirement)
	}
	return grouped
}

func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

type GenerationMode int

const (
	FullRebuild GenerationMode = iota
	IncrementalAppend
)

func (m GenerationMode) String() string {
	switch m {
	case FullRebuild:
		return "full_rebuild"
	case IncrementalAppend:
		return "incremental_append"
	default:
		return "unknown"
	}
}

type GenerationRequest struct {
	Mode              GenerationMode
	Requirements      *CategorizedRequirements
	MasterStorePath   string
	TestCaseStorePath string
	HashPath          string
}

type GenerationResponse struct {
	Mode              GenerationMode
	TestCases         TestCaseGroups
	Categories        []string
	RequirementsAdded int
	Skipped           bool
}

type ValidationRun struct {
	ID                string     `json:"id"`
	MasterStorePath   string     `json:"master_store"`
	TestCaseStorePath string     `json:"testcase_store"`
	MaxRetries        int        `json:"max_retries"`
	Attempts          int        `json:"attempts"`
	Passed            bool       `json:"passed"`
	Exhausted         bool       `json:"exhausted"`
	Completeness      float64    `json:"completeness"`
	Accuracy          float64    `json:"accuracy"`
	TotalRequirements int        `json:"total_requirements"`
	Covered           int        `json:"covered"`
	Error             string     `json:"error,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

type ValidationAttempt struct {
	RunID        string         `json:"run_id"`
	Attempt      int            `json:"attempt"`
	Completeness float64        `json:"completeness"`
	Accuracy     float64        `json:"accuracy"`
	Covered      int            `json:"covered"`
	Missing      []MissingEntry `json:"missing"`
	CreatedAt    time.Time      `json:"created_at"`
}

type SystemMetric struct {
	ID          int
	MetricName  string
	MetricValue float64
	Tags        string
	Timestamp   time.Time
}
