package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/tc-validator/backend/internal/coverage"
	"github.com/tc-validator/backend/internal/storage/filestore"
	"github.com/tc-validator/backend/internal/storage/models"
	"github.com/tc-validator/backend/pkg/errs"
	"github.com/tc-validator/backend/pkg/logger"
)

// Report is the persisted validation artifact. Its field set is fixed.
type Report struct {
	Completeness      float64               `json:"completeness"`
	Accuracy          float64               `json:"accuracy"`
	TotalRequirements int                   `json:"total_requirements"`
	Covered           int                   `json:"covered"`
	Missing           []models.MissingEntry `json:"missing"`
}

type Targets = coverage.Targets

func DefaultTargets() Targets {
	return coverage.DefaultTargets()
}

func FromResult(result *models.ValidationResult) Report {
	missing := result.Missing
	if missing == nil {
		missing = []models.MissingEntry{}
	}
	return Report{
		Completeness:      result.Completeness,
		Accuracy:          result.Accuracy,
		TotalRequirements: result.Total(),
		Covered:           len(result.Covered),
		Missing:           missing,
	}
}

func Write(path string, r Report) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return errs.Store(filestore.StoreReport, "encode", path, err)
	}

	if err := filestore.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return errs.Store(filestore.StoreReport, "write", path, err)
	}

	logger.Info("Validation report saved", zap.String("path", path))
	return nil
}

func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Store(filestore.StoreReport, "read", path, err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errs.Input("malformed report %q: %v", path, err)
	}
	return &r, nil
}

func Summary(r Report, targets Targets) string {
	status := targets.Assess(r.Completeness, r.Accuracy)

	var missing strings.Builder
	if len(r.Missing) == 0 {
		missing.WriteString("- none\n")
	}
	for _, m := range r.Missing {
		fmt.Fprintf(&missing, "- [%s] %s\n", m.Category, m.Requirement)
	}

	return fmt.Sprintf(`
Validation Report
=================

Total Requirements: %d
Covered: %d
Missing: %d

Completeness: %.2f%% (target %.0f%%: %s)
Accuracy: %.2f%% (target %.0f%%: %s)

Missing Requirements:
%s`,
		r.TotalRequirements,
		r.Covered,
		len(r.Missing),
		r.Completeness, targets.Completeness, verdict(status.CompletenessMet),
		r.Accuracy, targets.Accuracy, verdict(status.AccuracyMet),
		missing.String(),
	)
}

func verdict(met bool) string {
	if met {
		return "met"
	}
	return "not met"
}
