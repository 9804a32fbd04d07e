// Package generator turns categorized requirements into grouped test cases
// and keeps the requirement and test-case stores in step.
package generator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tc-validator/backend/internal/metrics"
	"github.com/tc-validator/backend/internal/storage/filestore"
	"github.com/tc-validator/backend/internal/storage/models"
	"github.com/tc-validator/backend/pkg/errs"
	"github.com/tc-validator/backend/pkg/logger"
	"github.com/tc-validator/backend/pkg/utils"
)

// CaseGenerator produces free-form Positive/Negative/Boundary text for the
// newline separated requirements of one category.
type CaseGenerator interface {
	GenerateTestCases(ctx context.Context, category, requirements string) (string, error)
}

type Generator struct {
	llm CaseGenerator

	// mu serializes store writes so concurrent appends never drop each
	// other's master merges.
	mu sync.Mutex
}

func New(llm CaseGenerator) *Generator {
	return &Generator{llm: llm}
}

type job struct {
	category string
	texts    []string
}

// Generate writes test cases for the request.
//
// FullRebuild regenerates every category of the master store, then the
// requested requirements, and replaces the test-case store. IncrementalAppend
// only covers the requested requirements and appends to the store. In both
// modes requested requirements are merged into the master store, and the
// store hash is refreshed when HashPath is set. A request with nothing to
// generate leaves the stores untouched.
func (g *Generator) Generate(ctx context.Context, req models.GenerationRequest) (*models.GenerationResponse, error) {
	if req.Mode != models.FullRebuild && req.Mode != models.IncrementalAppend {
		return nil, errs.Input("unknown generation mode %d", req.Mode)
	}
	if req.MasterStorePath == "" || req.TestCaseStorePath == "" {
		return nil, errs.Input("generation needs master and test-case store paths")
	}

	master, err := filestore.ReadRequirementDocumentOrEmpty(req.MasterStorePath)
	if err != nil {
		return nil, err
	}

	var jobs []job
	if req.Mode == models.FullRebuild {
		for _, category := range master.Categories() {
			jobs = append(jobs, job{category: category, texts: master.Get(category)})
		}
	}
	if req.Requirements != nil {
		for _, category := range req.Requirements.Categories() {
			jobs = append(jobs, job{category: category, texts: req.Requirements.Get(category)})
		}
	}

	resp := &models.GenerationResponse{Mode: req.Mode, TestCases: models.NewTestCaseGroups()}
	if countTexts(jobs) == 0 {
		logger.Info("Nothing to generate", zap.String("mode", req.Mode.String()))
		resp.Skipped = true
		return resp, nil
	}

	for _, j := range jobs {
		if len(j.texts) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := g.llm.GenerateTestCases(ctx, j.category, strings.Join(j.texts, "\n"))
		if err != nil {
			return nil, errs.Model("generate", err)
		}

		resp.TestCases.Extend(ParseSections(raw))
		resp.Categories = append(resp.Categories, j.category)
	}

	if err := g.commit(req, resp); err != nil {
		return nil, err
	}

	for _, name := range models.GroupOrder {
		metrics.TestCasesGenerated.WithLabelValues(req.Mode.String(), name).Add(float64(len(resp.TestCases[name])))
	}

	logger.Info("Test cases written",
		zap.String("mode", req.Mode.String()),
		zap.Strings("categories", resp.Categories),
		zap.Int("testcases", resp.TestCases.Len()),
		zap.Int("requirements_added", resp.RequirementsAdded),
	)

	return resp, nil
}

// commit writes the generated cases and merges the requested requirements
// into the master store as it is on disk now, not as it was when generation
// started.
func (g *Generator) commit(req models.GenerationRequest, resp *models.GenerationResponse) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := filestore.WriteTestCases(req.TestCaseStorePath, resp.TestCases, req.Mode); err != nil {
		return err
	}

	master, err := filestore.ReadRequirementDocumentOrEmpty(req.MasterStorePath)
	if err != nil {
		return err
	}

	if req.Requirements != nil {
		for _, category := range req.Requirements.Categories() {
			for _, text := range req.Requirements.Get(category) {
				if master.Merge(category, text) {
					resp.RequirementsAdded++
				}
			}
		}
	}

	if err := filestore.WriteRequirementDocument(req.MasterStorePath, master); err != nil {
		return err
	}
	if req.HashPath != "" {
		return WriteHash(req.HashPath, master)
	}
	return nil
}

// Bootstrap runs a FullRebuild when the test-case store is missing or empty,
// when the master store no longer matches the recorded hash, or when force is
// set. Otherwise it reports a skipped generation.
func (g *Generator) Bootstrap(ctx context.Context, masterStore, testCaseStore, hashPath string, force bool) (*models.GenerationResponse, error) {
	reason := ""
	switch {
	case force:
		reason = "forced"
	case filestore.TestCaseStoreEmpty(testCaseStore):
		reason = "testcase_store_empty"
	default:
		changed, err := masterChanged(masterStore, hashPath)
		if err != nil {
			return nil, err
		}
		if changed {
			reason = "requirements_changed"
		}
	}

	if reason == "" {
		logger.Debug("Test-case store up to date, skipping initial generation", zap.String("path", testCaseStore))
		return &models.GenerationResponse{Mode: models.FullRebuild, Skipped: true}, nil
	}

	logger.Info("Generating initial test cases",
		zap.String("master_store", masterStore),
		zap.String("reason", reason),
	)

	return g.Generate(ctx, models.GenerationRequest{
		Mode:              models.FullRebuild,
		MasterStorePath:   masterStore,
		TestCaseStorePath: testCaseStore,
		HashPath:          hashPath,
	})
}

// ParseSections splits model output into groups. A line starting with a group
// name switches the current group; other non-empty lines belong to it, and
// lines before the first group are dropped.
func ParseSections(text string) models.TestCaseGroups {
	groups := models.NewTestCaseGroups()
	current := ""

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if name, ok := groupHeader(line); ok {
			current = name
			continue
		}
		if current != "" && line != "" {
			groups[current] = append(groups[current], line)
		}
	}

	return groups
}

func groupHeader(line string) (string, bool) {
	for _, name := range models.GroupOrder {
		if strings.HasPrefix(line, name) {
			return name, true
		}
	}
	return "", false
}

// WriteHash stores the md5 of the master store with categories sorted.
func WriteHash(path string, master *models.CategorizedRequirements) error {
	hash, err := utils.HashJSON(master.Map())
	if err != nil {
		return fmt.Errorf("failed to hash requirement store: %w", err)
	}
	if err := filestore.WriteFileAtomic(path, []byte(hash)); err != nil {
		return errs.Store(filestore.StoreHash, "write", path, err)
	}
	return nil
}

// ReadHash returns the stored hash, or "" when none was written yet.
func ReadHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errs.Store(filestore.StoreHash, "read", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// masterChanged compares the master store with the recorded hash. Without a
// recorded hash nothing is considered changed.
func masterChanged(masterStore, hashPath string) (bool, error) {
	if hashPath == "" {
		return false, nil
	}
	stored, err := ReadHash(hashPath)
	if err != nil || stored == "" {
		return false, err
	}

	master, err := filestore.ReadRequirementDocumentOrEmpty(masterStore)
	if err != nil {
		return false, err
	}
	current, err := utils.HashJSON(master.Map())
	if err != nil {
		return false, fmt.Errorf("failed to hash requirement store: %w", err)
	}
	return current != stored, nil
}

func countTexts(jobs []job) int {
	n := 0
	for _, j := range jobs {
		n += len(j.texts)
	}
	return n
}
