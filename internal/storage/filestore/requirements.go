package filestore

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/tc-validator/backend/internal/storage/models"
	"github.com/tc-validator/backend/pkg/errs"
	"github.com/tc-validator/backend/pkg/logger"
)

const (
	StoreRequirement = "requirement"
	StoreTestCase    = "testcase"
	StoreReport      = "report"
	StoreHash        = "hash"
)

func ReadRequirementDocument(path string) (*models.CategorizedRequirements, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Store(StoreRequirement, "read", path, err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return models.NewCategorizedRequirements(), nil
	}

	doc := models.NewCategorizedRequirements()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, errs.Input("malformed requirement store %q: %v", path, err)
	}
	return doc, nil
}

// ReadRequirementDocumentOrEmpty treats a missing file as an empty store.
func ReadRequirementDocumentOrEmpty(path string) (*models.CategorizedRequirements, error) {
	doc, err := ReadRequirementDocument(path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.NewCategorizedRequirements(), nil
	}
	return doc, err
}

func WriteRequirementDocument(path string, doc *models.CategorizedRequirements) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errs.Store(StoreRequirement, "encode", path, err)
	}
	if err := WriteFileAtomic(path, append(data, '\n')); err != nil {
		return errs.Store(StoreRequirement, "write", path, err)
	}
	return nil
}

// LoadRequirements flattens the store into validation order: categories in
// file order, texts in list order. Texts are trimmed, entries shorter than
// minLength runes are dropped, and a text seen in an earlier category wins
// over later duplicates.
func LoadRequirements(path string, minLength int) ([]models.Requirement, error) {
	doc, err := ReadRequirementDocument(path)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]string)
	var requirements []models.Requirement
	for _, category := range doc.Categories() {
		for _, item := range doc.Get(category) {
			text := strings.TrimSpace(item)
			if utf8.RuneCountInString(text) < minLength {
				continue
			}
			if first, dup := seen[text]; dup {
				logger.Warn("Duplicate requirement text ignored",
					zap.String("requirement", text),
					zap.String("kept_category", first),
					zap.String("dropped_category", category),
				)
				continue
			}
			seen[text] = category
			requirements = append(requirements, models.Requirement{Text: text, Category: category})
		}
	}

	return requirements, nil
}

// WriteFileAtomic writes data next to path and renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
