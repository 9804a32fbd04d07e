package filestore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tc-validator/backend/internal/storage/models"
	"github.com/tc-validator/backend/pkg/errs"
)

func isGroupHeader(line string) bool {
	for _, name := range models.GroupOrder {
		if line == name+":" {
			return true
		}
	}
	return false
}

// LoadTestCases returns every non-empty, non-header line in file order.
func LoadTestCases(path string) ([]models.TestCase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Store(StoreTestCase, "read", path, err)
	}
	defer f.Close()

	var cases []models.TestCase
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || isGroupHeader(line) {
			continue
		}
		cases = append(cases, models.TestCase{Text: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Store(StoreTestCase, "read", path, err)
	}

	return cases, nil
}

// TestCaseStoreEmpty reports whether the store is absent or holds no bytes.
func TestCaseStoreEmpty(path string) bool {
	info, err := os.Stat(path)
	return err != nil || info.Size() == 0
}

// WriteTestCases renders groups in GroupOrder. FullRebuild truncates the
// store, IncrementalAppend appends to it.
func WriteTestCases(path string, groups models.TestCaseGroups, mode models.GenerationMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Store(StoreTestCase, "write", path, err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	switch mode {
	case models.FullRebuild:
		flags |= os.O_TRUNC
	case models.IncrementalAppend:
		flags |= os.O_APPEND
	default:
		return errs.Input("unknown generation mode %d", mode)
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return errs.Store(StoreTestCase, "write", path, err)
	}

	w := bufio.NewWriter(f)
	for _, name := range models.GroupOrder {
		fmt.Fprintf(w, "%s:\n", name)
		for i, tc := range groups[name] {
			fmt.Fprintf(w, "%d. %s\n", i+1, strings.TrimLeft(tc, "0123456789. "))
		}
		w.WriteString("\n")
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return errs.Store(StoreTestCase, "write", path, err)
	}
	if err := f.Close(); err != nil {
		return errs.Store(StoreTestCase, "write", path, err)
	}
	return nil
}
