package validation

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tc-validator/backend/pkg/errs"
)

var drivePrefix = regexp.MustCompile(`^[A-Za-z]:`)

// Policy bounds what a remote caller may ask for. Store and report paths are
// resolved relative to DataRoot and may never leave it. An empty DataRoot
// refuses every path.
type Policy struct {
	DataRoot      string
	MaxPathLength int
	MaxRetries    int
}

func (p Policy) withDefaults() Policy {
	if p.MaxPathLength == 0 {
		p.MaxPathLength = 4096
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 10
	}
	return p
}

// ResolvePath returns path joined onto DataRoot.
func (p Policy) ResolvePath(path string) (string, error) {
	resolved, reason := p.resolve(path)
	if reason != "" {
		return "", errs.Input("path %q %s", path, reason)
	}
	return resolved, nil
}

func (p Policy) resolve(path string) (string, string) {
	p = p.withDefaults()

	if msg := checkPath(path, p.MaxPathLength); msg != "" {
		return "", msg
	}
	path = strings.TrimSpace(path)

	switch {
	case p.DataRoot == "":
		return "", "is not accepted by this server"
	case filepath.IsAbs(path), strings.HasPrefix(path, "/"):
		return "", "must be relative to the data root"
	case strings.ContainsRune(path, '\\'), drivePrefix.MatchString(path):
		return "", "must use forward slashes"
	}

	root := filepath.Clean(p.DataRoot)
	resolved := filepath.Join(root, filepath.FromSlash(path))
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "must name a file inside the data root"
	}
	return resolved, ""
}

func (p Policy) CheckRetries(n int) error {
	p = p.withDefaults()
	if n < 0 || n > p.MaxRetries {
		return errs.Input("max_retries must be an integer between 0 and %d", p.MaxRetries)
	}
	return nil
}
