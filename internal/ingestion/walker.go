// Package ingestion discovers analysis inputs and runs the analysis pipeline.
package ingestion

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// InputKind classifies an analysis input.
type InputKind string

const (
	// InputBundle is an extractor fact bundle (*.facts.json).
	InputBundle InputKind = "bundle"

	// InputMapper is a mapper XML document.
	InputMapper InputKind = "mapper"
)

// bundleSuffix marks extractor output files.
const bundleSuffix = ".facts.json"

// Input is a file to be analyzed.
type Input struct {
	// Path is the absolute file path.
	Path string

	// RelPath is the slash-separated path relative to the analyzed root.
	RelPath string

	Kind InputKind

	Content []byte

	// SHA256 is the hash of the file content.
	SHA256 string
}

// Default patterns to ignore (in addition to .gitignore).
var defaultIgnorePatterns = []string{
	".git/",
	".axon-sql/",
	"node_modules/",
	"target/",
	"build/",
	".idea/",
	".DS_Store",
}

// inputKind classifies a file by name and, for XML, by content.
func inputKind(name string, content []byte) (InputKind, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, bundleSuffix):
		return InputBundle, true
	case strings.HasSuffix(lower, ".xml"):
		if content == nil || bytes.Contains(content, []byte("<mapper")) {
			return InputMapper, true
		}
	}
	return "", false
}

// newMatcher combines the default patterns, the root .gitignore and the
// configured exclusions.
func newMatcher(root string, exclude []string) gitignore.Matcher {
	patterns := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns)+len(exclude))
	for _, p := range defaultIgnorePatterns {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}
	loaded, _ := loadGitignore(root)
	patterns = append(patterns, loaded...)
	for _, p := range exclude {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}
	return gitignore.NewMatcher(patterns)
}

// WalkInputs walks root and returns every bundle and mapper document, sorted
// by relative path.
func WalkInputs(root string, exclude []string) ([]Input, error) {
	matcher := newMatcher(root, exclude)

	var inputs []Input
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if d.IsDir() {
			if relPath != "." && (d.Name() == ".git" || matcher.Match(splitPath(relPath), true)) {
				return filepath.SkipDir
			}
			return nil
		}

		if _, ok := inputKind(d.Name(), nil); !ok {
			return nil
		}
		if matcher.Match(splitPath(relPath), false) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		kind, ok := inputKind(d.Name(), content)
		if !ok {
			return nil
		}

		hash := sha256.Sum256(content)
		inputs = append(inputs, Input{
			Path:    path,
			RelPath: filepath.ToSlash(relPath),
			Kind:    kind,
			Content: content,
			SHA256:  hex.EncodeToString(hash[:]),
		})
		return nil
	})

	sort.Slice(inputs, func(i, j int) bool { return inputs[i].RelPath < inputs[j].RelPath })
	return inputs, err
}

// loadGitignore loads .gitignore patterns from the root.
func loadGitignore(root string) ([]gitignore.Pattern, error) {
	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var patterns []gitignore.Pattern
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns, nil
}

// splitPath splits a path into its components.
func splitPath(path string) []string {
	return strings.Split(filepath.ToSlash(path), "/")
}
