package plan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/picogrid/legion-missions/pkg/logger"
)

// Info is a discovered plan file
type Info struct {
	Path string
	Plan *Plan
}

// Discover finds plan files under the given roots, defaulting to the
// project root (or the working directory outside a module). Files that
// fail to load are skipped with a warning.
func Discover(roots ...string) ([]Info, error) {
	if len(roots) == 0 {
		root, err := FindProjectRoot()
		if err != nil {
			if root, err = os.Getwd(); err != nil {
				return nil, err
			}
		}
		roots = []string{root}
	}

	var plans []Info
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && skipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(d.Name(), Suffix) {
				return nil
			}

			p, err := Load(path)
			if err != nil {
				logger.Warnf("Skipping %s: %v", path, err)
				return nil
			}
			plans = append(plans, Info{Path: path, Plan: p})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s for plans: %w", root, err)
		}
	}

	sort.Slice(plans, func(i, j int) bool { return plans[i].Path < plans[j].Path })
	return plans, nil
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata"
}

// FindProjectRoot walks up from the working directory to the nearest go.mod
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find project root (no go.mod found)")
		}
		dir = parent
	}
}
