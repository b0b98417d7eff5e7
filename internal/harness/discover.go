package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// scenarioName matches runnable scenario files: three digits, an
// underscore, anything, ".txt".
var scenarioName = regexp.MustCompile(`^\d{3}_.*\.txt$`)

// IsScenario reports whether a basename names a runnable scenario.
func IsScenario(name string) bool {
	return scenarioName.MatchString(name)
}

// Discover returns the scenario basenames in dir in execution order.
// Names listed in exclude are skipped even when they match.
func Discover(dir string, exclude ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}

	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || skip[e.Name()] || !IsScenario(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Filter keeps the names matching a shell glob. An empty pattern keeps all.
func Filter(names []string, pattern string) ([]string, error) {
	if pattern == "" {
		return names, nil
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", pattern, err)
	}
	var kept []string
	for _, name := range names {
		if ok, _ := filepath.Match(pattern, name); ok {
			kept = append(kept, name)
		}
	}
	return kept, nil
}
