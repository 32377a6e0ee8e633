package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each config section.
var knownKeys = map[string]map[string]bool{
	"store": {"path": true, "max_bytes": true},
	"sync": {
		"debounce": true, "fetch_timeout": true, "drain_interval": true,
		"drain_failure_limit": true,
	},
	"remote": {"url": true, "token": true, "websocket": true, "connect_timeout": true},
	"media": {
		"s3_bucket": true, "s3_region": true, "s3_endpoint": true,
		"s3_access_key": true, "s3_secret_key": true,
	},
	"logging": {"log_level": true, "log_file": true, "log_format": true, "log_retention_days": true},
}

// sortedKeys returns the keys of m in sorted order, for deterministic
// suggestions when two candidates have the same edit distance.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// knownSectionsList is the sorted list of section names.
var knownSectionsList = sortedKeys(knownKeys)

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	seen := make(map[string]bool)

	for _, key := range undecoded {
		err := buildKeyError(key)
		if err == nil || seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// buildKeyError creates a descriptive error for an unknown key, optionally
// suggesting the closest known key within the same section.
func buildKeyError(key toml.Key) error {
	section := key[0]

	fields, ok := knownKeys[section]
	if !ok {
		if suggestion := closestMatch(section, knownSectionsList); suggestion != "" {
			return fmt.Errorf("unknown config section %q — did you mean %q?", section, suggestion)
		}

		return fmt.Errorf("unknown config key %q", section)
	}

	if len(key) < 2 {
		return fmt.Errorf("config key %q must be a section", section)
	}

	field := key[1]
	if fields[field] {
		return nil
	}

	if suggestion := closestMatch(field, sortedKeys(fields)); suggestion != "" {
		return fmt.Errorf("unknown config key %q in [%s] — did you mean %q?", field, section, suggestion)
	}

	return fmt.Errorf("unknown config key %q in [%s]", field, section)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
