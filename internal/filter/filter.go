// Package filter applies glob and regex predicates to URLs and filenames.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

// Criteria holds the optional predicates for one filtering axis. A nil
// Criteria, or one built from empty patterns, accepts everything.
type Criteria struct {
	globPattern  string
	glob         glob.Glob
	regexPattern string
	regex        *regexp.Regexp
}

// NewCriteria compiles the given shell-style glob and regex patterns.
// Either pattern may be empty. The regex is anchored so it must match the
// whole string.
func NewCriteria(globPattern, regexPattern string) (*Criteria, error) {
	c := &Criteria{globPattern: globPattern, regexPattern: regexPattern}
	if globPattern != "" {
		g, err := glob.Compile(globPattern)
		if err != nil {
			return nil, fmt.Errorf("compile glob %q: %w", globPattern, err)
		}
		c.glob = g
	}
	if regexPattern != "" {
		re, err := regexp.Compile("^(?:" + regexPattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("compile regex %q: %w", regexPattern, err)
		}
		c.regex = re
	}
	return c, nil
}

// Match reports whether item passes every active predicate. When it does
// not, reason names the pattern that rejected it.
func (c *Criteria) Match(item string) (bool, string) {
	if c == nil {
		return true, ""
	}
	if c.glob != nil && !c.glob.Match(item) {
		return false, fmt.Sprintf("does not match the glob filter '%s'", c.globPattern)
	}
	if c.regex != nil && !c.regex.MatchString(item) {
		return false, fmt.Sprintf("does not match the regex filter '%s'", c.regexPattern)
	}
	return true, ""
}

// PreprocessJobs trims, filters and deduplicates a resolved job list in
// one pass, preserving first-seen order. Rejections are informational.
func PreprocessJobs(jobs []string, urls *Criteria, logger *zap.Logger) []string {
	seen := make(map[string]struct{}, len(jobs))
	cleaned := make([]string, 0, len(jobs))
	for _, raw := range jobs {
		job := strings.TrimSpace(raw)
		if ok, reason := urls.Match(job); !ok {
			logger.Info("skipping URL", zap.String("url", job), zap.String("reason", reason))
			continue
		}
		if _, dup := seen[job]; dup {
			continue
		}
		seen[job] = struct{}{}
		cleaned = append(cleaned, job)
	}
	return cleaned
}
