// Package specparser parses OptimizationSpec documents from either strict
// JSON or a structured Markdown grammar, using a hand-written line scanner
// rather than regex per the redesign note against regex-driven parsing.
// Grounded on orchestrator/parsing_core.rs's parse_spec/parse_markdown_spec/
// normalize_spec/parse_multiple_specs.
package specparser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Spec mirrors spec.md's normalized OptimizationSpec entity.
type Spec struct {
	Objective        string   `json:"objective"`
	Constraints      []string `json:"constraints"`
	SuccessCriteria  []string `json:"success_criteria"`
	OptimizationType string   `json:"optimization_type"`
	TimeoutMS        int64    `json:"timeout_ms"`
	MaxIterations    int      `json:"max_iterations"`
	TargetQuality    float64  `json:"target_quality"`
}

const (
	defaultTimeoutMS     = 300_000
	defaultMaxIterations = 100
	defaultTargetQuality = 0.8
)

var defaultConstraints = []string{
	"No unsafe transformations",
	"Idiomatic code",
}

var defaultSuccessCriteria = []string{
	"Improves performance metrics",
	"Maintains code quality",
	"Passes all tests",
}

// Failure is returned for any unparseable input.
type Failure struct{ Reason string }

func (f Failure) Error() string { return "specparser: " + f.Reason }

// Parse detects the document's format — strict JSON if it starts and ends
// with braces, Markdown otherwise — and parses+normalizes it.
func Parse(content string) (Spec, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return Spec{}, Failure{Reason: "empty document"}
	}

	var spec Spec
	var err error
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		spec, err = ParseJSON(trimmed)
	} else {
		spec, err = ParseMarkdown(trimmed)
	}
	if err != nil {
		return Spec{}, err
	}
	return Normalize(spec), nil
}

// ParseJSON parses strict JSON, no fallback.
func ParseJSON(content string) (Spec, error) {
	var spec Spec
	if err := json.Unmarshal([]byte(content), &spec); err != nil {
		return Spec{}, Failure{Reason: fmt.Sprintf("json parse error: %v", err)}
	}
	return spec, nil
}

// ParseMarkdown scans the structured grammar documented in spec.md §6, one
// line at a time.
func ParseMarkdown(content string) (Spec, error) {
	objective := "Optimize code performance"
	var maxLatencyIncrease, maxMemoryIncrease, minRelevanceImprovement float64
	hasConstraintLines := false

	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)

		switch {
		case strings.HasPrefix(line, "## "):
			objective = strings.TrimSpace(strings.TrimPrefix(line, "##"))
		case strings.HasPrefix(line, "# "):
			objective = strings.TrimSpace(strings.TrimPrefix(line, "#"))
		case containsAny(lower, "objective:", "goal:"):
			if v, ok := afterColon(line); ok {
				objective = v
			}
		case strings.Contains(lower, "max latency increase:"):
			if n, ok := extractNumber(line); ok {
				maxLatencyIncrease = n
				hasConstraintLines = true
			}
		case strings.Contains(lower, "max memory increase:"):
			if n, ok := extractNumber(line); ok {
				maxMemoryIncrease = n
				hasConstraintLines = true
			}
		case strings.Contains(lower, "min relevance improvement:"):
			if n, ok := extractNumber(line); ok {
				minRelevanceImprovement = n
				hasConstraintLines = true
			}
		}
	}

	if !hasConstraintLines {
		maxLatencyIncrease, maxMemoryIncrease, minRelevanceImprovement = 10.0, 20.0, 5.0
	}

	return Spec{
		Objective: objective,
		Constraints: []string{
			fmt.Sprintf("Max latency increase: %s%%", formatNumber(maxLatencyIncrease)),
			fmt.Sprintf("Max memory increase: %s%%", formatNumber(maxMemoryIncrease)),
			fmt.Sprintf("Min relevance improvement: %s%%", formatNumber(minRelevanceImprovement)),
		},
		SuccessCriteria:  append([]string(nil), defaultSuccessCriteria...),
		OptimizationType: "Performance",
		TimeoutMS:        defaultTimeoutMS,
		MaxIterations:    defaultMaxIterations,
		TargetQuality:    defaultTargetQuality,
	}, nil
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func afterColon(line string) (string, bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", false
	}
	v := strings.TrimSpace(line[idx+1:])
	if v == "" {
		return "", false
	}
	return v, true
}

// extractNumber scans for the first numeric token on the line (digits,
// optional decimal point), matching extract_number/extract_percentage's
// behavior without a regex engine.
func extractNumber(line string) (float64, bool) {
	var b strings.Builder
	seenDigit := false
	seenDot := false
	for _, r := range line {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			seenDigit = true
		case r == '.' && seenDigit && !seenDot:
			b.WriteRune(r)
			seenDot = true
		case seenDigit:
			// first run of digits ended
			goto done
		}
	}
done:
	if !seenDigit {
		return 0, false
	}
	n, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// Normalize fills in defaults for any missing or out-of-range field,
// mirroring normalize_spec's required-constraints/timeout/iterations/
// target-quality clamping.
func Normalize(spec Spec) Spec {
	if strings.TrimSpace(spec.Objective) == "" {
		spec.Objective = "Optimize code performance"
	}

	for _, required := range defaultConstraints {
		found := false
		for _, c := range spec.Constraints {
			if strings.Contains(c, required) {
				found = true
				break
			}
		}
		if !found {
			spec.Constraints = append(spec.Constraints, required)
		}
	}

	if len(spec.SuccessCriteria) == 0 {
		spec.SuccessCriteria = append([]string(nil), defaultSuccessCriteria...)
	}

	if spec.TimeoutMS <= 0 {
		spec.TimeoutMS = defaultTimeoutMS
	}

	if spec.MaxIterations <= 0 {
		spec.MaxIterations = defaultMaxIterations
	}

	if spec.TargetQuality <= 0.0 || spec.TargetQuality > 1.0 {
		spec.TargetQuality = defaultTargetQuality
	}

	if spec.OptimizationType == "" {
		spec.OptimizationType = "Performance"
	}

	return spec
}

// ParseMultiple splits content on "---" or "===" fences, parsing each
// section independently and skipping sections that fail to parse.
func ParseMultiple(content string) ([]Spec, error) {
	var sections []string
	switch {
	case strings.Contains(content, "---"):
		sections = strings.Split(content, "---")
	case strings.Contains(content, "==="):
		sections = strings.Split(content, "===")
	default:
		spec, err := Parse(content)
		if err != nil {
			return nil, err
		}
		return []Spec{spec}, nil
	}

	var specs []Spec
	for _, section := range sections {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		if spec, err := Parse(section); err == nil {
			specs = append(specs, spec)
		}
	}

	if len(specs) == 0 {
		return nil, Failure{Reason: "no valid specifications found in content"}
	}
	return specs, nil
}
