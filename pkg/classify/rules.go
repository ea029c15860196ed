package classify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Rule assigns Category when any of its patterns match. Patterns are
// compared against the normalized action code and target type.
type Rule struct {
	Category       Category
	ActionPrefixes []string
	ActionContains []string
	TargetContains []string
}

func (r Rule) matches(action, target string) bool {
	for _, p := range r.ActionPrefixes {
		if strings.HasPrefix(action, p) {
			return true
		}
	}
	for _, p := range r.ActionContains {
		if strings.Contains(action, p) {
			return true
		}
	}
	for _, p := range r.TargetContains {
		if strings.Contains(target, p) {
			return true
		}
	}
	return false
}

// RuleTable is one immutable, versioned classification table. Rules are
// evaluated in slice order and the first match wins.
type RuleTable struct {
	Version         *semver.Version
	Rules           []Rule
	HardStopMarkers []string
}

// Shipped tables. A new table may only add patterns to an existing rule or
// append rules; it must never move a pattern between categories.
var (
	tableV1_0 = &RuleTable{
		Version: semver.MustParse("1.0.0"),
		Rules: []Rule{
			{
				Category:       CategoryRegulatory,
				ActionPrefixes: []string{"REGULATORY_", "LEGAL_"},
				ActionContains: []string{"LEGAL_STOP", "CERTIFICATE", "REGULATION"},
				TargetContains: []string{"REGULATION", "LEGAL_REQUIREMENT", "CERTIFICATE"},
			},
			{
				Category:       CategoryLegitimacy,
				ActionPrefixes: []string{"GOVERNANCE_", "LEGITIMACY_"},
				ActionContains: []string{"NO_GO", "BLOCKED", "OVERRIDE", "HARD_STOP"},
				TargetContains: []string{"GOVERNANCE", "READINESS"},
			},
			{
				Category:       CategoryCompliance,
				ActionPrefixes: []string{"COMPLIANCE_"},
				ActionContains: []string{"AUDIT", "TRAINING", "INSPECTION"},
				TargetContains: []string{"COMPLIANCE", "COMPETENCE"},
			},
			{
				Category:       CategoryExecution,
				ActionPrefixes: []string{"SHIFT_", "STATION_", "STAFFING_"},
				ActionContains: []string{"ASSIGN", "SCHEDULE", "COVERAGE"},
				TargetContains: []string{"SHIFT", "STATION", "ASSIGNMENT"},
			},
		},
		HardStopMarkers: []string{"BLOCKED", "LEGAL_STOP", "NO_GO", "HARD_STOP"},
	}

	tableV1_1 = &RuleTable{
		Version: semver.MustParse("1.1.0"),
		Rules: []Rule{
			{
				Category:       CategoryRegulatory,
				ActionPrefixes: []string{"REGULATORY_", "LEGAL_", "PERMIT_"},
				ActionContains: []string{"LEGAL_STOP", "CERTIFICATE", "REGULATION"},
				TargetContains: []string{"REGULATION", "LEGAL_REQUIREMENT", "CERTIFICATE", "PERMIT"},
			},
			{
				Category:       CategoryLegitimacy,
				ActionPrefixes: []string{"GOVERNANCE_", "LEGITIMACY_"},
				ActionContains: []string{"NO_GO", "BLOCKED", "OVERRIDE", "HARD_STOP"},
				TargetContains: []string{"GOVERNANCE", "READINESS"},
			},
			{
				Category:       CategoryCompliance,
				ActionPrefixes: []string{"COMPLIANCE_"},
				ActionContains: []string{"AUDIT", "TRAINING", "INSPECTION"},
				TargetContains: []string{"COMPLIANCE", "COMPETENCE"},
			},
			{
				Category:       CategoryExecution,
				ActionPrefixes: []string{"SHIFT_", "STATION_", "STAFFING_"},
				ActionContains: []string{"ASSIGN", "SCHEDULE", "COVERAGE", "HANDOVER"},
				TargetContains: []string{"SHIFT", "STATION", "ASSIGNMENT"},
			},
		},
		HardStopMarkers: []string{"BLOCKED", "LEGAL_STOP", "NO_GO", "HARD_STOP"},
	}
)

// tables is sorted by version ascending.
var tables = []*RuleTable{tableV1_0, tableV1_1}

// Current returns the table new events are stamped with.
func Current() *RuleTable {
	return tables[len(tables)-1]
}

// Versions lists every shipped table version, oldest first.
func Versions() []string {
	out := make([]string, len(tables))
	for i, t := range tables {
		out[i] = t.Version.String()
	}
	return out
}

// TableAt resolves the table for a stamped version: an exact match, or else
// the newest table not newer than version. An empty version denotes rows
// written before stamping existed and resolves to the oldest table.
func TableAt(version string) (*RuleTable, error) {
	if version == "" {
		return tables[0], nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("classify: invalid rule table version %q: %w", version, err)
	}
	idx := sort.Search(len(tables), func(i int) bool {
		return tables[i].Version.GreaterThan(v)
	})
	if idx == 0 {
		return nil, fmt.Errorf("classify: no rule table at or before %s", v)
	}
	return tables[idx-1], nil
}
