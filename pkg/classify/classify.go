// Package classify maps governance events to a category, severity and
// blocking impact.
//
// Classification is pure and total. It runs at write time and again at
// arbitrary report time, so it must give identical answers for the same
// (action, target type, rule table version) forever. Rows carry the version
// of the table they were written under; use At to classify them.
package classify

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Category of a governance event.
type Category string

const (
	CategoryRegulatory Category = "REGULATORY"
	CategoryLegitimacy Category = "LEGITIMACY"
	CategoryCompliance Category = "COMPLIANCE"
	CategoryExecution  Category = "EXECUTION"
	CategorySystem     Category = "SYSTEM"
)

// Severity of a governance event.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Impact of a governance event on execution.
type Impact string

const (
	ImpactBlocking    Impact = "BLOCKING"
	ImpactNonBlocking Impact = "NON_BLOCKING"
)

// Classification bundles the three derived attributes of an event.
type Classification struct {
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Impact   Impact   `json:"impact"`
	Version  string   `json:"classifier_version"`
}

// Classifier evaluates one rule table.
type Classifier struct {
	table *RuleTable
}

// Default returns a classifier over the current rule table.
func Default() *Classifier {
	return &Classifier{table: Current()}
}

// At returns a classifier over the table resolved for version.
func At(version string) (*Classifier, error) {
	t, err := TableAt(version)
	if err != nil {
		return nil, err
	}
	return &Classifier{table: t}, nil
}

// Version returns the rule table version string.
func (c *Classifier) Version() string {
	return c.table.Version.String()
}

// Classify returns the first matching category, or CategorySystem.
func (c *Classifier) Classify(action, targetType string) Category {
	a, t := normalize(action), normalize(targetType)
	for _, r := range c.table.Rules {
		if r.matches(a, t) {
			return r.Category
		}
	}
	return CategorySystem
}

// Severity derives severity from category and the action's hard-stop markers.
func (c *Classifier) Severity(category Category, action, targetType string) Severity {
	switch category {
	case CategoryRegulatory, CategoryLegitimacy:
		a := normalize(action)
		for _, m := range c.table.HardStopMarkers {
			if strings.Contains(a, m) {
				return SeverityCritical
			}
		}
		return SeverityHigh
	case CategoryCompliance:
		return SeverityMedium
	case CategoryExecution:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Evaluate runs all three derivations.
func (c *Classifier) Evaluate(action, targetType string) Classification {
	cat := c.Classify(action, targetType)
	sev := c.Severity(cat, action, targetType)
	return Classification{
		Category: cat,
		Severity: sev,
		Impact:   ResolveImpact(sev),
		Version:  c.Version(),
	}
}

// IsBlocking reports whether the event blocks execution.
func (c *Classifier) IsBlocking(action, targetType string) bool {
	return c.Evaluate(action, targetType).Impact == ImpactBlocking
}

// ResolveImpact is BLOCKING iff severity is HIGH or CRITICAL.
func ResolveImpact(s Severity) Impact {
	if s == SeverityHigh || s == SeverityCritical {
		return ImpactBlocking
	}
	return ImpactNonBlocking
}

// Classify uses the current rule table.
func Classify(action, targetType string) Category {
	return Default().Classify(action, targetType)
}

// ResolveSeverity uses the current rule table.
func ResolveSeverity(category Category, action, targetType string) Severity {
	return Default().Severity(category, action, targetType)
}

// IsBlocking uses the current rule table.
func IsBlocking(action, targetType string) bool {
	return Default().IsBlocking(action, targetType)
}

var separatorFold = strings.NewReplacer("-", "_", " ", "_", ".", "_", ":", "_")

func normalize(s string) string {
	s = strings.TrimSpace(norm.NFC.String(s))
	return separatorFold.Replace(strings.ToUpper(s))
}
