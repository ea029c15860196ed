// Package reasoncode holds the closed vocabulary of machine-checkable reason
// codes attached to every gate decision and ledger row.
//
// Codes outside the allowlist are never written to the canonical trail. They
// are replaced by UnknownReasonCode and handed back separately so callers can
// alert on them.
package reasoncode

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// RegistryVersion identifies the allowlist below. Bump it when a code is added.
const RegistryVersion = "2024.1"

// Reason codes.
const (
	LegalBlocking          = "LEGAL_BLOCKING"
	LegalExpiring          = "LEGAL_EXPIRING"
	OpsNoCoverage          = "OPS_NO_COVERAGE"
	OpsRisk                = "OPS_RISK"
	NoSite                 = "NO_SITE"
	NoShiftContext         = "NO_SHIFT_CONTEXT"
	ReadinessUnavailable   = "READINESS_UNAVAILABLE"
	LegalSignalUnavailable = "LEGAL_SIGNAL_UNAVAILABLE"
	OpsSignalUnavailable   = "OPS_SIGNAL_UNAVAILABLE"
	RuntimeNoGo            = "RUNTIME_NO_GO"
	AlreadyResolved        = "ALREADY_RESOLVED"
	UnknownReasonCode      = "UNKNOWN_REASON_CODE"
)

// allowlist is additive only; removing a code would orphan historical rows.
var allowlist = map[string]struct{}{
	LegalBlocking:          {},
	LegalExpiring:          {},
	OpsNoCoverage:          {},
	OpsRisk:                {},
	NoSite:                 {},
	NoShiftContext:         {},
	ReadinessUnavailable:   {},
	LegalSignalUnavailable: {},
	OpsSignalUnavailable:   {},
	RuntimeNoGo:            {},
	AlreadyResolved:        {},
	UnknownReasonCode:      {},
}

// Normalized is the result of Normalize.
type Normalized struct {
	// ReasonCodes is sorted, deduplicated and contains only allowlisted codes.
	ReasonCodes []string `json:"reason_codes"`
	// Unknown holds the rejected inputs, sorted and deduplicated.
	Unknown []string `json:"unknown,omitempty"`
}

// HasUnknown reports whether any input was quarantined.
func (n Normalized) HasUnknown() bool {
	return len(n.Unknown) > 0
}

// IsKnown reports whether code is in the allowlist.
func IsKnown(code string) bool {
	_, ok := allowlist[code]
	return ok
}

// Known returns the allowlist in sorted order.
func Known() []string {
	out := make([]string, 0, len(allowlist))
	for c := range allowlist {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Normalize filters, dedupes, sorts and partitions codes. It never fails.
//
// Blank entries are dropped. Every surviving code is NFC-normalized and
// trimmed before comparison so visually identical inputs collapse.
func Normalize(codes []string) Normalized {
	seen := make(map[string]struct{}, len(codes))
	known := make([]string, 0, len(codes))
	var unknown []string

	for _, raw := range codes {
		c := strings.TrimSpace(norm.NFC.String(raw))
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		if IsKnown(c) {
			known = append(known, c)
		} else {
			unknown = append(unknown, c)
		}
	}

	if len(unknown) > 0 {
		if _, ok := seen[UnknownReasonCode]; !ok {
			known = append(known, UnknownReasonCode)
		}
		sort.Strings(unknown)
	}
	sort.Strings(known)

	return Normalized{ReasonCodes: known, Unknown: unknown}
}

// Merge normalizes the union of several code lists.
func Merge(lists ...[]string) Normalized {
	var all []string
	for _, l := range lists {
		all = append(all, l...)
	}
	return Normalize(all)
}
