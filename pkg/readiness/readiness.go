// Package readiness composes legal and operational posture into a single
// GO / WARNING / NO_GO status with its reason codes.
package readiness

import (
	"fmt"
	"sort"

	"github.com/Mindburn-Labs/helm-gate/pkg/reasoncode"
)

// LegalFlag is the legal-compliance dimension.
type LegalFlag string

const (
	LegalGo      LegalFlag = "LEGAL_GO"
	LegalWarning LegalFlag = "LEGAL_WARNING"
	LegalNoGo    LegalFlag = "LEGAL_NO_GO"
)

// OpsFlag is the operational-coverage dimension.
type OpsFlag string

const (
	OpsGo      OpsFlag = "OPS_GO"
	OpsWarning OpsFlag = "OPS_WARNING"
	OpsNoGo    OpsFlag = "OPS_NO_GO"
)

// Status is the composed overall readiness.
type Status string

const (
	StatusGo      Status = "GO"
	StatusWarning Status = "WARNING"
	StatusNoGo    Status = "NO_GO"
)

// Signal is one freshly fetched pair of flags. It is never cached.
type Signal struct {
	Legal LegalFlag `json:"legal" yaml:"legal"`
	Ops   OpsFlag   `json:"ops" yaml:"ops"`
}

// Composed is the derived readiness for one evaluation.
type Composed struct {
	Overall     Status   `json:"overall"`
	ReasonCodes []string `json:"reason_codes"`
}

// truthTable is the full 3x3 product. Flags outside it are folded to the
// NO_GO value of their dimension before lookup.
var truthTable = map[LegalFlag]map[OpsFlag]Status{
	LegalGo: {
		OpsGo:      StatusGo,
		OpsWarning: StatusWarning,
		OpsNoGo:    StatusNoGo,
	},
	LegalWarning: {
		OpsGo:      StatusWarning,
		OpsWarning: StatusWarning,
		OpsNoGo:    StatusNoGo,
	},
	LegalNoGo: {
		OpsGo:      StatusNoGo,
		OpsWarning: StatusNoGo,
		OpsNoGo:    StatusNoGo,
	},
}

var legalCodes = map[LegalFlag]string{
	LegalWarning: reasoncode.LegalExpiring,
	LegalNoGo:    reasoncode.LegalBlocking,
}

var opsCodes = map[OpsFlag]string{
	OpsWarning: reasoncode.OpsRisk,
	OpsNoGo:    reasoncode.OpsNoCoverage,
}

// Valid reports whether f is one of the three legal flags.
func (f LegalFlag) Valid() bool {
	switch f {
	case LegalGo, LegalWarning, LegalNoGo:
		return true
	}
	return false
}

// Valid reports whether f is one of the three ops flags.
func (f OpsFlag) Valid() bool {
	switch f {
	case OpsGo, OpsWarning, OpsNoGo:
		return true
	}
	return false
}

// Valid reports whether s is one of the three composed statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusGo, StatusWarning, StatusNoGo:
		return true
	}
	return false
}

// ParseLegalFlag returns an error for anything outside the enum.
func ParseLegalFlag(s string) (LegalFlag, error) {
	f := LegalFlag(s)
	if !f.Valid() {
		return "", fmt.Errorf("readiness: unknown legal flag %q", s)
	}
	return f, nil
}

// ParseOpsFlag returns an error for anything outside the enum.
func ParseOpsFlag(s string) (OpsFlag, error) {
	f := OpsFlag(s)
	if !f.Valid() {
		return "", fmt.Errorf("readiness: unknown ops flag %q", s)
	}
	return f, nil
}

func foldLegal(f LegalFlag) LegalFlag {
	if f.Valid() {
		return f
	}
	return LegalNoGo
}

func foldOps(f OpsFlag) OpsFlag {
	if f.Valid() {
		return f
	}
	return OpsNoGo
}

// Compose returns the overall status for a pair of flags.
func Compose(legal LegalFlag, ops OpsFlag) Status {
	return truthTable[foldLegal(legal)][foldOps(ops)]
}

// ReasonCodes returns the sorted codes explaining a pair of flags. Legal and
// ops codes are emitted independently.
func ReasonCodes(legal LegalFlag, ops OpsFlag) []string {
	codes := make([]string, 0, 2)
	if c, ok := legalCodes[foldLegal(legal)]; ok {
		codes = append(codes, c)
	}
	if c, ok := opsCodes[foldOps(ops)]; ok {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Evaluate composes a signal.
func Evaluate(s Signal) Composed {
	return Composed{
		Overall:     Compose(s.Legal, s.Ops),
		ReasonCodes: ReasonCodes(s.Legal, s.Ops),
	}
}
