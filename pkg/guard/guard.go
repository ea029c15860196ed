// Package guard is the last synchronous check before a gated mutation runs.
package guard

import (
	"net/http"

	"github.com/Mindburn-Labs/helm-gate/pkg/readiness"
	"github.com/Mindburn-Labs/helm-gate/pkg/reasoncode"
)

// CodeRuntimeNoGo is the machine code carried by every denial.
const CodeRuntimeNoGo = reasoncode.RuntimeNoGo

// Verdict is either Allowed or *Denied. Callers must type-switch on it.
type Verdict interface {
	isVerdict()
}

// Allowed permits execution.
type Allowed struct {
	ReadinessStatus readiness.Status
	ReasonCodes     []string
}

// Denied refuses execution with a conflict.
type Denied struct {
	Status          int              `json:"status"`
	Code            string           `json:"code"`
	ReadinessStatus readiness.Status `json:"readiness_status"`
	ReasonCodes     []string         `json:"reason_codes"`
}

func (Allowed) isVerdict() {}
func (*Denied) isVerdict() {}

// AssertExecutionLegitimacy denies iff status is NO_GO. A status outside the
// three known values is treated as NO_GO.
func AssertExecutionLegitimacy(status readiness.Status, reasonCodes []string) Verdict {
	codes := append(make([]string, 0, len(reasonCodes)), reasonCodes...)
	if status == readiness.StatusNoGo || !status.Valid() {
		return &Denied{
			Status:          http.StatusConflict,
			Code:            CodeRuntimeNoGo,
			ReadinessStatus: status,
			ReasonCodes:     codes,
		}
	}
	return Allowed{ReadinessStatus: status, ReasonCodes: codes}
}

// IsDenied is a convenience for callers that only need the boolean.
func IsDenied(v Verdict) bool {
	_, denied := v.(*Denied)
	return denied
}
