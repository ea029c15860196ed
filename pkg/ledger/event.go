// Package ledger implements the append-only, hash-chained governance audit
// trail: event model, canonical hashing, storage backends, the writer and
// the chain verifier.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/Mindburn-Labs/helm-gate/pkg/canonicalize"
)

var (
	ErrNotFound     = errors.New("ledger: event not found")
	ErrDuplicate    = errors.New("ledger: unique constraint violated")
	ErrInvalidEvent = errors.New("ledger: invalid event")
	// ErrIdempotencyConflict means the key is already bound to a row for a
	// different action or target.
	ErrIdempotencyConflict = errors.New("ledger: idempotency key reused for a different action")
)

// Outcome records what happened to the gated action.
type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeBlocked   Outcome = "BLOCKED"
)

// Legitimacy records the guard's verdict at decision time.
type Legitimacy string

const (
	LegitimacyAllowed Legitimacy = "ALLOWED"
	LegitimacyDenied  Legitimacy = "DENIED"
)

// GovernanceEvent is one immutable ledger row.
//
// Nullable text columns are carried as empty strings. ChainPosition is nil
// only for rows written before chaining existed.
type GovernanceEvent struct {
	ID                string     `json:"id"`
	OrgID             string     `json:"org_id"`
	SiteID            string     `json:"site_id,omitempty"`
	ActorUserID       string     `json:"actor_user_id"`
	Action            string     `json:"action"`
	TargetType        string     `json:"target_type"`
	TargetID          string     `json:"target_id,omitempty"`
	Outcome           Outcome    `json:"outcome"`
	LegitimacyStatus  Legitimacy `json:"legitimacy_status"`
	ReadinessStatus   string     `json:"readiness_status"`
	ReasonCodes       []string   `json:"reason_codes"`
	Meta              Meta       `json:"meta"`
	PolicyFingerprint string     `json:"policy_fingerprint,omitempty"`
	IdempotencyKey    string     `json:"idempotency_key,omitempty"`
	ClassifierVersion string     `json:"classifier_version,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`

	ChainPosition   *int64            `json:"chain_position"`
	PayloadHash     string            `json:"payload_hash"`
	PayloadHashAlgo canonicalize.Algo `json:"payload_hash_algo"`
	PreviousHash    string            `json:"previous_hash,omitempty"`
}

// Draft is the caller-supplied part of an event. The writer assigns
// identity, timestamps, classification stamp and chain fields.
type Draft struct {
	OrgID             string
	SiteID            string
	ActorUserID       string
	Action            string
	TargetType        string
	TargetID          string
	Outcome           Outcome
	LegitimacyStatus  Legitimacy
	ReadinessStatus   string
	ReasonCodes       []string
	Meta              Meta
	PolicyFingerprint string
	IdempotencyKey    string
}

func (d Draft) validate() error {
	switch {
	case d.OrgID == "":
		return fmt.Errorf("%w: org_id is required", ErrInvalidEvent)
	case d.Action == "":
		return fmt.Errorf("%w: action is required", ErrInvalidEvent)
	case d.Outcome == "":
		return fmt.Errorf("%w: outcome is required", ErrInvalidEvent)
	case d.LegitimacyStatus == "":
		return fmt.Errorf("%w: legitimacy_status is required", ErrInvalidEvent)
	}
	return checkUTF8(d.ReasonCodes, d.OrgID, d.SiteID, d.ActorUserID, d.Action, d.TargetType,
		d.TargetID, d.ReadinessStatus, d.PolicyFingerprint, d.IdempotencyKey)
}

// Matches reports whether e records the same action on the same target as d.
func (d Draft) Matches(e GovernanceEvent) bool {
	return e.Action == d.Action && e.TargetType == d.TargetType && e.TargetID == d.TargetID
}

// checkUTF8 rejects text that JSON encoding would silently rewrite to U+FFFD,
// which would let two distinct values share one hash.
func checkUTF8(codes []string, fields ...string) error {
	for _, f := range append(fields, codes...) {
		if !utf8.ValidString(f) {
			return fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidEvent)
		}
	}
	return nil
}

// Chained reports whether the row participates in the hash chain.
func (e GovernanceEvent) Chained() bool {
	return e.PayloadHashAlgo == canonicalize.AlgoV2
}

// MarshalJSON renders Meta through its tagged envelope.
func (e GovernanceEvent) MarshalJSON() ([]byte, error) {
	type alias GovernanceEvent
	meta, err := MarshalMeta(e.Meta)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		alias
		Meta json.RawMessage `json:"meta"`
	}{alias(e), meta})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *GovernanceEvent) UnmarshalJSON(b []byte) error {
	type alias GovernanceEvent
	aux := struct {
		*alias
		Meta json.RawMessage `json:"meta"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	meta, err := UnmarshalMeta(aux.Meta)
	if err != nil {
		return err
	}
	e.Meta = meta
	return nil
}
