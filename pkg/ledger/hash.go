package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/helm-gate/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-gate/pkg/reasoncode"
)

// contentV1 is the hash input for v1 rows. Field names are part of the
// stored hash and must never change.
type contentV1 struct {
	Action           string          `json:"action"`
	TargetType       string          `json:"target_type"`
	TargetID         string          `json:"target_id"`
	Outcome          string          `json:"outcome"`
	LegitimacyStatus string          `json:"legitimacy_status"`
	ReadinessStatus  string          `json:"readiness_status"`
	ReasonCodes      []string        `json:"reason_codes"`
	Meta             json.RawMessage `json:"meta"`
	OrgID            string          `json:"org_id"`
	SiteID           string          `json:"site_id"`
	ActorUserID      string          `json:"actor_user_id"`
	CreatedAt        string          `json:"created_at"`
}

// contentV2 additionally binds the row to its chain slot and write context.
// previous_hash is deliberately absent: linkage is checked separately.
type contentV2 struct {
	contentV1
	ChainPosition     int64  `json:"chain_position"`
	PolicyFingerprint string `json:"policy_fingerprint"`
	IdempotencyKey    string `json:"idempotency_key"`
	ClassifierVersion string `json:"classifier_version"`
}

func content(e GovernanceEvent) (contentV1, error) {
	if err := checkUTF8(e.ReasonCodes, e.OrgID, e.SiteID, e.ActorUserID, e.Action, e.TargetType,
		e.TargetID, string(e.Outcome), string(e.LegitimacyStatus), e.ReadinessStatus,
		e.PolicyFingerprint, e.IdempotencyKey, e.ClassifierVersion); err != nil {
		return contentV1{}, err
	}
	meta, err := MarshalMeta(e.Meta)
	if err != nil {
		return contentV1{}, err
	}
	codes := e.ReasonCodes
	if codes == nil {
		codes = []string{}
	}
	return contentV1{
		Action:           e.Action,
		TargetType:       e.TargetType,
		TargetID:         e.TargetID,
		Outcome:          string(e.Outcome),
		LegitimacyStatus: string(e.LegitimacyStatus),
		ReadinessStatus:  e.ReadinessStatus,
		ReasonCodes:      codes,
		Meta:             meta,
		OrgID:            e.OrgID,
		SiteID:           e.SiteID,
		ActorUserID:      e.ActorUserID,
		CreatedAt:        e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

// PayloadHash recomputes the hash of e under its declared algorithm. Text
// fields that are not valid UTF-8 yield ErrInvalidEvent.
func PayloadHash(e GovernanceEvent) (string, error) {
	c, err := content(e)
	if err != nil {
		return "", err
	}
	switch e.PayloadHashAlgo {
	case canonicalize.AlgoV1:
		return canonicalize.Hash(canonicalize.AlgoV1, c)
	case canonicalize.AlgoV2:
		var pos int64
		if e.ChainPosition != nil {
			pos = *e.ChainPosition
		}
		return canonicalize.Hash(canonicalize.AlgoV2, contentV2{
			contentV1:         c,
			ChainPosition:     pos,
			PolicyFingerprint: e.PolicyFingerprint,
			IdempotencyKey:    e.IdempotencyKey,
			ClassifierVersion: e.ClassifierVersion,
		})
	default:
		return "", fmt.Errorf("%w: %q", canonicalize.ErrUnsupportedAlgo, e.PayloadHashAlgo)
	}
}

// IdempotencyKey derives a deterministic key for an action on a target.
// Reason codes are normalized first, so their order and duplicates do not
// affect the key.
func IdempotencyKey(orgID, siteID, action, targetType, targetID string, reasonCodes []string) (string, error) {
	h, err := canonicalize.Hash(canonicalize.AlgoV2, struct {
		OrgID       string   `json:"org_id"`
		SiteID      string   `json:"site_id"`
		Action      string   `json:"action"`
		TargetType  string   `json:"target_type"`
		TargetID    string   `json:"target_id"`
		ReasonCodes []string `json:"reason_codes"`
	}{orgID, siteID, action, targetType, targetID, reasoncode.Normalize(reasonCodes).ReasonCodes})
	if err != nil {
		return "", fmt.Errorf("ledger: idempotency key: %w", err)
	}
	return "gov:" + h[:32], nil
}
