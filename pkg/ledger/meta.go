package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MetaKind discriminates Meta variants on the wire.
type MetaKind string

const (
	MetaTransition MetaKind = "transition"
	MetaDenial     MetaKind = "denial"
	MetaResolution MetaKind = "resolution"
	MetaLegacy     MetaKind = "legacy"
)

// Meta is the structured payload attached to an event. Implementations are
// TransitionMeta, DenialMeta, ResolutionMeta and LegacyMeta.
type Meta interface {
	MetaKind() MetaKind
}

// TransitionMeta records a state change on the target.
type TransitionMeta struct {
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// DenialMeta records why the gate refused an action.
type DenialMeta struct {
	AttemptedAction    string   `json:"attempted_action"`
	Scope              string   `json:"scope"`
	ShiftID            string   `json:"shift_id,omitempty"`
	Date               string   `json:"date,omitempty"`
	ShiftCode          string   `json:"shift_code,omitempty"`
	UnknownReasonCodes []string `json:"unknown_reason_codes,omitempty"`
	RequestID          string   `json:"request_id,omitempty"`
}

// ResolutionMeta references the gap or action a mutation resolved.
type ResolutionMeta struct {
	ResolvedType string `json:"resolved_type"`
	ResolvedID   string `json:"resolved_id"`
	Note         string `json:"note,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
}

// LegacyMeta holds unstructured payloads from rows that predate typed meta.
type LegacyMeta map[string]any

func (TransitionMeta) MetaKind() MetaKind { return MetaTransition }
func (DenialMeta) MetaKind() MetaKind     { return MetaDenial }
func (ResolutionMeta) MetaKind() MetaKind { return MetaResolution }
func (LegacyMeta) MetaKind() MetaKind     { return MetaLegacy }

type metaEnvelope struct {
	Kind MetaKind        `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalMeta encodes m as {"kind":...,"data":...}. A nil Meta encodes as null.
func MarshalMeta(m Meta) ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal meta: %w", err)
	}
	return json.Marshal(metaEnvelope{Kind: m.MetaKind(), Data: data})
}

// UnmarshalMeta decodes an envelope produced by MarshalMeta. Objects without
// a recognised kind are kept verbatim as LegacyMeta.
func UnmarshalMeta(b []byte) (Meta, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil, nil
	}

	var env metaEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("ledger: decode meta: %w", err)
	}

	var (
		m   Meta
		err error
	)
	switch env.Kind {
	case MetaTransition:
		var v TransitionMeta
		err = json.Unmarshal(env.Data, &v)
		m = v
	case MetaDenial:
		var v DenialMeta
		err = json.Unmarshal(env.Data, &v)
		m = v
	case MetaResolution:
		var v ResolutionMeta
		err = json.Unmarshal(env.Data, &v)
		m = v
	case MetaLegacy:
		m, err = decodeLegacy(env.Data)
	default:
		m, err = decodeLegacy(b)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: decode %s meta: %w", env.Kind, err)
	}
	return m, nil
}

// decodeLegacy keeps number literals intact so re-encoding reproduces the
// bytes that were hashed.
func decodeLegacy(b []byte) (LegacyMeta, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v LegacyMeta
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
