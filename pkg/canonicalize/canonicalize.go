// Package canonicalize produces the byte-stable JSON encodings that ledger
// payload hashes are computed over.
//
// Two encodings exist and both are kept forever, since stored rows declare
// which one produced their hash:
//
//	v1  sorted-key JSON, numbers written exactly as decoded, no HTML escaping
//	v2  RFC 8785 (JCS), including ECMAScript number formatting
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"
)

// Algo names a canonical encoding.
type Algo string

const (
	AlgoV1 Algo = "v1"
	AlgoV2 Algo = "v2"
)

// ErrUnsupportedAlgo is returned for an Algo this build cannot reproduce.
var ErrUnsupportedAlgo = errors.New("canonicalize: unsupported algorithm")

// Supported reports whether a is known.
func (a Algo) Supported() bool {
	return a == AlgoV1 || a == AlgoV2
}

// Encode returns the canonical bytes of v under algo.
func Encode(algo Algo, v any) ([]byte, error) {
	switch algo {
	case AlgoV1:
		return SortedJSON(v)
	case AlgoV2:
		return RFC8785(v)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgo, algo)
	}
}

// Hash returns the hex SHA-256 of Encode(algo, v).
func Hash(algo Algo, v any) (string, error) {
	b, err := Encode(algo, v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RFC8785 marshals v with its json tags and transforms the result into JCS.
func RFC8785(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform: %w", err)
	}
	return out, nil
}

// SortedJSON is the v1 encoding. v is marshaled once to honor json tags,
// decoded generically with json.Number, then re-emitted with sorted keys.
func SortedJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := writeSorted(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSorted(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		return writeString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeSorted(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeSorted(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonicalize: unexpected %T after decode", v)
	}
	return nil
}

// writeString encodes s without HTML escaping.
func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("canonicalize: encode string: %w", err)
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}
