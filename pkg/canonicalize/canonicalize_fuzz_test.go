package canonicalize

import (
	"bytes"
	"encoding/json"
	"testing"
)

func FuzzEncode(f *testing.F) {
	f.Add([]byte(`{"a":1,"b":2}`))
	f.Add([]byte(`{"z":{"y":"foo","x":"bar"},"a":1}`))
	f.Add([]byte(`{"html":"<script>&</script>"}`))
	f.Add([]byte(`{"reason_codes":["LEGAL_BLOCKING","OPS_RISK"],"meta":null}`))
	f.Add([]byte(`{"unicode":"Ärger","emoji":"🚧"}`))
	f.Add([]byte(`[]`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			t.Skip()
		}
		for _, algo := range []Algo{AlgoV1, AlgoV2} {
			first, err := Encode(algo, v)
			if err != nil {
				continue
			}
			second, err := Encode(algo, v)
			if err != nil {
				t.Fatalf("%s: second encode failed after first succeeded: %v", algo, err)
			}
			if !bytes.Equal(first, second) {
				t.Fatalf("%s: non-deterministic output", algo)
			}
			if !json.Valid(first) {
				t.Fatalf("%s: produced invalid JSON %q", algo, first)
			}
		}
	})
}
