//go:build property
// +build property

package reasoncode_test

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/helm-gate/pkg/reasoncode"
)

func codeGen() gopter.Gen {
	return gen.OneGenOf(
		gen.OneConstOf(
			reasoncode.LegalBlocking,
			reasoncode.LegalExpiring,
			reasoncode.OpsNoCoverage,
			reasoncode.OpsRisk,
			reasoncode.NoSite,
			reasoncode.UnknownReasonCode,
			"",
			"  ",
		),
		gen.AlphaString(),
	)
}

// Property: Normalize(Normalize(x).ReasonCodes).ReasonCodes == Normalize(x).ReasonCodes
func TestNormalizeIdempotence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("normalize is idempotent", prop.ForAll(
		func(codes []string) bool {
			once := reasoncode.Normalize(codes).ReasonCodes
			twice := reasoncode.Normalize(once).ReasonCodes
			return reflect.DeepEqual(once, twice)
		},
		gen.SliceOf(codeGen()),
	))

	properties.TestingRun(t)
}

// Property: any permutation of the same multiset normalizes identically.
func TestNormalizeOrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("normalize ignores input order", prop.ForAll(
		func(codes []string, seed int64) bool {
			shuffled := append([]string(nil), codes...)
			r := rand.New(rand.NewSource(seed))
			r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			return reflect.DeepEqual(reasoncode.Normalize(codes), reasoncode.Normalize(shuffled))
		},
		gen.SliceOf(codeGen()),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// Property: every output code is allowlisted.
func TestNormalizeOutputClosed(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("output contains only known codes", prop.ForAll(
		func(codes []string) bool {
			for _, c := range reasoncode.Normalize(codes).ReasonCodes {
				if !reasoncode.IsKnown(c) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(codeGen()),
	))

	properties.TestingRun(t)
}
